package handlers

import "github.com/go-chi/chi/v5"

// Routes регистрирует маршруты API арендаторов и файлов.
func Routes(r chi.Router, h *APIHandler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tenants/me", func(r chi.Router) {
			r.Post("/", h.RegisterTenant)
			r.Get("/", h.GetTenant)
			r.Get("/storage", h.GetStorageStats)
			r.Patch("/storage-limit", h.SetStorageLimit)
			r.Post("/deactivate", h.DeactivateTenant)
		})

		r.Route("/files", func(r chi.Router) {
			r.Get("/", h.ListFiles)
			r.Post("/upload", h.UploadFile)
			r.Get("/{file_id}", h.GetFile)
			r.Get("/{file_id}/download", h.DownloadFile)
			r.Delete("/{file_id}", h.SoftDeleteFile)
			r.Post("/{file_id}/restore", h.RestoreFile)
			r.Delete("/{file_id}/permanent", h.PermanentDeleteFile)
		})
	})
}
