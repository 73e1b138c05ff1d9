// tenants.go — обработчики endpoints арендатора: регистрация, квота, статистика.
// Арендатор всегда берётся из принципала (путь /tenants/me).
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/cryptvault/internal/api/errors"
	"github.com/bigkaa/cryptvault/internal/domain/model"
)

// tenantResponse — представление арендатора в API.
type tenantResponse struct {
	ID           string    `json:"id"`
	StorageUsed  int64     `json:"storage_used"`
	StorageLimit int64     `json:"storage_limit"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// storageStatsResponse — статистика использования квоты.
type storageStatsResponse struct {
	TenantID        string  `json:"tenant_id"`
	StorageUsed     int64   `json:"storage_used"`
	StorageLimit    int64   `json:"storage_limit"`
	Available       int64   `json:"available"`
	UsagePercentage float64 `json:"usage_percentage"`
	FileCount       int64   `json:"file_count"`
	LargestFileID   string  `json:"largest_file_id,omitempty"`
	LargestFileSize int64   `json:"largest_file_size"`
}

// setStorageLimitRequest — тело PATCH /api/v1/tenants/me/storage-limit.
type setStorageLimitRequest struct {
	StorageLimit *int64 `json:"storage_limit"`
}

func toTenantResponse(t *model.Tenant) tenantResponse {
	return tenantResponse{
		ID:           t.ID,
		StorageUsed:  t.StorageUsed,
		StorageLimit: t.StorageLimit,
		Active:       t.Active,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// RegisterTenant обрабатывает POST /api/v1/tenants/me.
// 201 — арендатор создан, 200 — уже был зарегистрирован.
func (h *APIHandler) RegisterTenant(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	tn, created, err := h.lifecycle.RegisterTenant(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, "register_tenant", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toTenantResponse(tn))
}

// GetTenant обрабатывает GET /api/v1/tenants/me.
func (h *APIHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	tn, err := h.lifecycle.GetTenant(r.Context(), p, p.ID())
	if err != nil {
		h.writeServiceError(w, r, "get_tenant", err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(tn))
}

// GetStorageStats обрабатывает GET /api/v1/tenants/me/storage.
func (h *APIHandler) GetStorageStats(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	stats, err := h.lifecycle.GetStorageStats(r.Context(), p, p.ID())
	if err != nil {
		h.writeServiceError(w, r, "stats", err)
		return
	}

	writeJSON(w, http.StatusOK, storageStatsResponse{
		TenantID:        stats.TenantID,
		StorageUsed:     stats.Used,
		StorageLimit:    stats.Limit,
		Available:       stats.Available,
		UsagePercentage: stats.Percentage,
		FileCount:       stats.FileCount,
		LargestFileID:   stats.LargestFileID,
		LargestFileSize: stats.LargestFileSize,
	})
}

// SetStorageLimit обрабатывает PATCH /api/v1/tenants/me/storage-limit.
func (h *APIHandler) SetStorageLimit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req setStorageLimitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.StorageLimit == nil {
		apierrors.ValidationError(w, "Поле storage_limit обязательно")
		return
	}

	tn, err := h.lifecycle.SetStorageLimit(r.Context(), p, p.ID(), *req.StorageLimit)
	if err != nil {
		h.writeServiceError(w, r, "set_storage_limit", err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(tn))
}

// DeactivateTenant обрабатывает POST /api/v1/tenants/me/deactivate.
// После деактивации арендатору недоступны любые операции; корзина
// продолжает очищаться фоновой задачей.
func (h *APIHandler) DeactivateTenant(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	if err := h.lifecycle.DeactivateTenant(r.Context(), p, p.ID()); err != nil {
		h.writeServiceError(w, r, "deactivate_tenant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
