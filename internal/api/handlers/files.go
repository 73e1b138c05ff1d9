// files.go — обработчики файловых endpoints:
// загрузка, список, метаданные, скачивание, корзина и окончательное удаление.
package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/cryptvault/internal/api/errors"
	"github.com/bigkaa/cryptvault/internal/domain/model"
	"github.com/bigkaa/cryptvault/internal/repository"
	"github.com/bigkaa/cryptvault/internal/service"
)

const (
	// multipartMemory — часть формы, которая держится в памяти; остальное уходит во временные файлы
	multipartMemory = 32 << 20
	// multipartOverhead — запас на заголовки и текстовые поля формы
	multipartOverhead = 1 << 20
)

// fileResponse — представление записи файла в API.
// Metadata — непрозрачные байты клиента, в JSON передаются в base64.
type fileResponse struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	SizeBytes      int64      `json:"size_bytes"`
	State          string     `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	Metadata       []byte     `json:"metadata,omitempty"`
	Checksum       string     `json:"checksum,omitempty"`
}

// fileListResponse — страница списка файлов.
type fileListResponse struct {
	Items      []fileResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// purgeResponse — результат окончательного удаления.
type purgeResponse struct {
	ID          string `json:"id"`
	FreedBytes  int64  `json:"freed_bytes"`
	BlobDeleted bool   `json:"blob_deleted"`
}

func toFileResponse(rec *model.FileRecord) fileResponse {
	return fileResponse{
		ID:             rec.ID,
		TenantID:       rec.TenantID,
		SizeBytes:      rec.SizeBytes,
		State:          string(rec.State),
		CreatedAt:      rec.CreatedAt,
		DeletedAt:      rec.DeletedAt,
		LastAccessedAt: rec.LastAccessedAt,
		Metadata:       rec.Metadata,
		Checksum:       rec.Checksum,
	}
}

// UploadFile обрабатывает POST /api/v1/files/upload.
// Multipart form: file (обязательно), file_size (опционально, иначе размер части),
// metadata (зашифрованные метаданные клиента, base64), checksum (SHA-256 шифротекста, hex).
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Размер запроса превышает %d байт", h.maxFileSize))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Отсутствует часть file")
		return
	}
	defer file.Close()

	size := header.Size
	if raw := r.FormValue("file_size"); raw != "" {
		size, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный file_size: %q", raw))
			return
		}
	}

	var metadata []byte
	if raw := r.FormValue("metadata"); raw != "" {
		metadata, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			apierrors.ValidationError(w, "Поле metadata должно быть в base64")
			return
		}
	}

	rec, err := h.lifecycle.UploadObject(r.Context(), p, service.UploadParams{
		TenantID:  p.ID(),
		SizeBytes: size,
		Metadata:  metadata,
		Checksum:  r.FormValue("checksum"),
	}, file)
	if err != nil {
		h.writeServiceError(w, r, "upload", err)
		return
	}

	writeJSON(w, http.StatusCreated, toFileResponse(rec))
}

// ListFiles обрабатывает GET /api/v1/files.
// Параметры: state (active | soft_deleted), limit (1..100),
// order (desc — сначала новые, по умолчанию | asc), cursor.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	var state *model.FileState
	if raw := q.Get("state"); raw != "" {
		st, err := model.ParseFileState(raw)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		state = &st
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный limit: %q", raw))
			return
		}
		limit = n
	}

	order, err := repository.ParseSortOrder(q.Get("order"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	after, err := decodeCursor(q.Get("cursor"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	page, err := h.lifecycle.ListFiles(r.Context(), p, p.ID(), service.ListOptions{
		State: state,
		Limit: limit,
		After: after,
		Order: order,
	})
	if err != nil {
		h.writeServiceError(w, r, "list", err)
		return
	}

	resp := fileListResponse{
		Items:      make([]fileResponse, 0, len(page.Items)),
		NextCursor: encodeCursor(page.Next),
	}
	for _, rec := range page.Items {
		resp.Items = append(resp.Items, toFileResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetFile обрабатывает GET /api/v1/files/{file_id}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	rec, err := h.lifecycle.GetFile(r.Context(), p, chi.URLParam(r, "file_id"))
	if err != nil {
		h.writeServiceError(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// DownloadFile обрабатывает GET /api/v1/files/{file_id}/download.
// Отдаёт шифротекст как есть; расшифровка — на стороне клиента.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	body, rec, err := h.lifecycle.OpenObject(r.Context(), p, chi.URLParam(r, "file_id"))
	if err != nil {
		h.writeServiceError(w, r, "download", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(rec.SizeBytes, 10))
	if rec.Checksum != "" {
		w.Header().Set("X-Checksum-SHA256", rec.Checksum)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		// Заголовки уже отправлены: остаётся только записать в лог
		h.logger.Warn("Скачивание прервано",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// SoftDeleteFile обрабатывает DELETE /api/v1/files/{file_id}.
func (h *APIHandler) SoftDeleteFile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	rec, err := h.lifecycle.SoftDelete(r.Context(), p, chi.URLParam(r, "file_id"))
	if err != nil {
		h.writeServiceError(w, r, "soft_delete", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// RestoreFile обрабатывает POST /api/v1/files/{file_id}/restore.
func (h *APIHandler) RestoreFile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	rec, err := h.lifecycle.Restore(r.Context(), p, chi.URLParam(r, "file_id"))
	if err != nil {
		h.writeServiceError(w, r, "restore", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// PermanentDeleteFile обрабатывает DELETE /api/v1/files/{file_id}/permanent.
// Удалить окончательно можно только файл из корзины.
func (h *APIHandler) PermanentDeleteFile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	res, err := h.lifecycle.PermanentDelete(r.Context(), p, chi.URLParam(r, "file_id"))
	if err != nil {
		h.writeServiceError(w, r, "permanent_delete", err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{
		ID:          res.RecordID,
		FreedBytes:  res.SizeBytes,
		BlobDeleted: res.BlobDeleted,
	})
}
