// handler.go — общие части HTTP-обработчиков cryptvault:
// отображение ошибок сервисного слоя в HTTP и запись JSON-ответов.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/cryptvault/internal/api/errors"
	"github.com/bigkaa/cryptvault/internal/api/middleware"
	"github.com/bigkaa/cryptvault/internal/domain/authz"
	"github.com/bigkaa/cryptvault/internal/service"
)

// APIHandler — обработчик API арендаторов и файлов.
// Все операции делегируются в LifecycleService.
type APIHandler struct {
	lifecycle   *service.LifecycleService
	maxFileSize int64
	logger      *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
// maxFileSize ограничивает тело запроса загрузки.
func NewAPIHandler(lifecycle *service.LifecycleService, maxFileSize int64, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		lifecycle:   lifecycle,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// principal извлекает принципал из контекста. Без него запрос до
// обработчика дойти не должен, поэтому отсутствие — 401.
func (h *APIHandler) principal(w http.ResponseWriter, r *http.Request) (authz.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Требуется аутентификация")
	}
	return p, ok
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
// Порядок проверок важен: ErrNotDeleted совместима с ErrStateMismatch.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrFileTooLarge):
		apierrors.PayloadTooLarge(w, err.Error())
	case errors.Is(err, service.ErrQuotaExceeded):
		apierrors.QuotaExceeded(w, "Превышена квота хранилища")
	case errors.Is(err, service.ErrTenantInactive):
		apierrors.TenantInactive(w, "Арендатор деактивирован")
	case errors.Is(err, service.ErrUnauthorized):
		apierrors.Forbidden(w, "Доступ к ресурсу запрещён")
	case errors.Is(err, service.ErrTenantNotFound):
		apierrors.NotFound(w, "Арендатор не зарегистрирован")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Файл не найден")
	case errors.Is(err, service.ErrNotDeleted):
		apierrors.NotDeleted(w, "Файл не находится в корзине")
	case errors.Is(err, service.ErrStateMismatch):
		apierrors.StateMismatch(w, "Состояние файла изменилось, повторите запрос")
	case errors.Is(err, service.ErrLimitBelowUsage):
		apierrors.Conflict(w, "Новая квота меньше занятого объёма")
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, "Ресурс уже существует")
	case errors.Is(err, service.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		apierrors.RateLimited(w, "Превышен лимит загрузок")
	case errors.Is(err, service.ErrObjectStore):
		h.logger.Error("Сбой хранилища объектов",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.StorageError(w, "Хранилище объектов недоступно")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
