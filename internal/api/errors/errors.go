// Пакет errors — стандартные ответы с ошибками.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeQuotaExceeded   = "STORAGE_QUOTA_EXCEEDED"
	CodeTenantInactive  = "TENANT_INACTIVE"
	CodeStateMismatch   = "STATE_MISMATCH"
	CodeNotDeleted      = "NOT_DELETED"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeRateLimited     = "RATE_LIMITED"
	CodeStorageError    = "STORAGE_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 ресурс принадлежит другому арендатору.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт (дублирующийся ресурс).
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// QuotaExceeded — 402 квота хранилища исчерпана.
func QuotaExceeded(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusPaymentRequired, CodeQuotaExceeded, message)
}

// TenantInactive — 403 арендатор деактивирован.
func TenantInactive(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeTenantInactive, message)
}

// StateMismatch — 409 файл не в ожидаемом состоянии.
func StateMismatch(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeStateMismatch, message)
}

// NotDeleted — 409 восстановление файла вне корзины.
func NotDeleted(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeNotDeleted, message)
}

// PayloadTooLarge — 413 файл больше допустимого.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

// RateLimited — 429 превышен лимит частоты запросов.
func RateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// StorageError — 502 хранилище объектов недоступно.
func StorageError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeStorageError, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
