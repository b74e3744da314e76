// Пакет errors — конструкторы стандартных ошибок HTTP API License Engine.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок HTTP API.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeLicenseExpired      = "LICENSE_EXPIRED"
	CodePlayLimitReached    = "PLAY_LIMIT_REACHED"
	CodeStreamingNotAllowed = "STREAMING_NOT_ALLOWED"
	CodeDownloadNotAllowed  = "DOWNLOAD_NOT_ALLOWED"
	CodeInvalidAudioURI     = "INVALID_AUDIO_URI"
	CodeDownloadFailed      = "DOWNLOAD_FAILED"
	CodeServerError         = "SERVER_ERROR"
	CodeInternalError       = "INTERNAL_ERROR"
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

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// LicenseExpired — 403 срок действия лицензии истёк.
func LicenseExpired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeLicenseExpired, message)
}

// PlayLimitReached — 403 лимит воспроизведений исчерпан.
func PlayLimitReached(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodePlayLimitReached, message)
}

// StreamingNotAllowed — 403 тип лицензии не допускает воспроизведение.
func StreamingNotAllowed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeStreamingNotAllowed, message)
}

// DownloadNotAllowed — 403 тип лицензии не допускает скачивание.
func DownloadNotAllowed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeDownloadNotAllowed, message)
}

// InvalidAudioURI — 422 ссылка на аудио отсутствует или некорректна.
func InvalidAudioURI(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnprocessableEntity, CodeInvalidAudioURI, message)
}

// DownloadFailed — 502 все шлюзы недоступны.
func DownloadFailed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeDownloadFailed, message)
}

// ServerError — 502 шлюз ответил ошибкой.
func ServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeServerError, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
