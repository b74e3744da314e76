// handler.go — общие вспомогательные функции HTTP handlers License Engine:
// запись JSON, разбор тела и сопоставление ошибок сервисного слоя с кодами API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/cgcardona/Stori-sub011/internal/api/errors"
	"github.com/cgcardona/Stori-sub011/internal/service"
)

// maxBodySize — ограничение тела запроса с записью лицензии.
const maxBodySize = 1 << 20

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса. Неизвестные поля — ошибка.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// formatTime форматирует время для API-ответов.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// writeServiceError сопоставляет ошибку сервисного слоя с ответом API.
// Точные причины отказа проверяются раньше ошибок операции.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrLicenseNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrLicenseExpired):
		apierrors.LicenseExpired(w, err.Error())
	case errors.Is(err, service.ErrPlayLimitReached):
		apierrors.PlayLimitReached(w, err.Error())
	case errors.Is(err, service.ErrStreamingNotAllowed):
		apierrors.StreamingNotAllowed(w, err.Error())
	case errors.Is(err, service.ErrDownloadNotAllowed):
		apierrors.DownloadNotAllowed(w, err.Error())
	case errors.Is(err, service.ErrInvalidAudioURI):
		apierrors.InvalidAudioURI(w, err.Error())
	case errors.Is(err, service.ErrDownloadFailed):
		// Подробности попыток — только в логах
		logger.Warn("Шлюзы недоступны",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.DownloadFailed(w, service.ErrDownloadFailed.Error())
	case errors.Is(err, service.ErrServerError):
		apierrors.ServerError(w, err.Error())
	case errors.Is(err, context.Canceled):
		// Клиент отключился, отвечать некому
		logger.Debug("Запрос отменён клиентом", slog.String("path", r.URL.Path))
	default:
		logger.Error("Внутренняя ошибка",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
