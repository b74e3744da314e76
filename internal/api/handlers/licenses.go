// licenses.go — HTTP handlers реестра лицензий, проверок доступа и доставки аудио.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/cgcardona/Stori-sub011/internal/api/errors"
	"github.com/cgcardona/Stori-sub011/internal/domain/license"
	"github.com/cgcardona/Stori-sub011/internal/service"
)

// proxiedHeaders — заголовки ответа шлюза, передаваемые клиенту при проксировании потока.
var proxiedHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"ETag",
	"Last-Modified",
}

// LicensesHandler — обработчик endpoints лицензий.
type LicensesHandler struct {
	registry *service.LicenseRegistry
	enforcer *service.Enforcer
	delivery *service.DeliveryEngine
	logger   *slog.Logger
}

// NewLicensesHandler создаёт обработчик endpoints лицензий.
func NewLicensesHandler(
	registry *service.LicenseRegistry,
	enforcer *service.Enforcer,
	delivery *service.DeliveryEngine,
	logger *slog.Logger,
) *LicensesHandler {
	return &LicensesHandler{
		registry: registry,
		enforcer: enforcer,
		delivery: delivery,
		logger:   logger.With(slog.String("component", "licenses_handler")),
	}
}

// licenseStatus — лицензия с вычисленным состоянием доступа.
type licenseStatus struct {
	License      *license.PurchasedLicense `json:"license"`
	State        license.AccessState       `json:"state"`
	Capabilities license.Capabilities      `json:"capabilities"`
	Playback     license.Decision          `json:"playback"`
	CanDownload  bool                      `json:"can_download"`
	CanResell    bool                      `json:"can_resell"`
	// RemainingPlays — -1 для типов без лимита воспроизведений
	RemainingPlays int  `json:"remaining_plays"`
	Cached         bool `json:"cached"`
	Downloading    bool `json:"downloading"`
}

// listLicensesResponse — ответ списка лицензий.
type listLicensesResponse struct {
	Items []licenseStatus `json:"items"`
	Total int             `json:"total"`
}

// playResponse — ответ учёта воспроизведения.
type playResponse struct {
	LicenseID      string `json:"license_id"`
	RemainingPlays int    `json:"remaining_plays"`
}

// streamURLResponse — ответ быстрого URL воспроизведения.
type streamURLResponse struct {
	LicenseID string `json:"license_id"`
	URL       string `json:"url"`
}

// downloadResponse — ответ скачивания в кэш.
type downloadResponse struct {
	LicenseID string `json:"license_id"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
}

// ListLicenses обрабатывает GET /api/v1/licenses.
func (h *LicensesHandler) ListLicenses(w http.ResponseWriter, _ *http.Request) {
	licenses := h.registry.List()
	resp := listLicensesResponse{
		Items: make([]licenseStatus, 0, len(licenses)),
		Total: len(licenses),
	}
	for _, l := range licenses {
		resp.Items = append(resp.Items, h.status(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

// PutLicense обрабатывает PUT /api/v1/licenses/{license_id}.
// 201 — запись создана, 200 — заменена.
func (h *LicensesHandler) PutLicense(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "license_id")

	var l license.PurchasedLicense
	if err := decodeJSON(w, r, &l); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %s", err.Error()))
		return
	}
	if l.ID == "" {
		l.ID = id
	}
	if l.ID != id {
		apierrors.ValidationError(w, fmt.Sprintf("id в теле (%s) не совпадает с путём (%s)", l.ID, id))
		return
	}

	created, err := h.registry.Put(&l)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	h.logger.Info("Лицензия зарегистрирована",
		slog.String("license_id", l.ID),
		slog.String("license_type", string(l.Type)),
		slog.Bool("created", created),
	)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, h.status(&l))
}

// GetLicense обрабатывает GET /api/v1/licenses/{license_id}.
func (h *LicensesHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.status(l))
}

// DeleteLicense обрабатывает DELETE /api/v1/licenses/{license_id}.
// Счётчик воспроизведений сохраняется: повторная регистрация его не сбрасывает.
func (h *LicensesHandler) DeleteLicense(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "license_id")
	if err := h.registry.Delete(id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.logger.Info("Лицензия удалена из реестра", slog.String("license_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// GetPlayback обрабатывает GET /api/v1/licenses/{license_id}/playback.
// Отказ — обычный ответ 200 с allowed=false и причиной.
func (h *LicensesHandler) GetPlayback(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.enforcer.CanPlay(l))
}

// RecordPlay обрабатывает POST /api/v1/licenses/{license_id}/plays.
func (h *LicensesHandler) RecordPlay(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if decision := h.enforcer.CanPlay(l); !decision.Allowed {
		writeServiceError(w, r, h.logger, &service.DeniedError{Op: service.ErrStreamingNotAllowed, Reason: decision.Reason})
		return
	}

	remaining, consumed := h.enforcer.ConsumePlay(r.Context(), l)
	if !consumed {
		// Последнее воспроизведение забрал параллельный запрос
		writeServiceError(w, r, h.logger, &service.DeniedError{Op: service.ErrStreamingNotAllowed, Reason: license.ReasonExhausted})
		return
	}
	writeJSON(w, http.StatusOK, playResponse{LicenseID: l.ID, RemainingPlays: remaining})
}

// GetStreamURL обрабатывает GET /api/v1/licenses/{license_id}/stream-url.
// URL через первый шлюз, без проверки доступности.
func (h *LicensesHandler) GetStreamURL(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}

	url, ok := h.delivery.StreamingURL(l, h.enforcer)
	if !ok {
		if decision := h.enforcer.CanPlay(l); !decision.Allowed {
			writeServiceError(w, r, h.logger, &service.DeniedError{Op: service.ErrStreamingNotAllowed, Reason: decision.Reason})
			return
		}
		writeServiceError(w, r, h.logger, fmt.Errorf("%w: %q", service.ErrInvalidAudioURI, l.AudioURI))
		return
	}
	writeJSON(w, http.StatusOK, streamURLResponse{LicenseID: l.ID, URL: url})
}

// Stream обрабатывает GET /api/v1/licenses/{license_id}/stream.
// Выбирает первый доступный шлюз и проксирует байты; Range передаётся как есть.
func (h *LicensesHandler) Stream(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}

	player, err := h.delivery.CreateStreamingPlayer(r.Context(), l, h.enforcer)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp, err := player.Open(r.Context(), r.Header.Get("Range"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer resp.Body.Close()

	for _, name := range proxiedHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	w.Header().Set("X-Gateway-Index", strconv.Itoa(player.GatewayIndex))
	w.WriteHeader(resp.StatusCode)

	written, err := io.Copy(w, resp.Body)
	if err != nil && r.Context().Err() == nil {
		h.logger.Warn("Поток прерван",
			slog.String("license_id", l.ID),
			slog.Int("gateway_index", player.GatewayIndex),
			slog.Int64("bytes", written),
			slog.String("error", err.Error()),
		)
	}
}

// Download обрабатывает POST /api/v1/licenses/{license_id}/download.
func (h *LicensesHandler) Download(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}

	path, err := h.delivery.DownloadAudio(r.Context(), l, h.enforcer)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := downloadResponse{LicenseID: l.ID, Path: path}
	if f, err := h.delivery.OpenCached(l); err == nil {
		if info, err := f.Stat(); err == nil {
			resp.Size = info.Size()
		}
		f.Close()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAudio обрабатывает GET /api/v1/licenses/{license_id}/audio.
// Отдаёт файл из кэша с поддержкой Range и условных запросов.
func (h *LicensesHandler) GetAudio(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if decision := h.enforcer.CanPlay(l); !decision.Allowed {
		writeServiceError(w, r, h.logger, &service.DeniedError{Op: service.ErrStreamingNotAllowed, Reason: decision.Reason})
		return
	}

	f, err := h.delivery.OpenCached(l)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			apierrors.NotFound(w, "Аудио лицензии "+l.ID+" отсутствует в кэше")
			return
		}
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// DeleteCachedAudio обрабатывает DELETE /api/v1/licenses/{license_id}/cache.
func (h *LicensesHandler) DeleteCachedAudio(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.delivery.DeleteCachedAudio(l); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookup находит лицензию по {license_id}; при ошибке ответ уже записан.
func (h *LicensesHandler) lookup(w http.ResponseWriter, r *http.Request) (*license.PurchasedLicense, bool) {
	l, err := h.registry.Get(chi.URLParam(r, "license_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return nil, false
	}
	return l, true
}

// status вычисляет представление лицензии для API.
func (h *LicensesHandler) status(l *license.PurchasedLicense) licenseStatus {
	return licenseStatus{
		License:        l,
		State:          h.enforcer.AccessState(l),
		Capabilities:   l.Capabilities(),
		Playback:       h.enforcer.CanPlay(l),
		CanDownload:    h.enforcer.CanDownload(l),
		CanResell:      h.enforcer.CanResell(l),
		RemainingPlays: h.enforcer.RemainingPlays(l),
		Cached:         h.delivery.IsAudioCached(l),
		Downloading:    h.delivery.IsDownloading(l),
	}
}
