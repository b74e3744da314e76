// cache.go — HTTP handlers управления кэшем аудио и разрешения ссылок через шлюзы.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/cgcardona/Stori-sub011/internal/api/errors"
	"github.com/cgcardona/Stori-sub011/internal/service"
	"github.com/cgcardona/Stori-sub011/internal/storage/audiocache"
)

// CacheHandler — обработчик endpoints кэша.
type CacheHandler struct {
	delivery *service.DeliveryEngine
	logger   *slog.Logger
}

// NewCacheHandler создаёт обработчик endpoints кэша.
func NewCacheHandler(delivery *service.DeliveryEngine, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{
		delivery: delivery,
		logger:   logger.With(slog.String("component", "cache_handler")),
	}
}

// cacheResponse — состояние кэша.
type cacheResponse struct {
	SizeBytes int64              `json:"size_bytes"`
	Count     int                `json:"count"`
	Entries   []audiocache.Entry `json:"entries"`
}

// resolveResponse — результат разрешения ссылки.
type resolveResponse struct {
	URI          string `json:"uri"`
	GatewayIndex int    `json:"gateway_index"`
	URL          string `json:"url"`
}

// gatewaysResponse — список шлюзов в порядке перебора.
type gatewaysResponse struct {
	Gateways []string `json:"gateways"`
}

// GetCache обрабатывает GET /api/v1/cache.
func (h *CacheHandler) GetCache(w http.ResponseWriter, r *http.Request) {
	entries, err := h.delivery.CacheEntries()
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := cacheResponse{Count: len(entries), Entries: entries}
	for _, e := range entries {
		resp.SizeBytes += e.Size
	}
	if resp.Entries == nil {
		resp.Entries = []audiocache.Entry{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearCache обрабатывает DELETE /api/v1/cache.
func (h *CacheHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.delivery.ClearCache(); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resolve обрабатывает GET /api/v1/resolve?uri=...&gateway=N.
// gateway по умолчанию 0; http(s)-ссылка возвращается без изменений.
func (h *CacheHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		apierrors.ValidationError(w, "Параметр 'uri' обязателен")
		return
	}

	idx := 0
	if raw := r.URL.Query().Get("gateway"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n >= h.delivery.Gateways().Len() {
			apierrors.ValidationError(w, "Параметр 'gateway' должен быть индексом шлюза 0.."+
				strconv.Itoa(h.delivery.Gateways().Len()-1))
			return
		}
		idx = n
	}

	url, ok := h.delivery.ResolveURL(uri, idx)
	if !ok {
		apierrors.InvalidAudioURI(w, "Некорректная ссылка на аудио: "+uri)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{URI: uri, GatewayIndex: idx, URL: url})
}

// ListGateways обрабатывает GET /api/v1/gateways.
func (h *CacheHandler) ListGateways(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, gatewaysResponse{Gateways: h.delivery.Gateways().Bases()})
}
