// health.go — обработчики health endpoints License Engine.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (кэш доступен на запись, PostgreSQL, шлюзы)
// /metrics — Prometheus метрики
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cgcardona/Stori-sub011/internal/config"
)

// Константы статусов health check.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status, message string)
}

// WritableChecker — источник проверки записи (audiocache.Cache).
type WritableChecker interface {
	CheckWritable() error
}

// GatewayHealthSource — источник состояния шлюзов (service.DephealthService).
type GatewayHealthSource interface {
	GatewayHealth() (checked, healthy int)
}

// cacheChecker — готовность директории кэша.
type cacheChecker struct {
	cache WritableChecker
}

// NewCacheChecker создаёт проверку директории кэша.
func NewCacheChecker(cache WritableChecker) ReadinessChecker {
	return &cacheChecker{cache: cache}
}

func (c *cacheChecker) CheckReady() (string, string) {
	if err := c.cache.CheckWritable(); err != nil {
		return statusFail, err.Error()
	}
	return statusOK, "директория кэша доступна на запись"
}

// gatewayChecker — готовность шлюзов по данным dephealth.
// Все проверенные шлюзы недоступны — fail, часть — degraded.
type gatewayChecker struct {
	source GatewayHealthSource
}

// NewGatewayChecker создаёт проверку шлюзов.
func NewGatewayChecker(source GatewayHealthSource) ReadinessChecker {
	return &gatewayChecker{source: source}
}

func (c *gatewayChecker) CheckReady() (string, string) {
	checked, healthy := c.source.GatewayHealth()
	switch {
	case checked == 0:
		return statusOK, "шлюзы ещё не проверены"
	case healthy == 0:
		return statusFail, fmt.Sprintf("все шлюзы недоступны (%d)", checked)
	case healthy < checked:
		return statusDegraded, fmt.Sprintf("доступно шлюзов: %d из %d", healthy, checked)
	default:
		return statusOK, fmt.Sprintf("доступно шлюзов: %d", healthy)
	}
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	service     string
	checkers    map[string]ReadinessChecker
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// checkers — проверки по имени зависимости (nil-значения пропускаются).
func NewHealthHandler(service string, checkers map[string]ReadinessChecker) *HealthHandler {
	active := make(map[string]ReadinessChecker, len(checkers))
	for name, c := range checkers {
		if c != nil {
			active[name] = c
		}
	}
	return &HealthHandler{
		service:     service,
		checkers:    active,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: formatTime(time.Now()),
		Version:   config.Version,
		Service:   h.service,
	})
}

// HealthReady — readiness probe.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: formatTime(time.Now()),
		Version:   config.Version,
		Service:   h.service,
		Checks:    make(map[string]healthCheckResult, len(h.checkers)),
	}

	statuses := make([]string, 0, len(h.checkers))
	for name, c := range h.checkers {
		status, msg := c.CheckReady()
		resp.Checks[name] = healthCheckResult{Status: status, Message: msg}
		statuses = append(statuses, status)
	}
	resp.Status = overallStatus(statuses...)

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Хотя бы один fail — fail; хотя бы один degraded — degraded; иначе ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
