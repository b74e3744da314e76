package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// counterValue читает текущее значение счётчика.
func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("чтение метрики: %v", err)
	}
	return m.GetCounter().GetValue()
}

// TestMetricsMiddleware_RoutePattern проверяет лейбл path по шаблону маршрута.
func TestMetricsMiddleware_RoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware())
	r.Get("/api/v1/licenses/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := counterValue(t, httpRequestsTotal.WithLabelValues("GET", "/api/v1/licenses/{id}", "418"))

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/licenses/"+id, nil))
	}

	after := counterValue(t, httpRequestsTotal.WithLabelValues("GET", "/api/v1/licenses/{id}", "418"))
	if after-before != 3 {
		t.Errorf("прирост счётчика = %v, ожидалось 3", after-before)
	}
}

// TestRequestLogger_Level проверяет уровень и поля записи лога.
func TestRequestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("gateway down"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/licenses/x/download", nil))

	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("ожидался заголовок X-Request-ID")
	}

	out := buf.String()
	for _, want := range []string{"level=ERROR", "status=502", "bytes=12", "path=/api/v1/licenses/x/download"} {
		if !strings.Contains(out, want) {
			t.Errorf("лог не содержит %q: %s", want, out)
		}
	}
}

// TestRequestLogger_KeepsRequestID проверяет сохранение входящего X-Request-ID.
func TestRequestLogger_KeepsRequestID(t *testing.T) {
	handler := RequestLogger(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("X-Request-ID = %q, ожидался req-42", got)
	}
}
