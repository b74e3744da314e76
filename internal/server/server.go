// Пакет server — HTTP-сервер License Engine с graceful shutdown.
// По умолчанию слушает только loopback: API обслуживает локальный UI плеера.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/cgcardona/Stori-sub011/internal/api/handlers"
	"github.com/cgcardona/Stori-sub011/internal/api/middleware"
	"github.com/cgcardona/Stori-sub011/internal/config"
)

// Handlers — обработчики endpoints, собираемые в маршруты.
type Handlers struct {
	Health   *handlers.HealthHandler
	Licenses *handlers.LicensesHandler
	Cache    *handlers.CacheHandler
}

// Server — HTTP-сервер License Engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
// auth может быть nil — тогда /api/v1 доступен без токена.
// middlewares применяются ко всем маршрутам в порядке переданного среза.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	h Handlers,
	auth *middleware.JWTAuth,
	middlewares ...func(http.Handler) http.Handler,
) *Server {
	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      NewRouter(h, auth, middlewares...),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// NewRouter регистрирует маршруты. Health и metrics — без аутентификации.
func NewRouter(h Handlers, auth *middleware.JWTAuth, middlewares ...func(http.Handler) http.Handler) chi.Router {
	router := chi.NewRouter()
	for _, mw := range middlewares {
		router.Use(mw)
	}

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth.Middleware())
		}
		write := middleware.RequireScope(middleware.ScopeLicensesWrite)

		r.Get("/licenses", h.Licenses.ListLicenses)
		r.Route("/licenses/{license_id}", func(r chi.Router) {
			r.Get("/", h.Licenses.GetLicense)
			r.With(write).Put("/", h.Licenses.PutLicense)
			r.With(write).Delete("/", h.Licenses.DeleteLicense)

			r.Get("/playback", h.Licenses.GetPlayback)
			r.Post("/plays", h.Licenses.RecordPlay)
			r.Get("/stream-url", h.Licenses.GetStreamURL)
			r.Get("/stream", h.Licenses.Stream)
			r.Post("/download", h.Licenses.Download)
			r.Get("/audio", h.Licenses.GetAudio)
			r.With(write).Delete("/cache", h.Licenses.DeleteCachedAudio)
		})

		r.Get("/cache", h.Cache.GetCache)
		r.With(write).Delete("/cache", h.Cache.ClearCache)
		r.Get("/resolve", h.Cache.Resolve)
		r.Get("/gateways", h.Cache.ListGateways)
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
