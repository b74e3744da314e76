// Точка входа License Engine — проверка прав по купленным лицензиям
// и доставка аудио через шлюзы контента.
// Загружает конфигурацию, при наличии LE_DATABASE_URL подключается к PostgreSQL
// и применяет миграции, восстанавливает счётчики воспроизведений, создаёт
// кэш аудио и движок доставки, запускает мониторинг шлюзов (topologymetrics)
// и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/cgcardona/Stori-sub011/internal/api/handlers"
	"github.com/cgcardona/Stori-sub011/internal/api/middleware"
	"github.com/cgcardona/Stori-sub011/internal/config"
	"github.com/cgcardona/Stori-sub011/internal/database"
	"github.com/cgcardona/Stori-sub011/internal/gateway"
	"github.com/cgcardona/Stori-sub011/internal/repository"
	"github.com/cgcardona/Stori-sub011/internal/server"
	"github.com/cgcardona/Stori-sub011/internal/service"
	"github.com/cgcardona/Stori-sub011/internal/storage/audiocache"
)

func main() {
	// 1. Загрузка конфигурации (dotenv → переменные окружения)
	if err := config.LoadEnvFile(); err != nil {
		slog.Error("Ошибка загрузки env-файла", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("License Engine запускается",
		slog.String("version", config.Version),
		slog.String("addr", cfg.ListenAddr()),
		slog.Int("gateways", len(cfg.Gateways)),
	)

	ctx := context.Background()

	// 3. Хранилище счётчиков воспроизведений: PostgreSQL или in-memory
	var (
		pool      *pgxpool.Pool
		pgDB      *sql.DB
		usageRepo repository.UsageRepository
	)
	if cfg.DatabaseURL != "" {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err = database.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		usageRepo = repository.NewUsageRepository(pool)
	} else {
		logger.Warn("LE_DATABASE_URL не задан, счётчики воспроизведений не переживут перезапуск")
		usageRepo = repository.NewMemoryUsageRepository()
	}

	// 4. Enforcer + восстановление счётчиков
	enforcer := service.NewEnforcer(usageRepo, logger)
	if err := enforcer.Restore(ctx); err != nil {
		logger.Error("Ошибка восстановления счётчиков воспроизведений", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Шлюзы и HTTP-клиент
	gateways, err := gateway.NewGateways(cfg.Gateways)
	if err != nil {
		logger.Error("Ошибка конфигурации шлюзов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	gwClient, err := gateway.New(cfg.GatewayCACert, cfg.GatewayProbeTimeout, cfg.GatewayDownloadTimeout, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента шлюзов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Кэш аудио (удаляет временные файлы прерванных загрузок)
	cache, swept, err := audiocache.New(cfg.CacheDir)
	if err != nil {
		logger.Error("Ошибка инициализации кэша аудио",
			slog.String("dir", cfg.CacheDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("Кэш аудио готов",
		slog.String("dir", cache.Dir()),
		slog.Int("swept_tmp", swept),
	)

	// 7. Движок доставки и реестр лицензий
	affinity := service.NewGatewayAffinity(cfg.GatewayAffinitySize, cfg.GatewayAffinityTTL)
	delivery := service.NewDeliveryEngine(gateways, gwClient, cache, affinity, logger)
	registry := service.NewLicenseRegistry()

	// 8. topologymetrics — мониторинг шлюзов и PostgreSQL
	checkers := map[string]handlers.ReadinessChecker{
		"cache": handlers.NewCacheChecker(cache),
	}
	if pool != nil {
		checkers["postgresql"] = database.NewReadinessChecker(pool)
	}

	if cfg.DephealthEnabled {
		dephealthSvc, dhErr := service.NewDephealthService(service.DephealthConfig{
			ServiceID:         cfg.ServiceID,
			Group:             cfg.DephealthGroup,
			Gateways:          gateways.Bases(),
			GatewayHealthPath: cfg.GatewayHealthPath,
			CheckInterval:     cfg.DephealthCheckInterval,
			DB:                pgDB,
			DatabaseURL:       cfg.DatabaseURL,
		}, logger)
		if dhErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dhErr.Error()),
			)
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			defer dephealthSvc.Stop()
			checkers["gateways"] = handlers.NewGatewayChecker(dephealthSvc)
		}
	}

	// 9. JWT middleware (только при заданном LE_JWKS_URL)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSURL,
			CACertPath:      cfg.JWKSCACert,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT middleware инициализирован", slog.String("jwks_url", cfg.JWKSURL))
	} else if cfg.ListenHost != "127.0.0.1" && cfg.ListenHost != "localhost" && cfg.ListenHost != "::1" {
		logger.Warn("API доступен без аутентификации на не-loopback адресе",
			slog.String("listen_host", cfg.ListenHost),
		)
	}

	// 10. HTTP-сервер
	srv := server.New(cfg, logger, server.Handlers{
		Health:   handlers.NewHealthHandler(cfg.ServiceID, checkers),
		Licenses: handlers.NewLicensesHandler(registry, enforcer, delivery, logger),
		Cache:    handlers.NewCacheHandler(delivery, logger),
	}, jwtAuth,
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
	)

	// 11. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1) //nolint:gocritic // defer'ы не критичны при аварийном завершении
	}

	logger.Info("License Engine остановлен")
}
