// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// License Engine мониторит:
//   - каждый шлюз из LE_GATEWAYS (HTTP checker, non-critical: перебор шлюзов
//     переживает недоступность любого из них)
//   - PostgreSQL, если задан LE_DATABASE_URL (SQL checker через pgxpool, critical)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения (LE_SERVICE_ID)
	ServiceID string
	// Group — имя группы в метриках (LE_DEPHEALTH_GROUP)
	Group string
	// Gateways — базовые URL шлюзов
	Gateways []string
	// GatewayHealthPath — путь проверки шлюза (LE_GATEWAY_HEALTH_PATH)
	GatewayHealthPath string
	// CheckInterval — интервал проверки (LE_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// DB — *sql.DB из pgxpool через stdlib.OpenDBFromPool (nil — без PostgreSQL)
	DB *sql.DB
	// DatabaseURL — URL PostgreSQL (для лейблов, не для подключения)
	DatabaseURL string
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh           *dephealth.DepHealth
	gatewayNames []string
	logger       *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	cfg DephealthConfig,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	opts := []dephealth.Option{dephealth.WithLogger(logger)}

	names := make([]string, 0, len(cfg.Gateways))
	for i, base := range cfg.Gateways {
		name := GatewayDependencyName(i)
		names = append(names, name)

		depOpts := []dephealth.DependencyOption{
			dephealth.FromURL(base),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(false),
		}
		if cfg.GatewayHealthPath != "" {
			depOpts = append(depOpts, dephealth.WithHTTPHealthPath(cfg.GatewayHealthPath))
		}
		if parsed, err := url.Parse(base); err == nil && parsed.Scheme == "https" {
			depOpts = append(depOpts, dephealth.WithHTTPTLSSkipVerify(false))
		}
		opts = append(opts, dephealth.HTTP(name, depOpts...))
	}

	if cfg.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.DatabaseURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:           dh,
		gatewayNames: names,
		logger:       logger.With(slog.String("component", "dephealth")),
	}, nil
}

// GatewayDependencyName — имя зависимости для шлюза с индексом idx.
func GatewayDependencyName(idx int) string {
	return fmt.Sprintf("gateway-%d", idx)
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен",
		slog.Int("gateways", len(ds.gatewayNames)),
	)
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — "dependency:host:port", значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}

// GatewayHealth возвращает число проверенных и доступных шлюзов.
// Шлюз без результата проверки не учитывается.
func (ds *DephealthService) GatewayHealth() (checked, healthy int) {
	health := ds.dh.Health()
	for _, name := range ds.gatewayNames {
		ok, found := findHealthByPrefix(health, name)
		if !found {
			continue
		}
		checked++
		if ok {
			healthy++
		}
	}
	return checked, healthy
}

// findHealthByPrefix ищет статус зависимости по имени.
// Ключи Health() имеют формат "dependency:host:port".
func findHealthByPrefix(health map[string]bool, name string) (ok bool, found bool) {
	ok = true
	for key, val := range health {
		if key == name || strings.HasPrefix(key, name+":") {
			found = true
			ok = ok && val
		}
	}
	return ok && found, found
}
