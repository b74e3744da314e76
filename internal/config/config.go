// Пакет config — загрузка и валидация конфигурации License Engine
// из переменных окружения (LE_*). Необязательный dotenv-файл
// применяется до чтения окружения и не перекрывает уже заданные переменные.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// DefaultGateways — шлюзы по умолчанию в порядке приоритета.
var DefaultGateways = []string{
	"https://ipfs.io/ipfs/",
	"https://gateway.pinata.cloud/ipfs/",
	"https://cloudflare-ipfs.com/ipfs/",
	"https://dweb.link/ipfs/",
}

// Config содержит все параметры конфигурации License Engine.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Адрес прослушивания (по умолчанию 127.0.0.1 — только loopback)
	ListenHost string
	// Имя вершины графа зависимостей и значение component в логах
	ServiceID string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Шлюзы ---

	// Базовые URL шлюзов в порядке приоритета
	Gateways []string
	// Путь к CA-сертификату для TLS шлюзов (опционально)
	GatewayCACert string
	// Таймаут проверки доступности шлюза (по умолчанию 5s)
	GatewayProbeTimeout time.Duration
	// Таймаут полного скачивания (по умолчанию 5m)
	GatewayDownloadTimeout time.Duration
	// Размер кэша предпочтительных шлюзов (0 — выключено)
	GatewayAffinitySize int
	// Время жизни записи affinity (по умолчанию 10m)
	GatewayAffinityTTL time.Duration
	// Путь health-проверки шлюзов для dephealth (по умолчанию /ipfs/bafkqaaa)
	GatewayHealthPath string

	// --- Хранилище ---

	// Директория кэша аудио
	CacheDir string
	// DSN PostgreSQL для счётчиков воспроизведений (пусто — in-memory)
	DatabaseURL string

	// --- JWT ---

	// URL JWKS endpoint (пусто — аутентификация выключена)
	JWKSURL string
	// Путь к CA-сертификату JWKS (опционально)
	JWKSCACert string
	// Интервал обновления JWKS (по умолчанию 15m)
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS (по умолчанию 10s)
	JWKSClientTimeout time.Duration
	// Допустимое расхождение часов при проверке JWT (по умолчанию 5s)
	JWTLeeway time.Duration

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 0 — без ограничения, потоковое воспроизведение)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 10s)
	ShutdownTimeout time.Duration

	// --- Мониторинг зависимостей ---

	// Включить dephealth (по умолчанию true)
	DephealthEnabled bool
	// Группа в метриках dephealth (по умолчанию stori)
	DephealthGroup string
	// Интервал проверки зависимостей (по умолчанию 30s)
	DephealthCheckInterval time.Duration
}

// LoadEnvFile применяет переменные из dotenv-файла.
// Путь берётся из LE_ENV_FILE; если не задан — ".env" в текущей директории.
// Отсутствие файла по умолчанию не ошибка; явно указанный файл обязан существовать.
// Уже заданные переменные окружения не перекрываются.
func LoadEnvFile() error {
	path, explicit := os.LookupEnv("LE_ENV_FILE")
	if !explicit || path == "" {
		path = ".env"
		explicit = false
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("LE_ENV_FILE: ошибка загрузки %s: %w", path, err)
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// LE_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("LE_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("LE_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("LE_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.ListenHost = getEnvDefault("LE_LISTEN_HOST", "127.0.0.1")
	cfg.ServiceID = getEnvDefault("LE_SERVICE_ID", "license-engine")

	// LE_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LE_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LE_LOG_LEVEL: %w", err)
	}

	// LE_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("LE_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LE_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Шлюзы ---

	cfg.Gateways = getEnvList("LE_GATEWAYS", DefaultGateways)
	for _, g := range cfg.Gateways {
		if err := validateHTTPURL(g); err != nil {
			return nil, fmt.Errorf("LE_GATEWAYS: %w", err)
		}
	}

	cfg.GatewayCACert = os.Getenv("LE_GATEWAY_CA_CERT")

	cfg.GatewayProbeTimeout, err = getEnvPositiveDuration("LE_GATEWAY_PROBE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LE_GATEWAY_PROBE_TIMEOUT: %w", err)
	}

	cfg.GatewayDownloadTimeout, err = getEnvDuration("LE_GATEWAY_DOWNLOAD_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LE_GATEWAY_DOWNLOAD_TIMEOUT: %w", err)
	}

	cfg.GatewayAffinitySize, err = getEnvInt("LE_GATEWAY_AFFINITY_SIZE", 0)
	if err != nil {
		return nil, fmt.Errorf("LE_GATEWAY_AFFINITY_SIZE: %w", err)
	}
	if cfg.GatewayAffinitySize < 0 {
		return nil, fmt.Errorf("LE_GATEWAY_AFFINITY_SIZE: значение должно быть >= 0")
	}

	cfg.GatewayAffinityTTL, err = getEnvPositiveDuration("LE_GATEWAY_AFFINITY_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LE_GATEWAY_AFFINITY_TTL: %w", err)
	}

	cfg.GatewayHealthPath = getEnvDefault("LE_GATEWAY_HEALTH_PATH", "/ipfs/bafkqaaa")

	// --- Хранилище ---

	cfg.CacheDir = getEnvDefault("LE_CACHE_DIR", defaultCacheDir())
	cfg.DatabaseURL = os.Getenv("LE_DATABASE_URL")

	// --- JWT ---

	cfg.JWKSURL = os.Getenv("LE_JWKS_URL")
	if cfg.JWKSURL != "" {
		if err := validateHTTPURL(cfg.JWKSURL); err != nil {
			return nil, fmt.Errorf("LE_JWKS_URL: %w", err)
		}
	}
	cfg.JWKSCACert = os.Getenv("LE_JWKS_CA_CERT")

	cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("LE_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LE_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.JWKSClientTimeout, err = getEnvPositiveDuration("LE_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LE_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	cfg.JWTLeeway, err = getEnvDuration("LE_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LE_JWT_LEEWAY: %w", err)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("LE_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LE_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("LE_HTTP_WRITE_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("LE_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("LE_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LE_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvPositiveDuration("LE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LE_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Мониторинг зависимостей ---

	cfg.DephealthEnabled, err = getEnvBool("LE_DEPHEALTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("LE_DEPHEALTH_ENABLED: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("LE_DEPHEALTH_GROUP", "stori")

	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("LE_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LE_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// ListenAddr возвращает адрес HTTP-сервера host:port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.Port)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("service", cfg.ServiceID))
	slog.SetDefault(logger)
	return logger
}

// defaultCacheDir — платформенная директория кэша приложения.
func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "Stori", "licensed-audio")
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvList возвращает список через запятую или значение по умолчанию.
// Пустые элементы пропускаются.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		out := make([]string, len(defaultVal))
		copy(out, defaultVal)
		return out
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d < 0 {
		return 0, fmt.Errorf("значение должно быть >= 0")
	}
	return d, nil
}

// getEnvPositiveDuration — как getEnvDuration, но значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// validateHTTPURL проверяет, что строка — абсолютный http(s) URL.
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("некорректный URL: %q", raw)
	}
	return nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
