package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// allEnvKeys — все переменные LE_*, читаемые Load.
var allEnvKeys = []string{
	"LE_PORT", "LE_LISTEN_HOST", "LE_SERVICE_ID", "LE_LOG_LEVEL", "LE_LOG_FORMAT",
	"LE_GATEWAYS", "LE_GATEWAY_CA_CERT", "LE_GATEWAY_PROBE_TIMEOUT",
	"LE_GATEWAY_DOWNLOAD_TIMEOUT", "LE_GATEWAY_AFFINITY_SIZE", "LE_GATEWAY_AFFINITY_TTL",
	"LE_GATEWAY_HEALTH_PATH", "LE_CACHE_DIR", "LE_DATABASE_URL",
	"LE_JWKS_URL", "LE_JWKS_CA_CERT", "LE_JWKS_REFRESH_INTERVAL", "LE_JWKS_CLIENT_TIMEOUT", "LE_JWT_LEEWAY",
	"LE_HTTP_READ_TIMEOUT", "LE_HTTP_WRITE_TIMEOUT", "LE_HTTP_IDLE_TIMEOUT",
	"LE_SHUTDOWN_TIMEOUT", "LE_DEPHEALTH_ENABLED", "LE_DEPHEALTH_GROUP",
	"LE_DEPHEALTH_CHECK_INTERVAL", "LE_ENV_FILE",
}

// clearAllLEEnvVars очищает все переменные LE_* на время теста.
// Пустое значение эквивалентно отсутствию переменной.
func clearAllLEEnvVars(t *testing.T) {
	t.Helper()
	for _, k := range allEnvKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearAllLEEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 8040 {
		t.Errorf("Port: ожидалось 8040, получено %d", cfg.Port)
	}
	if cfg.ListenAddr() != "127.0.0.1:8040" {
		t.Errorf("ListenAddr: получено %q", cfg.ListenAddr())
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
		t.Errorf("логирование: %v / %q", cfg.LogLevel, cfg.LogFormat)
	}
	if len(cfg.Gateways) != 4 || cfg.Gateways[0] != "https://ipfs.io/ipfs/" {
		t.Errorf("Gateways: получено %v", cfg.Gateways)
	}
	if cfg.GatewayProbeTimeout != 5*time.Second {
		t.Errorf("GatewayProbeTimeout: ожидалось 5s, получено %v", cfg.GatewayProbeTimeout)
	}
	if cfg.GatewayDownloadTimeout != 5*time.Minute {
		t.Errorf("GatewayDownloadTimeout: ожидалось 5m, получено %v", cfg.GatewayDownloadTimeout)
	}
	if cfg.GatewayAffinitySize != 0 {
		t.Errorf("GatewayAffinitySize: ожидалось 0, получено %d", cfg.GatewayAffinitySize)
	}
	if !strings.HasSuffix(cfg.CacheDir, filepath.Join("Stori", "licensed-audio")) {
		t.Errorf("CacheDir: получено %q", cfg.CacheDir)
	}
	if cfg.DatabaseURL != "" || cfg.JWKSURL != "" {
		t.Error("БД и JWT по умолчанию выключены")
	}
	if cfg.JWKSClientTimeout != 10*time.Second {
		t.Errorf("JWKSClientTimeout: ожидалось 10s, получено %v", cfg.JWKSClientTimeout)
	}
	if cfg.HTTPWriteTimeout != 0 {
		t.Errorf("HTTPWriteTimeout: ожидалось 0, получено %v", cfg.HTTPWriteTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 10s, получено %v", cfg.ShutdownTimeout)
	}
	if !cfg.DephealthEnabled || cfg.DephealthGroup != "stori" {
		t.Errorf("dephealth: %v / %q", cfg.DephealthEnabled, cfg.DephealthGroup)
	}

	// Список по умолчанию копируется
	cfg.Gateways[0] = "changed"
	if DefaultGateways[0] == "changed" {
		t.Error("Load не должен отдавать DefaultGateways по ссылке")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearAllLEEnvVars(t)
	t.Setenv("LE_PORT", "9100")
	t.Setenv("LE_GATEWAYS", " https://g0.example/ipfs/ , ,http://g1.local:8080/ipfs")
	t.Setenv("LE_GATEWAY_AFFINITY_SIZE", "256")
	t.Setenv("LE_LOG_LEVEL", "debug")
	t.Setenv("LE_LOG_FORMAT", "text")
	t.Setenv("LE_JWKS_URL", "https://idp.example/jwks.json")
	t.Setenv("LE_DEPHEALTH_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port: получено %d", cfg.Port)
	}
	if len(cfg.Gateways) != 2 || cfg.Gateways[1] != "http://g1.local:8080/ipfs" {
		t.Errorf("Gateways: получено %v", cfg.Gateways)
	}
	if cfg.GatewayAffinitySize != 256 {
		t.Errorf("GatewayAffinitySize: получено %d", cfg.GatewayAffinitySize)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Errorf("логирование: %v / %q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.DephealthEnabled {
		t.Error("DephealthEnabled: ожидалось false")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"LE_PORT":                  "abc",
		"LE_LOG_LEVEL":             "trace",
		"LE_LOG_FORMAT":            "xml",
		"LE_GATEWAYS":              "ipfs.io",
		"LE_GATEWAY_PROBE_TIMEOUT": "0s",
		"LE_GATEWAY_AFFINITY_SIZE": "-1",
		"LE_JWKS_URL":              "ftp://idp",
		"LE_DEPHEALTH_ENABLED":     "maybe",
		"LE_HTTP_READ_TIMEOUT":     "soon",
	}

	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			clearAllLEEnvVars(t)
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%q: ожидалась ошибка", key, val)
			} else if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка должна называть переменную %s: %v", key, err)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearAllLEEnvVars(t)

	path := filepath.Join(t.TempDir(), "le.env")
	content := "LE_PORT=9200\nLE_LOG_FORMAT=text\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LE_ENV_FILE", path)
	// Заданная переменная окружения не перекрывается файлом
	t.Setenv("LE_LOG_FORMAT", "json")
	// godotenv не перекрывает даже пустые значения, поэтому LE_PORT удаляем
	os.Unsetenv("LE_PORT")

	if err := LoadEnvFile(); err != nil {
		t.Fatalf("LoadEnvFile() ошибка: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() ошибка: %v", err)
	}
	if cfg.Port != 9200 {
		t.Errorf("Port: ожидалось 9200 из файла, получено %d", cfg.Port)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: окружение должно иметь приоритет, получено %q", cfg.LogFormat)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	clearAllLEEnvVars(t)
	t.Chdir(t.TempDir())

	// Файл по умолчанию необязателен
	if err := LoadEnvFile(); err != nil {
		t.Errorf("отсутствующий .env не должен быть ошибкой: %v", err)
	}

	t.Setenv("LE_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	if err := LoadEnvFile(); err == nil {
		t.Error("явно указанный отсутствующий файл должен давать ошибку")
	}
}
