package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestMigrateURL проверяет преобразование DSN для golang-migrate.
func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"postgres://u:p@db:5432/stori?sslmode=disable", "pgx5://u:p@db:5432/stori?sslmode=disable", false},
		{"postgresql://u@db/stori", "pgx5://u@db/stori", false},
		{"pgx5://u@db/stori", "pgx5://u@db/stori", false},
		{"mysql://u@db/stori", "", true},
	}

	for _, tt := range tests {
		got, err := MigrateURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("MigrateURL(%q): ожидалась ошибка", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("MigrateURL(%q) ошибка: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("MigrateURL(%q) = %q, ожидалось %q", tt.in, got, tt.want)
		}
	}
}

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
// Возвращает DSN подключения.
func setupTestDB(t *testing.T) string {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("stori_test"),
		postgres.WithUsername("stori"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	return fmt.Sprintf("postgres://stori:test-password@%s:%s/stori_test?sslmode=disable", host, port.Port())
}

// TestMigrate проверяет подключение и повторное применение миграций.
func TestMigrate(t *testing.T) {
	dsn := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := Migrate(dsn, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — без ошибки (ErrNoChange)
	if err := Migrate(dsn, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, dsn, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'license_usage')`,
	).Scan(&exists)
	if err != nil {
		t.Fatalf("Ошибка проверки таблицы: %v", err)
	}
	if !exists {
		t.Error("таблица license_usage не создана")
	}

	status, _ := NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() = %q, ожидалось ok", status)
	}
}
