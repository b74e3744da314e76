// Пакет repository — слой хранения счётчиков воспроизведений лицензий.
// Две реализации UsageRepository: in-memory (по умолчанию, без персистентности
// между перезапусками) и PostgreSQL через pgx (LE_DATABASE_URL).
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cgcardona/Stori-sub011/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UsageRepository — хранилище счётчиков воспроизведений.
type UsageRepository interface {
	// Get возвращает счётчик лицензии или ErrNotFound.
	Get(ctx context.Context, licenseID string) (*model.UsageRecord, error)
	// List возвращает все сохранённые счётчики (восстановление при старте).
	List(ctx context.Context) ([]*model.UsageRecord, error)
	// Save создаёт или обновляет счётчик.
	Save(ctx context.Context, rec *model.UsageRecord) error
	// Delete удаляет счётчик. Отсутствие записи — не ошибка.
	Delete(ctx context.Context, licenseID string) error
}
