package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cgcardona/Stori-sub011/internal/domain/model"
)

// usageColumns — столбцы таблицы license_usage для SELECT-запросов.
const usageColumns = `license_id, instance_id, plays_remaining, total_plays, updated_at`

// usageRepo — реализация UsageRepository через pgx.
type usageRepo struct {
	db DBTX
}

// NewUsageRepository создаёт PostgreSQL-репозиторий счётчиков.
func NewUsageRepository(db DBTX) UsageRepository {
	return &usageRepo{db: db}
}

// Get возвращает счётчик лицензии или ErrNotFound.
func (r *usageRepo) Get(ctx context.Context, licenseID string) (*model.UsageRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM license_usage WHERE license_id = $1`, usageColumns)

	rec := &model.UsageRecord{}
	err := r.db.QueryRow(ctx, query, licenseID).Scan(
		&rec.LicenseID, &rec.InstanceID, &rec.PlaysRemaining, &rec.TotalPlays, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения счётчика: %w", err)
	}
	return rec, nil
}

// List возвращает все счётчики, упорядоченные по license_id.
func (r *usageRepo) List(ctx context.Context) ([]*model.UsageRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM license_usage ORDER BY license_id`, usageColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения счётчиков: %w", err)
	}
	defer rows.Close()

	var result []*model.UsageRecord
	for rows.Next() {
		rec := &model.UsageRecord{}
		if err := rows.Scan(
			&rec.LicenseID, &rec.InstanceID, &rec.PlaysRemaining, &rec.TotalPlays, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования счётчика: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации счётчиков: %w", err)
	}
	return result, nil
}

// Save выполняет upsert счётчика. plays_remaining ограничен снизу нулём.
func (r *usageRepo) Save(ctx context.Context, rec *model.UsageRecord) error {
	query := `
		INSERT INTO license_usage (license_id, instance_id, plays_remaining, total_plays, updated_at)
		VALUES ($1, $2, GREATEST($3, 0), $4, now())
		ON CONFLICT (license_id) DO UPDATE SET
			instance_id = EXCLUDED.instance_id,
			plays_remaining = EXCLUDED.plays_remaining,
			total_plays = EXCLUDED.total_plays,
			updated_at = now()
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		rec.LicenseID, rec.InstanceID, rec.PlaysRemaining, rec.TotalPlays,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения счётчика %s: %w", rec.LicenseID, err)
	}
	return nil
}

// Delete удаляет счётчик лицензии.
func (r *usageRepo) Delete(ctx context.Context, licenseID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM license_usage WHERE license_id = $1`, licenseID)
	if err != nil {
		return fmt.Errorf("ошибка удаления счётчика %s: %w", licenseID, err)
	}
	return nil
}
