package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cgcardona/Stori-sub011/internal/domain/model"
)

// memoryUsageRepo — in-memory реализация UsageRepository.
// Используется, когда LE_DATABASE_URL не задан, и в тестах.
type memoryUsageRepo struct {
	mu      sync.RWMutex
	records map[string]model.UsageRecord
}

// NewMemoryUsageRepository создаёт in-memory репозиторий счётчиков.
func NewMemoryUsageRepository() UsageRepository {
	return &memoryUsageRepo{records: make(map[string]model.UsageRecord)}
}

func (r *memoryUsageRepo) Get(_ context.Context, licenseID string) (*model.UsageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[licenseID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (r *memoryUsageRepo) List(_ context.Context) ([]*model.UsageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.UsageRecord, 0, len(r.records))
	for _, rec := range r.records {
		rec := rec
		result = append(result, &rec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LicenseID < result[j].LicenseID })
	return result, nil
}

func (r *memoryUsageRepo) Save(_ context.Context, rec *model.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *rec
	if stored.PlaysRemaining < 0 {
		stored.PlaysRemaining = 0
	}
	stored.UpdatedAt = time.Now().UTC()
	r.records[rec.LicenseID] = stored
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *memoryUsageRepo) Delete(_ context.Context, licenseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, licenseID)
	return nil
}
