// registry.go — реестр лицензий, переданных внешним слоем через HTTP API.
// Записи неизменяемы внутри подсистемы: Put заменяет запись целиком,
// Get возвращает копию.
package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cgcardona/Stori-sub011/internal/domain/license"
)

// LicenseRegistry — in-memory реестр лицензий по ID.
type LicenseRegistry struct {
	mu    sync.RWMutex
	items map[string]license.PurchasedLicense
}

// NewLicenseRegistry создаёт пустой реестр.
func NewLicenseRegistry() *LicenseRegistry {
	return &LicenseRegistry{items: make(map[string]license.PurchasedLicense)}
}

// Put регистрирует или заменяет запись. Возвращает true, если запись новая.
func (r *LicenseRegistry) Put(l *license.PurchasedLicense) (bool, error) {
	if err := l.Validate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.items[l.ID]
	r.items[l.ID] = *l
	return !exists, nil
}

// Get возвращает копию записи или ErrLicenseNotFound.
func (r *LicenseRegistry) Get(id string) (*license.PurchasedLicense, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLicenseNotFound, id)
	}
	return &l, nil
}

// List возвращает все записи, упорядоченные по ID.
func (r *LicenseRegistry) List() []*license.PurchasedLicense {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*license.PurchasedLicense, 0, len(r.items))
	for _, l := range r.items {
		l := l
		result = append(result, &l)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Delete удаляет запись. Возвращает ErrLicenseNotFound, если записи нет.
// Счётчик воспроизведений при этом сохраняется: повторная регистрация
// той же лицензии не восстанавливает израсходованные воспроизведения.
func (r *LicenseRegistry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrLicenseNotFound, id)
	}
	delete(r.items, id)
	return nil
}

// Len возвращает число записей.
func (r *LicenseRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
