// Пакет model — модели хранимых данных License Engine.
// UsageRecord — маппинг таблицы license_usage.
package model

import "time"

// UsageRecord — сохранённое состояние счётчика воспроизведений лицензии.
// Ключ — LicenseID; запись ведёт только Enforcer.
type UsageRecord struct {
	// LicenseID — идентификатор лицензии
	LicenseID string
	// InstanceID — экземпляр, для которого создан счётчик (для диагностики)
	InstanceID string
	// PlaysRemaining — оставшиеся воспроизведения (>= 0)
	PlaysRemaining int
	// TotalPlays — исходный лимит (опционально)
	TotalPlays *int
	// UpdatedAt — время последнего изменения
	UpdatedAt time.Time
}
