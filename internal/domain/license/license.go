// Пакет license — доменная модель купленных лицензий на мастер-записи.
//
// Пять типов лицензий с фиксированным профилем возможностей:
//   - full_ownership — скачивание, перепродажа, безлимитное воспроизведение
//   - streaming — только потоковое воспроизведение (цена за поток хранится, но не учитывается)
//   - limited_play — ограниченное число воспроизведений
//   - time_limited — воспроизведение до даты истечения
//   - commercial_license — перепродажа и безлимитное воспроизведение, текстовые условия использования
//
// Записи лицензий приходят от внешнего слоя (индексатор/кошелёк) и внутри
// подсистемы считаются неизменяемыми. Счётчик воспроизведений ведёт Enforcer.
package license

import (
	"fmt"
	"time"
)

// Type — тип лицензии. Неизменяем на протяжении жизни записи.
type Type string

const (
	// TypeFullOwnership — полное владение
	TypeFullOwnership Type = "full_ownership"
	// TypeStreaming — потоковое воспроизведение с оплатой за поток
	TypeStreaming Type = "streaming"
	// TypeLimitedPlay — ограниченное число воспроизведений
	TypeLimitedPlay Type = "limited_play"
	// TypeTimeLimited — действует до даты истечения
	TypeTimeLimited Type = "time_limited"
	// TypeCommercial — коммерческая лицензия
	TypeCommercial Type = "commercial_license"
)

// Types возвращает все типы лицензий в фиксированном порядке.
func Types() []Type {
	return []Type{TypeFullOwnership, TypeStreaming, TypeLimitedPlay, TypeTimeLimited, TypeCommercial}
}

// Valid проверяет, что тип входит в закрытое перечисление.
func (t Type) Valid() bool {
	_, ok := capabilities[t]
	return ok
}

// ParseType преобразует строку в Type.
// Возвращает ошибку для недопустимых значений.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("недопустимый тип лицензии: %q", s)
	}
	return t, nil
}

// PurchasedLicense — запись о купленном экземпляре лицензии.
type PurchasedLicense struct {
	// ID — идентификатор лицензии (ключ счётчика воспроизведений)
	ID string `json:"id"`
	// InstanceID — идентификатор экземпляра (токена)
	InstanceID string `json:"instance_id"`
	// MasterID — идентификатор мастер-записи
	MasterID string `json:"master_id"`

	Title         string `json:"title"`
	Artist        string `json:"artist"`
	Description   string `json:"description,omitempty"`
	CoverImageURI string `json:"cover_image_uri,omitempty"`
	// AudioURI — ссылка на аудио: http(s) URL или scheme://<cid>
	AudioURI string `json:"audio_uri"`

	Type            Type      `json:"license_type"`
	PurchaseDate    time.Time `json:"purchase_date"`
	PurchasePrice   float64   `json:"purchase_price"`
	TransactionHash string    `json:"transaction_hash"`
	Transferable    bool      `json:"transferable"`

	// PlaysRemaining и TotalPlays заполняются только для limited_play
	PlaysRemaining *int `json:"plays_remaining,omitempty"`
	TotalPlays     *int `json:"total_plays,omitempty"`
	// ExpirationDate заполняется только для time_limited
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`

	// PricePerStream — цена одного потока (streaming), не учитывается здесь
	PricePerStream *float64 `json:"price_per_stream,omitempty"`
	// UsageTerms — условия использования (commercial_license)
	UsageTerms string `json:"usage_terms,omitempty"`
}

// Validate проверяет обязательные поля записи.
func (l *PurchasedLicense) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("не задан id лицензии")
	}
	if l.InstanceID == "" {
		return fmt.Errorf("не задан instance_id лицензии %s", l.ID)
	}
	if !l.Type.Valid() {
		return fmt.Errorf("лицензия %s: недопустимый тип %q", l.ID, l.Type)
	}
	if l.PlaysRemaining != nil && *l.PlaysRemaining < 0 {
		return fmt.Errorf("лицензия %s: plays_remaining не может быть отрицательным", l.ID)
	}
	return nil
}

// Capabilities возвращает профиль возможностей типа этой лицензии.
func (l *PurchasedLicense) Capabilities() Capabilities {
	return CapabilitiesFor(l.Type)
}

// IntPtr — вспомогательная функция для заполнения опциональных полей.
func IntPtr(v int) *int {
	return &v
}

// TimePtr — вспомогательная функция для заполнения ExpirationDate.
func TimePtr(t time.Time) *time.Time {
	return &t
}
