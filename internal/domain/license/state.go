package license

import "time"

// AccessState — производное состояние доступа. Не хранится,
// вычисляется заново при каждом запросе.
type AccessState string

const (
	StateActive    AccessState = "active"
	StateExpired   AccessState = "expired"
	StateExhausted AccessState = "exhausted"
)

// DenialReason — причина отказа в действии.
type DenialReason string

const (
	ReasonExpired   DenialReason = "expired"
	ReasonExhausted DenialReason = "exhausted"
	// ReasonPlaybackNotPermitted — тип лицензии не предусматривает воспроизведение
	ReasonPlaybackNotPermitted DenialReason = "playback_not_permitted_for_type"
	// ReasonDownloadNotPermitted — тип лицензии не предусматривает скачивание
	ReasonDownloadNotPermitted DenialReason = "download_not_permitted_for_type"
)

// Decision — результат проверки действия. Отказ — обычное значение, не ошибка.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Reason  DenialReason `json:"reason,omitempty"`
}

// Allow — разрешающее решение.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny — запрещающее решение с причиной.
func Deny(reason DenialReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// StateAt вычисляет состояние доступа на момент now.
//
//   - exhausted — limited_play и осталось <= 0 воспроизведений (nil считается 0)
//   - expired — time_limited и дата истечения раньше now (nil не истекает)
//   - active — во всех остальных случаях
//
// Поля воспроизведений и срока игнорируются для остальных типов.
func StateAt(t Type, playsRemaining *int, expiresAt *time.Time, now time.Time) AccessState {
	switch t {
	case TypeLimitedPlay:
		if playsRemaining == nil || *playsRemaining <= 0 {
			return StateExhausted
		}
	case TypeTimeLimited:
		if expiresAt != nil && expiresAt.Before(now) {
			return StateExpired
		}
	}
	return StateActive
}

// ReasonFor сопоставляет неактивное состояние с причиной отказа.
func ReasonFor(state AccessState) DenialReason {
	switch state {
	case StateExpired:
		return ReasonExpired
	case StateExhausted:
		return ReasonExhausted
	default:
		return ""
	}
}
