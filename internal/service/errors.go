// errors.go — ошибки сервисного слоя License Engine.
// Отказ Enforcer'а — значение Decision, а не ошибка; ошибки ниже
// возникают только в DeliveryEngine и реестре лицензий.
package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cgcardona/Stori-sub011/internal/domain/license"
	"github.com/cgcardona/Stori-sub011/internal/gateway"
)

var (
	// ErrDownloadNotAllowed — тип или состояние лицензии не допускают скачивание.
	ErrDownloadNotAllowed = errors.New("скачивание не разрешено для этой лицензии")
	// ErrStreamingNotAllowed — воспроизведение запрещено (истекла, исчерпана, тип).
	ErrStreamingNotAllowed = errors.New("воспроизведение не разрешено для этой лицензии")
	// ErrDownloadFailed — все шлюзы недоступны.
	ErrDownloadFailed = errors.New("все шлюзы недоступны")
	// ErrServerError — шлюз ответил неуспешным статусом при установленном соединении.
	ErrServerError = errors.New("шлюз вернул ошибку")
	// ErrInvalidAudioURI — ссылка на аудио отсутствует или некорректна.
	ErrInvalidAudioURI = gateway.ErrInvalidURI
	// ErrLicenseExpired — срок действия лицензии истёк.
	ErrLicenseExpired = errors.New("срок действия лицензии истёк")
	// ErrPlayLimitReached — лимит воспроизведений исчерпан.
	ErrPlayLimitReached = errors.New("лимит воспроизведений исчерпан")
	// ErrLicenseNotFound — лицензия не зарегистрирована.
	ErrLicenseNotFound = errors.New("лицензия не найдена")
)

// DeniedError — отказ Enforcer'а, поднятый до ошибки операции доставки.
// errors.Is совпадает и с ошибкой операции (ErrStreamingNotAllowed /
// ErrDownloadNotAllowed), и с точной причиной (ErrLicenseExpired /
// ErrPlayLimitReached), чтобы вызывающий код мог показать конкретное сообщение.
type DeniedError struct {
	// Op — ErrStreamingNotAllowed или ErrDownloadNotAllowed
	Op error
	// Reason — причина отказа (пусто, если причина — только тип лицензии)
	Reason license.DenialReason
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return e.Op.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op.Error(), e.Reason)
}

// Is сопоставляет ошибку с сентинелом операции и причины.
func (e *DeniedError) Is(target error) bool {
	if target == e.Op {
		return true
	}
	if reasonErr := reasonError(e.Reason); reasonErr != nil && target == reasonErr {
		return true
	}
	return false
}

// Unwrap возвращает ошибку операции.
func (e *DeniedError) Unwrap() error {
	return e.Op
}

// reasonError сопоставляет причину отказа с сентинелом.
func reasonError(r license.DenialReason) error {
	switch r {
	case license.ReasonExpired:
		return ErrLicenseExpired
	case license.ReasonExhausted:
		return ErrPlayLimitReached
	default:
		return nil
	}
}

// GatewayAttempt — результат одной попытки обращения к шлюзу.
type GatewayAttempt struct {
	Index int
	URL   string
	Err   error
}

// GatewaysExhaustedError — все шлюзы перебраны без успеха.
// Отдельные ошибки шлюзов не выходят наружу по отдельности,
// только в составе этой агрегированной ошибки (для логов).
type GatewaysExhaustedError struct {
	Attempts []GatewayAttempt
}

func (e *GatewaysExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString(ErrDownloadFailed.Error())
	fmt.Fprintf(&b, " (попыток: %d)", len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; [%d] %s: %v", a.Index, a.URL, a.Err)
	}
	return b.String()
}

// Unwrap возвращает ErrDownloadFailed.
func (e *GatewaysExhaustedError) Unwrap() error {
	return ErrDownloadFailed
}
