// enforcer.go — единственная точка решения «разрешено ли действие сейчас»
// и единственный владелец счётчиков воспроизведений.
//
// Записи лицензий неизменяемы: счётчик limited_play живёт в собственном
// хранилище Enforcer'а (map по license.ID), инициализируется из
// PurchasedLicense.PlaysRemaining при первом обращении и сохраняется
// через UsageRepository (in-memory или PostgreSQL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cgcardona/Stori-sub011/internal/domain/license"
	"github.com/cgcardona/Stori-sub011/internal/domain/model"
	"github.com/cgcardona/Stori-sub011/internal/repository"
)

// UnlimitedPlays — значение RemainingPlays для типов без лимита воспроизведений.
const UnlimitedPlays = -1

// Prometheus-метрики Enforcer.
var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "le_enforcer_decisions_total",
		Help: "Решения Enforcer (по действию и результату).",
	}, []string{"action", "result"})

	playsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "le_plays_recorded_total",
		Help: "Зафиксированные воспроизведения (по типу лицензии).",
	}, []string{"license_type"})

	usagePersistErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "le_usage_persist_errors_total",
		Help: "Ошибки сохранения счётчиков воспроизведений.",
	})
)

// playCounter — счётчик воспроизведений одной лицензии.
// mu сериализует RecordPlay (уменьшение и сохранение) для лицензии;
// читатели берут remaining без блокировки и не ждут записи в БД.
type playCounter struct {
	mu         sync.Mutex
	remaining  atomic.Int64
	total      *int
	instanceID string
}

func newPlayCounter(remaining int, total *int, instanceID string) *playCounter {
	c := &playCounter{total: total, instanceID: instanceID}
	c.remaining.Store(int64(remaining))
	return c
}

// Enforcer — проверка прав и учёт воспроизведений.
// Все методы, кроме RecordPlay и Restore, неблокирующие (поиск в памяти).
type Enforcer struct {
	repo   repository.UsageRepository
	now    func() time.Time
	logger *slog.Logger

	// mu защищает карту counters (не сами счётчики)
	mu       sync.RWMutex
	counters map[string]*playCounter
}

// NewEnforcer создаёт Enforcer с системными часами.
func NewEnforcer(repo repository.UsageRepository, logger *slog.Logger) *Enforcer {
	return NewEnforcerWithClock(repo, time.Now, logger)
}

// NewEnforcerWithClock создаёт Enforcer с указанным источником времени.
// Используется в тестах для детерминированной проверки истечения.
func NewEnforcerWithClock(repo repository.UsageRepository, now func() time.Time, logger *slog.Logger) *Enforcer {
	if repo == nil {
		repo = repository.NewMemoryUsageRepository()
	}
	return &Enforcer{
		repo:     repo,
		now:      now,
		logger:   logger.With(slog.String("component", "enforcer")),
		counters: make(map[string]*playCounter),
	}
}

// Restore загружает сохранённые счётчики из репозитория.
// Вызывается один раз при старте, до обслуживания запросов.
// Сохранённое значение имеет приоритет над PlaysRemaining из записи лицензии.
func (e *Enforcer) Restore(ctx context.Context) error {
	records, err := e.repo.List(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range records {
		e.counters[rec.LicenseID] = newPlayCounter(max(rec.PlaysRemaining, 0), rec.TotalPlays, rec.InstanceID)
	}

	e.logger.Info("Счётчики воспроизведений восстановлены",
		slog.Int("count", len(records)),
	)
	return nil
}

// AccessState вычисляет текущее состояние доступа лицензии.
func (e *Enforcer) AccessState(l *license.PurchasedLicense) license.AccessState {
	var plays *int
	if l.Type == license.TypeLimitedPlay {
		remaining := e.currentPlays(l)
		plays = &remaining
	}
	return license.StateAt(l.Type, plays, l.ExpirationDate, e.now())
}

// CanPlay — разрешено ли воспроизведение сейчас. Без побочных эффектов.
func (e *Enforcer) CanPlay(l *license.PurchasedLicense) license.Decision {
	d := e.canPlay(l)
	observeDecision("play", d)
	return d
}

func (e *Enforcer) canPlay(l *license.PurchasedLicense) license.Decision {
	if l.Capabilities().Playback == license.PlaybackNone {
		return license.Deny(license.ReasonPlaybackNotPermitted)
	}
	state := e.AccessState(l)
	if state != license.StateActive {
		return license.Deny(license.ReasonFor(state))
	}
	return license.Allow()
}

// CanDownload — состояние active и тип допускает скачивание. Без побочных эффектов.
func (e *Enforcer) CanDownload(l *license.PurchasedLicense) bool {
	allowed := license.CanDownload(l.Type) && e.AccessState(l) == license.StateActive
	if allowed {
		decisionsTotal.WithLabelValues("download", "allowed").Inc()
	} else {
		decisionsTotal.WithLabelValues("download", "denied").Inc()
	}
	return allowed
}

// CanResell — тип допускает перепродажу и экземпляр передаваемый.
func (e *Enforcer) CanResell(l *license.PurchasedLicense) bool {
	return license.CanResell(l.Type) && l.Transferable
}

// RemainingPlays возвращает оставшиеся воспроизведения limited_play
// или UnlimitedPlays для остальных типов.
func (e *Enforcer) RemainingPlays(l *license.PurchasedLicense) int {
	if l.Type != license.TypeLimitedPlay {
		return UnlimitedPlays
	}
	return e.currentPlays(l)
}

// RecordPlay фиксирует одно фактическое воспроизведение.
// limited_play: уменьшает счётчик на 1 (не ниже 0) и сохраняет его;
// остальные типы: no-op. Возвращает остаток после операции.
// Ошибка сохранения логируется: значение в памяти остаётся источником истины.
func (e *Enforcer) RecordPlay(ctx context.Context, l *license.PurchasedLicense) int {
	remaining, _ := e.ConsumePlay(ctx, l)
	return remaining
}

// ConsumePlay — RecordPlay с признаком consumed: false, если у limited_play
// не осталось воспроизведений и счётчик не изменился. Проверка и уменьшение
// выполняются под одной блокировкой, поэтому из двух гонящихся вызовов
// за последнее воспроизведение consumed=true получит только один.
func (e *Enforcer) ConsumePlay(ctx context.Context, l *license.PurchasedLicense) (remaining int, consumed bool) {
	if l.Type != license.TypeLimitedPlay {
		playsRecordedTotal.WithLabelValues(string(l.Type)).Inc()
		return UnlimitedPlays, true
	}

	c := e.counter(l)
	c.mu.Lock()
	defer c.mu.Unlock()

	left := int(c.remaining.Load())
	if left == 0 {
		return 0, false
	}
	left--
	// Публикуем до сохранения: читатели видят новое значение сразу
	c.remaining.Store(int64(left))
	playsRecordedTotal.WithLabelValues(string(l.Type)).Inc()

	rec := &model.UsageRecord{
		LicenseID:      l.ID,
		InstanceID:     c.instanceID,
		PlaysRemaining: left,
		TotalPlays:     c.total,
	}
	if err := e.repo.Save(ctx, rec); err != nil {
		usagePersistErrorsTotal.Inc()
		e.logger.Error("Ошибка сохранения счётчика воспроизведений",
			slog.String("license_id", l.ID),
			slog.Int("plays_remaining", left),
			slog.String("error", err.Error()),
		)
	}

	e.logger.Debug("Воспроизведение зафиксировано",
		slog.String("license_id", l.ID),
		slog.Int("plays_remaining", left),
	)
	return left, true
}

// currentPlays возвращает текущий остаток без создания счётчика.
func (e *Enforcer) currentPlays(l *license.PurchasedLicense) int {
	e.mu.RLock()
	c, ok := e.counters[l.ID]
	e.mu.RUnlock()

	if !ok {
		return seedPlays(l)
	}
	return int(c.remaining.Load())
}

// counter возвращает счётчик лицензии, создавая его из записи при первом обращении.
func (e *Enforcer) counter(l *license.PurchasedLicense) *playCounter {
	e.mu.RLock()
	c, ok := e.counters[l.ID]
	e.mu.RUnlock()
	if ok {
		return c
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.counters[l.ID]; ok {
		return c
	}
	c = newPlayCounter(seedPlays(l), l.TotalPlays, l.InstanceID)
	e.counters[l.ID] = c
	return c
}

// seedPlays — начальное значение счётчика из записи (nil считается 0).
func seedPlays(l *license.PurchasedLicense) int {
	if l.PlaysRemaining == nil || *l.PlaysRemaining < 0 {
		return 0
	}
	return *l.PlaysRemaining
}

func observeDecision(action string, d license.Decision) {
	if d.Allowed {
		decisionsTotal.WithLabelValues(action, "allowed").Inc()
		return
	}
	decisionsTotal.WithLabelValues(action, string(d.Reason)).Inc()
}
