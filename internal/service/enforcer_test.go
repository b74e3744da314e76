package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cgcardona/Stori-sub011/internal/domain/license"
	"github.com/cgcardona/Stori-sub011/internal/domain/model"
	"github.com/cgcardona/Stori-sub011/internal/repository"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnforcer(repo repository.UsageRepository) *Enforcer {
	return NewEnforcerWithClock(repo, func() time.Time { return testNow }, testLogger())
}

func limitedLicense(id string, plays int) *license.PurchasedLicense {
	return &license.PurchasedLicense{
		ID:             id,
		InstanceID:     "1",
		Type:           license.TypeLimitedPlay,
		AudioURI:       "ipfs://CID-" + id,
		PlaysRemaining: license.IntPtr(plays),
		TotalPlays:     license.IntPtr(plays),
	}
}

// TestEnforcer_LimitedPlayExhaustion — после N воспроизведений лицензия исчерпана,
// остаток не уходит ниже нуля.
func TestEnforcer_LimitedPlayExhaustion(t *testing.T) {
	e := newTestEnforcer(nil)
	ctx := context.Background()
	l := limitedLicense("lic-limited", 3)

	for i := 0; i < 3; i++ {
		if d := e.CanPlay(l); !d.Allowed {
			t.Fatalf("воспроизведение %d: ожидалось разрешение, получено %+v", i+1, d)
		}
		if got := e.RecordPlay(ctx, l); got != 2-i {
			t.Errorf("RecordPlay() = %d, ожидалось %d", got, 2-i)
		}
	}

	d := e.CanPlay(l)
	if d.Allowed || d.Reason != license.ReasonExhausted {
		t.Errorf("CanPlay = %+v, ожидался отказ exhausted", d)
	}
	if got := e.RemainingPlays(l); got != 0 {
		t.Errorf("RemainingPlays = %d, ожидалось 0", got)
	}

	// Повторный вызов не уводит счётчик в минус
	if got := e.RecordPlay(ctx, l); got != 0 {
		t.Errorf("RecordPlay после исчерпания = %d, ожидалось 0", got)
	}
	if got := e.RemainingPlays(l); got != 0 {
		t.Errorf("RemainingPlays = %d, ожидалось 0", got)
	}

	// Запись лицензии не изменяется
	if *l.PlaysRemaining != 3 {
		t.Errorf("запись лицензии изменена: %d", *l.PlaysRemaining)
	}
}

// TestEnforcer_LimitedPlayWithoutCounter — отсутствующий счётчик считается нулём.
func TestEnforcer_LimitedPlayWithoutCounter(t *testing.T) {
	e := newTestEnforcer(nil)
	l := &license.PurchasedLicense{ID: "lic-nil", InstanceID: "1", Type: license.TypeLimitedPlay}

	if d := e.CanPlay(l); d.Allowed || d.Reason != license.ReasonExhausted {
		t.Errorf("CanPlay = %+v, ожидался отказ exhausted", d)
	}
}

// TestEnforcer_TimeLimited — прошедшая дата даёт отказ expired, будущая — разрешение.
func TestEnforcer_TimeLimited(t *testing.T) {
	e := newTestEnforcer(nil)

	past := &license.PurchasedLicense{
		ID: "lic-past", InstanceID: "1", Type: license.TypeTimeLimited,
		ExpirationDate: license.TimePtr(testNow.Add(-time.Second)),
	}
	if d := e.CanPlay(past); d.Allowed || d.Reason != license.ReasonExpired {
		t.Errorf("CanPlay(past) = %+v, ожидался отказ expired", d)
	}

	future := &license.PurchasedLicense{
		ID: "lic-future", InstanceID: "1", Type: license.TypeTimeLimited,
		ExpirationDate: license.TimePtr(testNow.Add(time.Hour)),
	}
	if d := e.CanPlay(future); !d.Allowed {
		t.Errorf("CanPlay(future) = %+v, ожидалось разрешение", d)
	}

	// RecordPlay для time_limited — no-op
	if got := e.RecordPlay(context.Background(), future); got != UnlimitedPlays {
		t.Errorf("RecordPlay = %d, ожидалось UnlimitedPlays", got)
	}
	if !future.ExpirationDate.Equal(testNow.Add(time.Hour)) {
		t.Error("дата истечения не должна изменяться")
	}
}

// TestEnforcer_UnlimitedTypesIgnoreFields — full_ownership, streaming и
// commercial_license всегда разрешены независимо от полей счётчика и срока.
func TestEnforcer_UnlimitedTypesIgnoreFields(t *testing.T) {
	e := newTestEnforcer(nil)
	past := testNow.Add(-24 * time.Hour)

	for _, typ := range []license.Type{license.TypeFullOwnership, license.TypeStreaming, license.TypeCommercial} {
		l := &license.PurchasedLicense{
			ID: "lic-" + string(typ), InstanceID: "1", Type: typ,
			PlaysRemaining: license.IntPtr(0), ExpirationDate: &past,
		}
		if d := e.CanPlay(l); !d.Allowed {
			t.Errorf("%s: CanPlay = %+v, ожидалось разрешение", typ, d)
		}
		if got := e.RemainingPlays(l); got != UnlimitedPlays {
			t.Errorf("%s: RemainingPlays = %d", typ, got)
		}
		e.RecordPlay(context.Background(), l)
		if d := e.CanPlay(l); !d.Allowed {
			t.Errorf("%s: после RecordPlay CanPlay = %+v", typ, d)
		}
	}
}

// TestEnforcer_CanDownload — скачивание только для full_ownership в состоянии active.
func TestEnforcer_CanDownload(t *testing.T) {
	e := newTestEnforcer(nil)
	future := testNow.Add(time.Hour)

	tests := []struct {
		l    *license.PurchasedLicense
		want bool
	}{
		{&license.PurchasedLicense{ID: "a", InstanceID: "1", Type: license.TypeFullOwnership}, true},
		{&license.PurchasedLicense{ID: "b", InstanceID: "1", Type: license.TypeStreaming}, false},
		{limitedLicense("c", 5), false},
		{&license.PurchasedLicense{ID: "d", InstanceID: "1", Type: license.TypeTimeLimited, ExpirationDate: &future}, false},
		{&license.PurchasedLicense{ID: "e", InstanceID: "1", Type: license.TypeCommercial}, false},
		{&license.PurchasedLicense{ID: "f", InstanceID: "1", Type: "rental"}, false},
	}
	for _, tt := range tests {
		if got := e.CanDownload(tt.l); got != tt.want {
			t.Errorf("%s (%s): CanDownload = %v, ожидалось %v", tt.l.ID, tt.l.Type, got, tt.want)
		}
	}
}

// TestEnforcer_UnknownType — неизвестный тип не допускает воспроизведение.
func TestEnforcer_UnknownType(t *testing.T) {
	e := newTestEnforcer(nil)
	l := &license.PurchasedLicense{ID: "x", InstanceID: "1", Type: "rental"}

	if d := e.CanPlay(l); d.Allowed || d.Reason != license.ReasonPlaybackNotPermitted {
		t.Errorf("CanPlay = %+v, ожидался отказ playback_not_permitted_for_type", d)
	}
}

// TestEnforcer_CanResell — перепродажа требует возможности типа и флага transferable.
func TestEnforcer_CanResell(t *testing.T) {
	e := newTestEnforcer(nil)

	cases := []struct {
		typ          license.Type
		transferable bool
		want         bool
	}{
		{license.TypeFullOwnership, true, true},
		{license.TypeFullOwnership, false, false},
		{license.TypeCommercial, true, true},
		{license.TypeStreaming, true, false},
	}
	for _, c := range cases {
		l := &license.PurchasedLicense{ID: "r", InstanceID: "1", Type: c.typ, Transferable: c.transferable}
		if got := e.CanResell(l); got != c.want {
			t.Errorf("%s transferable=%v: CanResell = %v, ожидалось %v", c.typ, c.transferable, got, c.want)
		}
	}
}

// TestEnforcer_ConcurrentRecordPlay — параллельные RecordPlay не теряют обновлений.
func TestEnforcer_ConcurrentRecordPlay(t *testing.T) {
	e := newTestEnforcer(nil)
	l := limitedLicense("lic-race", 100)

	var wg sync.WaitGroup
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.RecordPlay(context.Background(), l)
		}()
	}
	wg.Wait()

	if got := e.RemainingPlays(l); got != 0 {
		t.Errorf("RemainingPlays = %d, ожидалось 0", got)
	}
}

// TestEnforcer_PersistAndRestore — счётчик переживает перезапуск через репозиторий.
func TestEnforcer_PersistAndRestore(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryUsageRepository()
	l := limitedLicense("lic-persist", 5)

	first := newTestEnforcer(repo)
	first.RecordPlay(ctx, l)
	first.RecordPlay(ctx, l)

	rec, err := repo.Get(ctx, l.ID)
	if err != nil {
		t.Fatalf("счётчик не сохранён: %v", err)
	}
	if rec.PlaysRemaining != 3 || rec.InstanceID != "1" {
		t.Errorf("сохранено %+v, ожидалось 3 воспроизведения", rec)
	}

	// «Перезапуск»: новый Enforcer, та же запись лицензии с исходным счётчиком
	second := newTestEnforcer(repo)
	if err := second.Restore(ctx); err != nil {
		t.Fatalf("Restore() ошибка: %v", err)
	}
	if got := second.RemainingPlays(l); got != 3 {
		t.Errorf("RemainingPlays после Restore = %d, ожидалось 3", got)
	}
}

// failingRepo — репозиторий, всегда возвращающий ошибку сохранения.
type failingRepo struct {
	repository.UsageRepository
}

func (failingRepo) Save(context.Context, *model.UsageRecord) error {
	return errors.New("диск недоступен")
}

// TestEnforcer_PersistErrorIsAbsorbed — ошибка сохранения не мешает учёту.
func TestEnforcer_PersistErrorIsAbsorbed(t *testing.T) {
	e := newTestEnforcer(failingRepo{repository.NewMemoryUsageRepository()})
	l := limitedLicense("lic-fail", 2)

	if got := e.RecordPlay(context.Background(), l); got != 1 {
		t.Errorf("RecordPlay = %d, ожидалось 1", got)
	}
	if got := e.RemainingPlays(l); got != 1 {
		t.Errorf("RemainingPlays = %d, ожидалось 1", got)
	}
}

// blockingRepo — репозиторий, Save которого ждёт release.
type blockingRepo struct {
	repository.UsageRepository
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRepo) Save(ctx context.Context, rec *model.UsageRecord) error {
	r.entered <- struct{}{}
	<-r.release
	return r.UsageRepository.Save(ctx, rec)
}

// TestEnforcer_ReadsDoNotWaitForPersist — CanPlay и RemainingPlays
// отвечают, пока RecordPlay ждёт сохранения счётчика.
func TestEnforcer_ReadsDoNotWaitForPersist(t *testing.T) {
	repo := &blockingRepo{
		UsageRepository: repository.NewMemoryUsageRepository(),
		entered:         make(chan struct{}, 1),
		release:         make(chan struct{}),
	}
	e := newTestEnforcer(repo)
	l := limitedLicense("lic-slow", 2)

	done := make(chan int, 1)
	go func() {
		done <- e.RecordPlay(context.Background(), l)
	}()

	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("RecordPlay не дошёл до сохранения")
	}

	answered := make(chan license.Decision, 1)
	go func() {
		answered <- e.CanPlay(l)
	}()
	select {
	case d := <-answered:
		if !d.Allowed {
			t.Errorf("CanPlay = %+v, ожидалось разрешение", d)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("CanPlay заблокирован сохранением счётчика")
	}
	if got := e.RemainingPlays(l); got != 1 {
		t.Errorf("RemainingPlays во время сохранения = %d, ожидалось 1", got)
	}

	close(repo.release)
	if got := <-done; got != 1 {
		t.Errorf("RecordPlay() = %d, ожидалось 1", got)
	}
}

// TestEnforcer_ConsumePlayLastPlayOnce — за последнее воспроизведение
// из параллельных вызовов consumed=true получает ровно один.
func TestEnforcer_ConsumePlayLastPlayOnce(t *testing.T) {
	e := newTestEnforcer(nil)
	l := limitedLicense("lic-last", 1)

	var consumedCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if remaining, consumed := e.ConsumePlay(context.Background(), l); consumed {
				consumedCount.Add(1)
				if remaining != 0 {
					t.Errorf("ConsumePlay() remaining = %d, ожидалось 0", remaining)
				}
			}
		}()
	}
	wg.Wait()

	if got := consumedCount.Load(); got != 1 {
		t.Errorf("consumed=true получили %d вызовов, ожидался 1", got)
	}
	if remaining, consumed := e.ConsumePlay(context.Background(), l); consumed || remaining != 0 {
		t.Errorf("ConsumePlay после исчерпания = (%d, %v), ожидалось (0, false)", remaining, consumed)
	}
}

// TestEnforcer_ConsumePlayUnlimited — для типов без лимита всегда consumed.
func TestEnforcer_ConsumePlayUnlimited(t *testing.T) {
	e := newTestEnforcer(nil)
	l := &license.PurchasedLicense{ID: "lic-full", InstanceID: "1", Type: license.TypeFullOwnership, AudioURI: "ipfs://CID"}

	if remaining, consumed := e.ConsumePlay(context.Background(), l); !consumed || remaining != UnlimitedPlays {
		t.Errorf("ConsumePlay() = (%d, %v), ожидалось (%d, true)", remaining, consumed, UnlimitedPlays)
	}
}
