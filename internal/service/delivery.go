// delivery.go — доставка аудио: ссылка на контент → воспроизводимые/скачанные байты.
//
// Алгоритм перебора шлюзов (общий для воспроизведения и скачивания):
// индексы 0..N-1 по порядку, каждый шлюз — одна попытка с ограниченным
// таймаутом, первый успех завершает перебор. Ошибки отдельных шлюзов
// логируются и учитываются в метриках; наружу выходит только
// агрегированная GatewaysExhaustedError (errors.Is → ErrDownloadFailed).
//
// Параллельные DownloadAudio одной лицензии делят одну передачу (singleflight).
// Запись в кэш атомарная: при отмене по пути кэша не остаётся файла.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/cgcardona/Stori-sub011/internal/domain/license"
	"github.com/cgcardona/Stori-sub011/internal/gateway"
	"github.com/cgcardona/Stori-sub011/internal/storage/audiocache"
)

// directIndex — GatewayIndex плеера для прямого http(s) URL (шлюз не используется).
const directIndex = -1

// Prometheus-метрики доставки.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "le_downloads_total",
		Help: "Запросы на скачивание аудио (по статусу).",
	}, []string{"status"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "le_download_duration_seconds",
		Help:    "Длительность скачивания аудио в кэш (включая перебор шлюзов).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "le_download_bytes_total",
		Help: "Байты, записанные в кэш аудио.",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "le_active_downloads",
		Help: "Количество активных скачиваний в кэш.",
	})

	downloadDedupTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "le_download_dedup_total",
		Help: "Вызовы DownloadAudio, дождавшиеся чужой передачи.",
	})

	playersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "le_stream_players_total",
		Help: "Создание плееров потокового воспроизведения (по статусу).",
	}, []string{"status"})

	gatewayFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "le_gateway_failures_total",
		Help: "Неудачные попытки шлюзов в цикле перебора (по операции).",
	}, []string{"op"})
)

// PlaybackGate — ответы Enforcer'а, которые нужны доставке.
// DeliveryEngine не интерпретирует бизнес-правила сам.
type PlaybackGate interface {
	CanPlay(l *license.PurchasedLicense) license.Decision
	CanDownload(l *license.PurchasedLicense) bool
}

// GatewayClient — сетевые операции со шлюзами. Реализуется *gateway.Client.
type GatewayClient interface {
	Probe(ctx context.Context, url string) error
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
	Fetch(ctx context.Context, url, rangeHeader string) (*http.Response, error)
}

// DeliveryEngine — доставка аудио через шлюзы с локальным кэшем.
type DeliveryEngine struct {
	gateways *gateway.Gateways
	client   GatewayClient
	cache    *audiocache.Cache
	affinity *GatewayAffinity
	logger   *slog.Logger

	group singleflight.Group

	// inflight — имена файлов кэша с активной передачей (флаг «загрузка»)
	mu       sync.Mutex
	inflight map[string]int
}

// NewDeliveryEngine создаёт движок доставки.
// affinity может быть nil — тогда шлюзы перебираются строго по порядку.
func NewDeliveryEngine(
	gateways *gateway.Gateways,
	client GatewayClient,
	cache *audiocache.Cache,
	affinity *GatewayAffinity,
	logger *slog.Logger,
) *DeliveryEngine {
	return &DeliveryEngine{
		gateways: gateways,
		client:   client,
		cache:    cache,
		affinity: affinity,
		logger:   logger.With(slog.String("component", "delivery")),
		inflight: make(map[string]int),
	}
}

// Gateways возвращает список шлюзов.
func (d *DeliveryEngine) Gateways() *gateway.Gateways {
	return d.gateways
}

// ResolveURL превращает ссылку в URL через шлюз idx.
// http(s)-ссылка возвращается без изменений.
func (d *DeliveryEngine) ResolveURL(uri string, idx int) (string, bool) {
	return d.gateways.Resolve(uri, idx)
}

// StreamingURL — быстрый путь без проверки доступности: CanPlay,
// затем разрешение через шлюз 0. false — отказ или некорректная ссылка;
// причину отказа вызывающий код получает из CanPlay.
func (d *DeliveryEngine) StreamingURL(l *license.PurchasedLicense, gate PlaybackGate) (string, bool) {
	if !gate.CanPlay(l).Allowed {
		return "", false
	}
	return d.gateways.Resolve(l.AudioURI, 0)
}

// CreateStreamingPlayer проверяет CanPlay и последовательно проверяет
// доступность шлюзов; плеер привязывается к первому ответившему 2xx.
func (d *DeliveryEngine) CreateStreamingPlayer(
	ctx context.Context,
	l *license.PurchasedLicense,
	gate PlaybackGate,
) (*Player, error) {
	if decision := gate.CanPlay(l); !decision.Allowed {
		playersTotal.WithLabelValues("denied").Inc()
		return nil, &DeniedError{Op: ErrStreamingNotAllowed, Reason: decision.Reason}
	}

	ref, err := gateway.ParseRef(l.AudioURI)
	if err != nil {
		playersTotal.WithLabelValues("invalid_uri").Inc()
		return nil, err
	}

	var attempts []GatewayAttempt
	for _, idx := range d.order(ref) {
		url, ok := d.resolve(ref, idx)
		if !ok {
			continue
		}

		err := d.client.Probe(ctx, url)
		if err == nil {
			d.remember(ref, idx)
			playersTotal.WithLabelValues("success").Inc()
			d.logger.Debug("Плеер привязан к шлюзу",
				slog.String("license_id", l.ID),
				slog.Int("gateway_index", idx),
				slog.String("url", url),
			)
			return &Player{URL: url, GatewayIndex: idx, LicenseID: l.ID, client: d.client}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			playersTotal.WithLabelValues("cancelled").Inc()
			return nil, ctxErr
		}
		attempts = append(attempts, d.gatewayFailed("probe", ref, idx, url, err))
	}

	playersTotal.WithLabelValues("failed").Inc()
	return nil, &GatewaysExhaustedError{Attempts: attempts}
}

// DownloadAudio скачивает аудио лицензии в кэш и возвращает путь.
// Если файл уже в кэше — путь возвращается без обращения к сети.
func (d *DeliveryEngine) DownloadAudio(
	ctx context.Context,
	l *license.PurchasedLicense,
	gate PlaybackGate,
) (string, error) {
	if !gate.CanDownload(l) {
		downloadsTotal.WithLabelValues("denied").Inc()
		reason := license.ReasonDownloadNotPermitted
		if l.Capabilities().CanDownload {
			if decision := gate.CanPlay(l); !decision.Allowed {
				reason = decision.Reason
			}
		}
		return "", &DeniedError{Op: ErrDownloadNotAllowed, Reason: reason}
	}

	name := audiocache.FileName(l.ID, l.InstanceID)
	if d.cache.Exists(name) {
		downloadsTotal.WithLabelValues("cached").Inc()
		return d.cache.Path(name), nil
	}

	ref, err := gateway.ParseRef(l.AudioURI)
	if err != nil {
		downloadsTotal.WithLabelValues("invalid_uri").Inc()
		return "", err
	}

	for {
		ch := d.group.DoChan(name, func() (any, error) {
			return d.download(ctx, l, ref, name)
		})

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res := <-ch:
			if res.Shared {
				downloadDedupTotal.Inc()
			}
			if res.Err != nil {
				// Общая передача отменена другим вызывающим — повторяем со своим контекстом
				if res.Shared && ctx.Err() == nil && isContextError(res.Err) {
					continue
				}
				return "", res.Err
			}
			return res.Val.(string), nil
		}
	}
}

// download — одна передача в кэш с перебором шлюзов. Выполняется под singleflight.
func (d *DeliveryEngine) download(
	ctx context.Context,
	l *license.PurchasedLicense,
	ref gateway.Ref,
	name string,
) (string, error) {
	d.markInflight(name, 1)
	defer d.markInflight(name, -1)
	activeDownloads.Inc()
	defer activeDownloads.Dec()

	// Файл мог появиться, пока ждали очередь
	if d.cache.Exists(name) {
		downloadsTotal.WithLabelValues("cached").Inc()
		return d.cache.Path(name), nil
	}

	start := time.Now()
	var attempts []GatewayAttempt
	for _, idx := range d.order(ref) {
		url, ok := d.resolve(ref, idx)
		if !ok {
			continue
		}

		if err := d.client.Probe(ctx, url); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				downloadsTotal.WithLabelValues("cancelled").Inc()
				return "", ctxErr
			}
			attempts = append(attempts, d.gatewayFailed("probe", ref, idx, url, err))
			continue
		}

		res, err := d.cache.Save(name, func(w io.Writer) (int64, error) {
			return d.client.Download(ctx, url, w)
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				downloadsTotal.WithLabelValues("cancelled").Inc()
				return "", ctxErr
			}
			attempts = append(attempts, d.gatewayFailed("download", ref, idx, url, err))
			continue
		}

		d.remember(ref, idx)
		duration := time.Since(start)
		downloadsTotal.WithLabelValues("success").Inc()
		downloadDuration.Observe(duration.Seconds())
		downloadBytesTotal.Add(float64(res.Size))

		d.logger.Info("Аудио сохранено в кэш",
			slog.String("license_id", l.ID),
			slog.String("instance_id", l.InstanceID),
			slog.Int("gateway_index", idx),
			slog.Int64("bytes", res.Size),
			slog.String("sha256", res.Checksum),
			slog.Duration("duration", duration),
		)
		return res.Path, nil
	}

	downloadsTotal.WithLabelValues("failed").Inc()
	err := &GatewaysExhaustedError{Attempts: attempts}
	d.logger.Warn("Скачивание не удалось: все шлюзы недоступны",
		slog.String("license_id", l.ID),
		slog.Int("attempts", len(attempts)),
	)
	return "", err
}

// IsAudioCached — файл лицензии есть в кэше. Без обращения к сети.
func (d *DeliveryEngine) IsAudioCached(l *license.PurchasedLicense) bool {
	return d.cache.Exists(audiocache.FileName(l.ID, l.InstanceID))
}

// CachedPath — путь файла лицензии в кэше. Не означает, что файл существует.
func (d *DeliveryEngine) CachedPath(l *license.PurchasedLicense) string {
	return d.cache.Path(audiocache.FileName(l.ID, l.InstanceID))
}

// OpenCached открывает файл лицензии из кэша для чтения.
// Отсутствующий файл — ошибка, удовлетворяющая errors.Is(err, fs.ErrNotExist).
func (d *DeliveryEngine) OpenCached(l *license.PurchasedLicense) (*os.File, error) {
	return d.cache.Open(audiocache.FileName(l.ID, l.InstanceID))
}

// IsDownloading — идёт ли сейчас передача аудио лицензии в кэш.
func (d *DeliveryEngine) IsDownloading(l *license.PurchasedLicense) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight[audiocache.FileName(l.ID, l.InstanceID)] > 0
}

// DeleteCachedAudio удаляет файл лицензии из кэша. Отсутствие файла — не ошибка.
func (d *DeliveryEngine) DeleteCachedAudio(l *license.PurchasedLicense) error {
	return d.cache.Delete(audiocache.FileName(l.ID, l.InstanceID))
}

// ClearCache удаляет все файлы кэша.
func (d *DeliveryEngine) ClearCache() error {
	removed, err := d.cache.Clear()
	d.logger.Info("Кэш аудио очищен", slog.Int("removed", removed))
	if err != nil {
		return fmt.Errorf("очистка кэша: %w", err)
	}
	return nil
}

// CacheSize возвращает суммарный размер файлов кэша в байтах.
func (d *DeliveryEngine) CacheSize() (int64, error) {
	return d.cache.Size()
}

// CacheEntries возвращает список файлов кэша.
func (d *DeliveryEngine) CacheEntries() ([]audiocache.Entry, error) {
	return d.cache.Entries()
}

// order — порядок перебора шлюзов. Прямой URL — одна попытка.
func (d *DeliveryEngine) order(ref gateway.Ref) []int {
	if ref.Direct {
		return []int{directIndex}
	}
	return d.affinity.order(ref.CID, d.gateways.Len())
}

func (d *DeliveryEngine) resolve(ref gateway.Ref, idx int) (string, bool) {
	if ref.Direct {
		return ref.URL, true
	}
	return d.gateways.ResolveRef(ref, idx)
}

func (d *DeliveryEngine) remember(ref gateway.Ref, idx int) {
	if !ref.Direct {
		d.affinity.Remember(ref.CID, idx)
	}
}

// gatewayFailed логирует и учитывает неудачную попытку шлюза.
func (d *DeliveryEngine) gatewayFailed(op string, ref gateway.Ref, idx int, url string, err error) GatewayAttempt {
	gatewayFailuresTotal.WithLabelValues(op).Inc()
	if !ref.Direct {
		if preferred, ok := d.affinity.Preferred(ref.CID); ok && preferred == idx {
			d.affinity.Forget(ref.CID)
		}
	}
	d.logger.Warn("Шлюз недоступен, переход к следующему",
		slog.String("op", op),
		slog.Int("gateway_index", idx),
		slog.String("url", url),
		slog.String("error", err.Error()),
	)
	return GatewayAttempt{Index: idx, URL: url, Err: err}
}

func (d *DeliveryEngine) markInflight(name string, delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight[name] += delta
	if d.inflight[name] <= 0 {
		delete(d.inflight, name)
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
