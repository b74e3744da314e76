// Пакет gateway — доступ к HTTP-шлюзам контент-адресуемого хранилища.
// Разбор ссылок (http(s):// или scheme://<cid>), список шлюзов,
// HTTP-клиент с проверкой доступности (probe) и потоковым скачиванием.
// Поддерживает TLS с кастомным CA (LE_GATEWAY_CA_CERT).
package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики запросов к шлюзам.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "le_gateway_requests_total",
		Help: "Количество запросов к шлюзам (по операции и результату).",
	}, []string{"op", "result"})

	probeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "le_gateway_probe_duration_seconds",
		Help:    "Длительность проверки доступности шлюза.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// StatusError — шлюз ответил неуспешным HTTP-статусом.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("шлюз вернул статус %d для %s", e.StatusCode, e.URL)
}

// Client — HTTP-клиент для шлюзов.
type Client struct {
	httpClient      *http.Client
	probeTimeout    time.Duration
	downloadTimeout time.Duration
	logger          *slog.Logger
}

// New создаёт клиент шлюзов.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — системный пул).
// probeTimeout — таймаут проверки доступности (LE_GATEWAY_PROBE_TIMEOUT).
// downloadTimeout — таймаут полного скачивания (LE_GATEWAY_DOWNLOAD_TIMEOUT, 0 — без ограничения).
func New(caCertPath string, probeTimeout, downloadTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата шлюзов: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат шлюзов добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return NewWithHTTPClient(&http.Client{Transport: transport}, probeTimeout, downloadTimeout, logger), nil
}

// NewWithHTTPClient создаёт клиент с готовым *http.Client (для тестов).
// Таймауты задаются через контекст каждого запроса, а не через http.Client.Timeout,
// чтобы не обрывать длительный потоковый ответ.
func NewWithHTTPClient(httpClient *http.Client, probeTimeout, downloadTimeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient:      httpClient,
		probeTimeout:    probeTimeout,
		downloadTimeout: downloadTimeout,
		logger:          logger.With(slog.String("component", "gateway_client")),
	}
}

// Probe проверяет, что шлюз отдаёт контент по url.
// HEAD с коротким таймаутом; если HEAD не поддерживается (405/501) —
// GET с Range: bytes=0-0. Успех — любой 2xx.
func (c *Client) Probe(ctx context.Context, url string) error {
	start := time.Now()
	defer func() { probeDuration.Observe(time.Since(start).Seconds()) }()

	if c.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.probeTimeout)
		defer cancel()
	}

	status, err := c.probe(ctx, http.MethodHead, url)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		c.logger.Debug("HEAD не поддерживается шлюзом, проверка через GET",
			slog.String("url", url),
		)
		status, err = c.probe(ctx, http.MethodGet, url)
	}
	if err != nil {
		requestsTotal.WithLabelValues("probe", "error").Inc()
		return err
	}
	if !isSuccess(status) {
		requestsTotal.WithLabelValues("probe", "bad_status").Inc()
		return &StatusError{URL: url, StatusCode: status}
	}

	requestsTotal.WithLabelValues("probe", "success").Inc()
	return nil
}

func (c *Client) probe(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("создание запроса %s: %w", method, err)
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из списка шлюзов
	if err != nil {
		return 0, fmt.Errorf("запрос %s к %s: %w", method, url, err)
	}
	// Тело не нужно: максимум один байт для Range-запроса
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	return resp.StatusCode, nil
}

// Fetch выполняет потоковый GET без таймаута (для проксирования воспроизведения).
// Возвращает *http.Response — вызывающий код ОБЯЗАН закрыть resp.Body.
// rangeHeader пробрасывается как есть (пустая строка — без Range).
func (c *Client) Fetch(ctx context.Context, url, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса Fetch: %w", err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из списка шлюзов
	if err != nil {
		requestsTotal.WithLabelValues("fetch", "error").Inc()
		return nil, fmt.Errorf("запрос Fetch к %s: %w", url, err)
	}
	if !isSuccess(resp.StatusCode) {
		requestsTotal.WithLabelValues("fetch", "bad_status").Inc()
	} else {
		requestsTotal.WithLabelValues("fetch", "success").Inc()
	}
	return resp, nil
}

// Download скачивает url целиком в w с таймаутом downloadTimeout.
// Возвращает число записанных байт. Неуспешный статус — *StatusError.
func (c *Client) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	if c.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.downloadTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("создание запроса Download: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из списка шлюзов
	if err != nil {
		requestsTotal.WithLabelValues("download", "error").Inc()
		return 0, fmt.Errorf("запрос Download к %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		requestsTotal.WithLabelValues("download", "bad_status").Inc()
		return 0, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues("download", "error").Inc()
		return written, fmt.Errorf("чтение тела ответа %s: %w", url, err)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		requestsTotal.WithLabelValues("download", "error").Inc()
		return written, fmt.Errorf("неполный ответ %s: получено %d из %d байт", url, written, resp.ContentLength)
	}

	requestsTotal.WithLabelValues("download", "success").Inc()
	return written, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", caCertPath)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
