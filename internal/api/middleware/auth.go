// auth.go — проверка Bearer JWT (RS256, ключи из LE_JWKS_URL) и scope.
// Если LE_JWKS_URL не задан, middleware не подключается: сервис слушает
// только loopback, а RequireScope пропускает запросы без principal.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/cgcardona/Stori-sub011/internal/api/errors"
)

// ScopeLicensesWrite — scope для изменения реестра лицензий и кэша.
const ScopeLicensesWrite = "licenses:write"

// principal — вызывающая сторона, подтверждённая токеном.
type principal struct {
	subject string
	scopes  []string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey{}).(principal)
	return p, ok
}

// Claims — claims токена клиента License Engine.
// Scope — строка через пробел (OAuth2), ScopeList — массив; учитываются оба.
type Claims struct {
	jwt.RegisteredClaims
	Scope     string   `json:"scope"`
	ScopeList []string `json:"scopes"`
}

// Scopes возвращает scope'ы из обоих полей.
func (c *Claims) Scopes() []string {
	return append(strings.Fields(c.Scope), c.ScopeList...)
}

// JWTAuth проверяет токены по ключам JWKS.
type JWTAuth struct {
	keys   keyfunc.Keyfunc
	leeway time.Duration
	logger *slog.Logger
}

// JWTAuthConfig — настройки JWKS-клиента и проверки токенов.
type JWTAuthConfig struct {
	JWKSURL string
	// CACertPath — PEM с CA для JWKS endpoint, дополняет системный пул
	CACertPath      string
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	// JWTLeeway — допуск часов для exp/nbf
	JWTLeeway time.Duration
}

// NewJWTAuth загружает ключи из JWKSURL и периодически их обновляет.
// Недоступный при старте JWKS не мешает запуску: токены отклоняются,
// пока ключи не загрузятся.
func NewJWTAuth(cfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	client, err := jwksClient(cfg)
	if err != nil {
		return nil, err
	}

	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Не удалось обновить ключи JWKS",
				slog.String("url", cfg.JWKSURL),
				slog.String("error", err.Error()),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("JWKS %s: %w", cfg.JWKSURL, err)
	}

	keys, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("keyfunc: %w", err)
	}
	return NewJWTAuthWithKeyfunc(keys, cfg.JWTLeeway, logger), nil
}

func jwksClient(cfg JWTAuthConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("чтение CA %s: %w", cfg.CACertPath, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("в %s нет PEM-сертификатов", cfg.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}
	return &http.Client{
		Timeout:   cfg.ClientTimeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}, nil
}

// NewJWTAuthWithKeyfunc — JWTAuth с готовым источником ключей.
func NewJWTAuthWithKeyfunc(keys keyfunc.Keyfunc, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		keys:   keys,
		leeway: leeway,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

// bearerToken извлекает токен из Authorization. При ошибке возвращает
// текст для ответа 401.
func bearerToken(r *http.Request) (token, problem string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Отсутствует заголовок Authorization"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "Ожидается Authorization: Bearer <token>"
	}
	if token == "" {
		return "", "Пустой Bearer token"
	}
	return token, ""
}

// authenticate проверяет подпись RS256, обязательный exp и непустой sub.
func (j *JWTAuth) authenticate(ctx context.Context, token string) (principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, j.keys.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
	)
	if err != nil {
		return principal{}, err
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return principal{}, err
	}
	if subject == "" {
		return principal{}, errors.New("пустой sub")
	}
	return principal{subject: subject, scopes: claims.Scopes()}, nil
}

// Middleware пропускает дальше только запросы с действительным токеном.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, problem := bearerToken(r)
			if problem != "" {
				apierrors.Unauthorized(w, problem)
				return
			}

			p, err := j.authenticate(r.Context(), token)
			if err != nil {
				j.logger.Debug("Токен отклонён",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("error", err.Error()),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
		})
	}
}

// RequireScope отвечает 403, если у principal нет scope.
// Запрос без principal (аутентификация выключена) проходит.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r.Context())
			if ok && !slices.Contains(p.scopes, scope) {
				apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectFromContext возвращает sub токена или "".
func SubjectFromContext(ctx context.Context) string {
	p, _ := principalFrom(ctx)
	return p.subject
}

// ScopesFromContext возвращает scope'ы токена.
func ScopesFromContext(ctx context.Context) []string {
	p, _ := principalFrom(ctx)
	return p.scopes
}
