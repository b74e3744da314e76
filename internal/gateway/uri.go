package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURI — ссылка на аудио отсутствует или некорректна.
var ErrInvalidURI = errors.New("некорректная ссылка на аудио")

// Ref — разобранная ссылка на контент.
type Ref struct {
	// Direct — ссылка уже является http(s) URL и не требует шлюза
	Direct bool
	// URL — исходный URL для Direct
	URL string
	// Scheme — схема контент-адресации (ipfs, ar, ...)
	Scheme string
	// CID — непрозрачный идентификатор контента (может содержать путь)
	CID string
}

// ParseRef разбирает ссылку вида http(s)://... или scheme://<cid>.
func ParseRef(uri string) (Ref, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Ref{}, fmt.Errorf("%w: пустая ссылка", ErrInvalidURI)
	}

	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return Ref{}, fmt.Errorf("%w: нет схемы в %q", ErrInvalidURI, uri)
	}

	switch strings.ToLower(scheme) {
	case "http", "https":
		u, err := url.Parse(uri)
		if err != nil || u.Host == "" {
			return Ref{}, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
		}
		return Ref{Direct: true, URL: uri}, nil
	}

	cid := strings.TrimLeft(rest, "/")
	if cid == "" || strings.ContainsAny(cid, " \t\r\n") {
		return Ref{}, fmt.Errorf("%w: некорректный идентификатор контента в %q", ErrInvalidURI, uri)
	}
	return Ref{Scheme: strings.ToLower(scheme), CID: cid}, nil
}

// Gateways — упорядоченный неизменяемый список базовых URL шлюзов.
// Порядок — статический приоритет. Безопасен для конкурентного чтения.
type Gateways struct {
	bases []string
}

// NewGateways создаёт список шлюзов. Базовые URL нормализуются
// к завершающему "/", чтобы конкатенация base+cid давала корректный путь.
func NewGateways(bases []string) (*Gateways, error) {
	if len(bases) == 0 {
		return nil, errors.New("список шлюзов пуст")
	}

	normalized := make([]string, 0, len(bases))
	for _, b := range bases {
		b = strings.TrimSpace(b)
		u, err := url.Parse(b)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("некорректный URL шлюза: %q", b)
		}
		if !strings.HasSuffix(b, "/") {
			b += "/"
		}
		normalized = append(normalized, b)
	}
	return &Gateways{bases: normalized}, nil
}

// Len возвращает число шлюзов.
func (g *Gateways) Len() int {
	return len(g.bases)
}

// Base возвращает базовый URL шлюза по индексу.
func (g *Gateways) Base(idx int) (string, bool) {
	if idx < 0 || idx >= len(g.bases) {
		return "", false
	}
	return g.bases[idx], true
}

// Bases возвращает копию списка шлюзов.
func (g *Gateways) Bases() []string {
	out := make([]string, len(g.bases))
	copy(out, g.bases)
	return out
}

// Resolve превращает ссылку в URL через шлюз idx.
// http(s)-ссылка возвращается без изменений независимо от idx.
// false — индекс вне диапазона или ссылка некорректна.
func (g *Gateways) Resolve(uri string, idx int) (string, bool) {
	ref, err := ParseRef(uri)
	if err != nil {
		return "", false
	}
	return g.ResolveRef(ref, idx)
}

// ResolveRef — Resolve для уже разобранной ссылки.
func (g *Gateways) ResolveRef(ref Ref, idx int) (string, bool) {
	if ref.Direct {
		return ref.URL, true
	}
	base, ok := g.Base(idx)
	if !ok {
		return "", false
	}
	return base + ref.CID, true
}
