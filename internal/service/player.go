package service

import (
	"context"
	"fmt"
	"net/http"
)

// Player — потоковое воспроизведение, привязанное к URL проверенного шлюза.
type Player struct {
	// URL — адрес контента на выбранном шлюзе
	URL string `json:"url"`
	// GatewayIndex — индекс шлюза (-1 для прямого http(s) URL)
	GatewayIndex int `json:"gateway_index"`
	// LicenseID — лицензия, для которой создан плеер
	LicenseID string `json:"license_id"`

	client GatewayClient
}

// Open запрашивает поток с шлюза. rangeHeader пробрасывается как есть.
// Вызывающий код ОБЯЗАН закрыть resp.Body.
// Статус вне 200/206 — ErrServerError.
func (p *Player) Open(ctx context.Context, rangeHeader string) (*http.Response, error) {
	resp, err := p.client.Fetch(ctx, p.URL, rangeHeader)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrServerError, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: статус %d от %s", ErrServerError, resp.StatusCode, p.URL)
	}
	return resp, nil
}
