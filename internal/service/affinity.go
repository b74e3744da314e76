// affinity.go — память о шлюзе, последним успешно отдавшем контент.
// Обёртка над hashicorp/golang-lru/v2/expirable: CID → индекс шлюза.
// Выключена по умолчанию (LE_GATEWAY_AFFINITY_SIZE=0): порядок шлюзов статический.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики affinity.
var (
	affinityHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "le_gateway_affinity_hits_total",
		Help: "Количество попаданий в кэш предпочтительного шлюза.",
	})
	affinityMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "le_gateway_affinity_misses_total",
		Help: "Количество промахов кэша предпочтительного шлюза.",
	})
)

// GatewayAffinity — LRU-кэш предпочтительного шлюза для CID с TTL.
type GatewayAffinity struct {
	cache *expirable.LRU[string, int]
}

// NewGatewayAffinity создаёт кэш на maxSize записей с временем жизни ttl.
// maxSize <= 0 — affinity выключена, возвращается nil.
func NewGatewayAffinity(maxSize int, ttl time.Duration) *GatewayAffinity {
	if maxSize <= 0 {
		return nil
	}
	return &GatewayAffinity{cache: expirable.NewLRU[string, int](maxSize, nil, ttl)}
}

// Preferred возвращает индекс шлюза, последним отдавшего cid.
func (a *GatewayAffinity) Preferred(cid string) (int, bool) {
	if a == nil {
		return 0, false
	}
	idx, ok := a.cache.Get(cid)
	if ok {
		affinityHitsTotal.Inc()
		return idx, true
	}
	affinityMissesTotal.Inc()
	return 0, false
}

// Remember запоминает успешный шлюз для cid.
func (a *GatewayAffinity) Remember(cid string, idx int) {
	if a == nil {
		return
	}
	a.cache.Add(cid, idx)
}

// Forget удаляет запись (предпочтительный шлюз перестал отвечать).
func (a *GatewayAffinity) Forget(cid string) {
	if a == nil {
		return
	}
	a.cache.Remove(cid)
}

// order возвращает порядок перебора n шлюзов для cid:
// предпочтительный первым, остальные в статическом порядке.
func (a *GatewayAffinity) order(cid string, n int) []int {
	out := make([]int, 0, n)
	preferred, ok := a.Preferred(cid)
	if ok && preferred >= 0 && preferred < n {
		out = append(out, preferred)
	} else {
		preferred = -1
	}
	for i := 0; i < n; i++ {
		if i != preferred {
			out = append(out, i)
		}
	}
	return out
}
