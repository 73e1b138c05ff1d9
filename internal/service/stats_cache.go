// stats_cache.go — LRU-кэш статистики хранилища арендаторов с TTL.
// Инвалидируется при каждой мутации учёта арендатора.
//
// Статистика считается вне блокировки кэша, поэтому между расчётом и
// сохранением может пройти мутация. Каждая инвалидация увеличивает
// поколение арендатора; SetIfCurrent сохраняет значение, только если
// поколение не изменилось с момента начала расчёта.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша.
var (
	statsCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_stats_cache_hits_total",
		Help: "Общее количество попаданий в кэш статистики хранилища.",
	})
	statsCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_stats_cache_misses_total",
		Help: "Общее количество промахов кэша статистики хранилища.",
	})
	statsCacheStaleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_stats_cache_stale_total",
		Help: "Количество расчётов статистики, не сохранённых из-за параллельной мутации.",
	})
)

// StatsCache — кэш StorageStats по id арендатора.
type StatsCache struct {
	cache *expirable.LRU[string, StorageStats]

	mu   sync.Mutex
	gens map[string]uint64
}

// NewStatsCache создаёт кэш. maxSize <= 0 отключает кэширование.
func NewStatsCache(maxSize int, ttl time.Duration) *StatsCache {
	if maxSize <= 0 {
		return &StatsCache{}
	}
	return &StatsCache{
		cache: expirable.NewLRU[string, StorageStats](maxSize, nil, ttl),
		gens:  make(map[string]uint64),
	}
}

func (c *StatsCache) enabled() bool {
	return c != nil && c.cache != nil
}

// Get возвращает статистику арендатора из кэша.
func (c *StatsCache) Get(tenantID string) (StorageStats, bool) {
	if !c.enabled() {
		return StorageStats{}, false
	}
	val, ok := c.cache.Get(tenantID)
	if ok {
		statsCacheHitsTotal.Inc()
		return val, true
	}
	statsCacheMissesTotal.Inc()
	return StorageStats{}, false
}

// Generation возвращает текущее поколение арендатора.
// Вызывается до начала расчёта статистики.
func (c *StatsCache) Generation(tenantID string) uint64 {
	if !c.enabled() {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[tenantID]
}

// SetIfCurrent сохраняет статистику, если с момента Generation
// арендатор не инвалидировался. Возвращает true, если значение сохранено.
func (c *StatsCache) SetIfCurrent(tenantID string, gen uint64, stats StorageStats) bool {
	if !c.enabled() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[tenantID] != gen {
		statsCacheStaleTotal.Inc()
		return false
	}
	c.cache.Add(tenantID, stats)
	return true
}

// Invalidate удаляет статистику арендатора и начинает новое поколение.
func (c *StatsCache) Invalidate(tenantID string) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[tenantID]++
	c.cache.Remove(tenantID)
}
