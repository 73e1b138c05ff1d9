// Пакет ratelimit — ограничение частоты операций на арендатора.
//
// Локальная реализация держит token bucket на ключ в LRU-таблице
// с истечением. Реализация поверх Redis считает фиксированные окна
// и даёт общий лимит для нескольких реплик.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Limiter — проверка лимита для ключа (обычно "операция:арендатор").
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Local — token bucket на ключ в памяти процесса.
type Local struct {
	mu       sync.Mutex
	perHour  int
	limiters *expirable.LRU[string, *rate.Limiter]
}

// NewLocal создаёт лимитер на perHour событий в час с запасом burst = perHour.
// Таблица ограничена maxKeys записями, неактивные ключи вытесняются через час.
func NewLocal(perHour, maxKeys int) *Local {
	return &Local{
		perHour:  perHour,
		limiters: expirable.NewLRU[string, *rate.Limiter](maxKeys, nil, time.Hour),
	}
}

// Allow расходует один токен ключа. perHour <= 0 отключает ограничение.
func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	if l.perHour <= 0 {
		return true, nil
	}

	l.mu.Lock()
	lim, ok := l.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perHour)/3600.0), l.perHour)
		l.limiters.Add(key, lim)
	}
	l.mu.Unlock()

	return lim.Allow(), nil
}

// Unlimited — лимитер без ограничений.
type Unlimited struct{}

// Allow всегда разрешает.
func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
