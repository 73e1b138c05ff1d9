package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis — фиксированное окно в один час, счётчик в Redis.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	perHour int
	now     func() time.Time
}

// NewRedisClient создаёт клиента по URL вида redis://host:6379/0.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора CV_REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedis создаёт лимитер поверх клиента Redis.
func NewRedis(client redis.UniversalClient, prefix string, perHour int) *Redis {
	return &Redis{
		client:  client,
		prefix:  prefix,
		perHour: perHour,
		now:     time.Now,
	}
}

// Allow увеличивает счётчик текущего окна и сравнивает с лимитом.
func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	if l.perHour <= 0 {
		return true, nil
	}

	window := l.now().UTC().Truncate(time.Hour).Unix()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, time.Hour+time.Minute)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ошибка обращения к Redis: %w", err)
	}
	return incr.Val() <= int64(l.perHour), nil
}
