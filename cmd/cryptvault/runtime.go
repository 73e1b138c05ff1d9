package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/cryptvault/internal/config"
	"github.com/bigkaa/cryptvault/internal/database"
	"github.com/bigkaa/cryptvault/internal/domain/authz"
	"github.com/bigkaa/cryptvault/internal/ratelimit"
	"github.com/bigkaa/cryptvault/internal/repository"
	"github.com/bigkaa/cryptvault/internal/repository/memstore"
	"github.com/bigkaa/cryptvault/internal/service"
	"github.com/bigkaa/cryptvault/internal/storage/objectstore"
)

const (
	// orphanJournalLimit — ёмкость журнала осиротевших объектов
	orphanJournalLimit = 10000
	// limiterPrefix — префикс ключей лимитеров в Redis
	limiterPrefix = "cv:rl"
)

// app — общие для команд зависимости: хранилища и движок жизненного цикла.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	pool      *pgxpool.Pool
	pgDB      *sql.DB
	store     repository.Store
	objects   *objectstore.FileStore
	redis     *redis.Client
	lifecycle *service.LifecycleService
}

// newApp загружает конфигурацию и собирает слой хранения и сервисы.
// migrate — применить миграции перед подключением (только для postgres).
func newApp(ctx context.Context, migrate bool) (*app, error) {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	a := &app{cfg: cfg, logger: logger}

	// 3. Хранилище метаданных
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		if migrate {
			logger.Info("Применение миграций БД...")
			if err := database.Migrate(cfg, logger); err != nil {
				return nil, err
			}
		}
		a.pool, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		// Адаптер pgxpool → *sql.DB для topologymetrics: проверка идёт через общий пул
		a.pgDB = stdlib.OpenDBFromPool(a.pool)
		a.store = repository.NewPgStore(a.pool)
	case config.BackendMemory:
		logger.Warn("Метаданные хранятся в памяти процесса и теряются при перезапуске")
		a.store = memstore.New()
	}

	// 4. Хранилище объектов
	a.objects, err = objectstore.New(cfg.DataDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 5. Лимитер загрузок: общий через Redis или локальный
	uploadLimiter, err := a.newLimiter(limiterPrefix, cfg.UploadRatePerHour)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 6. Движок жизненного цикла
	a.lifecycle = service.NewLifecycleService(
		a.store,
		a.objects,
		authz.NewGuard(logger),
		uploadLimiter,
		service.NewStatsCache(cfg.StatsCacheSize, cfg.StatsCacheTTL),
		service.NewOrphanJournal(orphanJournalLimit),
		service.LifecycleConfig{
			DefaultStorageLimit: cfg.DefaultStorageLimit,
			MaxFileSize:         cfg.MaxFileSize,
			BlobDeleteAttempts:  cfg.BlobDeleteAttempts,
		},
		logger,
	)
	return a, nil
}

// newLimiter создаёт лимитер частоты. При заданном CV_REDIS_URL счётчик
// общий для всех реплик, иначе — в памяти процесса.
func (a *app) newLimiter(prefix string, perHour int) (ratelimit.Limiter, error) {
	if perHour <= 0 {
		return ratelimit.Unlimited{}, nil
	}
	if a.cfg.RedisURL == "" {
		return ratelimit.NewLocal(perHour, a.cfg.StatsCacheSize), nil
	}
	if a.redis == nil {
		client, err := ratelimit.NewRedisClient(a.cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = client
	}
	return ratelimit.NewRedis(a.redis, prefix, perHour), nil
}

// sweeperConfig формирует параметры очистки корзины.
func (a *app) sweeperConfig() service.SweeperConfig {
	return service.SweeperConfig{
		Retention:   a.cfg.RetentionPeriod,
		Interval:    a.cfg.SweepInterval,
		BatchSize:   a.cfg.SweepBatchSize,
		Concurrency: a.cfg.SweepConcurrency,
	}
}

// requirePersistent отклоняет однократные команды над хранилищем в памяти:
// у нового процесса оно всегда пустое.
func (a *app) requirePersistent(command string) error {
	if a.cfg.StorageBackend == config.BackendMemory {
		return fmt.Errorf("команда %s требует CV_STORAGE_BACKEND=postgres", command)
	}
	return nil
}

// Close освобождает подключения.
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pgDB != nil {
		_ = a.pgDB.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
