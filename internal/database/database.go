// Пакет database — пул подключений PostgreSQL для хранилища метаданных,
// embedded-миграции схемы арендаторов и записей файлов, проверка готовности.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/cryptvault/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// requiredTables — таблицы, без которых хранилище метаданных не работает.
var requiredTables = []string{"tenants", "file_records"}

// Connect создаёт пул с параметрами из конфигурации и ждёт доступности
// PostgreSQL: до cfg.DBConnectAttempts попыток ping с экспоненциальной паузой.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := pool.Ping(pingCtx)
		if err != nil && attempt < cfg.DBConnectAttempts {
			logger.Warn("PostgreSQL недоступен, повтор подключения",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.DBConnectAttempts-1)), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL после %d попыток: %w", attempt, err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", cfg.DBMaxConns),
		slog.Int("attempts", attempt),
	)
	return pool, nil
}

// PoolConfig строит конфигурацию пула: DSN и границы из config.
func PoolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MinConns = int32(cfg.DBMinConns)
	if cfg.DBConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.DBConnMaxLifetime
	}
	return poolCfg, nil
}

// Migrate применяет миграции схемы метаданных (golang-migrate, драйвер pgx5).
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.DatabaseURL("pgx5"))
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	before, _, _ := m.Version()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	if dirty {
		return fmt.Errorf("схема в состоянии dirty на версии %d: требуется ручное исправление", version)
	}
	logger.Info("Схема метаданных актуальна",
		slog.Uint64("from_version", uint64(before)),
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// ReadinessChecker — готовность хранилища метаданных: доступность
// PostgreSQL, наличие схемы и запас пула подключений.
// Реализует интерфейс handlers.ReadinessChecker.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// Name возвращает имя проверяемой зависимости.
func (c *ReadinessChecker) Name() string { return "metadata_store" }

// CheckReady возвращает "ok", "degraded" (пул исчерпан) или "fail".
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}

	for _, table := range requiredTables {
		var present bool
		err := c.pool.QueryRow(ctx, `SELECT to_regclass($1::text) IS NOT NULL`, "public."+table).Scan(&present)
		if err != nil {
			return "fail", fmt.Sprintf("ошибка проверки схемы: %v", err)
		}
		if !present {
			return "fail", fmt.Sprintf("таблица %s отсутствует: миграции не применены", table)
		}
	}

	stat := c.pool.Stat()
	return poolStatus(stat.AcquiredConns(), stat.MaxConns())
}

// poolStatus оценивает загрузку пула.
func poolStatus(acquired, limit int32) (string, string) {
	if limit > 0 && acquired >= limit {
		return "degraded", fmt.Sprintf("пул исчерпан: занято %d из %d подключений", acquired, limit)
	}
	return "ok", fmt.Sprintf("занято %d из %d подключений", acquired, limit)
}
