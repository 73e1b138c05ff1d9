// Пакет config — загрузка и валидация конфигурации cryptvault
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранения метаданных.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Значения по умолчанию для квот.
const (
	defaultStorageLimit = 5 << 30  // 5 ГиБ
	defaultMaxFileSize  = 50 << 20 // 50 МиБ
)

// Config содержит все параметры конфигурации cryptvault.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Хранение ---

	// Бэкенд метаданных: postgres или memory
	StorageBackend string
	// Корневой каталог зашифрованных объектов
	DataDir string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Границы пула подключений
	DBMaxConns int
	DBMinConns int
	// Время жизни подключения в пуле
	DBConnMaxLifetime time.Duration
	// Попыток подключения при старте (PostgreSQL может подниматься позже сервиса)
	DBConnectAttempts int

	// --- JWT ---

	// URL JWKS endpoint внешнего издателя токенов
	JWTJWKSURL string
	// Ожидаемый iss токена (пусто — не проверяется)
	JWTIssuer string
	// CA-сертификат для TLS к JWKS (опционально)
	JWKSCACert string
	// Допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration

	// --- Квоты ---

	// Квота нового арендатора в байтах
	DefaultStorageLimit int64
	// Максимальный размер одного файла в байтах
	MaxFileSize int64

	// --- Очистка корзины ---

	// Срок хранения мягко удалённых файлов
	RetentionPeriod time.Duration
	// Интервал запуска очистки
	SweepInterval time.Duration
	// Размер страницы выборки просроченных записей
	SweepBatchSize int
	// Число параллельных удалений
	SweepConcurrency int
	// Число попыток удаления объекта из хранилища
	BlobDeleteAttempts int

	// --- Ограничение частоты ---

	// Загрузок в час на арендатора
	UploadRatePerHour int
	// Запросов API в час на арендатора
	APIRatePerHour int
	// URL Redis для общего счётчика между репликами (опционально)
	RedisURL string

	// --- Кэш статистики ---

	StatsCacheSize int
	StatsCacheTTL  time.Duration

	// --- Topologymetrics ---

	// Группа сервиса в topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CV_PORT — порт HTTP-сервера (по умолчанию 8000)
	cfg.Port, err = getEnvInt("CV_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("CV_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CV_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CV_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CV_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("CV_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CV_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Хранение ---

	cfg.StorageBackend = getEnvDefault("CV_STORAGE_BACKEND", BackendPostgres)
	if cfg.StorageBackend != BackendPostgres && cfg.StorageBackend != BackendMemory {
		return nil, fmt.Errorf("CV_STORAGE_BACKEND: недопустимое значение %q, допустимые: postgres, memory", cfg.StorageBackend)
	}

	cfg.DataDir = getEnvDefault("CV_DATA_DIR", "/var/lib/cryptvault")

	// --- PostgreSQL (обязателен только для бэкенда postgres) ---

	if cfg.StorageBackend == BackendPostgres {
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	}

	// --- JWT ---

	// CV_JWT_JWKS_URL — обязательный
	cfg.JWTJWKSURL, err = getEnvRequired("CV_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}

	cfg.JWTIssuer = getEnvDefault("CV_JWT_ISSUER", "")
	cfg.JWKSCACert = getEnvDefault("CV_JWKS_CA_CERT", "")

	cfg.JWTLeeway, err = getEnvDuration("CV_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CV_JWT_LEEWAY: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("CV_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CV_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.JWKSClientTimeout, err = getEnvDuration("CV_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CV_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// --- Квоты ---

	cfg.DefaultStorageLimit, err = getEnvInt64("CV_DEFAULT_STORAGE_LIMIT", defaultStorageLimit)
	if err != nil {
		return nil, fmt.Errorf("CV_DEFAULT_STORAGE_LIMIT: %w", err)
	}
	if cfg.DefaultStorageLimit <= 0 {
		return nil, fmt.Errorf("CV_DEFAULT_STORAGE_LIMIT: значение должно быть положительным, получено %d", cfg.DefaultStorageLimit)
	}

	cfg.MaxFileSize, err = getEnvInt64("CV_MAX_FILE_SIZE", defaultMaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("CV_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("CV_MAX_FILE_SIZE: значение должно быть положительным, получено %d", cfg.MaxFileSize)
	}

	// --- Очистка корзины ---

	// CV_RETENTION_PERIOD — срок хранения в корзине (по умолчанию 30 дней)
	cfg.RetentionPeriod, err = getEnvDuration("CV_RETENTION_PERIOD", 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CV_RETENTION_PERIOD: %w", err)
	}
	if cfg.RetentionPeriod <= 0 {
		return nil, fmt.Errorf("CV_RETENTION_PERIOD: значение должно быть положительным")
	}

	// CV_SWEEP_INTERVAL — интервал очистки (по умолчанию раз в сутки)
	cfg.SweepInterval, err = getEnvDuration("CV_SWEEP_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CV_SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("CV_SWEEP_INTERVAL: значение должно быть положительным")
	}

	cfg.SweepBatchSize, err = getEnvInt("CV_SWEEP_BATCH_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("CV_SWEEP_BATCH_SIZE: %w", err)
	}
	if cfg.SweepBatchSize < 1 || cfg.SweepBatchSize > 10000 {
		return nil, fmt.Errorf("CV_SWEEP_BATCH_SIZE: значение %d вне допустимого диапазона 1-10000", cfg.SweepBatchSize)
	}

	cfg.SweepConcurrency, err = getEnvInt("CV_SWEEP_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("CV_SWEEP_CONCURRENCY: %w", err)
	}
	if cfg.SweepConcurrency < 1 || cfg.SweepConcurrency > 64 {
		return nil, fmt.Errorf("CV_SWEEP_CONCURRENCY: значение %d вне допустимого диапазона 1-64", cfg.SweepConcurrency)
	}

	cfg.BlobDeleteAttempts, err = getEnvInt("CV_BLOB_DELETE_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("CV_BLOB_DELETE_ATTEMPTS: %w", err)
	}
	if cfg.BlobDeleteAttempts < 1 {
		return nil, fmt.Errorf("CV_BLOB_DELETE_ATTEMPTS: значение должно быть не меньше 1")
	}

	// --- Ограничение частоты ---

	cfg.UploadRatePerHour, err = getEnvInt("CV_UPLOAD_RATE_PER_HOUR", 20)
	if err != nil {
		return nil, fmt.Errorf("CV_UPLOAD_RATE_PER_HOUR: %w", err)
	}

	cfg.APIRatePerHour, err = getEnvInt("CV_API_RATE_PER_HOUR", 1000)
	if err != nil {
		return nil, fmt.Errorf("CV_API_RATE_PER_HOUR: %w", err)
	}

	// CV_REDIS_URL — опционально; без него лимиты считаются в памяти процесса
	cfg.RedisURL = getEnvDefault("CV_REDIS_URL", "")

	// --- Кэш статистики ---

	cfg.StatsCacheSize, err = getEnvInt("CV_STATS_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("CV_STATS_CACHE_SIZE: %w", err)
	}

	cfg.StatsCacheTTL, err = getEnvDuration("CV_STATS_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CV_STATS_CACHE_TTL: %w", err)
	}

	// --- Topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("CV_DEPHEALTH_GROUP", "cryptvault")

	cfg.DephealthCheckInterval, err = getEnvDuration("CV_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CV_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("CV_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CV_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadDatabase читает параметры подключения к PostgreSQL.
func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("CV_DB_HOST")
	if err != nil {
		return err
	}

	cfg.DBPort, err = getEnvInt("CV_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("CV_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("CV_DB_NAME")
	if err != nil {
		return err
	}

	cfg.DBUser, err = getEnvRequired("CV_DB_USER")
	if err != nil {
		return err
	}

	cfg.DBPassword, err = getEnvRequired("CV_DB_PASSWORD")
	if err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("CV_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("CV_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("CV_DB_MAX_CONNS", 10)
	if err != nil {
		return fmt.Errorf("CV_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return fmt.Errorf("CV_DB_MAX_CONNS: должно быть >= 1, получено %d", cfg.DBMaxConns)
	}

	cfg.DBMinConns, err = getEnvInt("CV_DB_MIN_CONNS", 0)
	if err != nil {
		return fmt.Errorf("CV_DB_MIN_CONNS: %w", err)
	}
	if cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return fmt.Errorf("CV_DB_MIN_CONNS: должно быть в диапазоне 0-%d, получено %d", cfg.DBMaxConns, cfg.DBMinConns)
	}

	cfg.DBConnMaxLifetime, err = getEnvDuration("CV_DB_CONN_MAX_LIFETIME", 30*time.Minute)
	if err != nil {
		return fmt.Errorf("CV_DB_CONN_MAX_LIFETIME: %w", err)
	}

	cfg.DBConnectAttempts, err = getEnvInt("CV_DB_CONNECT_ATTEMPTS", 5)
	if err != nil {
		return fmt.Errorf("CV_DB_CONNECT_ATTEMPTS: %w", err)
	}
	if cfg.DBConnectAttempts < 1 {
		return fmt.Errorf("CV_DB_CONNECT_ATTEMPTS: должно быть >= 1, получено %d", cfg.DBConnectAttempts)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения (формат postgres://) для
// topologymetrics и golang-migrate.
func (c *Config) DatabaseURL(scheme string) string {
	return fmt.Sprintf(
		"%s://%s:%s@%s:%d/%s?sslmode=%s",
		scheme, c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 — как getEnvInt, для объёмов в байтах.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
