// Пакет repository — слой доступа к данным: учёт квот арендаторов
// и хранилище записей файлов.
// Реализация для PostgreSQL — чистый SQL через pgx, без ORM.
// Реализация в памяти — пакет memstore.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/cryptvault/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrTenantNotFound — арендатор не зарегистрирован.
	ErrTenantNotFound = errors.New("арендатор не найден")
	// ErrTenantInactive — арендатор деактивирован.
	ErrTenantInactive = errors.New("арендатор деактивирован")
	// ErrQuotaExceeded — резервирование превысило бы квоту.
	ErrQuotaExceeded = errors.New("превышена квота хранилища")
	// ErrStateMismatch — текущее состояние записи не совпало с ожидаемым.
	ErrStateMismatch = errors.New("состояние записи не совпадает с ожидаемым")
	// ErrLimitBelowUsage — новая квота меньше уже занятого объёма.
	ErrLimitBelowUsage = errors.New("квота меньше занятого объёма")
)

// TenantRepository — учёт квот арендаторов.
type TenantRepository interface {
	// Create регистрирует арендатора.
	Create(ctx context.Context, t *model.Tenant) error
	// GetByID возвращает арендатора по идентификатору.
	GetByID(ctx context.Context, id string) (*model.Tenant, error)
	// Reserve атомарно увеличивает storage_used на delta, если квота позволяет.
	Reserve(ctx context.Context, id string, delta int64) error
	// Release уменьшает storage_used на delta с отсечением по нулю.
	// clamped = true, если отсечение сработало (нарушение учёта).
	Release(ctx context.Context, id string, delta int64) (clamped bool, err error)
	// SetLimit меняет квоту; не допускает квоту меньше storage_used.
	SetLimit(ctx context.Context, id string, limit int64) error
	// SetActive включает или выключает арендатора.
	SetActive(ctx context.Context, id string, active bool) error
}

// FileRecordRepository — хранилище записей файлов.
type FileRecordRepository interface {
	// Create сохраняет новую запись.
	Create(ctx context.Context, rec *model.FileRecord) error
	// GetByID возвращает запись. Записи в состоянии purged не видны.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// Exists сообщает, существует ли запись (включая purged).
	Exists(ctx context.Context, id string) (bool, error)
	// List возвращает страницу записей арендатора в порядке (created_at, id)
	// или в обратном при filter.Order == OrderDesc.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]*model.FileRecord, error)
	// Transition — compare-and-set состояния записи.
	Transition(ctx context.Context, id string, expected, next model.FileState, at time.Time) error
	// Remove удаляет запись.
	Remove(ctx context.Context, id string) error
	// RemoveIf удаляет запись, только если она в состоянии expected.
	RemoveIf(ctx context.Context, id string, expected model.FileState) error
	// Touch обновляет last_accessed_at.
	Touch(ctx context.Context, id string, at time.Time) error
	// ListExpired возвращает мягко удалённые записи с deleted_at < before
	// в порядке (deleted_at, id).
	ListExpired(ctx context.Context, before time.Time, after *Cursor, limit int) ([]*model.FileRecord, error)
	// ActiveStats возвращает агрегаты по активным записям арендатора.
	ActiveStats(ctx context.Context, tenantID string) (ActiveStats, error)
	// ChargedBytes возвращает сумму размеров active и soft_deleted записей.
	ChargedBytes(ctx context.Context, tenantID string) (int64, error)
}

// Cursor — граница страницы для keyset-пагинации.
// At — created_at для List и deleted_at для ListExpired.
type Cursor struct {
	At time.Time
	ID string
}

// SortOrder — направление сортировки списка записей.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ParseSortOrder разбирает направление сортировки. Пустая строка — OrderDesc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(s)) {
	case "", OrderDesc:
		return OrderDesc, nil
	case OrderAsc:
		return OrderAsc, nil
	}
	return "", fmt.Errorf("некорректное направление сортировки %q: ожидалось asc или desc", s)
}

// ListFilter — параметры выборки записей арендатора.
type ListFilter struct {
	// State — фильтр по состоянию (nil — active и soft_deleted)
	State *model.FileState
	// Limit — размер страницы
	Limit int
	// After — продолжить после этой границы в направлении Order
	After *Cursor
	// Order — направление (пусто — по возрастанию)
	Order SortOrder
}

// ActiveStats — агрегаты по активным записям.
type ActiveStats struct {
	FileCount       int64
	LargestFileID   string
	LargestFileSize int64
}

// Tx — репозитории, работающие внутри одной атомарной единицы.
type Tx struct {
	Tenants TenantRepository
	Files   FileRecordRepository
}

// Store — точка доступа к репозиториям.
type Store interface {
	// Tenants возвращает репозиторий арендаторов вне транзакции.
	Tenants() TenantRepository
	// Files возвращает репозиторий записей вне транзакции.
	Files() FileRecordRepository
	// WithinTenant выполняет fn как одну атомарную единицу.
	// При ошибке fn никакие изменения не становятся видимыми.
	WithinTenant(ctx context.Context, tenantID string, fn func(tx Tx) error) error
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Store = (*PgStore)(nil)

// PgStore — Store поверх пула PostgreSQL.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore создаёт Store для PostgreSQL.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Tenants возвращает репозиторий арендаторов поверх пула.
func (s *PgStore) Tenants() TenantRepository { return NewTenantRepository(s.pool) }

// Files возвращает репозиторий записей поверх пула.
func (s *PgStore) Files() FileRecordRepository { return NewFileRecordRepository(s.pool) }

// WithinTenant выполняет fn внутри транзакции.
// Конкуренция внутри арендатора разрешается условными UPDATE,
// поэтому tenantID для PostgreSQL не используется.
func (s *PgStore) WithinTenant(ctx context.Context, _ string, fn func(tx Tx) error) error {
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		return fn(Tx{
			Tenants: NewTenantRepository(tx),
			Files:   NewFileRecordRepository(tx),
		})
	})
}

// runInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (s *PgStore) runInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isForeignKeyViolation проверяет нарушение внешнего ключа.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
