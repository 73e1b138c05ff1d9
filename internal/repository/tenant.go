package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/cryptvault/internal/domain/model"
)

// tenantRepo — реализация TenantRepository для PostgreSQL.
type tenantRepo struct {
	db DBTX
}

// NewTenantRepository создаёт репозиторий арендаторов.
func NewTenantRepository(db DBTX) TenantRepository {
	return &tenantRepo{db: db}
}

func (r *tenantRepo) Create(ctx context.Context, t *model.Tenant) error {
	query := `
		INSERT INTO tenants (id, storage_used, storage_limit, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query, t.ID, t.StorageUsed, t.StorageLimit, t.Active).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: арендатор %s уже зарегистрирован", ErrConflict, t.ID)
		}
		return fmt.Errorf("ошибка создания арендатора: %w", err)
	}
	return nil
}

func (r *tenantRepo) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	query := `
		SELECT id, storage_used, storage_limit, is_active, created_at, updated_at
		FROM tenants
		WHERE id = $1`

	t := &model.Tenant{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.StorageUsed, &t.StorageLimit, &t.Active, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("ошибка получения арендатора: %w", err)
	}
	return t, nil
}

// Reserve — одно условное UPDATE: проверка квоты и приращение неделимы.
// Ноль затронутых строк классифицируется повторным чтением.
func (r *tenantRepo) Reserve(ctx context.Context, id string, delta int64) error {
	if delta <= 0 {
		return fmt.Errorf("некорректный объём резервирования: %d", delta)
	}

	query := `
		UPDATE tenants
		SET storage_used = storage_used + $2, updated_at = NOW()
		WHERE id = $1 AND is_active AND storage_used + $2 <= storage_limit`

	tag, err := r.db.Exec(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("ошибка резервирования квоты: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var active bool
	err = r.db.QueryRow(ctx, `SELECT is_active FROM tenants WHERE id = $1`, id).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTenantNotFound
		}
		return fmt.Errorf("ошибка классификации отказа резервирования: %w", err)
	}
	if !active {
		return ErrTenantInactive
	}
	return ErrQuotaExceeded
}

func (r *tenantRepo) Release(ctx context.Context, id string, delta int64) (bool, error) {
	if delta < 0 {
		return false, fmt.Errorf("некорректный объём освобождения: %d", delta)
	}

	query := `
		WITH prev AS (
			SELECT id, storage_used FROM tenants WHERE id = $1 FOR UPDATE
		)
		UPDATE tenants t
		SET storage_used = GREATEST(t.storage_used - $2, 0), updated_at = NOW()
		FROM prev
		WHERE t.id = prev.id
		RETURNING prev.storage_used`

	var before int64
	if err := r.db.QueryRow(ctx, query, id, delta).Scan(&before); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrTenantNotFound
		}
		return false, fmt.Errorf("ошибка освобождения квоты: %w", err)
	}
	return before < delta, nil
}

func (r *tenantRepo) SetLimit(ctx context.Context, id string, limit int64) error {
	query := `
		UPDATE tenants
		SET storage_limit = $2, updated_at = NOW()
		WHERE id = $1 AND storage_used <= $2`

	tag, err := r.db.Exec(ctx, query, id, limit)
	if err != nil {
		return fmt.Errorf("ошибка изменения квоты: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrLimitBelowUsage
}

func (r *tenantRepo) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE tenants SET is_active = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("ошибка изменения статуса арендатора: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}
