package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/cryptvault/internal/domain/model"
)

// fileColumns — список колонок для SELECT-запросов.
const fileColumns = `id, tenant_id, size_bytes, state, created_at, deleted_at,
	last_accessed_at, storage_handle, metadata, checksum`

// fileRecordRepo — реализация FileRecordRepository для PostgreSQL.
type fileRecordRepo struct {
	db DBTX
}

// NewFileRecordRepository создаёт репозиторий записей файлов.
func NewFileRecordRepository(db DBTX) FileRecordRepository {
	return &fileRecordRepo{db: db}
}

func (r *fileRecordRepo) Create(ctx context.Context, rec *model.FileRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO file_records (id, tenant_id, size_bytes, state, created_at,
			storage_handle, metadata, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.TenantID, rec.SizeBytes, string(rec.State), rec.CreatedAt,
		rec.StorageHandle, rec.Metadata, rec.Checksum,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись %s уже существует", ErrConflict, rec.ID)
		}
		if isForeignKeyViolation(err) {
			return ErrTenantNotFound
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

func (r *fileRecordRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM file_records WHERE id = $1 AND state <> 'purged'`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи файла: %w", err)
	}
	return rec, nil
}

func (r *fileRecordRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM file_records WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки записи файла: %w", err)
	}
	return exists, nil
}

func (r *fileRecordRepo) List(ctx context.Context, tenantID string, filter ListFilter) ([]*model.FileRecord, error) {
	conditions := []string{"tenant_id = $1", "state <> 'purged'"}
	args := []any{tenantID}
	argIdx := 2

	if filter.State != nil {
		conditions = append(conditions, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, string(*filter.State))
		argIdx++
	}
	cmp, order := ">", "created_at, id"
	if filter.Order == OrderDesc {
		cmp, order = "<", "created_at DESC, id DESC"
	}
	if filter.After != nil {
		conditions = append(conditions, fmt.Sprintf("(created_at, id) %s ($%d, $%d::uuid)", cmp, argIdx, argIdx+1))
		args = append(args, filter.After.At, filter.After.ID)
		argIdx += 2
	}

	query := fmt.Sprintf(`SELECT %s FROM file_records WHERE %s ORDER BY %s`,
		fileColumns, strings.Join(conditions, " AND "), order)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	return r.queryRecords(ctx, query, args...)
}

// Transition — compare-and-set: UPDATE затрагивает строку только если
// текущее состояние совпадает с ожидаемым. Ровно один из конкурирующих
// вызовов побеждает.
func (r *fileRecordRepo) Transition(ctx context.Context, id string, expected, next model.FileState, at time.Time) error {
	if err := model.ValidateTransition(expected, next); err != nil {
		return err
	}

	query := `
		UPDATE file_records
		SET state = $3::text,
			deleted_at = CASE
				WHEN $3::text = 'soft_deleted' THEN $4::timestamptz
				WHEN $3::text = 'active' THEN NULL
				ELSE deleted_at
			END
		WHERE id = $1 AND state = $2::text`

	tag, err := r.db.Exec(ctx, query, id, string(expected), string(next), at)
	if err != nil {
		return fmt.Errorf("ошибка перехода состояния записи: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	return r.classifyMiss(ctx, id)
}

// classifyMiss различает отсутствие записи и несовпадение состояния
// после условного запроса, не затронувшего строк.
func (r *fileRecordRepo) classifyMiss(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM file_records WHERE id = $1 AND state <> 'purged')`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("ошибка классификации отказа: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStateMismatch
}

func (r *fileRecordRepo) Remove(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM file_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRecordRepo) RemoveIf(ctx context.Context, id string, expected model.FileState) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM file_records WHERE id = $1 AND state = $2`, id, string(expected))
	if err != nil {
		return fmt.Errorf("ошибка удаления записи файла: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.classifyMiss(ctx, id)
}

func (r *fileRecordRepo) Touch(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE file_records SET last_accessed_at = $2 WHERE id = $1 AND state <> 'purged'`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка обновления времени доступа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRecordRepo) ListExpired(ctx context.Context, before time.Time, after *Cursor, limit int) ([]*model.FileRecord, error) {
	if after == nil {
		query := `SELECT ` + fileColumns + `
			FROM file_records
			WHERE state = 'soft_deleted' AND deleted_at < $1
			ORDER BY deleted_at, id
			LIMIT $2`
		return r.queryRecords(ctx, query, before, limit)
	}

	query := `SELECT ` + fileColumns + `
		FROM file_records
		WHERE state = 'soft_deleted' AND deleted_at < $1
			AND (deleted_at, id) > ($2, $3::uuid)
		ORDER BY deleted_at, id
		LIMIT $4`
	return r.queryRecords(ctx, query, before, after.At, after.ID, limit)
}

func (r *fileRecordRepo) ActiveStats(ctx context.Context, tenantID string) (ActiveStats, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(MAX(size_bytes), 0),
			COALESCE((
				SELECT id::text FROM file_records
				WHERE tenant_id = $1 AND state = 'active'
				ORDER BY size_bytes DESC, id
				LIMIT 1
			), '')
		FROM file_records
		WHERE tenant_id = $1 AND state = 'active'`

	var s ActiveStats
	if err := r.db.QueryRow(ctx, query, tenantID).Scan(&s.FileCount, &s.LargestFileSize, &s.LargestFileID); err != nil {
		return ActiveStats{}, fmt.Errorf("ошибка подсчёта статистики: %w", err)
	}
	return s, nil
}

func (r *fileRecordRepo) ChargedBytes(ctx context.Context, tenantID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(size_bytes), 0)
		FROM file_records
		WHERE tenant_id = $1 AND state IN ('active', 'soft_deleted')`

	var total int64
	if err := r.db.QueryRow(ctx, query, tenantID).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта занятого объёма: %w", err)
	}
	return total, nil
}

// queryRecords выполняет запрос и сканирует все строки.
func (r *fileRecordRepo) queryRecords(ctx context.Context, query string, args ...any) ([]*model.FileRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения записи файла: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// scanRecord сканирует одну строку в FileRecord.
func scanRecord(row pgx.Row) (*model.FileRecord, error) {
	rec := &model.FileRecord{}
	var state string
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.SizeBytes, &state, &rec.CreatedAt, &rec.DeletedAt,
		&rec.LastAccessedAt, &rec.StorageHandle, &rec.Metadata, &rec.Checksum,
	)
	if err != nil {
		return nil, err
	}
	rec.State = model.FileState(state)
	return rec, nil
}
