// Пакет memstore — реализация repository.Store в памяти процесса.
//
// Данные разбиты на шарды по арендаторам. Транзакция WithinTenant держит
// мьютекс шарда на всё время выполнения и ведёт журнал отката, поэтому
// при ошибке изменения не становятся видимыми, а разные арендаторы
// обрабатываются параллельно. Глобальный мьютекс защищает только
// карту шардов и индекс записей и никогда не удерживается во время
// захвата мьютекса шарда.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/cryptvault/internal/domain/model"
	"github.com/bigkaa/cryptvault/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// errOutOfScope — обращение к данным другого арендатора внутри транзакции.
var errOutOfScope = errors.New("обращение вне области транзакции арендатора")

// shard — данные одного арендатора.
type shard struct {
	mu      sync.RWMutex
	tenant  *model.Tenant
	records map[string]*model.FileRecord
}

// Store — хранилище в памяти.
type Store struct {
	mu     sync.RWMutex
	shards map[string]*shard
	index  map[string]string // id записи → id арендатора

	now func() time.Time
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		shards: make(map[string]*shard),
		index:  make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Tenants возвращает репозиторий арендаторов вне транзакции.
func (s *Store) Tenants() repository.TenantRepository { return &tenants{s: s} }

// Files возвращает репозиторий записей вне транзакции.
func (s *Store) Files() repository.FileRecordRepository { return &files{s: s} }

// WithinTenant выполняет fn под эксклюзивной блокировкой шарда арендатора.
// При ошибке fn журнал отката применяется в обратном порядке.
// Для незарегистрированного арендатора возвращает ErrTenantNotFound.
func (s *Store) WithinTenant(ctx context.Context, tenantID string, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Шард создаётся только регистрацией арендатора (Tenants().Create)
	sh := s.lookup(tenantID)
	if sh == nil {
		return repository.ErrTenantNotFound
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	t := &txn{s: s, sh: sh, tenantID: tenantID}
	if err := fn(repository.Tx{Tenants: &txTenants{t}, Files: &txFiles{t}}); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// shardFor возвращает шард арендатора, создавая пустой при отсутствии.
func (s *Store) shardFor(tenantID string) *shard {
	s.mu.RLock()
	sh, ok := s.shards[tenantID]
	s.mu.RUnlock()
	if ok {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[tenantID]; !ok {
		sh = &shard{records: make(map[string]*model.FileRecord)}
		s.shards[tenantID] = sh
	}
	return sh
}

// lookup возвращает шард арендатора или nil.
func (s *Store) lookup(tenantID string) *shard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shards[tenantID]
}

// shardOfRecord находит шард по id записи.
func (s *Store) shardOfRecord(id string) *shard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenantID, ok := s.index[id]
	if !ok {
		return nil
	}
	return s.shards[tenantID]
}

// snapshot возвращает список шардов без удержания глобального мьютекса.
func (s *Store) snapshot() []*shard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*shard, 0, len(s.shards))
	for _, sh := range s.shards {
		result = append(result, sh)
	}
	return result
}

func (s *Store) setIndex(id, tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenantID == "" {
		delete(s.index, id)
		return
	}
	s.index[id] = tenantID
}

func (s *Store) indexed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// --- Журнал отката ---

// undoLog — изменения, которые нужно отменить при откате. nil — вне транзакции.
type undoLog struct {
	steps []func()
}

func (l *undoLog) add(f func()) {
	if l != nil {
		l.steps = append(l.steps, f)
	}
}

// --- Операции над шардом (мьютекс шарда удерживается вызывающим) ---

func (sh *shard) replaceTenant(next *model.Tenant, log *undoLog) {
	prev := sh.tenant
	sh.tenant = next
	log.add(func() { sh.tenant = prev })
}

func (sh *shard) replaceRecord(id string, next *model.FileRecord, log *undoLog) {
	prev, had := sh.records[id]
	if next == nil {
		delete(sh.records, id)
	} else {
		sh.records[id] = next
	}
	log.add(func() {
		if had {
			sh.records[id] = prev
		} else {
			delete(sh.records, id)
		}
	})
}

func (sh *shard) createTenant(s *Store, t *model.Tenant, log *undoLog) error {
	if sh.tenant != nil {
		return fmt.Errorf("%w: арендатор %s уже зарегистрирован", repository.ErrConflict, t.ID)
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	c := *t
	sh.replaceTenant(&c, log)
	return nil
}

func (sh *shard) getTenant() (*model.Tenant, error) {
	if sh == nil || sh.tenant == nil {
		return nil, repository.ErrTenantNotFound
	}
	c := *sh.tenant
	return &c, nil
}

func (sh *shard) reserve(s *Store, delta int64, log *undoLog) error {
	if delta <= 0 {
		return fmt.Errorf("некорректный объём резервирования: %d", delta)
	}
	t := sh.tenant
	switch {
	case t == nil:
		return repository.ErrTenantNotFound
	case !t.Active:
		return repository.ErrTenantInactive
	case t.StorageUsed+delta > t.StorageLimit:
		return repository.ErrQuotaExceeded
	}
	next := *t
	next.StorageUsed += delta
	next.UpdatedAt = s.now()
	sh.replaceTenant(&next, log)
	return nil
}

func (sh *shard) release(s *Store, delta int64, log *undoLog) (bool, error) {
	if delta < 0 {
		return false, fmt.Errorf("некорректный объём освобождения: %d", delta)
	}
	t := sh.tenant
	if t == nil {
		return false, repository.ErrTenantNotFound
	}
	next := *t
	clamped := next.StorageUsed < delta
	next.StorageUsed = max(next.StorageUsed-delta, 0)
	next.UpdatedAt = s.now()
	sh.replaceTenant(&next, log)
	return clamped, nil
}

func (sh *shard) setLimit(s *Store, limit int64, log *undoLog) error {
	t := sh.tenant
	if t == nil {
		return repository.ErrTenantNotFound
	}
	if t.StorageUsed > limit {
		return repository.ErrLimitBelowUsage
	}
	next := *t
	next.StorageLimit = limit
	next.UpdatedAt = s.now()
	sh.replaceTenant(&next, log)
	return nil
}

func (sh *shard) setActive(s *Store, active bool, log *undoLog) error {
	t := sh.tenant
	if t == nil {
		return repository.ErrTenantNotFound
	}
	next := *t
	next.Active = active
	next.UpdatedAt = s.now()
	sh.replaceTenant(&next, log)
	return nil
}

func (sh *shard) createRecord(s *Store, rec *model.FileRecord, log *undoLog) error {
	if sh.tenant == nil {
		return repository.ErrTenantNotFound
	}
	if s.indexed(rec.ID) {
		return fmt.Errorf("%w: запись %s уже существует", repository.ErrConflict, rec.ID)
	}
	for _, other := range sh.records {
		if other.StorageHandle == rec.StorageHandle {
			return fmt.Errorf("%w: адрес %s уже занят", repository.ErrConflict, rec.StorageHandle)
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	sh.replaceRecord(rec.ID, cloneRecord(rec), log)
	s.setIndex(rec.ID, rec.TenantID)
	log.add(func() { s.setIndex(rec.ID, "") })
	return nil
}

func (sh *shard) getRecord(id string) (*model.FileRecord, error) {
	if sh == nil {
		return nil, repository.ErrNotFound
	}
	rec, ok := sh.records[id]
	if !ok || rec.State == model.StatePurged {
		return nil, repository.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (sh *shard) transition(s *Store, id string, expected, next model.FileState, at time.Time, log *undoLog) error {
	if err := model.ValidateTransition(expected, next); err != nil {
		return err
	}
	rec, ok := sh.records[id]
	if !ok || rec.State == model.StatePurged {
		return repository.ErrNotFound
	}
	if rec.State != expected {
		return repository.ErrStateMismatch
	}

	updated := cloneRecord(rec)
	updated.State = next
	switch next {
	case model.StateSoftDeleted:
		ts := at
		updated.DeletedAt = &ts
	case model.StateActive:
		updated.DeletedAt = nil
	}
	sh.replaceRecord(id, updated, log)
	return nil
}

func (sh *shard) removeRecord(s *Store, id string, log *undoLog) error {
	rec, ok := sh.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	sh.replaceRecord(id, nil, log)
	s.setIndex(id, "")
	log.add(func() { s.setIndex(id, rec.TenantID) })
	return nil
}

func (sh *shard) removeRecordIf(s *Store, id string, expected model.FileState, log *undoLog) error {
	rec, ok := sh.records[id]
	if !ok || rec.State == model.StatePurged {
		return repository.ErrNotFound
	}
	if rec.State != expected {
		return repository.ErrStateMismatch
	}
	return sh.removeRecord(s, id, log)
}

func (sh *shard) touch(id string, at time.Time, log *undoLog) error {
	rec, ok := sh.records[id]
	if !ok || rec.State == model.StatePurged {
		return repository.ErrNotFound
	}
	updated := cloneRecord(rec)
	ts := at
	updated.LastAccessedAt = &ts
	sh.replaceRecord(id, updated, log)
	return nil
}

func (sh *shard) list(filter repository.ListFilter) []*model.FileRecord {
	desc := filter.Order == repository.OrderDesc
	var result []*model.FileRecord
	for _, rec := range sh.records {
		if rec.State == model.StatePurged {
			continue
		}
		if filter.State != nil && rec.State != *filter.State {
			continue
		}
		if filter.After != nil {
			if desc && !lessByTime(rec.CreatedAt, rec.ID, filter.After.At, filter.After.ID) {
				continue
			}
			if !desc && !afterCursor(rec.CreatedAt, rec.ID, filter.After) {
				continue
			}
		}
		result = append(result, cloneRecord(rec))
	}
	sort.Slice(result, func(i, j int) bool {
		if desc {
			return lessByTime(result[j].CreatedAt, result[j].ID, result[i].CreatedAt, result[i].ID)
		}
		return lessByTime(result[i].CreatedAt, result[i].ID, result[j].CreatedAt, result[j].ID)
	})
	return truncate(result, filter.Limit)
}

func (sh *shard) expired(before time.Time, after *repository.Cursor) []*model.FileRecord {
	var result []*model.FileRecord
	for _, rec := range sh.records {
		if rec.State != model.StateSoftDeleted || rec.DeletedAt == nil || !rec.DeletedAt.Before(before) {
			continue
		}
		if after != nil && !afterCursor(*rec.DeletedAt, rec.ID, after) {
			continue
		}
		result = append(result, cloneRecord(rec))
	}
	return result
}

func (sh *shard) activeStats() repository.ActiveStats {
	var st repository.ActiveStats
	for _, rec := range sh.records {
		if rec.State != model.StateActive {
			continue
		}
		st.FileCount++
		if rec.SizeBytes > st.LargestFileSize ||
			(rec.SizeBytes == st.LargestFileSize && rec.ID < st.LargestFileID) {
			st.LargestFileSize = rec.SizeBytes
			st.LargestFileID = rec.ID
		}
	}
	return st
}

func (sh *shard) chargedBytes() int64 {
	var total int64
	for _, rec := range sh.records {
		if rec.State == model.StateActive || rec.State == model.StateSoftDeleted {
			total += rec.SizeBytes
		}
	}
	return total
}

// --- Вспомогательные функции ---

func cloneRecord(rec *model.FileRecord) *model.FileRecord {
	c := *rec
	if rec.DeletedAt != nil {
		t := *rec.DeletedAt
		c.DeletedAt = &t
	}
	if rec.LastAccessedAt != nil {
		t := *rec.LastAccessedAt
		c.LastAccessedAt = &t
	}
	if rec.Metadata != nil {
		c.Metadata = append([]byte(nil), rec.Metadata...)
	}
	return &c
}

// lessByTime — порядок (время, id), как у составного индекса PostgreSQL.
func lessByTime(at1 time.Time, id1 string, at2 time.Time, id2 string) bool {
	if !at1.Equal(at2) {
		return at1.Before(at2)
	}
	return id1 < id2
}

func afterCursor(at time.Time, id string, c *repository.Cursor) bool {
	return lessByTime(c.At, c.ID, at, id)
}

func truncate(recs []*model.FileRecord, limit int) []*model.FileRecord {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}
