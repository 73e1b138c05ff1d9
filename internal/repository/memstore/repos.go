package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/bigkaa/cryptvault/internal/domain/model"
	"github.com/bigkaa/cryptvault/internal/repository"
)

// --- Вне транзакции: каждая операция атомарна сама по себе ---

type tenants struct{ s *Store }

func (r *tenants) Create(_ context.Context, t *model.Tenant) error {
	sh := r.s.shardFor(t.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.createTenant(r.s, t, nil)
}

func (r *tenants) GetByID(_ context.Context, id string) (*model.Tenant, error) {
	sh := r.s.lookup(id)
	if sh == nil {
		return nil, repository.ErrTenantNotFound
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.getTenant()
}

func (r *tenants) Reserve(_ context.Context, id string, delta int64) error {
	sh := r.s.lookup(id)
	if sh == nil {
		return repository.ErrTenantNotFound
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.reserve(r.s, delta, nil)
}

func (r *tenants) Release(_ context.Context, id string, delta int64) (bool, error) {
	sh := r.s.lookup(id)
	if sh == nil {
		return false, repository.ErrTenantNotFound
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.release(r.s, delta, nil)
}

func (r *tenants) SetLimit(_ context.Context, id string, limit int64) error {
	sh := r.s.lookup(id)
	if sh == nil {
		return repository.ErrTenantNotFound
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.setLimit(r.s, limit, nil)
}

func (r *tenants) SetActive(_ context.Context, id string, active bool) error {
	sh := r.s.lookup(id)
	if sh == nil {
		return repository.ErrTenantNotFound
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.setActive(r.s, active, nil)
}

type files struct{ s *Store }

func (r *files) Create(_ context.Context, rec *model.FileRecord) error {
	sh := r.s.lookup(rec.TenantID)
	if sh == nil {
		return repository.ErrTenantNotFound
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.createRecord(r.s, rec, nil)
}

func (r *files) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	sh := r.s.shardOfRecord(id)
	if sh == nil {
		return nil, repository.ErrNotFound
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.getRecord(id)
}

func (r *files) Exists(_ context.Context, id string) (bool, error) {
	return r.s.indexed(id), nil
}

func (r *files) List(_ context.Context, tenantID string, filter repository.ListFilter) ([]*model.FileRecord, error) {
	sh := r.s.lookup(tenantID)
	if sh == nil {
		return nil, nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.list(filter), nil
}

func (r *files) Transition(_ context.Context, id string, expected, next model.FileState, at time.Time) error {
	sh := r.s.shardOfRecord(id)
	if sh == nil {
		return repository.ErrNotFound
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.transition(r.s, id, expected, next, at, nil)
}

func (r *files) Remove(_ context.Context, id string) error {
	sh := r.s.shardOfRecord(id)
	if sh == nil {
		return repository.ErrNotFound
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.removeRecord(r.s, id, nil)
}

func (r *files) RemoveIf(_ context.Context, id string, expected model.FileState) error {
	sh := r.s.shardOfRecord(id)
	if sh == nil {
		return repository.ErrNotFound
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.removeRecordIf(r.s, id, expected, nil)
}

func (r *files) Touch(_ context.Context, id string, at time.Time) error {
	sh := r.s.shardOfRecord(id)
	if sh == nil {
		return repository.ErrNotFound
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.touch(id, at, nil)
}

func (r *files) ListExpired(_ context.Context, before time.Time, after *repository.Cursor, limit int) ([]*model.FileRecord, error) {
	var result []*model.FileRecord
	for _, sh := range r.s.snapshot() {
		sh.mu.RLock()
		result = append(result, sh.expired(before, after)...)
		sh.mu.RUnlock()
	}
	sortExpired(result)
	return truncate(result, limit), nil
}

func (r *files) ActiveStats(_ context.Context, tenantID string) (repository.ActiveStats, error) {
	sh := r.s.lookup(tenantID)
	if sh == nil {
		return repository.ActiveStats{}, nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.activeStats(), nil
}

func (r *files) ChargedBytes(_ context.Context, tenantID string) (int64, error) {
	sh := r.s.lookup(tenantID)
	if sh == nil {
		return 0, nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.chargedBytes(), nil
}

// --- Внутри транзакции: мьютекс шарда уже захвачен ---

type txn struct {
	s        *Store
	sh       *shard
	tenantID string
	log      undoLog
}

func (t *txn) rollback() {
	for i := len(t.log.steps) - 1; i >= 0; i-- {
		t.log.steps[i]()
	}
	t.log.steps = nil
}

type txTenants struct{ t *txn }

func (r *txTenants) scope(id string) error {
	if id != r.t.tenantID {
		return errOutOfScope
	}
	return nil
}

func (r *txTenants) Create(_ context.Context, tn *model.Tenant) error {
	if err := r.scope(tn.ID); err != nil {
		return err
	}
	return r.t.sh.createTenant(r.t.s, tn, &r.t.log)
}

func (r *txTenants) GetByID(_ context.Context, id string) (*model.Tenant, error) {
	if err := r.scope(id); err != nil {
		return nil, err
	}
	return r.t.sh.getTenant()
}

func (r *txTenants) Reserve(_ context.Context, id string, delta int64) error {
	if err := r.scope(id); err != nil {
		return err
	}
	return r.t.sh.reserve(r.t.s, delta, &r.t.log)
}

func (r *txTenants) Release(_ context.Context, id string, delta int64) (bool, error) {
	if err := r.scope(id); err != nil {
		return false, err
	}
	return r.t.sh.release(r.t.s, delta, &r.t.log)
}

func (r *txTenants) SetLimit(_ context.Context, id string, limit int64) error {
	if err := r.scope(id); err != nil {
		return err
	}
	return r.t.sh.setLimit(r.t.s, limit, &r.t.log)
}

func (r *txTenants) SetActive(_ context.Context, id string, active bool) error {
	if err := r.scope(id); err != nil {
		return err
	}
	return r.t.sh.setActive(r.t.s, active, &r.t.log)
}

// txFiles видит только записи арендатора транзакции.
type txFiles struct{ t *txn }

func (r *txFiles) Create(_ context.Context, rec *model.FileRecord) error {
	if rec.TenantID != r.t.tenantID {
		return errOutOfScope
	}
	return r.t.sh.createRecord(r.t.s, rec, &r.t.log)
}

func (r *txFiles) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	return r.t.sh.getRecord(id)
}

func (r *txFiles) Exists(_ context.Context, id string) (bool, error) {
	_, ok := r.t.sh.records[id]
	return ok, nil
}

func (r *txFiles) List(_ context.Context, tenantID string, filter repository.ListFilter) ([]*model.FileRecord, error) {
	if tenantID != r.t.tenantID {
		return nil, errOutOfScope
	}
	return r.t.sh.list(filter), nil
}

func (r *txFiles) Transition(_ context.Context, id string, expected, next model.FileState, at time.Time) error {
	return r.t.sh.transition(r.t.s, id, expected, next, at, &r.t.log)
}

func (r *txFiles) Remove(_ context.Context, id string) error {
	return r.t.sh.removeRecord(r.t.s, id, &r.t.log)
}

func (r *txFiles) RemoveIf(_ context.Context, id string, expected model.FileState) error {
	return r.t.sh.removeRecordIf(r.t.s, id, expected, &r.t.log)
}

func (r *txFiles) Touch(_ context.Context, id string, at time.Time) error {
	return r.t.sh.touch(id, at, &r.t.log)
}

func (r *txFiles) ListExpired(_ context.Context, before time.Time, after *repository.Cursor, limit int) ([]*model.FileRecord, error) {
	result := r.t.sh.expired(before, after)
	sortExpired(result)
	return truncate(result, limit), nil
}

func (r *txFiles) ActiveStats(_ context.Context, tenantID string) (repository.ActiveStats, error) {
	if tenantID != r.t.tenantID {
		return repository.ActiveStats{}, errOutOfScope
	}
	return r.t.sh.activeStats(), nil
}

func (r *txFiles) ChargedBytes(_ context.Context, tenantID string) (int64, error) {
	if tenantID != r.t.tenantID {
		return 0, errOutOfScope
	}
	return r.t.sh.chargedBytes(), nil
}

func sortExpired(recs []*model.FileRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return lessByTime(*recs[i].DeletedAt, recs[i].ID, *recs[j].DeletedAt, recs[j].ID)
	})
}
