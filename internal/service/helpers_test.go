package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/cryptvault/internal/domain/authz"
	"github.com/bigkaa/cryptvault/internal/domain/model"
	"github.com/bigkaa/cryptvault/internal/ratelimit"
	"github.com/bigkaa/cryptvault/internal/repository"
	"github.com/bigkaa/cryptvault/internal/repository/memstore"
	"github.com/bigkaa/cryptvault/internal/storage/objectstore"
)

// errStoreDown — имитация недоступности хранилища объектов.
var errStoreDown = errors.New("хранилище объектов недоступно")

// flakyObjects — FileStore с управляемыми сбоями записи и удаления.
type flakyObjects struct {
	*objectstore.FileStore

	mu             sync.Mutex
	putErr         error
	deleteFailures int
	deletes        int
}

func (f *flakyObjects) Put(ctx context.Context, tenantID, handle string, r io.Reader, size int64) (*objectstore.PutResult, error) {
	f.mu.Lock()
	err := f.putErr
	f.mu.Unlock()
	if err != nil {
		_, _ = io.Copy(io.Discard, r)
		return nil, err
	}
	return f.FileStore.Put(ctx, tenantID, handle, r, size)
}

func (f *flakyObjects) Delete(ctx context.Context, tenantID, handle string) error {
	f.mu.Lock()
	f.deletes++
	if f.deleteFailures > 0 {
		f.deleteFailures--
		f.mu.Unlock()
		return errStoreDown
	}
	f.mu.Unlock()
	return f.FileStore.Delete(ctx, tenantID, handle)
}

func (f *flakyObjects) failPuts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr = err
}

func (f *flakyObjects) failDeletes(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteFailures = n
}

// hookingStore — Store, выполняющий одноразовые действия до и после
// очередной атомарной единицы. Позволяет воспроизвести гонки детерминированно.
type hookingStore struct {
	repository.Store

	mu     sync.Mutex
	before func()
	after  func()
}

func (h *hookingStore) WithinTenant(ctx context.Context, tenantID string, fn func(tx repository.Tx) error) error {
	if f := h.take(&h.before); f != nil {
		f()
	}
	err := h.Store.WithinTenant(ctx, tenantID, fn)
	if f := h.take(&h.after); f != nil {
		f()
	}
	return err
}

func (h *hookingStore) take(slot *func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	f := *slot
	*slot = nil
	return f
}

func (h *hookingStore) beforeNext(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before = f
}

func (h *hookingStore) afterNext(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.after = f
}

// testClock — управляемые часы.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv — движок жизненного цикла поверх хранилища в памяти.
type testEnv struct {
	svc     *LifecycleService
	store   *memstore.Store
	objects *flakyObjects
	orphans *OrphanJournal
	clock   *testClock
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLimiter(t, ratelimit.Unlimited{})
}

func newTestEnvWithLimiter(t *testing.T, limiter ratelimit.Limiter) *testEnv {
	t.Helper()

	fs, err := objectstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}

	logger := testLogger()
	env := &testEnv{
		store:   memstore.New(),
		objects: &flakyObjects{FileStore: fs},
		orphans: NewOrphanJournal(100),
		clock:   &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	env.svc = NewLifecycleService(
		env.store,
		env.objects,
		authz.NewGuard(logger),
		limiter,
		NewStatsCache(16, time.Minute),
		env.orphans,
		LifecycleConfig{
			DefaultStorageLimit: 1000,
			MaxFileSize:         10_000,
			BlobDeleteAttempts:  3,
			BlobRetryInitial:    time.Millisecond,
		},
		logger,
	)
	env.svc.now = env.clock.Now
	return env
}

// hookStore подменяет хранилище движка обёрткой с перехватом транзакций.
func (e *testEnv) hookStore() *hookingStore {
	hs := &hookingStore{Store: e.store}
	e.svc.store = hs
	return hs
}

// addTenant регистрирует активного арендатора с заданной квотой.
func (e *testEnv) addTenant(t *testing.T, id string, limit int64) {
	t.Helper()
	err := e.store.Tenants().Create(context.Background(), &model.Tenant{
		ID:           id,
		StorageLimit: limit,
		Active:       true,
		CreatedAt:    e.clock.Now(),
		UpdatedAt:    e.clock.Now(),
	})
	if err != nil {
		t.Fatalf("Ошибка создания арендатора %s: %v", id, err)
	}
}

// used возвращает текущий storage_used арендатора.
func (e *testEnv) used(t *testing.T, id string) int64 {
	t.Helper()
	tn, err := e.store.Tenants().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("Ошибка чтения арендатора %s: %v", id, err)
	}
	return tn.StorageUsed
}

// upload регистрирует файл без записи объекта.
func (e *testEnv) upload(t *testing.T, tenantID string, size int64) *model.FileRecord {
	t.Helper()
	rec, err := e.svc.Upload(context.Background(), authz.User(tenantID), UploadParams{
		TenantID:  tenantID,
		SizeBytes: size,
	})
	if err != nil {
		t.Fatalf("Upload(%s, %d): %v", tenantID, size, err)
	}
	return rec
}

// uploadObject загружает файл вместе с объектом.
func (e *testEnv) uploadObject(t *testing.T, tenantID string, data []byte) *model.FileRecord {
	t.Helper()
	rec, err := e.svc.UploadObject(context.Background(), authz.User(tenantID), UploadParams{
		TenantID:  tenantID,
		SizeBytes: int64(len(data)),
		Checksum:  sha256Hex(data),
	}, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("UploadObject(%s): %v", tenantID, err)
	}
	return rec
}

// blobExists проверяет наличие объекта в хранилище.
func (e *testEnv) blobExists(t *testing.T, rec *model.FileRecord) bool {
	t.Helper()
	rc, err := e.objects.Open(context.Background(), rec.TenantID, rec.StorageHandle)
	if errors.Is(err, objectstore.ErrNotFound) {
		return false
	}
	if err != nil {
		t.Fatalf("Ошибка открытия объекта: %v", err)
	}
	rc.Close()
	return true
}

// auditConsistent проверяет совпадение учёта с суммой записей.
func (e *testEnv) auditConsistent(t *testing.T, tenantID string) {
	t.Helper()
	report, err := e.svc.AuditAccounting(context.Background(), authz.System(), tenantID)
	if err != nil {
		t.Fatalf("AuditAccounting(%s): %v", tenantID, err)
	}
	if !report.Consistent() {
		t.Errorf("учёт %s расходится: used=%d, charged=%d", tenantID, report.StorageUsed, report.ChargedBytes)
	}
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
