// lifecycle.go — движок жизненного цикла файлов.
//
// Каждая операция сначала проходит проверку изоляции, затем выполняется
// одной атомарной единицей над учётом квот и хранилищем записей.
// Передача самих объектов в хранилище происходит вне транзакции.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/cryptvault/internal/domain/authz"
	"github.com/bigkaa/cryptvault/internal/domain/model"
	"github.com/bigkaa/cryptvault/internal/ratelimit"
	"github.com/bigkaa/cryptvault/internal/repository"
	"github.com/bigkaa/cryptvault/internal/storage/objectstore"
)

// Prometheus метрики жизненного цикла
var (
	lifecycleOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cv_lifecycle_operations_total",
		Help: "Общее количество операций жизненного цикла по результату",
	}, []string{"operation", "result"})

	ledgerClampsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_ledger_release_clamped_total",
		Help: "Количество освобождений квоты, отсечённых по нулю",
	})

	blobDeleteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_blob_delete_failures_total",
		Help: "Количество неудачных удалений объектов после окончательного удаления записи",
	})
)

// Границы страницы списка файлов.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// LifecycleConfig — параметры движка.
type LifecycleConfig struct {
	// DefaultStorageLimit — квота нового арендатора
	DefaultStorageLimit int64
	// MaxFileSize — максимальный размер файла (0 — без ограничения)
	MaxFileSize int64
	// BlobDeleteAttempts — попыток удаления объекта после фиксации
	BlobDeleteAttempts int
	// BlobRetryInitial — начальная пауза между попытками
	BlobRetryInitial time.Duration
}

// UploadParams — параметры регистрации загружаемого файла.
type UploadParams struct {
	TenantID string
	// RecordID — UUID записи; пусто — генерируется
	RecordID  string
	SizeBytes int64
	// StorageHandle — адрес объекта; пусто — {tenant_id}/{record_id}.enc
	StorageHandle string
	Metadata      []byte
	// Checksum — заявленная клиентом SHA-256 шифротекста (опционально)
	Checksum string
}

// StorageStats — статистика хранилища арендатора.
// FileCount и наибольший файл считаются только по активным записям,
// Used включает файлы в корзине.
type StorageStats struct {
	TenantID        string
	Used            int64
	Limit           int64
	Available       int64
	Percentage      float64
	FileCount       int64
	LargestFileID   string
	LargestFileSize int64
}

// PurgeResult — итог окончательного удаления.
type PurgeResult struct {
	RecordID  string
	TenantID  string
	SizeBytes int64
	// BlobDeleted — объект удалён из хранилища
	BlobDeleted bool
	// BlobError — ошибка удаления объекта (объект записан в журнал)
	BlobError error
}

// ListOptions — параметры выборки списка файлов.
type ListOptions struct {
	// State — nil: активные и файлы в корзине
	State *model.FileState
	// Limit — 0: DefaultPageSize
	Limit int
	After *repository.Cursor
	// Order — пусто: сначала новые
	Order repository.SortOrder
}

// FilePage — страница списка файлов.
type FilePage struct {
	Items []*model.FileRecord
	// Next — курсор следующей страницы; nil, если страница последняя
	Next *repository.Cursor
}

// LifecycleService — операции жизненного цикла файлов и учёта квот.
type LifecycleService struct {
	store         repository.Store
	objects       objectstore.Store
	guard         *authz.Guard
	uploadLimiter ratelimit.Limiter
	stats         *StatsCache
	orphans       *OrphanJournal
	cfg           LifecycleConfig
	logger        *slog.Logger
	now           func() time.Time
}

// NewLifecycleService создаёт движок жизненного цикла.
func NewLifecycleService(
	store repository.Store,
	objects objectstore.Store,
	guard *authz.Guard,
	uploadLimiter ratelimit.Limiter,
	stats *StatsCache,
	orphans *OrphanJournal,
	cfg LifecycleConfig,
	logger *slog.Logger,
) *LifecycleService {
	if uploadLimiter == nil {
		uploadLimiter = ratelimit.Unlimited{}
	}
	if cfg.BlobDeleteAttempts < 1 {
		cfg.BlobDeleteAttempts = 1
	}
	if cfg.BlobRetryInitial <= 0 {
		cfg.BlobRetryInitial = 200 * time.Millisecond
	}
	return &LifecycleService{
		store:         store,
		objects:       objects,
		guard:         guard,
		uploadLimiter: uploadLimiter,
		stats:         stats,
		orphans:       orphans,
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "lifecycle")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Orphans возвращает журнал осиротевших объектов.
func (s *LifecycleService) Orphans() *OrphanJournal {
	return s.orphans
}

// --- Загрузка ---

// Upload резервирует квоту и создаёт активную запись одной атомарной единицей.
// Объект в хранилище записывает вызывающий; при сбое записи он обязан
// вызвать AbortUpload.
func (s *LifecycleService) Upload(ctx context.Context, p authz.Principal, params UploadParams) (*model.FileRecord, error) {
	rec, err := s.upload(ctx, p, params)
	observe("upload", err)
	return rec, err
}

func (s *LifecycleService) upload(ctx context.Context, p authz.Principal, params UploadParams) (*model.FileRecord, error) {
	if err := s.guard.AuthorizeTenant(p, authz.OpUpload, params.TenantID); err != nil {
		return nil, err
	}

	if params.SizeBytes <= 0 {
		return nil, fmt.Errorf("%w: размер файла должен быть положительным", ErrValidation)
	}
	if s.cfg.MaxFileSize > 0 && params.SizeBytes > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d байт при максимуме %d", ErrFileTooLarge, params.SizeBytes, s.cfg.MaxFileSize)
	}
	if params.RecordID == "" {
		params.RecordID = uuid.NewString()
	} else if _, err := uuid.Parse(params.RecordID); err != nil {
		return nil, fmt.Errorf("%w: некорректный идентификатор записи %q", ErrValidation, params.RecordID)
	}
	if params.StorageHandle == "" {
		params.StorageHandle = model.StorageHandleFor(params.TenantID, params.RecordID)
	}
	if err := s.guard.AuthorizeHandle(p, authz.OpUpload, params.TenantID, params.StorageHandle); err != nil {
		return nil, err
	}
	if err := s.allowUpload(ctx, p, params.TenantID); err != nil {
		return nil, err
	}

	rec := &model.FileRecord{
		ID:            params.RecordID,
		TenantID:      params.TenantID,
		SizeBytes:     params.SizeBytes,
		State:         model.StateActive,
		CreatedAt:     s.now(),
		StorageHandle: params.StorageHandle,
		Metadata:      params.Metadata,
		Checksum:      strings.ToLower(params.Checksum),
	}

	err := s.store.WithinTenant(ctx, params.TenantID, func(tx repository.Tx) error {
		if err := tx.Tenants.Reserve(ctx, params.TenantID, params.SizeBytes); err != nil {
			return err
		}
		return tx.Files.Create(ctx, rec)
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			s.logger.Info("Загрузка отклонена: превышена квота",
				slog.String("tenant_id", params.TenantID),
				slog.Int64("size", params.SizeBytes),
			)
		}
		return nil, err
	}

	s.stats.Invalidate(params.TenantID)
	s.logger.Info("Файл зарегистрирован",
		slog.String("tenant_id", rec.TenantID),
		slog.String("record_id", rec.ID),
		slog.Int64("size", rec.SizeBytes),
	)
	return rec, nil
}

// UploadObject регистрирует файл и записывает шифротекст в хранилище.
// При сбое записи регистрация компенсируется через AbortUpload.
func (s *LifecycleService) UploadObject(ctx context.Context, p authz.Principal, params UploadParams, body io.Reader) (*model.FileRecord, error) {
	rec, err := s.Upload(ctx, p, params)
	if err != nil {
		return nil, err
	}

	put, err := s.objects.Put(ctx, rec.TenantID, rec.StorageHandle, body, rec.SizeBytes)
	if err == nil && rec.Checksum != "" && put.Checksum != rec.Checksum {
		err = fmt.Errorf("%w: заявлено %s, вычислено %s", ErrChecksumMismatch, rec.Checksum, put.Checksum)
	}
	if err != nil {
		// Клиент мог отключиться: компенсация выполняется без его контекста
		if abortErr := s.AbortUpload(context.WithoutCancel(ctx), p, rec.ID); abortErr != nil {
			s.logger.Error("Не удалось отменить загрузку после сбоя записи",
				slog.String("record_id", rec.ID),
				slog.String("error", abortErr.Error()),
			)
		}
		if errors.Is(err, ErrChecksumMismatch) || errors.Is(err, objectstore.ErrSizeMismatch) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrObjectStore, err)
	}

	if rec.Checksum == "" {
		rec.Checksum = put.Checksum
	}
	return rec, nil
}

// AbortUpload — компенсирующее действие для загрузки, объект которой
// не удалось записать: удаляет активную запись и освобождает квоту
// одной атомарной единицей, затем удаляет объект, если он успел появиться.
func (s *LifecycleService) AbortUpload(ctx context.Context, p authz.Principal, recordID string) error {
	err := s.abortUpload(ctx, p, recordID)
	observe("abort_upload", err)
	return err
}

func (s *LifecycleService) abortUpload(ctx context.Context, p authz.Principal, recordID string) error {
	rec, err := s.authorizedRecord(ctx, p, authz.OpAbortUpload, recordID)
	if err != nil {
		return err
	}

	err = s.store.WithinTenant(ctx, rec.TenantID, func(tx repository.Tx) error {
		if err := tx.Files.RemoveIf(ctx, rec.ID, model.StateActive); err != nil {
			return err
		}
		return s.release(ctx, tx, rec)
	})
	if err != nil {
		return err
	}
	s.stats.Invalidate(rec.TenantID)

	_ = s.deleteBlob(ctx, rec)

	s.logger.Info("Загрузка отменена",
		slog.String("tenant_id", rec.TenantID),
		slog.String("record_id", rec.ID),
		slog.Int64("size", rec.SizeBytes),
	)
	return nil
}

// --- Переходы состояний ---

// SoftDelete перемещает файл в корзину. Квота не освобождается.
func (s *LifecycleService) SoftDelete(ctx context.Context, p authz.Principal, recordID string) (*model.FileRecord, error) {
	rec, err := s.softDelete(ctx, p, recordID)
	observe("soft_delete", err)
	return rec, err
}

func (s *LifecycleService) softDelete(ctx context.Context, p authz.Principal, recordID string) (*model.FileRecord, error) {
	rec, err := s.authorizedRecord(ctx, p, authz.OpSoftDelete, recordID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.store.WithinTenant(ctx, rec.TenantID, func(tx repository.Tx) error {
		if err := s.ensureActive(ctx, tx, p, rec.TenantID); err != nil {
			return err
		}
		return tx.Files.Transition(ctx, rec.ID, model.StateActive, model.StateSoftDeleted, now)
	})
	if err != nil {
		s.logRace("soft_delete", rec, err)
		return nil, err
	}

	rec.State = model.StateSoftDeleted
	rec.DeletedAt = &now
	s.stats.Invalidate(rec.TenantID)

	s.logger.Info("Файл перемещён в корзину",
		slog.String("tenant_id", rec.TenantID),
		slog.String("record_id", rec.ID),
	)
	return rec, nil
}

// Restore возвращает файл из корзины. Для файла вне корзины — ErrNotDeleted.
func (s *LifecycleService) Restore(ctx context.Context, p authz.Principal, recordID string) (*model.FileRecord, error) {
	rec, err := s.restore(ctx, p, recordID)
	observe("restore", err)
	return rec, err
}

func (s *LifecycleService) restore(ctx context.Context, p authz.Principal, recordID string) (*model.FileRecord, error) {
	rec, err := s.authorizedRecord(ctx, p, authz.OpRestore, recordID)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTenant(ctx, rec.TenantID, func(tx repository.Tx) error {
		if err := s.ensureActive(ctx, tx, p, rec.TenantID); err != nil {
			return err
		}
		return tx.Files.Transition(ctx, rec.ID, model.StateSoftDeleted, model.StateActive, s.now())
	})
	if err != nil {
		s.logRace("restore", rec, err)
		if errors.Is(err, ErrStateMismatch) {
			return nil, ErrNotDeleted
		}
		return nil, err
	}

	rec.State = model.StateActive
	rec.DeletedAt = nil
	s.stats.Invalidate(rec.TenantID)

	s.logger.Info("Файл восстановлен из корзины",
		slog.String("tenant_id", rec.TenantID),
		slog.String("record_id", rec.ID),
	)
	return rec, nil
}

// PermanentDelete окончательно удаляет файл из корзины: переход в purged,
// освобождение квоты и удаление записи фиксируются вместе. Объект
// удаляется после фиксации; его сбой не откатывает операцию и
// отражается в PurgeResult.
func (s *LifecycleService) PermanentDelete(ctx context.Context, p authz.Principal, recordID string) (*PurgeResult, error) {
	res, err := s.permanentDelete(ctx, p, recordID)
	observe("permanent_delete", err)
	return res, err
}

func (s *LifecycleService) permanentDelete(ctx context.Context, p authz.Principal, recordID string) (*PurgeResult, error) {
	rec, err := s.authorizedRecord(ctx, p, authz.OpPermanentDelete, recordID)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTenant(ctx, rec.TenantID, func(tx repository.Tx) error {
		if err := s.ensureActive(ctx, tx, p, rec.TenantID); err != nil {
			return err
		}
		err := tx.Files.Transition(ctx, rec.ID, model.StateSoftDeleted, model.StatePurged, s.now())
		if errors.Is(err, ErrNotFound) {
			// Запись была прочитана выше: её удалил параллельный вызов
			return fmt.Errorf("%w: запись уже удалена", ErrStateMismatch)
		}
		if err != nil {
			return err
		}
		if err := s.release(ctx, tx, rec); err != nil {
			return err
		}
		return tx.Files.Remove(ctx, rec.ID)
	})
	if err != nil {
		s.logRace("permanent_delete", rec, err)
		return nil, err
	}
	s.stats.Invalidate(rec.TenantID)

	res := &PurgeResult{RecordID: rec.ID, TenantID: rec.TenantID, SizeBytes: rec.SizeBytes}
	if err := s.deleteBlob(ctx, rec); err != nil {
		res.BlobError = err
	} else {
		res.BlobDeleted = true
	}

	s.logger.Info("Файл удалён окончательно",
		slog.String("tenant_id", rec.TenantID),
		slog.String("record_id", rec.ID),
		slog.Int64("size", rec.SizeBytes),
		slog.String("principal", p.ID()),
		slog.Bool("blob_deleted", res.BlobDeleted),
	)
	return res, nil
}

// --- Чтение ---

// GetFile возвращает запись файла и обновляет время последнего доступа.
func (s *LifecycleService) GetFile(ctx context.Context, p authz.Principal, recordID string) (*model.FileRecord, error) {
	rec, err := s.authorizedRecord(ctx, p, authz.OpRead, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTenantActive(ctx, p, rec.TenantID); err != nil {
		return nil, err
	}
	s.touch(ctx, rec)
	return rec, nil
}

// OpenObject открывает шифротекст активного файла для скачивания.
// Вызывающий обязан закрыть reader.
func (s *LifecycleService) OpenObject(ctx context.Context, p authz.Principal, recordID string) (io.ReadCloser, *model.FileRecord, error) {
	rec, err := s.authorizedRecord(ctx, p, authz.OpRead, recordID)
	if err != nil {
		return nil, nil, err
	}
	if rec.State != model.StateActive {
		return nil, nil, ErrStateMismatch
	}
	if err := s.checkTenantActive(ctx, p, rec.TenantID); err != nil {
		return nil, nil, err
	}

	rc, err := s.objects.Open(ctx, rec.TenantID, rec.StorageHandle)
	if err != nil {
		s.logger.Error("Объект активного файла недоступен",
			slog.String("record_id", rec.ID),
			slog.String("handle", rec.StorageHandle),
			slog.String("error", err.Error()),
		)
		return nil, nil, fmt.Errorf("%w: %w", ErrObjectStore, err)
	}
	s.touch(ctx, rec)
	return rc, rec, nil
}

// ListFiles возвращает страницу файлов арендатора по времени создания.
// Курсор страницы действителен только для того же направления.
func (s *LifecycleService) ListFiles(ctx context.Context, p authz.Principal, tenantID string, opts ListOptions) (*FilePage, error) {
	if err := s.guard.AuthorizeTenant(p, authz.OpList, tenantID); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 1 || limit > MaxPageSize {
		return nil, fmt.Errorf("%w: limit должен быть в диапазоне 1-%d", ErrValidation, MaxPageSize)
	}
	order := opts.Order
	if order == "" {
		order = repository.OrderDesc
	}
	if order != repository.OrderAsc && order != repository.OrderDesc {
		return nil, fmt.Errorf("%w: некорректное направление сортировки %q", ErrValidation, order)
	}
	if err := s.checkTenantActive(ctx, p, tenantID); err != nil {
		return nil, err
	}

	items, err := s.store.Files().List(ctx, tenantID, repository.ListFilter{
		State: opts.State,
		Limit: limit + 1,
		After: opts.After,
		Order: order,
	})
	if err != nil {
		return nil, err
	}

	page := &FilePage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.Next = &repository.Cursor{At: last.CreatedAt, ID: last.ID}
	}
	return page, nil
}

// GetStorageStats возвращает статистику хранилища арендатора.
// Кэшируется только статистика активного арендатора: деактивация
// инвалидирует кэш, и следующий запрос проходит проверку заново.
func (s *LifecycleService) GetStorageStats(ctx context.Context, p authz.Principal, tenantID string) (*StorageStats, error) {
	if err := s.guard.AuthorizeTenant(p, authz.OpStats, tenantID); err != nil {
		return nil, err
	}
	if cached, ok := s.stats.Get(tenantID); ok {
		return &cached, nil
	}

	gen := s.stats.Generation(tenantID)
	var (
		st     StorageStats
		active bool
	)
	err := s.store.WithinTenant(ctx, tenantID, func(tx repository.Tx) error {
		if err := s.ensureActive(ctx, tx, p, tenantID); err != nil {
			return err
		}
		tn, err := tx.Tenants.GetByID(ctx, tenantID)
		if err != nil {
			return err
		}
		stats, err := tx.Files.ActiveStats(ctx, tenantID)
		if err != nil {
			return err
		}
		active = tn.Active
		st = StorageStats{
			TenantID:        tenantID,
			Used:            tn.StorageUsed,
			Limit:           tn.StorageLimit,
			Available:       tn.Available(),
			Percentage:      tn.UsagePercent(),
			FileCount:       stats.FileCount,
			LargestFileID:   stats.LargestFileID,
			LargestFileSize: stats.LargestFileSize,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if active {
		s.stats.SetIfCurrent(tenantID, gen, st)
	}
	return &st, nil
}

// --- Вспомогательные методы ---

// authorizedRecord загружает запись и проверяет права принципала на неё.
func (s *LifecycleService) authorizedRecord(ctx context.Context, p authz.Principal, op authz.Operation, recordID string) (*model.FileRecord, error) {
	if _, err := uuid.Parse(recordID); err != nil {
		return nil, ErrNotFound
	}
	rec, err := s.store.Files().GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.AuthorizeRecord(p, op, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ensureActive запрещает операции неактивному арендатору.
// Системный принципал продолжает очистку корзины деактивированных арендаторов.
func (s *LifecycleService) ensureActive(ctx context.Context, tx repository.Tx, p authz.Principal, tenantID string) error {
	if p.IsSystem() {
		return nil
	}
	tn, err := tx.Tenants.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if !tn.Active {
		return ErrTenantInactive
	}
	return nil
}

// checkTenantActive — ensureActive вне транзакции, для операций чтения.
func (s *LifecycleService) checkTenantActive(ctx context.Context, p authz.Principal, tenantID string) error {
	if p.IsSystem() {
		return nil
	}
	tn, err := s.store.Tenants().GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if !tn.Active {
		return ErrTenantInactive
	}
	return nil
}

// release освобождает квоту записи; отсечение по нулю — нарушение учёта.
func (s *LifecycleService) release(ctx context.Context, tx repository.Tx, rec *model.FileRecord) error {
	clamped, err := tx.Tenants.Release(ctx, rec.TenantID, rec.SizeBytes)
	if err != nil {
		return err
	}
	if clamped {
		ledgerClampsTotal.Inc()
		s.logger.Warn("Нарушение учёта: освобождение превысило занятый объём, значение отсечено по нулю",
			slog.String("tenant_id", rec.TenantID),
			slog.String("record_id", rec.ID),
			slog.Int64("size", rec.SizeBytes),
		)
	}
	return nil
}

// deleteBlob удаляет объект с ограниченным числом повторов.
// Неудача фиксируется в журнале осиротевших объектов.
func (s *LifecycleService) deleteBlob(ctx context.Context, rec *model.FileRecord) error {
	ctx = context.WithoutCancel(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BlobRetryInitial
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.BlobDeleteAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		err := s.objects.Delete(ctx, rec.TenantID, rec.StorageHandle)
		if errors.Is(err, objectstore.ErrForeignHandle) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err == nil {
		return nil
	}

	blobDeleteFailuresTotal.Inc()
	s.journalOrphan(Orphan{
		TenantID:   rec.TenantID,
		RecordID:   rec.ID,
		Handle:     rec.StorageHandle,
		LastError:  err.Error(),
		Attempts:   s.cfg.BlobDeleteAttempts,
		RecordedAt: s.now(),
	})
	s.logger.Error("Не удалось удалить объект из хранилища, объект записан в журнал",
		slog.String("tenant_id", rec.TenantID),
		slog.String("record_id", rec.ID),
		slog.String("handle", rec.StorageHandle),
		slog.String("error", err.Error()),
	)
	return err
}

// journalOrphan записывает объект в журнал. Переполнение журнала
// не теряет объект навсегда: его найдёт ReconcileObjects.
func (s *LifecycleService) journalOrphan(o Orphan) {
	if s.orphans.Record(o) {
		return
	}
	s.logger.Warn("Журнал осиротевших объектов переполнен, объект отброшен",
		slog.String("tenant_id", o.TenantID),
		slog.String("handle", o.Handle),
		slog.Int("journal_size", s.orphans.Len()),
	)
}

// touch обновляет время последнего доступа. Ошибка не прерывает чтение.
func (s *LifecycleService) touch(ctx context.Context, rec *model.FileRecord) {
	now := s.now()
	if err := s.store.Files().Touch(ctx, rec.ID, now); err != nil {
		s.logger.Warn("Не удалось обновить время доступа",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	rec.LastAccessedAt = &now
}

// logRace пишет проигрыш гонки за состояние на уровне Debug.
func (s *LifecycleService) logRace(op string, rec *model.FileRecord, err error) {
	if errors.Is(err, ErrStateMismatch) || errors.Is(err, ErrNotFound) {
		s.logger.Debug("Переход состояния не выполнен",
			slog.String("operation", op),
			slog.String("record_id", rec.ID),
			slog.String("reason", err.Error()),
		)
	}
}

// observe учитывает результат операции в метриках.
func observe(op string, err error) {
	lifecycleOpsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTenantNotFound):
		return "not_found"
	case errors.Is(err, ErrTenantInactive):
		return "tenant_inactive"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrFileTooLarge):
		return "invalid"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

// allowUpload применяет лимит частоты загрузок. Системный принципал
// лимитам не подчиняется. Недоступность счётчика не блокирует загрузку.
func (s *LifecycleService) allowUpload(ctx context.Context, p authz.Principal, tenantID string) error {
	if p.IsSystem() {
		return nil
	}
	ok, err := s.uploadLimiter.Allow(ctx, "upload:"+tenantID)
	if err != nil {
		s.logger.Warn("Счётчик лимита загрузок недоступен, проверка пропущена",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}
