// sweeper.go — фоновая очистка корзины.
//
// Каждый запуск выполняет две фазы:
//  1. Окончательно удаляет файлы, находящиеся в корзине дольше срока хранения
//     (переход через движок жизненного цикла от имени системного принципала)
//  2. Повторяет удаление объектов из журнала осиротевших объектов
//
// Запускается как горутина с периодическим тикером (CV_SWEEP_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/cryptvault/internal/domain/authz"
	"github.com/bigkaa/cryptvault/internal/repository"
	"github.com/bigkaa/cryptvault/internal/storage/objectstore"
)

// Prometheus метрики очистки
var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_sweep_runs_total",
		Help: "Общее количество запусков очистки корзины",
	})

	sweepRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cv_sweep_records_total",
		Help: "Количество записей, обработанных очисткой, по результату",
	}, []string{"result"})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cv_sweep_duration_seconds",
		Help:    "Длительность очистки корзины в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)

// SweeperConfig — параметры очистки.
type SweeperConfig struct {
	// Retention — срок хранения файла в корзине
	Retention time.Duration
	// Interval — период запуска
	Interval time.Duration
	// BatchSize — записей на одну выборку
	BatchSize int
	// Concurrency — параллельно обрабатываемых записей
	Concurrency int
}

// SweepResult — результат одного запуска очистки.
type SweepResult struct {
	// Purged — окончательно удалённые записи
	Purged int
	// Skipped — записи, которые пользователь успел восстановить или удалить сам
	Skipped int
	// Failed — записи, обработка которых завершилась ошибкой
	Failed int
	// BlobFailures — удаления записей, после которых объект остался в хранилище
	BlobFailures int
	// OrphansRetried — повторные попытки удаления объектов из журнала
	OrphansRetried int
	// OrphansCleared — объекты журнала, удалённые успешно
	OrphansCleared int
	// Duration — длительность выполнения
	Duration time.Duration
}

// SweeperService — сервис очистки корзины.
type SweeperService struct {
	lifecycle *LifecycleService
	files     repository.FileRecordRepository
	objects   objectstore.Store
	orphans   *OrphanJournal
	cfg       SweeperConfig
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeperService создаёт сервис очистки.
func NewSweeperService(
	lifecycle *LifecycleService,
	files repository.FileRecordRepository,
	objects objectstore.Store,
	orphans *OrphanJournal,
	cfg SweeperConfig,
	logger *slog.Logger,
) *SweeperService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &SweeperService{
		lifecycle: lifecycle,
		files:     files,
		objects:   objects,
		orphans:   orphans,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "sweeper")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start запускает фоновую горутину очистки с периодическим тикером.
func (s *SweeperService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Очистка корзины запущена",
		slog.String("interval", s.cfg.Interval.String()),
		slog.String("retention", s.cfg.Retention.String()),
	)
}

// Stop останавливает фоновый процесс и дожидается завершения текущего запуска.
func (s *SweeperService) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.logger.Info("Очистка корзины остановлена")
}

// run — основной цикл фоновой горутины.
func (s *SweeperService) run(ctx context.Context) {
	defer close(s.done)

	// Первый запуск — сразу после старта
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл очистки.
// Потокобезопасен: параллельные вызовы выполняются последовательно.
// Ошибка одной записи не прерывает обработку остальных.
func (s *SweeperService) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}
	cutoff := s.now().Add(-s.cfg.Retention)

	s.logger.Debug("Очистка корзины начата", slog.Time("cutoff", cutoff))

	// Фаза 1: окончательное удаление просроченных записей
	if err := s.purgeExpired(ctx, cutoff, result); err != nil {
		s.logger.Error("Очистка корзины прервана",
			slog.String("error", err.Error()),
		)
	}

	// Фаза 2: повтор удаления осиротевших объектов
	s.retryOrphans(ctx, result)

	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Очистка корзины завершена",
		slog.Int("purged", result.Purged),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Int("blob_failures", result.BlobFailures),
		slog.Int("orphans_retried", result.OrphansRetried),
		slog.Int("orphans_cleared", result.OrphansCleared),
		slog.Duration("duration", result.Duration),
	)
	return result
}

// purgeExpired обходит просроченные записи постранично и удаляет их
// с ограниченной параллельностью. Возвращает ошибку только при сбое выборки.
func (s *SweeperService) purgeExpired(ctx context.Context, cutoff time.Time, result *SweepResult) error {
	var purged, skipped, failed, blobFailures atomic.Int64
	defer func() {
		result.Purged += int(purged.Load())
		result.Skipped += int(skipped.Load())
		result.Failed += int(failed.Load())
		result.BlobFailures += int(blobFailures.Load())
	}()

	system := authz.System()
	var after *repository.Cursor

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := s.files.ListExpired(ctx, cutoff, after, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)

		for _, rec := range batch {
			g.Go(func() error {
				res, err := s.lifecycle.PermanentDelete(gctx, system, rec.ID)
				switch {
				case err == nil:
					purged.Add(1)
					sweepRecordsTotal.WithLabelValues("purged").Inc()
					if !res.BlobDeleted {
						blobFailures.Add(1)
					}
				case errors.Is(err, ErrStateMismatch), errors.Is(err, ErrNotFound):
					// Пользователь восстановил или удалил файл раньше
					skipped.Add(1)
					sweepRecordsTotal.WithLabelValues("skipped").Inc()
				default:
					failed.Add(1)
					sweepRecordsTotal.WithLabelValues("failed").Inc()
					s.logger.Error("Очистка: ошибка удаления записи",
						slog.String("record_id", rec.ID),
						slog.String("tenant_id", rec.TenantID),
						slog.String("error", err.Error()),
					)
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(batch) < s.cfg.BatchSize {
			return nil
		}
		last := batch[len(batch)-1]
		after = &repository.Cursor{At: *last.DeletedAt, ID: last.ID}
	}
}

// retryOrphans повторяет удаление объектов из журнала.
func (s *SweeperService) retryOrphans(ctx context.Context, result *SweepResult) {
	for _, o := range s.orphans.List() {
		if ctx.Err() != nil {
			return
		}
		result.OrphansRetried++

		err := s.objects.Delete(ctx, o.TenantID, o.Handle)
		if err == nil {
			s.orphans.Resolve(o.Handle)
			result.OrphansCleared++
			s.logger.Info("Осиротевший объект удалён",
				slog.String("tenant_id", o.TenantID),
				slog.String("handle", o.Handle),
			)
			continue
		}
		if errors.Is(err, objectstore.ErrForeignHandle) {
			s.orphans.Resolve(o.Handle)
			s.logger.Error("Осиротевший объект с некорректным адресом исключён из журнала",
				slog.String("handle", o.Handle),
			)
			continue
		}

		o.LastError = err.Error()
		s.orphans.Record(o)
		s.logger.Warn("Повторное удаление объекта не удалось",
			slog.String("handle", o.Handle),
			slog.Int("attempts", o.Attempts+1),
			slog.String("error", err.Error()),
		)
	}
}
