// audit.go — проверки согласованности учёта и хранилища объектов.
//
// AuditAccounting сравнивает счётчик занятого объёма арендатора с суммой
// размеров его записей. ReconcileObjects обходит хранилище объектов и
// заносит в журнал объекты без записи метаданных.
package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/cryptvault/internal/domain/authz"
	"github.com/bigkaa/cryptvault/internal/domain/model"
	"github.com/bigkaa/cryptvault/internal/repository"
)

var (
	// auditDriftTotal — количество арендаторов с расхождением учёта.
	auditDriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_audit_accounting_drift_total",
		Help: "Количество проверок, обнаруживших расхождение учёта квоты",
	})

	// reconcileOrphansTotal — объекты без записи, найденные сверкой.
	reconcileOrphansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_reconcile_orphans_total",
		Help: "Количество объектов без записи метаданных, найденных сверкой",
	})
)

// AuditReport — результат проверки учёта арендатора.
type AuditReport struct {
	TenantID     string
	StorageUsed  int64
	ChargedBytes int64
	// Drift — StorageUsed - ChargedBytes
	Drift int64
}

// Consistent сообщает, что счётчик совпадает с суммой записей.
func (r *AuditReport) Consistent() bool {
	return r.Drift == 0
}

// ReconcileReport — результат сверки хранилища объектов.
type ReconcileReport struct {
	// Scanned — просмотрено объектов
	Scanned int
	// Orphans — объектов без записи, занесено в журнал
	Orphans int
	// Unrecognized — объекты с адресом не по схеме {tenant}/{id}.enc
	Unrecognized int
	Duration     time.Duration
}

// AuditAccounting сверяет storage_used арендатора с суммой размеров
// его активных записей и записей в корзине. Чтение выполняется
// одной атомарной единицей, поэтому отчёт отражает согласованный срез.
func (s *LifecycleService) AuditAccounting(ctx context.Context, p authz.Principal, tenantID string) (*AuditReport, error) {
	if err := s.guard.AuthorizeTenant(p, authz.OpAudit, tenantID); err != nil {
		return nil, err
	}

	report := &AuditReport{TenantID: tenantID}
	err := s.store.WithinTenant(ctx, tenantID, func(tx repository.Tx) error {
		tn, err := tx.Tenants.GetByID(ctx, tenantID)
		if err != nil {
			return err
		}
		charged, err := tx.Files.ChargedBytes(ctx, tenantID)
		if err != nil {
			return err
		}
		report.StorageUsed = tn.StorageUsed
		report.ChargedBytes = charged
		report.Drift = tn.StorageUsed - charged
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.Consistent() {
		auditDriftTotal.Inc()
		s.logger.Error("Расхождение учёта квоты",
			slog.String("tenant_id", tenantID),
			slog.Int64("storage_used", report.StorageUsed),
			slog.Int64("charged_bytes", report.ChargedBytes),
			slog.Int64("drift", report.Drift),
		)
	}
	return report, nil
}

// ReconcileObjects обходит хранилище объектов и заносит в журнал объекты,
// для которых нет записи. Запись создаётся до записи объекта, поэтому
// объект без записи всегда подлежит удалению. Доступно только
// системному принципалу.
func (s *LifecycleService) ReconcileObjects(ctx context.Context, p authz.Principal) (*ReconcileReport, error) {
	if !p.IsSystem() {
		return nil, s.guard.AuthorizeTenant(p, authz.OpAudit, "")
	}

	start := time.Now()
	report := &ReconcileReport{}
	files := s.store.Files()

	err := s.objects.Walk(ctx, func(tenantID, handle string) error {
		report.Scanned++

		recordID, ok := recordIDFromHandle(tenantID, handle)
		if !ok {
			report.Unrecognized++
			s.logger.Warn("Объект с нераспознанным адресом",
				slog.String("tenant_id", tenantID),
				slog.String("handle", handle),
			)
			return nil
		}

		exists, err := files.Exists(ctx, recordID)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		report.Orphans++
		reconcileOrphansTotal.Inc()
		s.journalOrphan(Orphan{
			TenantID:   tenantID,
			RecordID:   recordID,
			Handle:     handle,
			LastError:  "объект без записи метаданных",
			RecordedAt: s.now(),
		})
		return nil
	})
	report.Duration = time.Since(start)
	if err != nil {
		return report, err
	}

	s.logger.Info("Сверка хранилища объектов завершена",
		slog.Int("scanned", report.Scanned),
		slog.Int("orphans", report.Orphans),
		slog.Int("unrecognized", report.Unrecognized),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// recordIDFromHandle извлекает id записи из адреса {tenant}/{id}.enc.
func recordIDFromHandle(tenantID, handle string) (string, bool) {
	name, ok := strings.CutPrefix(handle, tenantID+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(name, ".enc")
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, model.StorageHandleFor(tenantID, id) == handle
}
