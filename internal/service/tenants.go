// tenants.go — управление арендаторами: регистрация, квота, деактивация.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/cryptvault/internal/domain/authz"
	"github.com/bigkaa/cryptvault/internal/domain/model"
	"github.com/bigkaa/cryptvault/internal/repository"
)

// RegisterTenant создаёт арендатора принципала с квотой по умолчанию.
// Повторная регистрация возвращает существующего арендатора.
func (s *LifecycleService) RegisterTenant(ctx context.Context, p authz.Principal) (*model.Tenant, bool, error) {
	tenantID := p.ID()
	if err := s.guard.AuthorizeTenant(p, authz.OpManageTenant, tenantID); err != nil {
		return nil, false, err
	}

	now := s.now()
	tn := &model.Tenant{
		ID:           tenantID,
		StorageLimit: s.cfg.DefaultStorageLimit,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.store.Tenants().Create(ctx, tn)
	if errors.Is(err, ErrConflict) {
		existing, getErr := s.store.Tenants().GetByID(ctx, tenantID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("Арендатор зарегистрирован",
		slog.String("tenant_id", tenantID),
		slog.Int64("storage_limit", tn.StorageLimit),
	)
	return tn, true, nil
}

// GetTenant возвращает арендатора.
func (s *LifecycleService) GetTenant(ctx context.Context, p authz.Principal, tenantID string) (*model.Tenant, error) {
	if err := s.guard.AuthorizeTenant(p, authz.OpManageTenant, tenantID); err != nil {
		return nil, err
	}
	return s.store.Tenants().GetByID(ctx, tenantID)
}

// SetStorageLimit меняет квоту арендатора.
// Квота ниже текущего занятого объёма отклоняется (ErrLimitBelowUsage).
func (s *LifecycleService) SetStorageLimit(ctx context.Context, p authz.Principal, tenantID string, limit int64) (*model.Tenant, error) {
	if err := s.guard.AuthorizeTenant(p, authz.OpManageTenant, tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: квота должна быть положительной", ErrValidation)
	}

	var tn *model.Tenant
	err := s.store.WithinTenant(ctx, tenantID, func(tx repository.Tx) error {
		if err := s.ensureActive(ctx, tx, p, tenantID); err != nil {
			return err
		}
		if err := tx.Tenants.SetLimit(ctx, tenantID, limit); err != nil {
			return err
		}
		var err error
		tn, err = tx.Tenants.GetByID(ctx, tenantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.stats.Invalidate(tenantID)

	s.logger.Info("Квота арендатора изменена",
		slog.String("tenant_id", tenantID),
		slog.Int64("storage_limit", limit),
	)
	return tn, nil
}

// DeactivateTenant выключает арендатора. Новые операции арендатора
// отклоняются, файлы в корзине продолжают удаляться по сроку хранения.
func (s *LifecycleService) DeactivateTenant(ctx context.Context, p authz.Principal, tenantID string) error {
	if err := s.guard.AuthorizeTenant(p, authz.OpManageTenant, tenantID); err != nil {
		return err
	}
	if err := s.store.Tenants().SetActive(ctx, tenantID, false); err != nil {
		return err
	}
	s.stats.Invalidate(tenantID)

	s.logger.Warn("Арендатор деактивирован",
		slog.String("tenant_id", tenantID),
		slog.String("principal", p.ID()),
	)
	return nil
}
