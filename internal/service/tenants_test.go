package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/cryptvault/internal/domain/authz"
)

func TestRegisterTenant_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := authz.User("alice")

	tn, created, err := env.svc.RegisterTenant(ctx, alice)
	if err != nil {
		t.Fatalf("RegisterTenant: %v", err)
	}
	if !created || tn.ID != "alice" || tn.StorageLimit != 1000 || !tn.Active {
		t.Errorf("арендатор = %+v, created=%v", tn, created)
	}

	env.upload(t, "alice", 100)

	again, created, err := env.svc.RegisterTenant(ctx, alice)
	if err != nil {
		t.Fatalf("повторная RegisterTenant: %v", err)
	}
	if created || again.StorageUsed != 100 {
		t.Errorf("повторная регистрация = %+v, created=%v", again, created)
	}

	if _, _, err := env.svc.RegisterTenant(ctx, authz.System()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("RegisterTenant(system) = %v, ожидалась ErrUnauthorized", err)
	}
}

func TestSetStorageLimit(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant(t, "alice", 1000)
	ctx := context.Background()
	alice := authz.User("alice")
	env.upload(t, "alice", 600)

	if _, err := env.svc.SetStorageLimit(ctx, alice, "alice", 500); !errors.Is(err, ErrLimitBelowUsage) {
		t.Errorf("квота ниже занятого = %v, ожидалась ErrLimitBelowUsage", err)
	}
	if _, err := env.svc.SetStorageLimit(ctx, alice, "alice", 0); !errors.Is(err, ErrValidation) {
		t.Errorf("нулевая квота = %v, ожидалась ErrValidation", err)
	}
	if _, err := env.svc.SetStorageLimit(ctx, authz.User("bob"), "alice", 5000); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("чужая квота = %v, ожидалась ErrUnauthorized", err)
	}

	tn, err := env.svc.SetStorageLimit(ctx, alice, "alice", 2000)
	if err != nil {
		t.Fatalf("SetStorageLimit: %v", err)
	}
	if tn.StorageLimit != 2000 || tn.StorageUsed != 600 {
		t.Errorf("арендатор = %+v", tn)
	}

	// Кэш статистики сброшен
	stats, err := env.svc.GetStorageStats(ctx, alice, "alice")
	if err != nil {
		t.Fatalf("GetStorageStats: %v", err)
	}
	if stats.Limit != 2000 {
		t.Errorf("Limit = %d, ожидалось 2000", stats.Limit)
	}
	env.upload(t, "alice", 1000)
}

func TestDeactivateTenant_BlocksTenantOperations(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant(t, "alice", 1000)
	ctx := context.Background()
	alice := authz.User("alice")

	active := env.upload(t, "alice", 100)
	trashed := env.upload(t, "alice", 200)
	if _, err := env.svc.SoftDelete(ctx, alice, trashed.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	// Статистика в кэше до деактивации не должна пережить её
	if _, err := env.svc.GetStorageStats(ctx, alice, "alice"); err != nil {
		t.Fatalf("GetStorageStats: %v", err)
	}

	if err := env.svc.DeactivateTenant(ctx, alice, "alice"); err != nil {
		t.Fatalf("DeactivateTenant: %v", err)
	}

	if _, err := env.svc.GetStorageStats(ctx, alice, "alice"); !errors.Is(err, ErrTenantInactive) {
		t.Errorf("GetStorageStats = %v, ожидалась ErrTenantInactive", err)
	}
	if _, err := env.svc.ListFiles(ctx, alice, "alice", ListOptions{}); !errors.Is(err, ErrTenantInactive) {
		t.Errorf("ListFiles = %v, ожидалась ErrTenantInactive", err)
	}
	// Системный принципал читает статистику, но она не кэшируется для пользователя
	if _, err := env.svc.GetStorageStats(ctx, authz.System(), "alice"); err != nil {
		t.Errorf("GetStorageStats(system): %v", err)
	}
	if _, err := env.svc.GetStorageStats(ctx, alice, "alice"); !errors.Is(err, ErrTenantInactive) {
		t.Errorf("GetStorageStats после чтения системой = %v, ожидалась ErrTenantInactive", err)
	}

	if _, err := env.svc.SoftDelete(ctx, alice, active.ID); !errors.Is(err, ErrTenantInactive) {
		t.Errorf("SoftDelete = %v, ожидалась ErrTenantInactive", err)
	}
	if _, err := env.svc.Restore(ctx, alice, trashed.ID); !errors.Is(err, ErrTenantInactive) {
		t.Errorf("Restore = %v, ожидалась ErrTenantInactive", err)
	}
	if _, err := env.svc.PermanentDelete(ctx, alice, trashed.ID); !errors.Is(err, ErrTenantInactive) {
		t.Errorf("PermanentDelete(user) = %v, ожидалась ErrTenantInactive", err)
	}
	if _, err := env.svc.GetFile(ctx, alice, active.ID); !errors.Is(err, ErrTenantInactive) {
		t.Errorf("GetFile = %v, ожидалась ErrTenantInactive", err)
	}

	// Системный принципал продолжает очистку корзины
	if _, err := env.svc.PermanentDelete(ctx, authz.System(), trashed.ID); err != nil {
		t.Errorf("PermanentDelete(system): %v", err)
	}
	if got := env.used(t, "alice"); got != 100 {
		t.Errorf("used = %d, ожидалось 100", got)
	}
}
