package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/cryptvault/internal/domain/authz"
)

func newAuditCmd() *cobra.Command {
	var (
		tenants   []string
		reconcile bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Сверить учёт квот и хранилище объектов",
		Long: `Для каждого указанного арендатора сравнивает storage_used с суммой
размеров активных и мягко удалённых файлов. С флагом --reconcile
дополнительно обходит хранилище объектов и ищет объекты без записей.

Примеры:
  cryptvault audit --tenant alice --tenant bob
  cryptvault audit --reconcile`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requirePersistent("audit"); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			drifted := 0
			for _, tenantID := range tenants {
				report, err := a.lifecycle.AuditAccounting(ctx, authz.System(), tenantID)
				if err != nil {
					a.logger.Error("Ошибка сверки арендатора",
						slog.String("tenant_id", tenantID),
						slog.String("error", err.Error()),
					)
					return err
				}
				status := "ok"
				if !report.Consistent() {
					status = "РАСХОЖДЕНИЕ"
					drifted++
				}
				fmt.Fprintf(out, "%s: storage_used=%d, файлы=%d, расхождение=%d [%s]\n",
					report.TenantID, report.StorageUsed, report.ChargedBytes, report.Drift, status)
			}

			if reconcile {
				report, err := a.lifecycle.ReconcileObjects(ctx, authz.System())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "объектов: %d, осиротевших: %d, нераспознанных: %d, длительность: %s\n",
					report.Scanned, report.Orphans, report.Unrecognized, report.Duration)
			}

			if drifted > 0 {
				return fmt.Errorf("расхождение учёта у %d арендаторов", drifted)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&tenants, "tenant", nil, "Арендатор для сверки учёта (можно повторять)")
	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "Обойти хранилище объектов и найти объекты без записей")
	return cmd
}
