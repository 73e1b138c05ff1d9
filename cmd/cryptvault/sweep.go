package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/cryptvault/internal/domain/authz"
	"github.com/bigkaa/cryptvault/internal/service"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Однократно удалить файлы, срок хранения которых в корзине истёк",
		Long: `Выполняет один проход очистки корзины: окончательно удаляет файлы,
мягко удалённые раньше CV_RETENTION_PERIOD, и повторяет удаление
осиротевших объектов. Подходит для запуска из Kubernetes CronJob
вместо встроенного планировщика.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requirePersistent("sweep"); err != nil {
				return err
			}

			// Осиротевшие объекты прошлых запусков находятся только сверкой
			if _, err := a.lifecycle.ReconcileObjects(ctx, authz.System()); err != nil {
				a.logger.Warn("Сверка хранилища объектов не выполнена", slog.String("error", err.Error()))
			}

			sweeper := service.NewSweeperService(
				a.lifecycle,
				a.store.Files(),
				a.objects,
				a.lifecycle.Orphans(),
				a.sweeperConfig(),
				a.logger,
			)
			res := sweeper.RunOnce(ctx)

			fmt.Fprintf(cmd.OutOrStdout(),
				"удалено: %d, пропущено: %d, ошибок: %d, сбоев удаления объектов: %d, осиротевших удалено: %d/%d, длительность: %s\n",
				res.Purged, res.Skipped, res.Failed, res.BlobFailures,
				res.OrphansCleared, res.OrphansRetried, res.Duration,
			)
			if res.Failed > 0 {
				return fmt.Errorf("очистка завершилась с ошибками: %d", res.Failed)
			}
			return nil
		},
	}
}
