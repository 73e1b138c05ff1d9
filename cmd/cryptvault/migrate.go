package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/cryptvault/internal/config"
	"github.com/bigkaa/cryptvault/internal/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции схемы PostgreSQL",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
			}
			logger := config.SetupLogger(cfg)
			if cfg.StorageBackend != config.BackendPostgres {
				return fmt.Errorf("миграции применимы только к CV_STORAGE_BACKEND=postgres")
			}
			if err := database.Migrate(cfg, logger); err != nil {
				logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
}
