package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/cryptvault/internal/api/handlers"
	"github.com/bigkaa/cryptvault/internal/api/middleware"
	"github.com/bigkaa/cryptvault/internal/config"
	"github.com/bigkaa/cryptvault/internal/database"
	"github.com/bigkaa/cryptvault/internal/domain/authz"
	"github.com/bigkaa/cryptvault/internal/server"
	"github.com/bigkaa/cryptvault/internal/service"
)

func newServeCmd() *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP API и фоновую очистку корзины",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), !skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Не применять миграции БД при старте")
	return cmd
}

func runServe(ctx context.Context, migrate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// 1-6. Конфигурация, логирование, хранилища, движок жизненного цикла
	a, err := newApp(ctx, migrate)
	if err != nil {
		slog.Error("Ошибка инициализации", slog.String("error", err.Error()))
		return err
	}
	defer a.Close()

	cfg, logger := a.cfg, a.logger
	logger.Info("cryptvault запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.String("data_dir", cfg.DataDir),
	)
	if os.Getenv("CV_DEPHEALTH_GROUP") == "" {
		logger.Warn("CV_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 7. Сверка хранилища объектов с записями: находит объекты,
	// осиротевшие до перезапуска, и ставит их в очередь очистки
	if report, err := a.lifecycle.ReconcileObjects(ctx, authz.System()); err != nil {
		logger.Warn("Сверка хранилища объектов не выполнена", slog.String("error", err.Error()))
	} else if report.Orphans > 0 {
		logger.Warn("Найдены осиротевшие объекты",
			slog.Int("orphans", report.Orphans),
			slog.Int("scanned", report.Scanned),
		)
	}

	// 8. Readiness checkers
	var checkers []handlers.ReadinessChecker
	if a.pool != nil {
		checkers = append(checkers, database.NewReadinessChecker(a.pool))
	}
	jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSCACert, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
		return err
	}
	checkers = append(checkers, jwksChecker)
	healthHandler := handlers.NewHealthHandler(cfg.DataDir, checkers...)

	// 9. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWTJWKSURL,
		CACertPath:      cfg.JWKSCACert,
		Issuer:          cfg.JWTIssuer,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		JWTLeeway:       cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		return err
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 10. Лимит API-запросов
	apiLimiter, err := a.newLimiter(limiterPrefix, cfg.APIRatePerHour)
	if err != nil {
		logger.Error("Ошибка создания лимитера API", slog.String("error", err.Error()))
		return err
	}

	// 11. Фоновая очистка корзины
	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweeper := service.NewSweeperService(
		a.lifecycle,
		a.store.Files(),
		a.objects,
		a.lifecycle.Orphans(),
		a.sweeperConfig(),
		logger,
	)
	sweeper.Start(bgCtx)
	defer sweeper.Stop()

	// 12. topologymetrics — мониторинг зависимостей
	dephealthSvc, err := service.NewDephealthService(
		"cryptvault",
		cfg.DephealthGroup,
		a.pgDB,
		dephealthPgURL(cfg),
		cfg.JWTJWKSURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(bgCtx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 13. HTTP-сервер (блокируется до сигнала завершения)
	apiHandler := handlers.NewAPIHandler(a.lifecycle, cfg.MaxFileSize, logger)
	srv := server.New(cfg, logger, apiHandler, healthHandler, jwtAuth, apiLimiter)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		return err
	}

	logger.Info("cryptvault остановлен")
	return nil
}

// dephealthPgURL возвращает URL PostgreSQL для меток topologymetrics
// или пустую строку для хранилища в памяти.
func dephealthPgURL(cfg *config.Config) string {
	if cfg.StorageBackend != config.BackendPostgres {
		return ""
	}
	return cfg.DatabaseURL("postgres")
}
