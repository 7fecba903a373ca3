package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"settlement-engine/internal/config"
	"settlement-engine/internal/database"
	"settlement-engine/internal/disbursement"
	"settlement-engine/internal/events"
	"settlement-engine/internal/handlers"
	"settlement-engine/internal/metrics"
	"settlement-engine/internal/money"
	"settlement-engine/internal/repositories"
	"settlement-engine/internal/services"
)

func main() {
	migrateCmd := flag.String("migrate", "", "Migration command (up/down/version)")
	steps := flag.Int("steps", 0, "Number of migration steps (0 means all)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}
	defer logger.Sync()

	if *migrateCmd != "" {
		handleMigration(cfg, logger, *migrateCmd, *steps)
		return
	}

	db, err := database.NewConnection(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	metrics.Init()

	txRepo := repositories.NewTransactionRepository(db)
	configRepo := repositories.NewConfigurationRepository(db)
	batchRepo := repositories.NewBatchRepository(db)
	reconRepo := repositories.NewReconciliationRepository(db)
	reportRepo := repositories.NewReportRepository(db)

	var emitter events.Emitter = events.NewLoggingEmitter(logger)
	if cfg.Settlement.WebhookURL != "" {
		emitter = events.MultiEmitter{
			events.NewLoggingEmitter(logger),
			events.NewWebhookEmitter(cfg.Settlement.WebhookURL, logger),
		}
	}

	preparer := disbursement.NewLoggingPreparer(logger)

	settlementService := services.NewSettlementService(txRepo, configRepo, batchRepo, logger)
	processor := services.NewBatchProcessor(batchRepo, txRepo, configRepo, preparer, emitter, logger,
		services.ProcessorOptions{
			MaxRetries:       cfg.Settlement.MaxRetries,
			RetryBackoff:     cfg.Settlement.RetryBackoff,
			FailureThreshold: cfg.Settlement.FailureThreshold,
			Workers:          cfg.Settlement.WorkerCount,
		})
	defaultTolerance := money.New(cfg.Settlement.ToleranceMinor, cfg.Settlement.Currency)
	reconciliationService := services.NewReconciliationService(batchRepo, configRepo, reconRepo, emitter, defaultTolerance, logger)
	runService := services.NewRunService(settlementService, processor, configRepo, cfg.Settlement.WorkerCount, logger)
	ingestionService := services.NewIngestionService(txRepo, configRepo, logger)
	reportService := services.NewReportService(reportRepo, batchRepo, logger)

	router := handlers.SetupRouter(
		handlers.NewBatchHandler(settlementService, processor, runService),
		handlers.NewReconciliationHandler(reconciliationService),
		handlers.NewDataHandler(ingestionService),
		handlers.NewReportHandler(reportService),
		logger,
	)

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("server is running", zap.String("address", cfg.ServerAddress))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}
	logger.Info("server exited gracefully")
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func handleMigration(cfg *config.Config, logger *zap.Logger, command string, steps int) {
	db, err := database.NewConnection(cfg, logger)
	if err != nil {
		logger.Fatal("failed to ensure database exists", zap.Error(err))
	}
	db.Close()

	m, err := migrate.New(
		fmt.Sprintf("file://%s", cfg.Migration.Dir),
		cfg.GetMigrationDBURL(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "no change") {
			logger.Info("no migration changes to apply")
			return
		}
		logger.Fatal("failed to initialize migrate", zap.Error(err))
	}
	defer m.Close()

	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verErr := m.Version()
		if verErr != nil {
			if verErr == migrate.ErrNilVersion {
				logger.Info("no migrations have been applied yet")
				return
			}
			logger.Fatal("failed to get version", zap.Error(verErr))
		}
		fmt.Printf("Current migration version: %d (dirty: %v)\n", version, dirty)
		return
	default:
		logger.Fatal("invalid migration command", zap.String("command", command))
	}

	if err != nil {
		if err == migrate.ErrNoChange {
			logger.Info("no migration changes to apply")
			return
		}
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migration completed successfully")
}
