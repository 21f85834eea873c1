package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pasalku/payment-gateway/internal/core/events"
	"github.com/pasalku/payment-gateway/internal/payment"
	sessionpg "github.com/pasalku/payment-gateway/internal/session/postgres"
	"github.com/pasalku/payment-gateway/pkg/logger"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start worker pools for various services",
	Long:  `Start and manage worker pools like the pending-session sweeper and the event bus.`,
}

// Sweeper worker command
var sweeperWorkerCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Start the pending-session sweeper",
	Long:  `Start the worker pool that re-polls pending payment sessions against their providers`,
	Run: func(cmd *cobra.Command, args []string) {
		startSweeperWorker()
	},
}

// Event Bus worker command
var eventWorkerCmd = &cobra.Command{
	Use:   "events",
	Short: "Start event bus worker",
	Long:  `Start the event bus `,
	Run: func(cmd *cobra.Command, args []string) {
		startEventWorker()
	},
}

var (
	sweeperMaxWorkers   int
	sweeperJobQueueSize int
	sweeperBatchSize    int
)

func startSweeperWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.LoggerWrapper()

	if config.Database.Source == "" {
		fmt.Fprintln(os.Stderr, "sweeper worker requires a database source")
		os.Exit(1)
	}

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open gorm connection: %v\n", err)
		os.Exit(1)
	}

	store := sessionpg.NewSessionRepository(gormDB)
	registry := buildRegistry(config.Providers, appLogger)
	eventBus := events.NewEventBus(appLogger)
	subscribeTerminalEvents(eventBus, appLogger)
	reconciler := payment.NewReconciler(store, eventBus, appLogger)

	sweeperConfig := payment.SweeperConfig{
		MaxWorkers:    getIntFlag(sweeperMaxWorkers, config.Sweeper.MaxWorkers),
		JobQueueSize:  getIntFlag(sweeperJobQueueSize, config.Sweeper.JobQueueSize),
		BatchSize:     getIntFlag(sweeperBatchSize, config.Sweeper.BatchSize),
		SweepInterval: config.Sweeper.SweepInterval,
	}

	appLogger.Info("starting sweeper worker",
		"max_workers", sweeperConfig.MaxWorkers,
		"job_queue_size", sweeperConfig.JobQueueSize,
		"batch_size", sweeperConfig.BatchSize,
		"sweep_interval", sweeperConfig.SweepInterval)

	sweeper := payment.NewSweeper(sweeperConfig, registry, store, reconciler, appLogger)
	sweeper.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	appLogger.Info("sweeper worker is running. Press Ctrl+C to stop.")

	// wait for shutdown signal
	sig := <-sigChan
	appLogger.Info("received signal, shutting down sweeper worker", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownDone := make(chan struct{})
	go func() {
		sweeper.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		appLogger.Info("sweeper worker shutdown complete")
	case <-ctx.Done():
		appLogger.Warn("shutdown timeout reached, forcing exit")
	}
}

func startEventWorker() {
	_, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.LoggerWrapper()

	eventBus := events.NewEventBus(appLogger)
	subscribeTerminalEvents(eventBus, appLogger)

	appLogger.Info("event bus worker started. Waiting for events...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	appLogger.Info("event bus is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	appLogger.Info("received signal, shutting down event bus", "signal", sig)
	appLogger.Info("event bus shutdown complete")
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	sweeperWorkerCmd.Flags().IntVar(&sweeperMaxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	sweeperWorkerCmd.Flags().IntVar(&sweeperJobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	sweeperWorkerCmd.Flags().IntVar(&sweeperBatchSize, "batch-size", 0, "Sessions listed per sweep cycle (overrides config)")

	workerCmd.AddCommand(sweeperWorkerCmd)
	workerCmd.AddCommand(eventWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
