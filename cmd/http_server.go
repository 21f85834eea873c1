package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pasalku/payment-gateway/internal"
	"github.com/pasalku/payment-gateway/internal/core/events"
	"github.com/pasalku/payment-gateway/internal/payment"
	"github.com/pasalku/payment-gateway/internal/provider"
	sessionpkg "github.com/pasalku/payment-gateway/internal/session"
	sessionpg "github.com/pasalku/payment-gateway/internal/session/postgres"
	"github.com/pasalku/payment-gateway/internal/transport"
	"github.com/pasalku/payment-gateway/internal/transport/rest"
	"github.com/pasalku/payment-gateway/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle payment API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	DB             *sqlx.DB
	Router         *chi.Mux
	EventBus       *events.EventBus
	PaymentHandler *payment.Handler
	WebhookHandler *payment.WebhookHandler
	Sweeper        *payment.Sweeper
	Logger         *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	setupRoutes(deps)

	if deps.Sweeper != nil {
		deps.Sweeper.Start()
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if deps.Sweeper != nil {
			deps.Sweeper.Shutdown()
		}
		if deps.DB != nil {
			if err := deps.DB.Close(); err != nil {
				deps.Logger.Error("database close error", "error", err)
			}
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func setupRoutes(deps *Dependencies) {
	var healthDB *sql.DB
	if deps.DB != nil {
		healthDB = deps.DB.DB
	}
	rest.RegisterAllRoutes(deps.Router, healthDB, deps.PaymentHandler, deps.WebhookHandler, deps.Logger)
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	appLogger := logger.LoggerWrapper()

	var (
		db    *sqlx.DB
		store sessionpkg.Store
	)
	if config.Database.Source != "" {
		db, err = initDB(config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}

		gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{
			TranslateError: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open gorm connection: %w", err)
		}
		store = sessionpg.NewSessionRepository(gormDB)
	} else {
		// no database configured; keep sessions in memory, useful for
		// local development and sandbox testing against provider mocks
		appLogger.Warn("no database source configured, using in-memory session store")
		store = sessionpkg.NewMemoryStore()
	}

	registry := buildRegistry(config.Providers, appLogger)
	eventBus := events.NewEventBus(appLogger)
	subscribeTerminalEvents(eventBus, appLogger)

	reconciler := payment.NewReconciler(store, eventBus, appLogger)
	poller := payment.NewPoller(registry, store, reconciler, appLogger)
	service := payment.NewService(registry, store, reconciler, poller, appLogger)

	baseHandler := transport.NewBaseHandler(appLogger)
	paymentHandler := payment.NewHandler(service, appLogger)
	webhookHandler := payment.NewWebhookHandler(baseHandler, service, appLogger)

	sweeper := payment.NewSweeper(payment.SweeperConfig{
		MaxWorkers:    config.Sweeper.MaxWorkers,
		JobQueueSize:  config.Sweeper.JobQueueSize,
		BatchSize:     config.Sweeper.BatchSize,
		SweepInterval: config.Sweeper.SweepInterval,
	}, registry, store, reconciler, appLogger)

	return &Dependencies{
		Config:         config,
		Logger:         appLogger,
		DB:             db,
		Router:         chi.NewRouter(),
		EventBus:       eventBus,
		PaymentHandler: paymentHandler,
		WebhookHandler: webhookHandler,
		Sweeper:        sweeper,
	}, nil
}

// buildRegistry registers one adapter per enabled provider. GoPay has its own
// adapter; OVO, DANA and ShopeePay all speak the standard QRIS acquiring API
// and share the generic adapter with per-provider endpoints and vocabulary.
func buildRegistry(cfg internal.ProvidersConfig, appLogger *slog.Logger) *provider.Registry {
	registry := provider.NewRegistry()

	if cfg.GoPay.Enabled {
		adapter := provider.NewGoPayAdapter(provider.GoPayConfig{
			BaseURL:        cfg.GoPay.BaseURL,
			ServerKey:      cfg.GoPay.APIKey,
			CallbackSecret: cfg.GoPay.CallbackSecret,
			Timeout:        cfg.RequestTimeout,
		}, appLogger)
		registry.Register(providerInfo("gopay", "GoPay"), adapter)
	}

	type qrisProvider struct {
		name        string
		displayName string
		config      internal.ProviderConfig
	}

	for _, p := range []qrisProvider{
		{name: "ovo", displayName: "OVO", config: cfg.OVO},
		{name: "dana", displayName: "DANA", config: cfg.DANA},
		{name: "shopeepay", displayName: "ShopeePay", config: cfg.ShopeePay},
	} {
		if !p.config.Enabled {
			continue
		}
		adapter := provider.NewQRISAdapter(provider.QRISConfig{
			Provider:       p.name,
			BaseURL:        p.config.BaseURL,
			APIKey:         p.config.APIKey,
			CallbackSecret: p.config.CallbackSecret,
			StatusMap:      provider.DefaultQRISStatusMap(),
			Timeout:        cfg.RequestTimeout,
		}, appLogger)
		registry.Register(providerInfo(p.name, p.displayName), adapter)
	}

	return registry
}

func providerInfo(name, displayName string) provider.Info {
	return provider.Info{
		Name:        name,
		DisplayName: displayName,
		Method:      "qris",
		MinAmount:   1,
		MaxAmount:   10_000_000,
		Enabled:     true,
	}
}

func subscribeTerminalEvents(bus *events.EventBus, appLogger *slog.Logger) {
	logTerminal := func(ctx context.Context, event events.Event) error {
		appLogger.Info("payment reached terminal state",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	}

	bus.Subscribe(events.EventTypePaymentSucceeded, logTerminal)
	bus.Subscribe(events.EventTypePaymentFailed, logTerminal)
	bus.Subscribe(events.EventTypePaymentExpired, logTerminal)
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
