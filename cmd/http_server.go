package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/tagfinder/api"
	"github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/auth"
	authpg "github.com/frahmantamala/tagfinder/internal/auth/postgres"
	"github.com/frahmantamala/tagfinder/internal/core/events"
	"github.com/frahmantamala/tagfinder/internal/payment"
	paymentpg "github.com/frahmantamala/tagfinder/internal/payment/postgres"
	"github.com/frahmantamala/tagfinder/internal/paymentgateway"
	"github.com/frahmantamala/tagfinder/internal/transport"
	"github.com/frahmantamala/tagfinder/internal/transport/rest"
	"github.com/frahmantamala/tagfinder/internal/user"
	"github.com/frahmantamala/tagfinder/internal/vcard"
	vcardpg "github.com/frahmantamala/tagfinder/internal/vcard/postgres"
	"github.com/frahmantamala/tagfinder/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests and gateway webhooks`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config    *internal.Config
	DB        *sqlx.DB
	Gorm      *gorm.DB
	Router    *chi.Mux
	Logger    *slog.Logger
	EventBus  *events.EventBus
	Processor *payment.DetailProcessor
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	log := deps.Logger

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	log.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down...", "signal", sig)
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop intake first, then let in-flight event handlers and enrichment
	// jobs finish before the database goes away.
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server shutdown error", "error", err)
	}
	if err := deps.EventBus.Drain(ctx); err != nil {
		log.Warn("Event bus drain incomplete", "error", err)
	}
	if err := deps.Processor.Shutdown(ctx); err != nil {
		log.Warn("Detail processor shutdown incomplete", "error", err)
	}
	if err := deps.DB.Close(); err != nil {
		log.Error("Database close error", "error", err)
	}

	log.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	if _, err := api.Load(context.Background()); err != nil {
		return nil, err
	}

	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gdb, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	pc := cfg.Payment
	razorpay := paymentgateway.NewRazorpayClient(paymentgateway.Config{
		KeyID:     pc.KeyID,
		KeySecret: pc.KeySecret,
		Timeout:   pc.GatewayTimeout,
	}, log)
	gateway := paymentgateway.NewBreakerGateway(razorpay, paymentgateway.BreakerConfig{
		FailureThreshold: pc.BreakerFailures,
		OpenTimeout:      pc.BreakerOpenTimeout,
	})

	bus := events.NewEventBus(log)

	payments := paymentpg.NewPaymentRepository(gdb)
	webhookLog := paymentpg.NewWebhookEventLog(db)
	cards := vcard.NewService(vcardpg.NewVCardRepository(gdb))
	users := authpg.NewUserRepository(gdb)

	orders := payment.NewOrderService(payments, cards, gateway, payment.OrderConfig{
		KeyID:    pc.KeyID,
		Currency: pc.Currency,
	}, log)
	reconciler := payment.NewReconciler(payments, cards, gateway, bus, payment.ReconcilerConfig{
		KeySecret:      pc.KeySecret,
		Currency:       pc.Currency,
		FetchTimeout:   pc.GatewayTimeout,
		AllowSynthesis: pc.AllowWebhookSynthesis,
	}, log)

	processor := payment.NewDetailProcessor(payment.ProcessorConfig{
		MaxWorkers:   pc.MaxWorkers,
		JobQueueSize: pc.JobQueueSize,
		FetchTimeout: pc.GatewayTimeout,
	}, gateway, payments, log)
	payment.NewEventHandler(processor, log).RegisterEventHandlers(bus)

	base := transport.NewBaseHandler(log)
	issuer := auth.NewTokenIssuer(cfg.Security.JWTSecret, cfg.Security.AccessTokenDuration)

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.Routes{
		Health:   rest.NewHealthHandler(db, gateway),
		Payments: payment.NewHandler(base, orders, reconciler),
		Webhooks: payment.NewWebhookHandler(base, reconciler, webhookLog, payment.WebhookConfig{
			Secret:  pc.WebhookSecret,
			Timeout: pc.WebhookTimeout,
		}),
		VCards:         vcard.NewHandler(base, cards),
		Users:          user.NewHandler(base, user.NewService(users, issuer, log)),
		Authenticate:   auth.NewMiddleware(base, issuer, users).Authenticate,
		OpenAPI:        api.Document(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log)

	log.Info("dependencies ready",
		"currency", pc.Currency,
		"webhook_synthesis", pc.AllowWebhookSynthesis,
		"breaker_failure_threshold", pc.BreakerFailures)

	return &Dependencies{
		Config:    cfg,
		DB:        db,
		Gorm:      gdb,
		Router:    router,
		Logger:    log,
		EventBus:  bus,
		Processor: processor,
	}, nil
}

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

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx pool so both layers see one set of connections.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
}
