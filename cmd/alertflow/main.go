package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/alertflow/alertflow/internal/alerts/adapters"
	"github.com/alertflow/alertflow/internal/config"
	"github.com/alertflow/alertflow/internal/database"
	"github.com/alertflow/alertflow/internal/handlers"
	"github.com/alertflow/alertflow/internal/jobs"
	"github.com/alertflow/alertflow/internal/logging"
	"github.com/alertflow/alertflow/internal/metrics"
	"github.com/alertflow/alertflow/internal/middleware"
	"github.com/alertflow/alertflow/internal/notification"
	"github.com/alertflow/alertflow/internal/services"
	"github.com/alertflow/alertflow/internal/slack"
	"github.com/alertflow/alertflow/internal/tasklock"
	"github.com/alertflow/alertflow/internal/workers"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded (this is fine if using environment variables): %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logging.New(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialise logging: %v", err)
	}
	defer func() { _ = zlog.Sync() }()
	zap.ReplaceGlobals(zlog)

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("alertflow stopped", zap.Error(err))
	}
	zlog.Info("shutdown complete")
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting alertflow",
		zap.Int("port", cfg.HTTPPort),
		zap.String("location", cfg.Location.String()),
		zap.String("jwt_secret_source", cfg.JWTSecretSource),
	)

	if err := database.Connect(cfg.DatabaseURL, gormLogLevel(cfg.LogLevel)); err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}()
	db := database.GetDB()

	if err := database.AutoMigrate(db); err != nil {
		return err
	}
	if err := database.InitializeDefaults(db, database.DefaultAdmin{
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
		Email:    cfg.AdminEmail,
	}, logging.Component(log, "database")); err != nil {
		return err
	}

	m := metrics.New()

	quorum := services.NewQuorumService(db, logging.Component(log, "quorum"))
	lifetimes := services.NewLifetimeService(db, logging.Component(log, "lifetime"))
	alertSvc := services.NewAlertService(db, cfg.Policy, quorum, lifetimes, m, logging.Component(log, "alerts"))
	tickets := services.NewTicketService(db, alertSvc, logging.Component(log, "tickets"))
	owners := services.NewOwnershipService(db, cfg.Policy)

	ingestPool := workers.New("ingest", cfg.IngestWorkers, cfg.IngestQueueSize, logging.Component(log, "ingest-pool"))
	mailPool := workers.New("mail", cfg.MailWorkers, cfg.MailQueueSize, logging.Component(log, "mail-pool"))
	defer stopPools(log, ingestPool, mailPool)

	mailer := notification.NewMailer(cfg.SMTP, logging.Component(log, "mailer"))
	chat := slack.NewNotifier(cfg.SlackWebhookURL, logging.Component(log, "slack"))
	stale := notification.NewStaleLockNotifier(owners, mailer, chat, cfg.Location, logging.Component(log, "stale-lock"))
	locks := tasklock.NewManager(db, stale, cfg.Location, m, logging.Component(log, "tasklock"))

	engine := notification.NewEngine(
		db, owners, mailer, mailPool,
		cfg.Policy.Throttle, cfg.Location, cfg.PortalURL,
		m, logging.Component(log, "notification"),
	)

	scheduler := jobs.NewScheduler(locks, cfg.Policy.Schedule.LockTTL, chat, m, logging.Component(log, "jobs"))
	scheduler.Register(jobs.Defaults(jobs.Deps{
		Alerts:    alertSvc,
		Quorum:    quorum,
		Lifetimes: lifetimes,
		Engine:    engine,
	}, cfg.Policy.Schedule)...)

	allow, err := middleware.NewIPAllowList(cfg.ReceiverAllowedIPs, logging.Component(log, "allowlist"))
	if err != nil {
		return fmt.Errorf("invalid RECEIVER_ALLOWED_IPS: %w", err)
	}
	jwtAuth := middleware.NewJWTAuthMiddleware(middleware.JWTAuthConfig{
		JWTSecret:      cfg.JWTSecret,
		JWTExpiryHours: cfg.JWTExpiryHours,
	}, db, logging.Component(log, "auth"))

	router := handlers.NewRouter(handlers.RouterConfig{
		Receiver:       handlers.NewAlertHandler(alertSvc, adapters.NewAlertmanagerAdapter(), ingestPool, m, logging.Component(log, "receiver")),
		API:            handlers.NewAPIHandler(services.NewQueryService(db), tickets, owners, locks, logging.Component(log, "api")),
		Auth:           handlers.NewAuthHandler(jwtAuth, logging.Component(log, "auth")),
		JWT:            jwtAuth,
		AllowList:      allow,
		Metrics:        m,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Start(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("received shutdown signal, cleaning up")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopPools(log *zap.Logger, pools ...*workers.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, p := range pools {
		if err := p.Stop(ctx); err != nil {
			log.Warn("worker pool did not drain", zap.Error(err))
		}
	}
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "error":
		return logger.Error
	default:
		return logger.Warn
	}
}
