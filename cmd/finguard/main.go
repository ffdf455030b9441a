// finguard is the transaction integrity and security monitoring service.
// It exposes the financial API, runs the detection rule engine, and keeps
// the audit trail.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fanvault/finguard/internal/alerting"
	"github.com/fanvault/finguard/internal/audit"
	"github.com/fanvault/finguard/internal/balance"
	"github.com/fanvault/finguard/internal/config"
	"github.com/fanvault/finguard/internal/database"
	"github.com/fanvault/finguard/internal/finance"
	"github.com/fanvault/finguard/internal/idempotency"
	"github.com/fanvault/finguard/internal/identity"
	"github.com/fanvault/finguard/internal/ledger"
	"github.com/fanvault/finguard/internal/maintenance"
	"github.com/fanvault/finguard/internal/policy"
	"github.com/fanvault/finguard/internal/security"
	"github.com/fanvault/finguard/internal/server"
	"github.com/fanvault/finguard/pkg/logger"
	"github.com/fanvault/finguard/pkg/metrics"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zlog, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	dispatcher, dashboard := buildAlerting(cfg, zlog)

	rules := security.NewRuleSet(security.DefaultRules()...)
	responder := security.NewResponder(zlog, dispatcher, cfg.ThrottleIPTTL, cfg.ThrottleUserTTL)
	intel := security.NewThreatIntel(zlog, cfg.ThreatFeedURL)
	recorder := security.NewRecorder(zlog, rules, responder, intel, cfg.EventHistoryLimit)

	registry := idempotency.NewRegistry(cfg.IdempotencyTTL)
	locks := balance.NewLockManager(cfg.BalanceLockTTL)
	gate := policy.NewGate(zlog, ledger.NewValidator(), registry, locks,
		identity.NewTOTPVerifier(map[string]string{}), cfg.MaxTransactionAmount)

	sink, err := buildAuditSink(cfg, zlog, db, dispatcher)
	if err != nil {
		return err
	}
	sink.Start()
	defer sink.Stop()

	svc := finance.NewService(zlog, db, gate, sink, recorder)

	var rateWindow *security.RedisWindow
	if cfg.RedisAddr != "" {
		rateWindow = security.NewRedisWindow(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rateWindow.Close()
	}

	srv := server.New(cfg.ListenAddr, server.Deps{
		Logger:     zlog,
		Finance:    svc,
		Gate:       gate,
		Sessions:   identity.NewJWTProvider(cfg.JWTSecret),
		Recorder:   recorder,
		Responder:  responder,
		Rules:      rules,
		Dashboard:  dashboard,
		RateWindow: rateWindow,
		RateLimit:  cfg.RateLimitPerMinute,
	})

	sched := maintenance.NewScheduler(zlog, maintenanceTasks(cfg, registry, locks, responder, recorder, intel)...)
	sched.Start(context.Background())
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		zlog.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	dispatcher.Wait()
	return nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.Database.DSN != "" {
		return database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	}
	// local runs fall back to an in-memory store
	return database.NewSQLiteDB()
}

func buildAlerting(cfg *config.Config, zlog *zap.Logger) (*alerting.Dispatcher, *alerting.DashboardAlerter) {
	dashboard := alerting.NewDashboardAlerter(500)
	alerters := []alerting.Alerter{dashboard}
	if cfg.AlertWebhookURL != "" {
		alerters = append(alerters, alerting.NewWebhookAlerter(cfg.AlertWebhookURL, nil, zlog))
	}
	if cfg.AlertChatURL != "" {
		alerters = append(alerters, alerting.NewChatAlerter(cfg.AlertChatURL))
	}
	if cfg.AlertEmailTo != "" {
		alerters = append(alerters, alerting.NewEmailAlerter(cfg.AlertWebhookURL, cfg.AlertEmailTo))
	}
	return alerting.NewDispatcher(zlog, alerters...), dashboard
}

func buildAuditSink(cfg *config.Config, zlog *zap.Logger, db *gorm.DB, dispatcher *alerting.Dispatcher) (*audit.Sink, error) {
	store, err := audit.NewGormStore(db)
	if err != nil {
		return nil, err
	}
	stores := []audit.Store{store}
	if len(cfg.KafkaBrokers) > 0 {
		stores = append(stores, audit.NewKafkaStore(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	sink := audit.NewSink(zlog, stores...)
	sink.SetFailureHandler(func(err error) {
		dispatcher.Dispatch(alerting.NewAlert(alerting.SeverityHigh,
			"audit trail write failure",
			err.Error(), nil))
	})
	return sink, nil
}

func maintenanceTasks(cfg *config.Config, registry *idempotency.Registry, locks *balance.LockManager,
	responder *security.Responder, recorder *security.Recorder, intel *security.ThreatIntel) []maintenance.Task {
	return []maintenance.Task{
		{
			Name:     "metrics-sample",
			Interval: cfg.MetricsInterval,
			Run: func(ctx context.Context) error {
				metrics.PendingIdempotencyKeys.Set(float64(registry.Len()))
				metrics.TrackedSources.Set(float64(recorder.SourceCount()))
				return nil
			},
		},
		{
			Name:     "threat-intel-refresh",
			Interval: cfg.ThreatIntelInterval,
			Run:      intel.Refresh,
		},
		{
			Name:     "expired-state-cleanup",
			Interval: cfg.CleanupInterval,
			Run: func(ctx context.Context) error {
				metrics.PendingIdempotencyKeys.Set(float64(registry.Sweep()))
				metrics.ActiveBalanceLocks.Set(float64(locks.Sweep()))
				throttles, blocks := responder.Sweep()
				metrics.ActiveThrottles.Set(float64(throttles))
				metrics.BlockedSources.Set(float64(blocks))
				recorder.Sweep(24 * time.Hour)
				return nil
			},
		},
	}
}
