package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"activation-orchestrator/internal/activation/gateway"
	"activation-orchestrator/internal/activation/journal"
	"activation-orchestrator/internal/activation/landing"
	"activation-orchestrator/internal/activation/orchestrator"
	"activation-orchestrator/internal/activation/reconciler"
	"activation-orchestrator/internal/common/config"
	"activation-orchestrator/internal/common/database"
	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/common/observability"
	"activation-orchestrator/internal/common/payments"
	"activation-orchestrator/internal/common/session"
	"activation-orchestrator/internal/models"
	"activation-orchestrator/internal/server"
)

func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.Build(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})

	zapLog.Info("Starting activation server...", zap.String("environment", cfg.App.Environment))

	obs := observability.New(cfg.App.Name, cfg.Tracing, log)
	defer obs.Shutdown(context.Background())

	ctx := context.Background()

	// --- Session store & confirmation ledger ---
	var (
		redis  *database.RedisClient
		store  session.CredentialStore
		ledger landing.Ledger
	)
	if cfg.Session.Redis.Address != "" {
		err = retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Session.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")

		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redis.Close()
		zapLog.Info("Redis connected successfully")

		store = session.NewRedisCredentialStore(redis.Client, cfg.Session.KeyPrefix)
		ledger = landing.NewRedisLedger(redis.Client, cfg.Landing.LedgerPrefix)
	} else {
		zapLog.Warn("No Redis configured; using the static session token and an in-memory ledger")
		store = session.NewStaticStore(cfg.Session.StaticToken)
		ledger = landing.NewMemoryLedger()
	}

	// --- Activation journal ---
	var (
		pg  *database.PostgresClient
		rec journal.Recorder = journal.NopRecorder{}
	)
	if cfg.Journal.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Journal.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		pgRec := journal.NewPostgresRecorder(pg, log)
		if err := pgRec.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("journal schema setup failed", zap.Error(err))
		}
		rec = pgRec
		zapLog.Info("PostgreSQL connected successfully, activation journal enabled")
	}

	// --- Gateway ---
	registrar, err := payments.NewRegistrar(cfg.Payment)
	if err != nil {
		zapLog.Fatal("payment registrar setup failed", zap.Error(err))
	}
	zapLog.Info("Card registrar configured", zap.String("provider", registrar.Name()))

	factory := gateway.NewFactory(cfg.Backend, registrar, obs, log)

	registry := server.NewRegistry(factory, store, orchestrator.Options{
		Order: models.OrderDescriptor{
			OrderName: cfg.Payment.OrderName,
			Amount:    cfg.Payment.Amount,
		},
		ActionTimeout: config.GetDuration(cfg.Backend.ActionTimeout),
		Reconcile: reconciler.Options{
			MaxConsistencyRefetches: cfg.Reconcile.MaxConsistencyRefetches,
			StaleAfter:              config.GetDuration(cfg.Reconcile.StaleAfter),
		},
	}, orchestrator.Deps{
		Journal:       rec,
		Observability: obs,
		Logger:        log,
	}).WithLimits(time.Duration(cfg.Session.IdleTTL)*time.Second, cfg.Session.MaxSessions)
	defer registry.CloseAll()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go registry.RunSweeper(sweepCtx, time.Duration(cfg.Session.SweepInterval)*time.Second)

	landingHandler := landing.NewHandler(ledger, time.Duration(cfg.Landing.LedgerTTL)*time.Second, rec, log)

	// --- HTTP ---
	deps := server.RouterDependencies{
		Health:         server.StoreHealthService{Redis: redis, Postgres: pg},
		API:            server.NewAPIHandlers(log, registry, landingHandler, cfg.Server.SessionHeader, cfg.Server.SessionCookie),
		Observability:  obs,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		// session cookies must cross origins
		AllowCredentials: true,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = promhttp.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}

	srv := server.New(log, cfg.Server, server.NewRouter(log, deps))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		zapLog.Info("Shutdown signal received, stopping server...")
	case err := <-errCh:
		if err != nil {
			zapLog.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}

	zapLog.Info("Activation server stopped gracefully", zap.Int("sessions", registry.Len()))
}
