package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/observability/metrics"
	"github.com/hackgods/clinic-appointments/internal/prescription"
	"github.com/hackgods/clinic-appointments/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile}).
		With("component", "expiry-worker")
	logger.Info("expiry worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval)

	if cfg.StoreBackend != config.BackendPostgres {
		logger.Error("expiry worker needs STORE_BACKEND=postgres")
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.DefaultPoolOptions(), logger)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	svc := prescription.NewService(prescription.Deps{
		Repo:         prescription.NewPgRepository(pgPool),
		Appointments: appointment.NewPgRepository(pgPool),
		Tx:           db.NewTxManager(pgPool, cfg.TxMaxAttempts, nil, logger),
		Metrics:      metrics.NewDomainMetrics(nil),
		Logger:       logger,
	})

	// Run once at startup
	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *prescription.Service, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.ExpireOverdue(runCtx)
	if err != nil {
		logger.Error("expiry run failed", "error", err)
		return
	}
	logger.Info("expiry run complete", "expired", n, "duration", time.Since(start))
}
