package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-appointments/internal/api"
	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/directory"
	"github.com/hackgods/clinic-appointments/internal/observability/metrics"
	"github.com/hackgods/clinic-appointments/internal/prescription"
	redisclient "github.com/hackgods/clinic-appointments/internal/redis"
	"github.com/hackgods/clinic-appointments/internal/schedule"
	"github.com/hackgods/clinic-appointments/internal/store/memory"
	"github.com/hackgods/clinic-appointments/pkg/logging"
)

var version = "dev"

type repositories struct {
	users         directory.Repository
	schedules     schedule.Repository
	appointments  appointment.Repository
	prescriptions prescription.Repository
	tx            db.Transactor
	pinger        api.Pinger
	close         func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	logger.Info("api-server starting up",
		"env", cfg.Env,
		"http_port", cfg.HTTPPort,
		"store", cfg.StoreBackend,
		"version", version,
	)

	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	txMetrics := metrics.NewTxMetrics(reg)
	domainMetrics := metrics.NewDomainMetrics(reg)

	repos, err := openStore(rootCtx, cfg, txMetrics, logger)
	if err != nil {
		logger.Error("store setup failed", "error", err)
		os.Exit(1)
	}
	defer repos.close()

	var (
		locker redisclient.Locker = redisclient.NoopLocker{}
		rdb    *redis.Client
	)
	if !cfg.RedisDisabled {
		rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Error("redis connection error", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "error", err)
			}
		}()
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
	}

	schedules := schedule.NewService(repos.schedules, repos.tx, logger.With("component", "schedule"),
		schedule.WithLocation(cfg.ScheduleTimezone))
	appointments := appointment.NewService(appointment.Deps{
		Repo:    repos.appointments,
		Slots:   schedules,
		Users:   repos.users,
		Tx:      repos.tx,
		Locker:  locker,
		Metrics: domainMetrics,
		Logger:  logger.With("component", "appointment"),
	})
	prescriptions := prescription.NewService(prescription.Deps{
		Repo:         repos.prescriptions,
		Appointments: repos.appointments,
		Tx:           repos.tx,
		Metrics:      domainMetrics,
		Logger:       logger.With("component", "prescription"),
	})

	router := api.NewRouter(api.RouterConfig{
		Appointments:  appointments,
		Schedules:     schedules,
		Prescriptions: prescriptions,
		Users:         repos.users,
		JWTSecret:     []byte(cfg.JWTSecret),
		Logger:        logger,
		Metrics:       metrics.NewHTTPMetrics(reg),
		Gatherer:      reg,
		PgPool:        repos.pinger,
		Redis:         rdb,
		Env:           cfg.Env,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server", "timeout", cfg.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.Config, obs db.TxObserver, logger *logging.Logger) (*repositories, error) {
	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		store := memory.New(memory.WithMaxAttempts(cfg.TxMaxAttempts), memory.WithObserver(obs))
		return &repositories{
			users:         store.Users(),
			schedules:     store.Schedules(),
			appointments:  store.Appointments(),
			prescriptions: store.Prescriptions(),
			tx:            store,
			close:         func() {},
		}, nil
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.DefaultPoolOptions(), logger)
	if err != nil {
		return nil, err
	}

	return &repositories{
		users:         directory.NewPgRepository(pool),
		schedules:     schedule.NewPgRepository(pool),
		appointments:  appointment.NewPgRepository(pool),
		prescriptions: prescription.NewPgRepository(pool),
		tx:            db.NewTxManager(pool, cfg.TxMaxAttempts, obs, logger.With("component", "tx")),
		pinger:        pool,
		close:         pool.Close,
	}, nil
}
