package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := logging.MustNew(cfg.LogLevel, cfg.LogFormat, "clinic-api")
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("timezone", cfg.ClinicTimezone),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	reg := prometheus.DefaultRegisterer
	schedMetrics := metrics.NewSchedulingMetrics(reg)

	// Redis only backs rate limiting; run without it rather than refuse to start.
	var (
		limiter   redisclient.Limiter
		redisPing api.PingFunc
	)
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.OptionsFromConfig(cfg))
	if err != nil {
		logger.Warn("redis unavailable, booking rate limiting disabled", zap.Error(err))
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		limiter = redisclient.NewFixedWindowLimiter(rdb, cfg.RateLimit, time.Minute)
		redisPing = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("connected to Redis")
	}

	svc := scheduling.NewService(
		scheduling.NewPgRepository(pgPool),
		logger.Named("scheduling"),
		cfg.Location,
		scheduling.WithMetrics(schedMetrics),
	)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Limiter:  limiter,
		Metrics:  schedMetrics,
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logger.Named("http"),
		Postgres: pgPool.Ping,
		Redis:    redisPing,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	logger.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
