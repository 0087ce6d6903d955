// Command server starts the HTTP API: job submission and status polling.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/alexlabs/alex/internal/adapter/httpserver"
	"github.com/alexlabs/alex/internal/adapter/queue/redpanda"
	"github.com/alexlabs/alex/internal/adapter/repo/postgres"
	"github.com/alexlabs/alex/internal/app"
	"github.com/alexlabs/alex/internal/config"
	"github.com/alexlabs/alex/internal/observability"
	"github.com/alexlabs/alex/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers, cfg.JobsTopic, "alex-server-producer")
	if err != nil {
		slog.Error("queue producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("redis url parse failed", slog.Any("error", err))
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
	}

	jobRepo := postgres.NewJobRepo(pool)
	srv := httpserver.NewServer(cfg,
		usecase.NewSubmitService(jobRepo, producer),
		usecase.NewStatusService(jobRepo))

	var redisCheck app.RedisClient
	if rdb != nil {
		redisCheck = redisAdapter{rdb}
	}
	checks := app.BuildReadinessChecks(cfg, pool, redisCheck)
	handler := app.BuildRouter(cfg, srv, app.ReadyzHandler(checks))

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		slog.Info("http server listening", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", slog.Any("error", err))
	}
	slog.Info("server stopped")
}

// redisAdapter narrows *redis.Client to the readiness interface.
type redisAdapter struct{ rdb *redis.Client }

func (a redisAdapter) Ping(ctx context.Context) app.RedisPingResult {
	return a.rdb.Ping(ctx)
}
