// Command worker consumes job messages from the queue and runs the
// orchestrator for each.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/alexlabs/alex/internal/adapter/ai"
	"github.com/alexlabs/alex/internal/adapter/queue/redpanda"
	"github.com/alexlabs/alex/internal/adapter/repo/postgres"
	qdrantcli "github.com/alexlabs/alex/internal/adapter/vector/qdrant"
	"github.com/alexlabs/alex/internal/app"
	"github.com/alexlabs/alex/internal/config"
	"github.com/alexlabs/alex/internal/observability"
	"github.com/alexlabs/alex/internal/orchestrator"
	"github.com/alexlabs/alex/internal/service/ratelimiter"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	// Dedicated metrics endpoint; the worker serves no API traffic.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	jobRepo := postgres.NewJobRepo(pool)
	instrumentRepo := postgres.NewInstrumentRepo(pool)

	// Model-call throttle; without Redis the limiter runs open and the
	// client relies on backoff alone.
	var limiter ratelimiter.Limiter
	if cfg.RedisURL != "" && cfg.ModelCallsPerMin > 0 {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("redis url parse failed", slog.Any("error", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		limiter = ratelimiter.NewRedisLuaLimiter(rdb, map[string]ratelimiter.BucketConfig{
			"model": ratelimiter.NewBucketConfigFromPerMinute(cfg.ModelCallsPerMin),
		})
	}
	model := ai.New(cfg, limiter)

	qcli := qdrantcli.New(cfg.QdrantURL, cfg.QdrantAPIKey)
	if err := qcli.EnsureCollection(ctx, cfg.KnowledgeIndex, cfg.KnowledgeVecSize); err != nil {
		slog.Warn("knowledge collection bootstrap failed", slog.Any("error", err))
	}
	knowledge := qdrantcli.NewKnowledgeSearcher(model, qcli, cfg.KnowledgeIndex)

	orch := orchestrator.New(jobRepo, instrumentRepo, model, knowledge,
		orchestrator.OptionsFromConfig(cfg))

	consumer, err := redpanda.NewConsumer(redpanda.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     "alex-workers",
		Topic:       cfg.JobsTopic,
		DLQTopic:    cfg.JobsDLQTopic,
		MaxReceive:  cfg.MaxReceiveCount,
		Concurrency: cfg.ConsumerConcurrency,
	}, orch.Process)
	if err != nil {
		slog.Error("queue consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	if sweeper := app.NewStuckJobSweeper(jobRepo, cfg.StuckJobMaxAge, 0); sweeper != nil {
		go sweeper.Run(ctx)
	}

	slog.Info("starting queue consumer",
		slog.String("topic", cfg.JobsTopic),
		slog.Int("concurrency", cfg.ConsumerConcurrency))
	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("consumer error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
