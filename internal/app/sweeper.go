package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// StaleJobFailer fails jobs left in a non-terminal status beyond maxAge.
type StaleJobFailer interface {
	FailStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// StuckJobSweeper periodically fails jobs abandoned mid-run, for example
// when a worker process died between pickup and finalization.
type StuckJobSweeper struct {
	jobs     StaleJobFailer
	maxAge   time.Duration
	interval time.Duration
}

// NewStuckJobSweeper constructs a sweeper; zero durations fall back to
// 10 minutes max age and 1 minute interval.
func NewStuckJobSweeper(jobs StaleJobFailer, maxAge, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckJobSweeper{jobs: jobs, maxAge: maxAge, interval: interval}
}

// Run sweeps until the context is cancelled.
func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()
	span.SetAttributes(attribute.Float64("jobs.max_age_seconds", s.maxAge.Seconds()))

	n, err := s.jobs.FailStale(ctx, s.maxAge)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck job sweep failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		slog.Warn("stuck jobs failed by sweeper", slog.Int64("count", n))
	}
}
