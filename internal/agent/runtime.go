package agent

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/alexlabs/alex/internal/domain"
	"github.com/alexlabs/alex/internal/observability"
)

// Worker parameterises one specialist run. The portfolio snapshot arrives
// pre-rendered in UserPrompt; workers never fetch it through tools.
type Worker struct {
	Name         string
	Slot         domain.Slot
	Instructions string
	UserPrompt   string
	Registry     *Registry
	MaxTurns     int
	Budget       time.Duration
	// Committed reports whether the worker's slot is present on the job
	// record. The chart worker layers its minimum-count rule on top.
	Committed func(j domain.Job) bool
}

// Outcome is one settled worker run. OK follows the result-commit rule: a
// worker is successful iff its slot was committed, even when the model loop
// itself errored afterwards.
type Outcome struct {
	Worker   string
	OK       bool
	Err      error
	Duration time.Duration
	Usage    domain.Usage
}

// Run executes the worker's model loop and verifies the slot commit.
// There is no job-level retry here; retries live in the model client.
func Run(ctx domain.Context, model domain.ModelClient, jobs domain.JobRepository, jobID string, w Worker) Outcome {
	tracer := otel.Tracer("agent.runtime")
	ctx, span := tracer.Start(ctx, "worker."+w.Name)
	defer span.End()

	emitter := observability.EmitterFromContext(ctx)
	emitter.WorkerStarted(ctx, w.Name)
	start := time.Now()

	if w.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Budget)
		defer cancel()
	}

	_, usage, loopErr := model.ChatTools(ctx, w.Instructions, w.UserPrompt,
		w.Registry.Decls(), w.Registry.Invoker(), w.MaxTurns)

	outcome := Outcome{
		Worker:   w.Name,
		Err:      loopErr,
		Duration: time.Since(start),
		Usage:    usage,
	}

	// Commit verification reads the slot regardless of how the loop ended:
	// slot content wins over a late loop error.
	readCtx := ctx
	if readCtx.Err() != nil {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}
	job, getErr := jobs.Get(readCtx, jobID)
	switch {
	case getErr != nil:
		outcome.OK = false
		if loopErr == nil {
			outcome.Err = fmt.Errorf("op=worker.%s: verify commit: %w", w.Name, getErr)
		}
	case w.Committed(job):
		outcome.OK = true
		outcome.Err = nil
	default:
		outcome.OK = false
		if loopErr == nil {
			outcome.Err = fmt.Errorf("op=worker.%s: %w", w.Name, domain.ErrSlotNotCommitted)
		}
	}

	if outcome.OK {
		emitter.WorkerCommitted(ctx, w.Name, outcome.Duration)
	} else {
		emitter.WorkerFailed(ctx, w.Name, outcome.Duration, outcome.Err)
	}
	return outcome
}
