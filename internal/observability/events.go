package observability

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event names emitted by the orchestrator and workers. Every event carries
// job_id as the correlation key. Emission is best-effort: it never returns
// an error and never blocks the critical path.
const (
	EventJobStarted               = "job_started"
	EventDuplicateDeliveryIgnored = "duplicate_delivery_ignored"
	EventClassificationStarted    = "classification_started"
	EventClassificationCompleted  = "classification_completed"
	EventClassificationFailed     = "classification_failed"
	EventWorkerStarted            = "worker_started"
	EventWorkerCommitted          = "worker_committed"
	EventWorkerFailed             = "worker_failed"
	EventToolInvoked              = "tool_invoked"
	EventModelRetry               = "model_retry"
	EventJobFinalized             = "job_finalized"
)

var (
	eventEntropyMu sync.Mutex
	eventEntropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // ULID entropy does not need crypto randomness.
)

func newEventID() string {
	eventEntropyMu.Lock()
	defer eventEntropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), eventEntropy)
	if err != nil {
		return ""
	}
	return id.String()
}

// Emitter writes the structured event stream for one job.
type Emitter struct {
	jobID string
}

// NewEmitter returns an emitter correlated on jobID.
func NewEmitter(jobID string) *Emitter { return &Emitter{jobID: jobID} }

// Emit writes one event with the given attributes appended.
func (e *Emitter) Emit(ctx context.Context, event string, attrs ...slog.Attr) {
	if e == nil {
		return
	}
	base := []slog.Attr{
		slog.String("event", event),
		slog.String("event_id", newEventID()),
		slog.String("job_id", e.jobID),
	}
	LoggerFromContext(ctx).LogAttrs(ctx, slog.LevelInfo, event, append(base, attrs...)...)
}

// JobStarted records the pending -> running transition.
func (e *Emitter) JobStarted(ctx context.Context) { e.Emit(ctx, EventJobStarted) }

// DuplicateDeliveryIgnored records a re-delivery of an already-advanced job.
func (e *Emitter) DuplicateDeliveryIgnored(ctx context.Context, status string) {
	e.Emit(ctx, EventDuplicateDeliveryIgnored, slog.String("status", status))
}

// ClassificationStarted records the start of one symbol classification.
func (e *Emitter) ClassificationStarted(ctx context.Context, symbol string) {
	e.Emit(ctx, EventClassificationStarted, slog.String("symbol", symbol))
}

// ClassificationCompleted records one classified symbol.
func (e *Emitter) ClassificationCompleted(ctx context.Context, symbol string, dur time.Duration) {
	e.Emit(ctx, EventClassificationCompleted, slog.String("symbol", symbol), slog.Duration("duration", dur))
}

// ClassificationFailed records a per-symbol classifier failure (non-fatal).
func (e *Emitter) ClassificationFailed(ctx context.Context, symbol string, err error) {
	e.Emit(ctx, EventClassificationFailed, slog.String("symbol", symbol), slog.Any("error", err))
}

// WorkerStarted records a specialist launch.
func (e *Emitter) WorkerStarted(ctx context.Context, worker string) {
	e.Emit(ctx, EventWorkerStarted, slog.String("worker", worker))
}

// WorkerCommitted records a specialist that settled with its slot written.
func (e *Emitter) WorkerCommitted(ctx context.Context, worker string, dur time.Duration) {
	WorkersFinishedTotal.WithLabelValues(worker, "ok").Inc()
	e.Emit(ctx, EventWorkerCommitted, slog.String("worker", worker), slog.Duration("duration", dur))
}

// WorkerFailed records a specialist failure.
func (e *Emitter) WorkerFailed(ctx context.Context, worker string, dur time.Duration, err error) {
	WorkersFinishedTotal.WithLabelValues(worker, "failed").Inc()
	e.Emit(ctx, EventWorkerFailed, slog.String("worker", worker), slog.Duration("duration", dur), slog.Any("error", err))
}

// ToolInvoked records one tool invocation with duration and result size.
func (e *Emitter) ToolInvoked(ctx context.Context, worker, tool string, dur time.Duration, resultBytes int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ToolInvocationsTotal.WithLabelValues(worker, tool, outcome).Inc()
	attrs := []slog.Attr{
		slog.String("worker", worker),
		slog.String("tool", tool),
		slog.Duration("duration", dur),
		slog.Int("result_bytes", resultBytes),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	e.Emit(ctx, EventToolInvoked, attrs...)
}

// ModelRetry records one backoff retry of a model call.
func (e *Emitter) ModelRetry(ctx context.Context, attempt int, reason string, wait time.Duration) {
	ModelRetriesTotal.WithLabelValues(reason).Inc()
	e.Emit(ctx, EventModelRetry, slog.Int("attempt", attempt), slog.String("reason", reason), slog.Duration("wait", wait))
}

// JobFinalized records the terminal transition with the final status.
func (e *Emitter) JobFinalized(ctx context.Context, status string, dur time.Duration) {
	JobsFinalizedTotal.WithLabelValues(status).Inc()
	e.Emit(ctx, EventJobFinalized, slog.String("status", status), slog.Duration("duration", dur))
}

type emitterContextKey struct{}

// ContextWithEmitter attaches the job's emitter to the context so tool and
// model layers can emit without threading the emitter explicitly.
func ContextWithEmitter(ctx context.Context, e *Emitter) context.Context {
	if ctx == nil || e == nil {
		return ctx
	}
	return context.WithValue(ctx, emitterContextKey{}, e)
}

// EmitterFromContext returns the attached emitter or nil.
func EmitterFromContext(ctx context.Context) *Emitter {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(emitterContextKey{}); v != nil {
		if e, ok := v.(*Emitter); ok {
			return e
		}
	}
	return nil
}
