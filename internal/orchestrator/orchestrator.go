// Package orchestrator runs the per-job state machine: pending-only
// pickup, pre-classification, parallel specialist fan-out, summary and
// terminal transition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/alexlabs/alex/internal/agent"
	"github.com/alexlabs/alex/internal/config"
	"github.com/alexlabs/alex/internal/domain"
	"github.com/alexlabs/alex/internal/montecarlo"
	"github.com/alexlabs/alex/internal/observability"
)

// Options bounds one orchestrator run.
type Options struct {
	ClassifierParallelism int
	NarrativeMaxTurns     int
	ChartsMaxTurns        int
	RetirementMaxTurns    int
	WorkerBudget          time.Duration
	Budget                time.Duration
}

// OptionsFromConfig maps the loaded configuration onto run options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ClassifierParallelism: cfg.ClassifierParallelism,
		NarrativeMaxTurns:     cfg.NarrativeMaxTurns,
		ChartsMaxTurns:        cfg.ChartsMaxTurns,
		RetirementMaxTurns:    cfg.RetirementMaxTurns,
		WorkerBudget:          cfg.WorkerBudget,
		Budget:                cfg.OrchestratorBudget,
	}
}

// Orchestrator coordinates one job end to end. It owns the summary slot
// and the terminal status; specialists own their payload slots.
type Orchestrator struct {
	jobs        domain.JobRepository
	instruments domain.InstrumentRepository
	model       domain.ModelClient
	knowledge   domain.KnowledgeSearcher
	classifier  *agent.Classifier
	sim         montecarlo.Simulator
	opts        Options
}

// New wires an orchestrator over the given ports.
func New(jobs domain.JobRepository, instruments domain.InstrumentRepository, model domain.ModelClient, knowledge domain.KnowledgeSearcher, opts Options) *Orchestrator {
	return &Orchestrator{
		jobs:        jobs,
		instruments: instruments,
		model:       model,
		knowledge:   knowledge,
		classifier:  agent.NewClassifier(model),
		sim:         montecarlo.New(),
		opts:        opts,
	}
}

// Process adapts Run to the queue consumer's handler shape.
func (o *Orchestrator) Process(ctx context.Context, msg domain.JobMessage) error {
	return o.Run(ctx, msg.JobID)
}

// Run drives one job. A nil return means the delivery is settled and may
// be acknowledged, including the case where the job finalized as failed.
// An error return leaves the message to the queue's redelivery policy.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "orchestrator.run")
	defer span.End()

	emitter := observability.NewEmitter(jobID)
	ctx = observability.ContextWithEmitter(ctx, emitter)
	ctx = observability.ContextWithLogger(ctx,
		observability.LoggerFromContext(ctx).With(slog.String("job_id", jobID)))

	if o.opts.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Budget)
		defer cancel()
	}

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=orchestrate: load %s: %w", jobID, err)
	}
	if job.Status != domain.JobPending {
		emitter.DuplicateDeliveryIgnored(ctx, string(job.Status))
		return nil
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, domain.JobRunning, nil); err != nil {
		// A concurrent consumer won the pending guard.
		if errors.Is(err, domain.ErrInvalidTransition) {
			emitter.DuplicateDeliveryIgnored(ctx, string(job.Status))
			return nil
		}
		return fmt.Errorf("op=orchestrate: start %s: %w", jobID, err)
	}
	emitter.JobStarted(ctx)
	observability.JobsRunning.Inc()
	defer observability.JobsRunning.Dec()
	start := time.Now()

	p := domain.Portfolio{Accounts: job.RequestPayload.Accounts, Goals: job.RequestPayload.Goals}
	if err := p.Validate(); err != nil {
		return o.finalize(ctx, emitter, jobID, domain.RunSummary{
			Workers:    map[string]domain.WorkerStatus{},
			DurationMS: time.Since(start).Milliseconds(),
		}, start, err)
	}

	classified, classifyErrs := o.classifyMissing(ctx, emitter, p.Symbols())
	instruments := o.loadClassified(ctx, p.Symbols())

	workers := o.workersFor(job, p, instruments)
	outcomes := make([]agent.Outcome, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w agent.Worker) {
			defer wg.Done()
			outcomes[i] = agent.Run(ctx, o.model, o.jobs, jobID, w)
		}(i, w)
	}
	wg.Wait()

	summary := buildSummary(outcomes, classified, classifyErrs, time.Since(start))
	return o.finalize(ctx, emitter, jobID, summary, start, joinError(outcomes))
}

// classifyMissing fills instrument-store gaps with bounded parallelism.
// Per-symbol failures are recorded and never block the fan-out.
func (o *Orchestrator) classifyMissing(ctx context.Context, emitter *observability.Emitter, symbols []string) ([]string, map[string]string) {
	if len(symbols) == 0 {
		return nil, nil
	}
	missing, err := o.instruments.ListMissing(ctx, symbols)
	if err != nil {
		observability.LoggerFromContext(ctx).WarnContext(ctx, "listing missing instruments failed",
			slog.Any("error", err))
		return nil, nil
	}

	var (
		mu         sync.Mutex
		classified []string
		failures   = map[string]string{}
	)
	g, gctx := errgroup.WithContext(ctx)
	parallelism := o.opts.ClassifierParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	g.SetLimit(parallelism)
	for _, symbol := range missing {
		g.Go(func() error {
			emitter.ClassificationStarted(gctx, symbol)
			begin := time.Now()

			// A partial record may exist; its display name and kind improve
			// the classifier prompt.
			ins, err := o.instruments.Get(gctx, symbol)
			if err != nil {
				ins = domain.Instrument{Symbol: symbol}
			}
			got, _, err := o.classifier.Classify(gctx, ins)
			if err == nil {
				err = o.instruments.Upsert(gctx, got)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				emitter.ClassificationFailed(gctx, symbol, err)
				failures[symbol] = err.Error()
				return nil
			}
			emitter.ClassificationCompleted(gctx, symbol, time.Since(begin))
			classified = append(classified, symbol)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(classified)
	if len(failures) == 0 {
		failures = nil
	}
	return classified, failures
}

// loadClassified returns the classified instruments for the prompt
// context, skipping symbols that are absent or still unclassified.
func (o *Orchestrator) loadClassified(ctx context.Context, symbols []string) []domain.Instrument {
	var out []domain.Instrument
	for _, symbol := range symbols {
		ins, err := o.instruments.Get(ctx, symbol)
		if err != nil || !ins.Classified() {
			continue
		}
		out = append(out, ins)
	}
	return out
}

// workersFor selects the specialists for the job's kind. Retirement-only
// jobs skip the narrative and chart workers.
func (o *Orchestrator) workersFor(job domain.Job, p domain.Portfolio, instruments []domain.Instrument) []agent.Worker {
	projection := o.sim.Project(p)
	retirement := agent.NewRetirementWorker(o.jobs, job.ID, p, projection, o.opts.RetirementMaxTurns, o.opts.WorkerBudget)
	if job.Kind == domain.KindRetirementOnly {
		return []agent.Worker{retirement}
	}
	return []agent.Worker{
		agent.NewNarrativeWorker(o.jobs, o.knowledge, job.ID, p, instruments, o.opts.NarrativeMaxTurns, o.opts.WorkerBudget),
		agent.NewChartsWorker(o.jobs, job.ID, p, instruments, o.opts.ChartsMaxTurns, o.opts.WorkerBudget),
		retirement,
	}
}

func buildSummary(outcomes []agent.Outcome, classified []string, classifyErrs map[string]string, elapsed time.Duration) domain.RunSummary {
	workers := make(map[string]domain.WorkerStatus, len(outcomes))
	for _, out := range outcomes {
		ws := domain.WorkerStatus{
			Status:     "ok",
			DurationMS: out.Duration.Milliseconds(),
			Turns:      out.Usage.Turns,
		}
		if !out.OK {
			ws.Status = "failed"
			if out.Err != nil {
				ws.Error = out.Err.Error()
			}
		}
		if total := out.Usage.Total(); total > 0 {
			ws.Tokens = &domain.Tokens{
				Prompt:     out.Usage.PromptTokens,
				Completion: out.Usage.CompletionTokens,
				Total:      total,
			}
		}
		workers[out.Worker] = ws
	}
	return domain.RunSummary{
		Workers:        workers,
		Classified:     classified,
		ClassifyErrors: classifyErrs,
		DurationMS:     elapsed.Milliseconds(),
	}
}

// joinError returns nil when at least one specialist succeeded, otherwise
// the aggregated failure reasons. Partial completion is allowed; the
// summary records which specialists failed.
func joinError(outcomes []agent.Outcome) error {
	if len(outcomes) == 0 {
		return errors.New("no specialists launched")
	}
	var reasons []string
	for _, out := range outcomes {
		if out.OK {
			return nil
		}
		if out.Err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", out.Worker, out.Err))
		} else {
			reasons = append(reasons, out.Worker+": failed")
		}
	}
	return errors.New(strings.Join(reasons, "; "))
}

// finalize writes the summary slot, then the terminal status. The summary
// write precedes the transition because slots freeze once the job is
// terminal; a failed write aborts finalization so redelivery can retry it.
func (o *Orchestrator) finalize(ctx context.Context, emitter *observability.Emitter, jobID string, summary domain.RunSummary, start time.Time, runErr error) error {
	// Finalization must proceed even when the run budget expired.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
	}

	if err := o.jobs.SetSlot(ctx, jobID, domain.SlotSummary, summary); err != nil {
		return fmt.Errorf("op=orchestrate: summary %s: %w", jobID, err)
	}

	status := domain.JobCompleted
	var errMsg *string
	if runErr != nil {
		status = domain.JobFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, status, errMsg); err != nil {
		return fmt.Errorf("op=orchestrate: finalize %s: %w", jobID, err)
	}

	if _, ran := summary.Workers[agent.WorkerCharts]; ran {
		if job, err := o.jobs.Get(ctx, jobID); err == nil {
			observability.ChartsCommitted.Observe(float64(len(job.Charts)))
		}
	}
	emitter.JobFinalized(ctx, string(status), time.Since(start))
	return nil
}
