package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/alexlabs/alex/internal/domain"
)

// JobRepo persists and loads jobs from PostgreSQL using a minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// slotColumn maps a slot to its jsonb column. Slot names never reach SQL
// through string interpolation of caller input; KnownSlot gates first.
func slotColumn(slot domain.Slot) (string, error) {
	if !domain.KnownSlot(slot) {
		return "", fmt.Errorf("%w: unknown slot %q", domain.ErrInvalidArgument, slot)
	}
	return string(slot) + "_payload", nil
}

// Create inserts a new pending job and returns its id.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = domain.JobPending
	}
	req, err := json.Marshal(j.RequestPayload)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	now := domain.Now()
	q := `INSERT INTO jobs (id, user_ref, kind, status, error, request_payload, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$7)`
	if _, err := r.Pool.Exec(ctx, q, id, j.UserRef, j.Kind, j.Status, j.Error, req, now); err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// Get loads a job by id, including all payload slots.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	q := `SELECT id, user_ref, kind, status, COALESCE(error,''), request_payload,
	             report_payload, charts_payload, retirement_payload, summary_payload,
	             created_at, updated_at, started_at, completed_at
	      FROM jobs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var (
		j                     domain.Job
		reqRaw                []byte
		reportRaw, chartsRaw  []byte
		retireRaw, summaryRaw []byte
	)
	err := row.Scan(&j.ID, &j.UserRef, &j.Kind, &j.Status, &j.Error, &reqRaw,
		&reportRaw, &chartsRaw, &retireRaw, &summaryRaw,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	if len(reqRaw) > 0 {
		if err := json.Unmarshal(reqRaw, &j.RequestPayload); err != nil {
			return domain.Job{}, fmt.Errorf("op=job.get: request payload: %w", err)
		}
	}
	if len(reportRaw) > 0 {
		var report string
		if err := json.Unmarshal(reportRaw, &report); err != nil {
			return domain.Job{}, fmt.Errorf("op=job.get: report payload: %w", err)
		}
		j.Report = &report
	}
	if len(chartsRaw) > 0 {
		if err := json.Unmarshal(chartsRaw, &j.Charts); err != nil {
			return domain.Job{}, fmt.Errorf("op=job.get: charts payload: %w", err)
		}
	}
	if len(retireRaw) > 0 {
		j.Retirement = &domain.RetirementResult{}
		if err := json.Unmarshal(retireRaw, j.Retirement); err != nil {
			return domain.Job{}, fmt.Errorf("op=job.get: retirement payload: %w", err)
		}
	}
	if len(summaryRaw) > 0 {
		j.Summary = &domain.RunSummary{}
		if err := json.Unmarshal(summaryRaw, j.Summary); err != nil {
			return domain.Job{}, fmt.Errorf("op=job.get: summary payload: %w", err)
		}
	}
	return j, nil
}

// priorStatus returns the only status a job may hold immediately before
// transitioning to target. Transitions are monotonic:
// pending -> running -> (completed|failed).
func priorStatus(target domain.JobStatus) (domain.JobStatus, error) {
	switch target {
	case domain.JobRunning:
		return domain.JobPending, nil
	case domain.JobCompleted, domain.JobFailed:
		return domain.JobRunning, nil
	}
	return "", fmt.Errorf("%w: cannot transition to %q", domain.ErrInvalidTransition, target)
}

// UpdateStatus advances a job's status, stamping started_at/completed_at as
// appropriate. The prior-status guard in the WHERE clause serialises
// concurrent deliveries: a second delivery matches zero rows.
func (r *JobRepo) UpdateStatus(ctx domain.Context, id string, status domain.JobStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()
	prior, err := priorStatus(status)
	if err != nil {
		return fmt.Errorf("op=job.update_status: %w", err)
	}
	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	now := domain.Now()
	q := `UPDATE jobs SET status=$2, error=$3, updated_at=$4,
	        started_at = CASE WHEN $2 = 'running' THEN $4 ELSE started_at END,
	        completed_at = CASE WHEN $2 IN ('completed','failed') THEN $4 ELSE completed_at END
	      WHERE id=$1 AND status=$5`
	tag, err := r.Pool.Exec(ctx, q, id, status, errVal, now, prior)
	if err != nil {
		return fmt.Errorf("op=job.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a guard miss.
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return fmt.Errorf("op=job.update_status: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=job.update_status: %w: job %s is not %s", domain.ErrInvalidTransition, id, prior)
	}
	return nil
}

// SetSlot replaces one payload slot in a single-row update. Repeating the
// call with an equal value leaves the record content unchanged. Writes to a
// terminal job are rejected: slots freeze on completion.
func (r *JobRepo) SetSlot(ctx domain.Context, id string, slot domain.Slot, value any) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetSlot")
	defer span.End()
	col, err := slotColumn(slot)
	if err != nil {
		return fmt.Errorf("op=job.set_slot: %w", err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("op=job.set_slot: %w", err)
	}
	q := fmt.Sprintf(`UPDATE jobs SET %s=$2, updated_at=$3 WHERE id=$1 AND status NOT IN ('completed','failed')`, col)
	tag, err := r.Pool.Exec(ctx, q, id, raw, domain.Now())
	if err != nil {
		return fmt.Errorf("op=job.set_slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return fmt.Errorf("op=job.set_slot: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=job.set_slot: %w: job %s is terminal", domain.ErrInvalidTransition, id)
	}
	return nil
}

// FailStale marks jobs stuck in a non-terminal status longer than maxAge
// as failed. Running jobs age from started_at, pending jobs from
// created_at (a pending job past maxAge lost its queue message).
func (r *JobRepo) FailStale(ctx domain.Context, maxAge time.Duration) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FailStale")
	defer span.End()
	now := domain.Now()
	cutoff := now.Add(-maxAge)
	q := `UPDATE jobs SET status='failed', error=$1, updated_at=$2, completed_at=$2
	      WHERE (status='running' AND started_at < $3)
	         OR (status='pending' AND created_at < $3)`
	tag, err := r.Pool.Exec(ctx, q, "timeout: job exceeded the processing age limit", now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=job.fail_stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// mergeAttempts bounds the optimistic retry loop; contention is at most the
// chart worker itself plus idempotent re-deliveries.
const mergeAttempts = 5

// MergeChart merges one chart into the charts slot under an optimistic
// version check. Other slots are full replacements and never go through
// this path.
func (r *JobRepo) MergeChart(ctx domain.Context, id string, key string, chart domain.ChartDescriptor) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.MergeChart")
	defer span.End()
	for attempt := 0; attempt < mergeAttempts; attempt++ {
		var (
			raw     []byte
			version int
		)
		row := r.Pool.QueryRow(ctx, `SELECT charts_payload, charts_version FROM jobs WHERE id=$1`, id)
		if err := row.Scan(&raw, &version); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("op=job.merge_chart: %w", domain.ErrNotFound)
			}
			return fmt.Errorf("op=job.merge_chart: %w", err)
		}
		charts := map[string]domain.ChartDescriptor{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &charts); err != nil {
				return fmt.Errorf("op=job.merge_chart: %w", err)
			}
		}
		charts[key] = chart
		merged, err := json.Marshal(charts)
		if err != nil {
			return fmt.Errorf("op=job.merge_chart: %w", err)
		}
		q := `UPDATE jobs SET charts_payload=$2, charts_version=charts_version+1, updated_at=$3
		      WHERE id=$1 AND charts_version=$4 AND status NOT IN ('completed','failed')`
		tag, err := r.Pool.Exec(ctx, q, id, merged, domain.Now(), version)
		if err != nil {
			return fmt.Errorf("op=job.merge_chart: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		// Version moved underneath us; re-read and retry.
	}
	return fmt.Errorf("op=job.merge_chart: %w: version conflict persisted", domain.ErrConflict)
}
