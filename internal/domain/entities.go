// Package domain holds the entities, closed vocabularies and ports of the
// portfolio analysis pipeline. Adapters depend on this package, never the
// other way around.
package domain

import (
	"context"
	"time"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether s admits no further transitions.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

type JobKind string

const (
	KindPortfolioAnalysis JobKind = "portfolio_analysis"
	KindRetirementOnly    JobKind = "retirement_only"
)

// Slot names a payload field on the job record. Each slot has exactly one
// owning worker; workers never write another worker's slot.
type Slot string

const (
	SlotReport     Slot = "report"
	SlotCharts     Slot = "charts"
	SlotRetirement Slot = "retirement"
	SlotSummary    Slot = "summary"
)

// KnownSlot reports whether s is one of the four payload slots. Repo
// implementations use it to keep slot names out of dynamic SQL.
func KnownSlot(s Slot) bool {
	switch s {
	case SlotReport, SlotCharts, SlotRetirement, SlotSummary:
		return true
	}
	return false
}

// Job is one end-to-end analysis request.
// Invariants: status moves only along pending -> running -> (completed|failed);
// payload slots freeze once the status is terminal; updated_at never decreases.
type Job struct {
	ID             string
	UserRef        string
	Kind           JobKind
	Status         JobStatus
	Error          string
	RequestPayload RequestPayload
	Report         *string
	Charts         map[string]ChartDescriptor
	Retirement     *RetirementResult
	Summary        *RunSummary
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// JobMessage is the queue wire format: the job id and nothing else.
type JobMessage struct {
	JobID string `json:"job_id"`
}

// WorkerStatus is the per-specialist outcome recorded in the run summary.
type WorkerStatus struct {
	Status     string  `json:"status"` // "ok" or "failed"
	Error      string  `json:"error,omitempty"`
	DurationMS int64   `json:"duration_ms"`
	Turns      int     `json:"turns,omitempty"`
	Tokens     *Tokens `json:"tokens,omitempty"`
}

// Tokens is best-effort token accounting for one worker run.
type Tokens struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// RunSummary is the orchestrator-owned summary slot.
type RunSummary struct {
	Workers        map[string]WorkerStatus `json:"workers"`
	Classified     []string                `json:"classified,omitempty"`
	ClassifyErrors map[string]string       `json:"classify_errors,omitempty"`
	DurationMS     int64                   `json:"duration_ms"`
}

// RetirementResult is the retirement worker's slot payload.
type RetirementResult struct {
	Markdown   string     `json:"markdown"`
	Projection Projection `json:"projection"`
}

// Projection is the deterministic Monte-Carlo output handed to the
// retirement worker as prompt context and persisted alongside its markdown.
type Projection struct {
	SuccessProbability float64 `json:"success_probability"`
	PercentileBands    Bands   `json:"percentile_bands"`
	YearsToDepletion   *int    `json:"years_to_depletion,omitempty"`
	Simulations        int     `json:"simulations"`
}

// Bands holds terminal-balance percentiles across simulations.
type Bands struct {
	P10 float64 `json:"p10"`
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
}

// Snippet is one knowledge lookup hit.
type Snippet struct {
	Text  string
	Score float64
}

// Context is an alias so ports read uniformly; adapters pass context.Context.
type Context = context.Context

// Now returns UTC wall time; repos stamp created_at/updated_at with it.
func Now() time.Time { return time.Now().UTC() }
