package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexlabs/alex/internal/domain"
)

type jobsStub struct {
	created  []domain.Job
	createID string
	getJob   domain.Job
	getErr   error
}

func (s *jobsStub) Create(_ domain.Context, j domain.Job) (string, error) {
	s.created = append(s.created, j)
	if s.createID == "" {
		return "job-1", nil
	}
	return s.createID, nil
}

func (s *jobsStub) Get(_ domain.Context, _ string) (domain.Job, error) {
	return s.getJob, s.getErr
}

func (s *jobsStub) UpdateStatus(domain.Context, string, domain.JobStatus, *string) error {
	return nil
}

func (s *jobsStub) SetSlot(domain.Context, string, domain.Slot, any) error { return nil }

func (s *jobsStub) MergeChart(domain.Context, string, string, domain.ChartDescriptor) error {
	return nil
}

type queueStub struct {
	enqueued []domain.JobMessage
	err      error
}

func (q *queueStub) EnqueueJob(_ domain.Context, msg domain.JobMessage) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, msg)
	return nil
}

func validPayload() domain.RequestPayload {
	return domain.RequestPayload{
		Accounts: []domain.Account{{
			Name:        "brokerage",
			CashBalance: 1000,
			Positions:   []domain.Position{{Symbol: "VTI", Quantity: 5, MarketValue: 1300}},
		}},
		Goals: domain.RetirementGoals{CurrentAge: 40, RetirementAge: 65, LifeExpectancy: 90, AnnualSpending: 50000},
	}
}

func TestSubmit_CreatesAndEnqueues(t *testing.T) {
	t.Parallel()
	jobs := &jobsStub{}
	queue := &queueStub{}
	svc := NewSubmitService(jobs, queue)

	id, err := svc.Submit(context.Background(), "user-1", domain.KindPortfolioAnalysis, validPayload())
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	require.Len(t, jobs.created, 1)
	assert.Equal(t, domain.JobPending, jobs.created[0].Status)
	assert.Equal(t, "user-1", jobs.created[0].UserRef)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, "job-1", queue.enqueued[0].JobID)
}

func TestSubmit_Validation(t *testing.T) {
	t.Parallel()
	svc := NewSubmitService(&jobsStub{}, &queueStub{})

	_, err := svc.Submit(context.Background(), "", domain.KindPortfolioAnalysis, validPayload())
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Submit(context.Background(), "user-1", domain.JobKind("bogus"), validPayload())
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	bad := validPayload()
	bad.Accounts[0].Positions[0].Quantity = -1
	_, err = svc.Submit(context.Background(), "user-1", domain.KindPortfolioAnalysis, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSubmit_EnqueueFailureSurfaces(t *testing.T) {
	t.Parallel()
	jobs := &jobsStub{}
	queue := &queueStub{err: errors.New("broker unreachable")}
	svc := NewSubmitService(jobs, queue)

	_, err := svc.Submit(context.Background(), "user-1", domain.KindPortfolioAnalysis, validPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
	assert.Len(t, jobs.created, 1)
}

func TestFetch_OmitsEmptySlots(t *testing.T) {
	t.Parallel()
	jobs := &jobsStub{getJob: domain.Job{
		ID:     "job-1",
		Kind:   domain.KindPortfolioAnalysis,
		Status: domain.JobRunning,
	}}
	svc := NewStatusService(jobs)

	body, err := svc.Fetch(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "running", body["status"])
	assert.NotContains(t, body, "report")
	assert.NotContains(t, body, "charts")
	assert.NotContains(t, body, "retirement")
	assert.NotContains(t, body, "summary")
	assert.NotContains(t, body, "error")
}

func TestFetch_IncludesPresentSlots(t *testing.T) {
	t.Parallel()
	report := "# Report"
	jobs := &jobsStub{getJob: domain.Job{
		ID:     "job-1",
		Status: domain.JobCompleted,
		Report: &report,
		Charts: map[string]domain.ChartDescriptor{"asset_mix": {Title: "Asset Mix"}},
		Retirement: &domain.RetirementResult{
			Markdown:   "# Retirement",
			Projection: domain.Projection{SuccessProbability: 0.9, Simulations: 1000},
		},
		Summary: &domain.RunSummary{Workers: map[string]domain.WorkerStatus{}},
	}}
	svc := NewStatusService(jobs)

	body, err := svc.Fetch(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "# Report", body["report"])
	assert.Contains(t, body, "charts")
	assert.Contains(t, body, "retirement")
	assert.Contains(t, body, "summary")
}

func TestFetch_NotFound(t *testing.T) {
	t.Parallel()
	svc := NewStatusService(&jobsStub{getErr: domain.ErrNotFound})
	_, err := svc.Fetch(context.Background(), "job-404")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Fetch(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
