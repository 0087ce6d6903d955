// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"time"

	"github.com/alexlabs/alex/internal/domain"
)

// SubmitService validates analysis requests, persists the job row and
// enqueues the job message.
type SubmitService struct {
	Jobs  domain.JobRepository
	Queue domain.Queue
}

// NewSubmitService constructs a SubmitService with its dependencies.
func NewSubmitService(j domain.JobRepository, q domain.Queue) SubmitService {
	return SubmitService{Jobs: j, Queue: q}
}

// Submit creates a pending job for the request and enqueues it. The queue
// write follows the job-row insert; on enqueue failure the row stays
// pending and the stuck-job sweeper eventually fails it.
func (s SubmitService) Submit(ctx domain.Context, userRef string, kind domain.JobKind, payload domain.RequestPayload) (string, error) {
	if userRef == "" {
		return "", fmt.Errorf("%w: user_ref required", domain.ErrInvalidArgument)
	}
	switch kind {
	case domain.KindPortfolioAnalysis, domain.KindRetirementOnly:
	default:
		return "", fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidArgument, kind)
	}
	p := domain.Portfolio{Accounts: payload.Accounts, Goals: payload.Goals}
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	now := time.Now().UTC()
	jobID, err := s.Jobs.Create(ctx, domain.Job{
		UserRef:        userRef,
		Kind:           kind,
		Status:         domain.JobPending,
		RequestPayload: payload,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return "", fmt.Errorf("op=submit: create: %w", err)
	}
	if err := s.Queue.EnqueueJob(ctx, domain.JobMessage{JobID: jobID}); err != nil {
		return "", fmt.Errorf("op=submit: enqueue: %w", err)
	}
	return jobID, nil
}
