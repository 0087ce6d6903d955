package usecase

import (
	"fmt"

	"github.com/alexlabs/alex/internal/domain"
)

// StatusService provides read access to job state and assembles the API
// response shape: status plus whichever payload slots are present.
type StatusService struct {
	Jobs domain.JobRepository
}

// NewStatusService constructs a StatusService with the given repository.
func NewStatusService(j domain.JobRepository) StatusService {
	return StatusService{Jobs: j}
}

// Fetch returns the response body for one job. Payload slots are omitted
// when empty.
func (s StatusService) Fetch(ctx domain.Context, id string) (map[string]any, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id required", domain.ErrInvalidArgument)
	}
	job, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("op=status: %w", err)
	}

	body := map[string]any{
		"job_id":     job.ID,
		"status":     string(job.Status),
		"kind":       string(job.Kind),
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
	if job.Error != "" {
		body["error"] = job.Error
	}
	if job.Report != nil && *job.Report != "" {
		body["report"] = *job.Report
	}
	if len(job.Charts) > 0 {
		body["charts"] = job.Charts
	}
	if job.Retirement != nil {
		body["retirement"] = job.Retirement
	}
	if job.Summary != nil {
		body["summary"] = job.Summary
	}
	return body, nil
}
