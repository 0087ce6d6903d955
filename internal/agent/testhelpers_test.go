package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alexlabs/alex/internal/domain"
)

// fakeJobs is an in-memory domain.JobRepository for worker tests.
type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newFakeJobs(jobIDs ...string) *fakeJobs {
	f := &fakeJobs{jobs: map[string]*domain.Job{}}
	for _, id := range jobIDs {
		f.jobs[id] = &domain.Job{ID: id, Status: domain.JobRunning}
	}
	return f
}

func (f *fakeJobs) Create(_ domain.Context, j domain.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j.ID == "" {
		j.ID = fmt.Sprintf("job-%d", len(f.jobs)+1)
	}
	cp := j
	f.jobs[j.ID] = &cp
	return j.ID, nil
}

func (f *fakeJobs) Get(_ domain.Context, id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return *j, nil
}

func (f *fakeJobs) UpdateStatus(_ domain.Context, id string, status domain.JobStatus, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = status
	if errMsg != nil {
		j.Error = *errMsg
	}
	return nil
}

func (f *fakeJobs) SetSlot(_ domain.Context, id string, slot domain.Slot, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	switch slot {
	case domain.SlotReport:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		j.Report = &s
	case domain.SlotRetirement:
		j.Retirement = &domain.RetirementResult{}
		return json.Unmarshal(raw, j.Retirement)
	case domain.SlotSummary:
		j.Summary = &domain.RunSummary{}
		return json.Unmarshal(raw, j.Summary)
	case domain.SlotCharts:
		return json.Unmarshal(raw, &j.Charts)
	default:
		return domain.ErrInvalidArgument
	}
	return nil
}

func (f *fakeJobs) MergeChart(_ domain.Context, id string, key string, chart domain.ChartDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Charts == nil {
		j.Charts = map[string]domain.ChartDescriptor{}
	}
	j.Charts[key] = chart
	return nil
}

// fakeModel scripts ChatTools/ChatSchema behaviour for runtime tests.
type fakeModel struct {
	// toolScript drives ChatTools: each entry is one tool call to issue
	// before the final reply.
	toolScript []struct {
		name string
		args map[string]any
	}
	finalReply string
	toolsErr   error

	schemaReply string
	schemaErr   error
	gotSchema   map[string]any
	gotUser     string
}

func (m *fakeModel) ChatSchema(_ domain.Context, _, user string, _ string, schema map[string]any) (string, domain.Usage, error) {
	m.gotSchema = schema
	m.gotUser = user
	if m.schemaErr != nil {
		return "", domain.Usage{Turns: 1}, m.schemaErr
	}
	return m.schemaReply, domain.Usage{Turns: 1, PromptTokens: 10, CompletionTokens: 5}, nil
}

func (m *fakeModel) ChatTools(ctx domain.Context, _, _ string, _ []domain.ToolDecl, invoke domain.ToolInvoker, _ int) (string, domain.Usage, error) {
	usage := domain.Usage{}
	for _, call := range m.toolScript {
		usage.Turns++
		if _, err := invoke(ctx, call.name, call.args); err != nil {
			// The real client feeds tool errors back to the model; the
			// script just keeps going.
			continue
		}
	}
	usage.Turns++
	if m.toolsErr != nil {
		return "", usage, m.toolsErr
	}
	return m.finalReply, usage, nil
}

func (m *fakeModel) Embed(domain.Context, []string) ([][]float32, error) {
	return nil, nil
}

func toolCallScript(calls ...struct {
	name string
	args map[string]any
}) []struct {
	name string
	args map[string]any
} {
	return calls
}

func call(name string, args map[string]any) struct {
	name string
	args map[string]any
} {
	return struct {
		name string
		args map[string]any
	}{name: name, args: args}
}
