package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alexlabs/alex/internal/domain"
)

// memJobs is an in-memory domain.JobRepository that enforces the status
// transition guard and the terminal slot freeze the way the store does.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemJobs() *memJobs { return &memJobs{jobs: map[string]*domain.Job{}} }

func (m *memJobs) put(j domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := j
	m.jobs[j.ID] = &cp
}

func (m *memJobs) Create(_ domain.Context, j domain.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == "" {
		j.ID = fmt.Sprintf("job-%d", len(m.jobs)+1)
	}
	if j.Status == "" {
		j.Status = domain.JobPending
	}
	cp := j
	m.jobs[j.ID] = &cp
	return j.ID, nil
}

func (m *memJobs) Get(_ domain.Context, id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return *j, nil
}

func (m *memJobs) UpdateStatus(_ domain.Context, id string, status domain.JobStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	valid := (status == domain.JobRunning && j.Status == domain.JobPending) ||
		(status.Terminal() && j.Status == domain.JobRunning)
	if !valid {
		return domain.ErrInvalidTransition
	}
	j.Status = status
	if errMsg != nil {
		j.Error = *errMsg
	}
	now := time.Now()
	if status == domain.JobRunning {
		j.StartedAt = &now
	}
	if status.Terminal() {
		j.CompletedAt = &now
	}
	return nil
}

func (m *memJobs) SetSlot(_ domain.Context, id string, slot domain.Slot, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job is terminal", domain.ErrInvalidTransition)
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

func (m *memJobs) MergeChart(_ domain.Context, id string, key string, chart domain.ChartDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job is terminal", domain.ErrInvalidTransition)
	}
	if j.Charts == nil {
		j.Charts = map[string]domain.ChartDescriptor{}
	}
	j.Charts[key] = chart
	return nil
}

// memInstruments is an in-memory domain.InstrumentRepository.
type memInstruments struct {
	mu    sync.Mutex
	items map[string]domain.Instrument
}

func newMemInstruments(seed ...domain.Instrument) *memInstruments {
	m := &memInstruments{items: map[string]domain.Instrument{}}
	for _, ins := range seed {
		m.items[ins.Symbol] = ins
	}
	return m
}

func (m *memInstruments) Get(_ domain.Context, symbol string) (domain.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ins, ok := m.items[symbol]
	if !ok {
		return domain.Instrument{}, domain.ErrNotFound
	}
	return ins, nil
}

func (m *memInstruments) Upsert(_ domain.Context, ins domain.Instrument) error {
	if err := ins.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[ins.Symbol] = ins
	return nil
}

func (m *memInstruments) ListMissing(_ domain.Context, symbols []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range symbols {
		if ins, ok := m.items[s]; ok && ins.Classified() {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// stubKnowledge returns fixed snippets.
type stubKnowledge struct{ snippets []domain.Snippet }

func (s *stubKnowledge) Search(domain.Context, string, int) ([]domain.Snippet, error) {
	return s.snippets, nil
}

// stubModel scripts both chat modes. The default tool behaviour plays a
// cooperative model: it commits whatever slot the offered tools allow.
type stubModel struct {
	schemaReply string
	schemaErr   error

	// toolsErr is returned after any scripted calls; skipCommit ends the
	// loop without committing anything; chartCount defaults to 4.
	toolsErr   error
	skipCommit bool
	chartCount int

	mu        sync.Mutex
	toolLoops []string
}

func classifiedReply() string {
	return `{"asset_class":{"equity":100},"region":{"north_america":100},"sector":{"technology":100}}`
}

func (m *stubModel) ChatSchema(domain.Context, string, string, string, map[string]any) (string, domain.Usage, error) {
	if m.schemaErr != nil {
		return "", domain.Usage{Turns: 1}, m.schemaErr
	}
	reply := m.schemaReply
	if reply == "" {
		reply = classifiedReply()
	}
	return reply, domain.Usage{Turns: 1, PromptTokens: 12, CompletionTokens: 6}, nil
}

func (m *stubModel) ChatTools(ctx domain.Context, _, _ string, tools []domain.ToolDecl, invoke domain.ToolInvoker, _ int) (string, domain.Usage, error) {
	m.mu.Lock()
	if len(tools) > 0 {
		m.toolLoops = append(m.toolLoops, tools[0].Name)
	}
	m.mu.Unlock()

	usage := domain.Usage{Turns: 2, PromptTokens: 100, CompletionTokens: 40}
	if m.skipCommit {
		return "done without committing", usage, m.toolsErr
	}
	for _, tool := range tools {
		switch tool.Name {
		case "commit_report":
			_, _ = invoke(ctx, "commit_report", map[string]any{"markdown": "# Portfolio Report"})
		case "commit_retirement":
			_, _ = invoke(ctx, "commit_retirement", map[string]any{"markdown": "# Retirement Outlook"})
		case "create_chart":
			n := m.chartCount
			if n == 0 {
				n = 4
			}
			for i := 0; i < n; i++ {
				_, _ = invoke(ctx, "create_chart", map[string]any{
					"title":      fmt.Sprintf("Chart %d", i+1),
					"chart_type": "pie",
					"names":      []any{"a", "b"},
					"values":     []any{60.0, 40.0},
					"colors":     []any{"4f46e5", "10b981"},
				})
			}
		}
	}
	return "done", usage, m.toolsErr
}

func (m *stubModel) Embed(domain.Context, []string) ([][]float32, error) { return nil, nil }
