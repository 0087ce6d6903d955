package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/alexlabs/alex/internal/domain"
)

// WorkerNarrative is the narrative writer's name in summaries and events.
const WorkerNarrative = "narrative"

// NewNarrativeWorker builds the narrative writer: fetch_knowledge grounds
// claims in the knowledge index, commit_report writes the report slot.
func NewNarrativeWorker(jobs domain.JobRepository, knowledge domain.KnowledgeSearcher, jobID string, p domain.Portfolio, instruments []domain.Instrument, maxTurns int, budget time.Duration) Worker {
	reg := NewRegistry(WorkerNarrative)

	reg.Register(Tool{
		Decl: domain.ToolDecl{
			Name:        "fetch_knowledge",
			Description: "Search the market knowledge base and return the most relevant snippets.",
			Params: []domain.ToolParam{
				{Name: "query", Type: domain.ParamString, Description: "What to look up.", Required: true},
				{Name: "k", Type: domain.ParamNumber, Description: "How many snippets to return, default 5."},
			},
		},
		Handler: func(ctx domain.Context, args map[string]any) (string, error) {
			k := int(argNumber(args, "k"))
			snippets, err := knowledge.Search(ctx, argString(args, "query"), k)
			if err != nil {
				// Knowledge failures are non-fatal: the model proceeds
				// without grounding.
				return fmt.Sprintf("knowledge lookup unavailable: %v", err), nil
			}
			if len(snippets) == 0 {
				return "no relevant knowledge found", nil
			}
			var b strings.Builder
			for i, s := range snippets {
				fmt.Fprintf(&b, "[%d] (score %.2f) %s\n", i+1, s.Score, s.Text)
			}
			return b.String(), nil
		},
	})

	reg.Register(Tool{
		Decl: domain.ToolDecl{
			Name:        "commit_report",
			Description: "Commit the final markdown report. Call exactly once with the complete text.",
			Params: []domain.ToolParam{
				{Name: "markdown", Type: domain.ParamString, Description: "The full report in markdown.", Required: true},
			},
		},
		Handler: func(ctx domain.Context, args map[string]any) (string, error) {
			markdown := strings.TrimSpace(argString(args, "markdown"))
			if markdown == "" {
				return "", fmt.Errorf("%w: empty report", domain.ErrValidation)
			}
			if err := jobs.SetSlot(ctx, jobID, domain.SlotReport, markdown); err != nil {
				return "", err
			}
			return "report committed", nil
		},
	})

	return Worker{
		Name:         WorkerNarrative,
		Slot:         domain.SlotReport,
		Instructions: instructionsFor(WorkerNarrative),
		UserPrompt:   portfolioContext(p) + instrumentsContext(instruments),
		Registry:     reg,
		MaxTurns:     maxTurns,
		Budget:       budget,
		Committed: func(j domain.Job) bool {
			return j.Report != nil && *j.Report != ""
		},
	}
}
