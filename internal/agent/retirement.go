package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alexlabs/alex/internal/domain"
)

// WorkerRetirement is the retirement projector's name in summaries and
// events.
const WorkerRetirement = "retirement"

// NewRetirementWorker builds the retirement projector. The Monte-Carlo
// projection is computed before the loop and injected into the prompt; the
// commit_retirement tool pairs the model's markdown with that projection.
// Tool parameters stay primitive, so the projection never round-trips
// through the model.
func NewRetirementWorker(jobs domain.JobRepository, jobID string, p domain.Portfolio, projection domain.Projection, maxTurns int, budget time.Duration) Worker {
	reg := NewRegistry(WorkerRetirement)

	reg.Register(Tool{
		Decl: domain.ToolDecl{
			Name:        "commit_retirement",
			Description: "Commit the final retirement analysis. Call exactly once with the complete markdown.",
			Params: []domain.ToolParam{
				{Name: "markdown", Type: domain.ParamString, Description: "The full analysis in markdown.", Required: true},
			},
		},
		Handler: func(ctx domain.Context, args map[string]any) (string, error) {
			markdown := strings.TrimSpace(argString(args, "markdown"))
			if markdown == "" {
				return "", fmt.Errorf("%w: empty analysis", domain.ErrValidation)
			}
			result := domain.RetirementResult{
				Markdown:   markdown,
				Projection: projection,
			}
			if err := jobs.SetSlot(ctx, jobID, domain.SlotRetirement, result); err != nil {
				return "", err
			}
			return "retirement analysis committed", nil
		},
	})

	return Worker{
		Name:         WorkerRetirement,
		Slot:         domain.SlotRetirement,
		Instructions: instructionsFor(WorkerRetirement),
		UserPrompt:   retirementPrompt(p, projection),
		Registry:     reg,
		MaxTurns:     maxTurns,
		Budget:       budget,
		Committed: func(j domain.Job) bool {
			return j.Retirement != nil && j.Retirement.Markdown != ""
		},
	}
}

func retirementPrompt(p domain.Portfolio, projection domain.Projection) string {
	var b strings.Builder
	b.WriteString(portfolioContext(p))
	g := p.Goals
	fmt.Fprintf(&b, "\nRetirement goals: current age %d, retirement age %d, life expectancy %d, annual spending %.2f, annual contribution %.2f\n",
		g.CurrentAge, g.RetirementAge, g.LifeExpectancy, g.AnnualSpending, g.AnnualContribution)
	if raw, err := json.Marshal(projection); err == nil {
		fmt.Fprintf(&b, "\nMonte-Carlo projection: %s\n", raw)
	}
	return b.String()
}
