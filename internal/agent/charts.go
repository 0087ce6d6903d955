package agent

import (
	"fmt"
	"time"

	"github.com/alexlabs/alex/internal/domain"
)

// WorkerCharts is the chart builder's name in summaries and events.
const WorkerCharts = "charts"

// MinCharts is the commit threshold: fewer committed charts than this is a
// worker failure even when the loop ended cleanly.
const MinCharts = 3

var chartTypeEnum = []string{
	string(domain.ChartPie),
	string(domain.ChartBar),
	string(domain.ChartDonut),
	string(domain.ChartHorizontalBar),
}

// buildChart assembles and validates a descriptor from the tool's parallel
// lists, deriving each point's percentage from its share of the total.
func buildChart(title, description, chartType string, names []string, values []float64, colors []string) (domain.ChartDescriptor, error) {
	if len(names) == 0 || len(names) != len(values) || len(names) != len(colors) {
		return domain.ChartDescriptor{}, fmt.Errorf("%w: names, values and colors must be non-empty and equal length", domain.ErrValidation)
	}
	var total float64
	for _, v := range values {
		if v < 0 {
			return domain.ChartDescriptor{}, fmt.Errorf("%w: negative value", domain.ErrValidation)
		}
		total += v
	}
	if total <= 0 {
		return domain.ChartDescriptor{}, fmt.Errorf("%w: chart values sum to zero", domain.ErrValidation)
	}
	data := make([]domain.ChartPoint, len(names))
	for i := range names {
		data[i] = domain.ChartPoint{
			Name:       names[i],
			Value:      values[i],
			Percentage: values[i] / total * 100,
			Color:      colors[i],
		}
	}
	chart := domain.ChartDescriptor{
		Title:       title,
		Description: description,
		ChartType:   domain.ChartType(chartType),
		Data:        data,
	}
	if err := chart.Validate(); err != nil {
		return domain.ChartDescriptor{}, err
	}
	return chart, nil
}

// NewChartsWorker builds the chart builder. Its single create_chart tool
// takes parallel primitive lists and merges each chart into the charts
// slot under the store's optimistic version check.
func NewChartsWorker(jobs domain.JobRepository, jobID string, p domain.Portfolio, instruments []domain.Instrument, maxTurns int, budget time.Duration) Worker {
	reg := NewRegistry(WorkerCharts)

	reg.Register(Tool{
		Decl: domain.ToolDecl{
			Name:        "create_chart",
			Description: "Create one chart from parallel lists of point names, absolute values and 6-digit hex colors. Percentages are derived from the values.",
			Params: []domain.ToolParam{
				{Name: "title", Type: domain.ParamString, Description: "Chart title; also derives the chart key.", Required: true},
				{Name: "description", Type: domain.ParamString, Description: "One-sentence description."},
				{Name: "chart_type", Type: domain.ParamString, Description: "Chart type.", Required: true, Enum: chartTypeEnum},
				{Name: "names", Type: domain.ParamArray, Elem: domain.ParamString, Description: "Point names.", Required: true},
				{Name: "values", Type: domain.ParamArray, Elem: domain.ParamNumber, Description: "Absolute point values.", Required: true},
				{Name: "colors", Type: domain.ParamArray, Elem: domain.ParamString, Description: "6-digit hex colors, no leading hash.", Required: true},
			},
		},
		Handler: func(ctx domain.Context, args map[string]any) (string, error) {
			chart, err := buildChart(
				argString(args, "title"),
				argString(args, "description"),
				argString(args, "chart_type"),
				argStrings(args, "names"),
				argNumbers(args, "values"),
				argStrings(args, "colors"),
			)
			if err != nil {
				return "", err
			}
			key := domain.ChartKey(chart.Title)
			if key == "" {
				return "", fmt.Errorf("%w: title yields empty chart key", domain.ErrValidation)
			}
			if err := jobs.MergeChart(ctx, jobID, key, chart); err != nil {
				return "", err
			}
			return fmt.Sprintf("chart %q committed", key), nil
		},
	})

	return Worker{
		Name:         WorkerCharts,
		Slot:         domain.SlotCharts,
		Instructions: instructionsFor(WorkerCharts),
		UserPrompt:   portfolioContext(p) + instrumentsContext(instruments),
		Registry:     reg,
		MaxTurns:     maxTurns,
		Budget:       budget,
		Committed: func(j domain.Job) bool {
			return len(j.Charts) >= MinCharts
		},
	}
}
