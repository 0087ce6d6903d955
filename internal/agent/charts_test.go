package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexlabs/alex/internal/domain"
)

func TestBuildChart_DerivesPercentages(t *testing.T) {
	t.Parallel()
	chart, err := buildChart("Asset Mix", "By asset class", "pie",
		[]string{"Equity", "Bonds"},
		[]float64{75, 25},
		[]string{"4f46e5", "10b981"},
	)
	require.NoError(t, err)
	require.Len(t, chart.Data, 2)
	assert.InDelta(t, 75.0, chart.Data[0].Percentage, 0.001)
	assert.InDelta(t, 25.0, chart.Data[1].Percentage, 0.001)
	assert.Equal(t, domain.ChartPie, chart.ChartType)
}

func TestBuildChart_Rejections(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		chartType string
		names     []string
		values    []float64
		colors    []string
	}{
		{"length mismatch", "pie", []string{"a", "b"}, []float64{1}, []string{"ffffff", "000000"}},
		{"empty lists", "pie", nil, nil, nil},
		{"negative value", "bar", []string{"a", "b"}, []float64{5, -1}, []string{"ffffff", "000000"}},
		{"zero total", "bar", []string{"a", "b"}, []float64{0, 0}, []string{"ffffff", "000000"}},
		{"unknown chart type", "sparkline", []string{"a"}, []float64{1}, []string{"ffffff"}},
		{"bad hex color", "donut", []string{"a"}, []float64{1}, []string{"#ffffff"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := buildChart("t", "", tc.chartType, tc.names, tc.values, tc.colors)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestChartsWorker_CreateChartMergesUnderKey(t *testing.T) {
	t.Parallel()
	jobs := newFakeJobs("job-1")
	w := NewChartsWorker(jobs, "job-1", domain.Portfolio{}, nil, 10, time.Minute)

	out, err := w.Registry.Invoke(context.Background(), "create_chart", map[string]any{
		"title":      "Sector Exposure (2026)",
		"chart_type": "donut",
		"names":      []any{"Tech", "Health"},
		"values":     []any{60.0, 40.0},
		"colors":     []any{"4f46e5", "10b981"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "sector_exposure_2026")

	job, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	chart, ok := job.Charts["sector_exposure_2026"]
	require.True(t, ok)
	assert.Equal(t, "Sector Exposure (2026)", chart.Title)
	assert.InDelta(t, 60.0, chart.Data[0].Percentage, 0.001)
}

func TestChartsWorker_CommittedRequiresMinimum(t *testing.T) {
	t.Parallel()
	w := NewChartsWorker(newFakeJobs("job-1"), "job-1", domain.Portfolio{}, nil, 10, time.Minute)

	charts := map[string]domain.ChartDescriptor{}
	for _, key := range []string{"a", "b"} {
		charts[key] = domain.ChartDescriptor{}
	}
	assert.False(t, w.Committed(domain.Job{Charts: charts}))

	charts["c"] = domain.ChartDescriptor{}
	assert.True(t, w.Committed(domain.Job{Charts: charts}))
}
