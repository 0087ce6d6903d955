package domain

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

type ChartType string

const (
	ChartPie           ChartType = "pie"
	ChartBar           ChartType = "bar"
	ChartDonut         ChartType = "donut"
	ChartHorizontalBar ChartType = "horizontalBar"
)

// KnownChartType reports whether t is in the closed chart-type set.
func KnownChartType(t ChartType) bool {
	switch t {
	case ChartPie, ChartBar, ChartDonut, ChartHorizontalBar:
		return true
	}
	return false
}

var hexColorRe = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

// ChartPoint is one datum of a chart; Percentage is derived from the
// point's share of the chart's total value.
type ChartPoint struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
	Color      string  `json:"color"`
}

// ChartDescriptor is the chart worker's unit of commit. Percentages sum to
// 100 within AllocationSumTolerance.
type ChartDescriptor struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	ChartType   ChartType    `json:"chart_type"`
	Data        []ChartPoint `json:"data"`
}

// Validate checks the chart-type vocabulary, colour format and the
// percentage-sum invariant.
func (c ChartDescriptor) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: chart title required", ErrValidation)
	}
	if !KnownChartType(c.ChartType) {
		return fmt.Errorf("%w: unknown chart type %q", ErrValidation, c.ChartType)
	}
	if len(c.Data) == 0 {
		return fmt.Errorf("%w: chart has no data", ErrValidation)
	}
	var sum float64
	for _, p := range c.Data {
		if !hexColorRe.MatchString(p.Color) {
			return fmt.Errorf("%w: color %q is not 6-digit hex", ErrValidation, p.Color)
		}
		if p.Value < 0 {
			return fmt.Errorf("%w: negative value for %q", ErrValidation, p.Name)
		}
		sum += p.Percentage
	}
	if math.Abs(sum-100) > AllocationSumTolerance {
		return fmt.Errorf("%w: percentages sum to %.4f, want 100", ErrValidation, sum)
	}
	return nil
}

var chartKeyStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// ChartKey derives the charts-slot map key from a title: lowercase with
// runs of non-alphanumerics collapsed to single underscores.
func ChartKey(title string) string {
	k := strings.ToLower(strings.TrimSpace(title))
	k = chartKeyStripRe.ReplaceAllString(k, "_")
	return strings.Trim(k, "_")
}
