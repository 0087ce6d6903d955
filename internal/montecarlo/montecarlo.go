// Package montecarlo computes the deterministic retirement projection the
// retirement worker receives as prompt context. The simulation runs outside
// the model loop; the model never produces or adjusts these numbers.
package montecarlo

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/alexlabs/alex/internal/domain"
)

// Capital-market assumptions. Annual real return and volatility are a
// broad 60/40-ish composite; spending grows with inflation.
const (
	DefaultSimulations = 1000
	DefaultReturn      = 0.07
	DefaultVolatility  = 0.15
	DefaultInflation   = 0.025
	defaultSeed        = 20240601
)

// Simulator holds the simulation parameters. The zero value is not usable;
// construct with New and override fields as needed.
type Simulator struct {
	Simulations    int
	ExpectedReturn float64
	Volatility     float64
	Inflation      float64
	Seed           uint64
}

// New returns a Simulator with the default assumptions and a fixed seed,
// so the same portfolio and goals always yield the same projection.
func New() Simulator {
	return Simulator{
		Simulations:    DefaultSimulations,
		ExpectedReturn: DefaultReturn,
		Volatility:     DefaultVolatility,
		Inflation:      DefaultInflation,
		Seed:           defaultSeed,
	}
}

// Project simulates the accumulation and drawdown phases year by year and
// returns the success probability, terminal-balance percentile bands and,
// when any path depletes, the median years from retirement to depletion.
func (s Simulator) Project(p domain.Portfolio) domain.Projection {
	sims := s.Simulations
	if sims <= 0 {
		sims = DefaultSimulations
	}
	g := p.Goals
	yearsToRetirement := max(g.RetirementAge-g.CurrentAge, 0)
	yearsInRetirement := max(g.LifeExpectancy-max(g.RetirementAge, g.CurrentAge), 0)
	horizon := yearsToRetirement + yearsInRetirement

	annualReturn := distuv.Normal{
		Mu:    s.ExpectedReturn,
		Sigma: s.Volatility,
		Src:   rand.NewPCG(s.Seed, s.Seed),
	}

	terminal := make([]float64, sims)
	var depletionYears []float64
	successes := 0
	for i := 0; i < sims; i++ {
		balance := p.TotalValue()
		spending := g.AnnualSpending
		depletedAfter := -1
		for year := 0; year < horizon; year++ {
			balance *= 1 + annualReturn.Rand()
			if year < yearsToRetirement {
				balance += g.AnnualContribution
			} else {
				balance -= spending
				if balance <= 0 {
					balance = 0
					depletedAfter = year - yearsToRetirement + 1
					break
				}
			}
			spending *= 1 + s.Inflation
		}
		terminal[i] = balance
		if depletedAfter < 0 {
			successes++
		} else {
			depletionYears = append(depletionYears, float64(depletedAfter))
		}
	}

	sort.Float64s(terminal)
	out := domain.Projection{
		SuccessProbability: float64(successes) / float64(sims),
		PercentileBands: domain.Bands{
			P10: stat.Quantile(0.10, stat.Empirical, terminal, nil),
			P50: stat.Quantile(0.50, stat.Empirical, terminal, nil),
			P90: stat.Quantile(0.90, stat.Empirical, terminal, nil),
		},
		Simulations: sims,
	}
	if len(depletionYears) > 0 {
		sort.Float64s(depletionYears)
		years := int(math.Round(stat.Quantile(0.50, stat.Empirical, depletionYears, nil)))
		out.YearsToDepletion = &years
	}
	return out
}
