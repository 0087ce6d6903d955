package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// AllocationSumTolerance is the permitted deviation from 100 for each
// allocation map.
const AllocationSumTolerance = 0.01

type InstrumentKind string

const (
	InstrumentStock      InstrumentKind = "stock"
	InstrumentETF        InstrumentKind = "etf"
	InstrumentMutualFund InstrumentKind = "mutual_fund"
	InstrumentBond       InstrumentKind = "bond"
	InstrumentCash       InstrumentKind = "cash"
	InstrumentCrypto     InstrumentKind = "crypto"
	InstrumentOther      InstrumentKind = "other"
)

// Closed vocabularies. Allocation maps may only use these keys; the
// classifier prompt enumerates them verbatim.
var (
	AssetClasses = []string{"equity", "fixed_income", "real_estate", "commodities", "cash", "alternatives"}
	Regions      = []string{"north_america", "europe", "asia_pacific", "emerging_markets", "global"}
	Sectors      = []string{
		"technology", "healthcare", "financials", "consumer_discretionary",
		"consumer_staples", "industrials", "energy", "utilities",
		"materials", "real_estate", "communication_services", "diversified",
	}
)

// Allocation maps a closed-vocabulary label to a non-negative percentage.
// A valid allocation sums to 100 within AllocationSumTolerance.
type Allocation map[string]float64

// Sum returns the total of all values.
func (a Allocation) Sum() float64 {
	var s float64
	for _, v := range a {
		s += v
	}
	return s
}

// Validate checks keys against vocab and the sum-to-100 invariant.
func (a Allocation) Validate(vocab []string) error {
	if len(a) == 0 {
		return fmt.Errorf("%w: empty allocation", ErrValidation)
	}
	allowed := make(map[string]struct{}, len(vocab))
	for _, v := range vocab {
		allowed[v] = struct{}{}
	}
	for k, v := range a {
		if _, ok := allowed[k]; !ok {
			return fmt.Errorf("%w: unknown label %q", ErrValidation, k)
		}
		if v < 0 {
			return fmt.Errorf("%w: negative weight for %q", ErrValidation, k)
		}
	}
	if d := math.Abs(a.Sum() - 100); d > AllocationSumTolerance {
		return fmt.Errorf("%w: allocation sums to %.4f, want 100", ErrValidation, a.Sum())
	}
	return nil
}

// Equal reports value equality within the sum tolerance per label.
func (a Allocation) Equal(b Allocation) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || math.Abs(v-w) > AllocationSumTolerance {
			return false
		}
	}
	return true
}

// Instrument is a tradable reference entity with classification slots.
type Instrument struct {
	Symbol      string
	DisplayName string
	Kind        InstrumentKind
	AssetClass  Allocation
	Region      Allocation
	Sector      Allocation
	UpdatedAt   time.Time
}

// Classified reports whether all three allocation maps are present.
func (i Instrument) Classified() bool {
	return len(i.AssetClass) > 0 && len(i.Region) > 0 && len(i.Sector) > 0
}

// Validate enforces the allocation invariants prior to an upsert.
func (i Instrument) Validate() error {
	if i.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrValidation)
	}
	if err := i.AssetClass.Validate(AssetClasses); err != nil {
		return fmt.Errorf("asset_class: %w", err)
	}
	if err := i.Region.Validate(Regions); err != nil {
		return fmt.Errorf("region: %w", err)
	}
	if err := i.Sector.Validate(Sectors); err != nil {
		return fmt.Errorf("sector: %w", err)
	}
	return nil
}

// SortedVocab returns a copy of vocab in stable order for prompts.
func SortedVocab(vocab []string) []string {
	out := append([]string(nil), vocab...)
	sort.Strings(out)
	return out
}
