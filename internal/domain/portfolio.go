package domain

import "fmt"

// Position references an instrument by symbol with a fractional quantity.
type Position struct {
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	MarketValue float64 `json:"market_value"`
}

// Account is one holding account inside a portfolio snapshot.
type Account struct {
	Name        string     `json:"name"`
	CashBalance float64    `json:"cash_balance"`
	CashRate    float64    `json:"cash_rate"`
	Positions   []Position `json:"positions"`
}

// RetirementGoals is the user's stated plan, carried on the request.
type RetirementGoals struct {
	CurrentAge         int     `json:"current_age"`
	RetirementAge      int     `json:"retirement_age"`
	LifeExpectancy     int     `json:"life_expectancy"`
	AnnualSpending     float64 `json:"annual_spending"`
	AnnualContribution float64 `json:"annual_contribution"`
}

// RequestPayload is the structured input snapshot stored on the job row.
// Collection fields are always non-nil after NewRequestPayload.
type RequestPayload struct {
	Accounts []Account       `json:"accounts"`
	Goals    RetirementGoals `json:"goals"`
}

// NewRequestPayload returns a payload with initialised collections.
func NewRequestPayload() RequestPayload {
	return RequestPayload{Accounts: []Account{}}
}

// Portfolio is the in-memory snapshot owned by the orchestrator for the
// duration of one run. It is derived from the request payload and never
// persisted separately.
type Portfolio struct {
	Accounts []Account
	Goals    RetirementGoals
}

// Validate checks structural invariants: quantities are non-negative and
// every position names a symbol.
func (p Portfolio) Validate() error {
	for _, a := range p.Accounts {
		if a.CashBalance < 0 {
			return fmt.Errorf("%w: negative cash balance in %q", ErrValidation, a.Name)
		}
		for _, pos := range a.Positions {
			if pos.Symbol == "" {
				return fmt.Errorf("%w: position without symbol in %q", ErrValidation, a.Name)
			}
			if pos.Quantity < 0 {
				return fmt.Errorf("%w: negative quantity for %s", ErrValidation, pos.Symbol)
			}
		}
	}
	return nil
}

// Symbols returns the unique symbols across all accounts, in first-seen order.
func (p Portfolio) Symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range p.Accounts {
		for _, pos := range a.Positions {
			if _, ok := seen[pos.Symbol]; ok {
				continue
			}
			seen[pos.Symbol] = struct{}{}
			out = append(out, pos.Symbol)
		}
	}
	return out
}

// TotalCash sums cash balances across accounts.
func (p Portfolio) TotalCash() float64 {
	var s float64
	for _, a := range p.Accounts {
		s += a.CashBalance
	}
	return s
}

// TotalInvested sums position market values across accounts.
func (p Portfolio) TotalInvested() float64 {
	var s float64
	for _, a := range p.Accounts {
		for _, pos := range a.Positions {
			s += pos.MarketValue
		}
	}
	return s
}

// TotalValue is cash plus invested value.
func (p Portfolio) TotalValue() float64 { return p.TotalCash() + p.TotalInvested() }
