package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// RateQuote is a currently available refinance rate for a term and credit tier.
type RateQuote struct {
	TermMonths        int             `json:"term_months" yaml:"term_months"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent" yaml:"annual_rate_percent"`
	CreditTier        string          `json:"credit_tier" yaml:"credit_tier"`
}

// NormalizeTier returns the canonical form of a credit tier: trimmed and
// lowercased. Loan and quote tiers are compared in this form.
func NormalizeTier(tier string) string {
	return strings.ToLower(strings.TrimSpace(tier))
}

// Key identifies the (term, tier) slot a quote occupies in a snapshot.
func (q RateQuote) Key() string {
	return fmt.Sprintf("%d/%s", q.TermMonths, q.CreditTier)
}

// Validate checks a single quote.
func (q RateQuote) Validate() error {
	if q.TermMonths <= 0 {
		return eris.Errorf("model: quote term must be positive (got %d)", q.TermMonths)
	}
	if q.AnnualRatePercent.IsNegative() {
		return eris.Errorf("model: quote rate must not be negative (got %s)", q.AnnualRatePercent)
	}
	return nil
}

// Snapshot is a read-only view of the rate market at FetchedAt.
type Snapshot struct {
	Quotes    []RateQuote `json:"quotes"`
	Source    string      `json:"source,omitempty"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// Validate rejects invalid quotes and duplicate (term, tier) pairs.
func (s Snapshot) Validate() error {
	seen := make(map[string]bool, len(s.Quotes))
	for _, q := range s.Quotes {
		if err := q.Validate(); err != nil {
			return err
		}
		if seen[q.Key()] {
			return eris.Errorf("model: duplicate quote for term %d tier %q", q.TermMonths, q.CreditTier)
		}
		seen[q.Key()] = true
	}
	return nil
}

// Terms returns the distinct quoted terms in ascending order.
func (s Snapshot) Terms() []int {
	seen := make(map[int]bool)
	var terms []int
	for _, q := range s.Quotes {
		if !seen[q.TermMonths] {
			seen[q.TermMonths] = true
			terms = append(terms, q.TermMonths)
		}
	}
	sort.Ints(terms)
	return terms
}

// RefinanceScenario is the computed outcome of refinancing a loan at a quote.
// It is never persisted on its own.
type RefinanceScenario struct {
	TermMonths              int             `json:"term_months"`
	NewRate                 decimal.Decimal `json:"new_rate"`
	NewMonthlyPayment       decimal.Decimal `json:"new_monthly_payment"`
	ClosingCosts            decimal.Decimal `json:"closing_costs"`
	BreakEvenMonths         *int            `json:"break_even_months"` // nil: never breaks even
	MonthlySavings          decimal.Decimal `json:"monthly_savings"`
	LifetimeInterestSavings decimal.Decimal `json:"lifetime_interest_savings"`
	CreditTier              string          `json:"credit_tier,omitempty"`
}
