// Package model holds the loan, market and property types shared by the
// mortgage math, template and engine packages.
package model

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// LoanFacts is an immutable snapshot of a property's current loan, taken at AsOf.
type LoanFacts struct {
	PropertyID        string          `json:"property_id"`
	OriginalPrincipal decimal.Decimal `json:"original_principal"`
	Balance           decimal.Decimal `json:"balance"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent"`
	TermMonths        int             `json:"term_months"`
	MonthlyPayment    decimal.Decimal `json:"monthly_payment"`
	OriginationDate   time.Time       `json:"origination_date"`
	PropertyValue     decimal.Decimal `json:"property_value"` // zero when unknown
	CreditTier        string          `json:"credit_tier,omitempty"`
	AsOf              time.Time       `json:"as_of"`
}

// Validate checks the LoanFacts invariants.
func (l LoanFacts) Validate() error {
	if !l.Balance.IsPositive() {
		return eris.Errorf("model: loan %s balance must be positive (got %s)", l.PropertyID, l.Balance)
	}
	if l.Balance.GreaterThan(l.OriginalPrincipal) {
		return eris.Errorf("model: loan %s balance %s exceeds original principal %s",
			l.PropertyID, l.Balance, l.OriginalPrincipal)
	}
	if l.TermMonths <= 0 {
		return eris.Errorf("model: loan %s term must be positive (got %d)", l.PropertyID, l.TermMonths)
	}
	if l.AnnualRatePercent.IsNegative() {
		return eris.Errorf("model: loan %s rate must not be negative (got %s)", l.PropertyID, l.AnnualRatePercent)
	}
	return nil
}

// MonthsElapsed returns the whole months between origination and AsOf,
// clamped to [0, TermMonths].
func (l LoanFacts) MonthsElapsed() int {
	n := MonthsBetween(l.OriginationDate, l.AsOf)
	if n < 0 {
		return 0
	}
	if n > l.TermMonths {
		return l.TermMonths
	}
	return n
}

// RemainingMonths returns the number of scheduled payments left at AsOf.
func (l LoanFacts) RemainingMonths() int {
	return l.TermMonths - l.MonthsElapsed()
}

// MonthsBetween counts whole calendar months from start to end. A month only
// counts once the day-of-month has been reached.
func MonthsBetween(start, end time.Time) int {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	months := (ey-sy)*12 + int(em-sm)
	if ed < sd {
		months--
	}
	return months
}
