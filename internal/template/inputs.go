package template

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Inputs is the sum type of per-kind alert thresholds. The unexported method
// seals it: only the structs in this file satisfy it, one per Kind.
type Inputs interface {
	Kind() Kind
	Validate() error
	isInputs()
}

// MonthlySavings triggers when a refinance saves at least Amount per month.
type MonthlySavings struct {
	Amount decimal.Decimal `json:"amount"`
}

// BreakEven triggers when closing costs are recovered within Months.
type BreakEven struct {
	Months int `json:"months"`
}

// BreakEvenDate triggers when closing costs are recovered by ByDate.
type BreakEvenDate struct {
	ByDate time.Time `json:"by_date"`
}

// PMIRemoval triggers when the current loan-to-value falls to LTV percent.
type PMIRemoval struct {
	LTV decimal.Decimal `json:"ltv"`
}

// RateImprovement triggers when the best quote beats the current rate by at
// least Improvement percentage points.
type RateImprovement struct {
	Improvement decimal.Decimal `json:"improvement"`
}

// InterestSavings triggers when a refinance saves at least LifetimeSavings
// in total interest.
type InterestSavings struct {
	LifetimeSavings decimal.Decimal `json:"lifetime_savings"`
}

func (MonthlySavings) Kind() Kind  { return KindMonthlySavings }
func (BreakEven) Kind() Kind       { return KindBreakEven }
func (BreakEvenDate) Kind() Kind   { return KindBreakEvenDate }
func (PMIRemoval) Kind() Kind      { return KindPMIRemoval }
func (RateImprovement) Kind() Kind { return KindRateImprovement }
func (InterestSavings) Kind() Kind { return KindInterestSavings }

func (MonthlySavings) isInputs()  {}
func (BreakEven) isInputs()       {}
func (BreakEvenDate) isInputs()   {}
func (PMIRemoval) isInputs()      {}
func (RateImprovement) isInputs() {}
func (InterestSavings) isInputs() {}

func (in MonthlySavings) Validate() error {
	if in.Amount.IsNegative() {
		return eris.Errorf("template: monthly-savings amount must not be negative (got %s)", in.Amount)
	}
	return nil
}

func (in BreakEven) Validate() error {
	if in.Months <= 0 {
		return eris.Errorf("template: break-even months must be positive (got %d)", in.Months)
	}
	return nil
}

func (in BreakEvenDate) Validate() error {
	if in.ByDate.IsZero() {
		return eris.New("template: break-even-date requires a date")
	}
	return nil
}

func (in PMIRemoval) Validate() error {
	if !in.LTV.IsPositive() || in.LTV.GreaterThan(decimal.NewFromInt(100)) {
		return eris.Errorf("template: pmi-removal ltv must be in (0, 100] (got %s)", in.LTV)
	}
	return nil
}

func (in RateImprovement) Validate() error {
	if !in.Improvement.IsPositive() {
		return eris.Errorf("template: rate-improvement must be positive (got %s)", in.Improvement)
	}
	return nil
}

func (in InterestSavings) Validate() error {
	if in.LifetimeSavings.IsNegative() {
		return eris.Errorf("template: interest-savings must not be negative (got %s)", in.LifetimeSavings)
	}
	return nil
}
