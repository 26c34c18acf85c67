package engine

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/refi-monitor/internal/model"
)

// ClosingCostPolicy estimates refinance closing costs as a flat amount plus a
// percentage of the outstanding balance.
type ClosingCostPolicy struct {
	Flat    decimal.Decimal
	Percent decimal.Decimal
}

// Estimate returns the closing costs for refinancing loan, rounded to cents.
func (p ClosingCostPolicy) Estimate(loan model.LoanFacts) decimal.Decimal {
	pct := loan.Balance.Mul(p.Percent).Div(decimal.NewFromInt(100))
	total := p.Flat.Add(pct).Round(2)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}
