// Package mortgage implements fixed-point amortization math for current loans
// and hypothetical refinances. Every function is pure. Intermediate values are
// carried at workPlaces decimal places and rounded to cents only when returned.
package mortgage

import (
	"github.com/shopspring/decimal"
)

const (
	workPlaces  = 20
	moneyPlaces = 2
	ratePlaces  = 3
)

var (
	one                  = decimal.NewFromInt(1)
	hundred              = decimal.NewFromInt(100)
	monthsPerYearPercent = decimal.NewFromInt(1200)
)

// MonthlyPayment returns the level payment that amortizes principal over
// termMonths at annualRatePercent. A zero rate degrades to principal/termMonths.
func MonthlyPayment(principal, annualRatePercent decimal.Decimal, termMonths int) (decimal.Decimal, error) {
	if err := checkLoan("monthly payment", principal, annualRatePercent, termMonths); err != nil {
		return decimal.Zero, err
	}
	return roundMoney(payment(principal, annualRatePercent, termMonths)), nil
}

// RemainingBalance returns the scheduled outstanding balance after
// monthsElapsed payments on a loan of originalPrincipal.
func RemainingBalance(originalPrincipal, annualRatePercent decimal.Decimal, termMonths, monthsElapsed int) (decimal.Decimal, error) {
	const op = "remaining balance"
	if err := checkLoan(op, originalPrincipal, annualRatePercent, termMonths); err != nil {
		return decimal.Zero, err
	}
	if err := checkElapsed(op, termMonths, monthsElapsed); err != nil {
		return decimal.Zero, err
	}
	return roundMoney(balanceAfter(originalPrincipal, annualRatePercent, termMonths, monthsElapsed)), nil
}

// TotalRemainingInterest sums the interest portion of every payment left on a
// loan whose current balance is balance, monthsElapsed into termMonths.
func TotalRemainingInterest(balance, annualRatePercent decimal.Decimal, termMonths, monthsElapsed int) (decimal.Decimal, error) {
	const op = "total remaining interest"
	if err := checkLoan(op, balance, annualRatePercent, termMonths); err != nil {
		return decimal.Zero, err
	}
	if err := checkElapsed(op, termMonths, monthsElapsed); err != nil {
		return decimal.Zero, err
	}
	return roundMoney(remainingInterest(balance, annualRatePercent, termMonths-monthsElapsed)), nil
}

// BreakEvenMonths returns how many months of monthlySavings it takes to
// recover closingCosts. ok is false when the refinance never breaks even.
func BreakEvenMonths(monthlySavings, closingCosts decimal.Decimal) (months int, ok bool) {
	if !monthlySavings.IsPositive() {
		return 0, false
	}
	if !closingCosts.IsPositive() {
		return 0, true
	}
	return int(closingCosts.DivRound(monthlySavings, workPlaces).Ceil().IntPart()), true
}

func payment(principal, annualRatePercent decimal.Decimal, termMonths int) decimal.Decimal {
	r := monthlyRate(annualRatePercent)
	n := decimal.NewFromInt(int64(termMonths))
	if r.IsZero() {
		return principal.DivRound(n, workPlaces)
	}
	growth := pow(one.Add(r), termMonths)
	return principal.Mul(r).Mul(growth).DivRound(growth.Sub(one), workPlaces)
}

func balanceAfter(principal, annualRatePercent decimal.Decimal, termMonths, elapsed int) decimal.Decimal {
	r := monthlyRate(annualRatePercent)
	if r.IsZero() {
		left := decimal.NewFromInt(int64(termMonths - elapsed))
		return principal.Mul(left).DivRound(decimal.NewFromInt(int64(termMonths)), workPlaces)
	}
	full := pow(one.Add(r), termMonths)
	paid := pow(one.Add(r), elapsed)
	return principal.Mul(full.Sub(paid)).DivRound(full.Sub(one), workPlaces)
}

// remainingInterest re-amortizes balance over the months left and returns
// total payments minus principal.
func remainingInterest(balance, annualRatePercent decimal.Decimal, monthsLeft int) decimal.Decimal {
	if monthsLeft <= 0 || balance.IsZero() {
		return decimal.Zero
	}
	pmt := payment(balance, annualRatePercent, monthsLeft)
	return pmt.Mul(decimal.NewFromInt(int64(monthsLeft))).Sub(balance)
}

func monthlyRate(annualRatePercent decimal.Decimal) decimal.Decimal {
	return annualRatePercent.DivRound(monthsPerYearPercent, workPlaces)
}

// pow raises base to a non-negative integer power by squaring.
func pow(base decimal.Decimal, exp int) decimal.Decimal {
	result := one
	for exp > 0 {
		if exp&1 == 1 {
			result = result.Mul(base).Round(workPlaces)
		}
		base = base.Mul(base).Round(workPlaces)
		exp >>= 1
	}
	return result
}

func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

func checkLoan(op string, principal, annualRatePercent decimal.Decimal, termMonths int) error {
	if principal.IsNegative() {
		return domainErr(op, "principal must not be negative (got %s)", principal)
	}
	if annualRatePercent.IsNegative() {
		return domainErr(op, "rate must not be negative (got %s)", annualRatePercent)
	}
	if termMonths <= 0 {
		return domainErr(op, "term must be positive (got %d)", termMonths)
	}
	return nil
}

func checkElapsed(op string, termMonths, elapsed int) error {
	if elapsed < 0 {
		return domainErr(op, "months elapsed must not be negative (got %d)", elapsed)
	}
	if elapsed > termMonths {
		return domainErr(op, "months elapsed %d exceeds term %d", elapsed, termMonths)
	}
	return nil
}
