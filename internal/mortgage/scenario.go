package mortgage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/refi-monitor/internal/model"
)

// BuildScenario prices a refinance of loan's current balance at quote, with
// closingCosts paid up front. The scenario is derived deterministically from
// its three inputs.
func BuildScenario(loan model.LoanFacts, quote model.RateQuote, closingCosts decimal.Decimal) (model.RefinanceScenario, error) {
	const op = "build scenario"
	if err := loan.Validate(); err != nil {
		return model.RefinanceScenario{}, domainErr(op, "%v", err)
	}
	if err := quote.Validate(); err != nil {
		return model.RefinanceScenario{}, domainErr(op, "%v", err)
	}
	if closingCosts.IsNegative() {
		return model.RefinanceScenario{}, domainErr(op, "closing costs must not be negative (got %s)", closingCosts)
	}

	newPayment := roundMoney(payment(loan.Balance, quote.AnnualRatePercent, quote.TermMonths))
	savings := roundMoney(loan.MonthlyPayment.Sub(newPayment))

	current := remainingInterest(loan.Balance, loan.AnnualRatePercent, loan.RemainingMonths())
	refinanced := remainingInterest(loan.Balance, quote.AnnualRatePercent, quote.TermMonths)

	s := model.RefinanceScenario{
		TermMonths:              quote.TermMonths,
		NewRate:                 quote.AnnualRatePercent.Round(ratePlaces),
		NewMonthlyPayment:       newPayment,
		ClosingCosts:            roundMoney(closingCosts),
		MonthlySavings:          savings,
		LifetimeInterestSavings: roundMoney(current.Sub(refinanced)),
		CreditTier:              quote.CreditTier,
	}
	if months, ok := BreakEvenMonths(savings, s.ClosingCosts); ok {
		s.BreakEvenMonths = &months
	}
	return s, nil
}

// LoanToValue returns balance as a percentage of propertyValue.
func LoanToValue(balance, propertyValue decimal.Decimal) (decimal.Decimal, error) {
	if !propertyValue.IsPositive() {
		return decimal.Zero, domainErr("loan to value", "property value must be positive (got %s)", propertyValue)
	}
	if balance.IsNegative() {
		return decimal.Zero, domainErr("loan to value", "balance must not be negative (got %s)", balance)
	}
	return balance.Mul(hundred).DivRound(propertyValue, workPlaces).Round(moneyPlaces), nil
}

// FactsFor projects a property record onto LoanFacts at asOf. A zero current
// balance or monthly payment on the record is filled in from the schedule.
func FactsFor(p model.Property, asOf time.Time) (model.LoanFacts, error) {
	facts := model.LoanFacts{
		PropertyID:        p.ID,
		OriginalPrincipal: p.OriginalPrincipal,
		Balance:           p.CurrentBalance,
		AnnualRatePercent: p.AnnualRatePercent,
		TermMonths:        p.TermMonths,
		MonthlyPayment:    p.MonthlyPayment,
		OriginationDate:   p.OriginationDate,
		PropertyValue:     p.PropertyValue,
		CreditTier:        p.CreditTier,
		AsOf:              asOf,
	}

	if !facts.Balance.IsPositive() {
		bal, err := RemainingBalance(p.OriginalPrincipal, p.AnnualRatePercent, p.TermMonths, facts.MonthsElapsed())
		if err != nil {
			return model.LoanFacts{}, err
		}
		facts.Balance = bal
	}
	if !facts.MonthlyPayment.IsPositive() {
		pmt, err := MonthlyPayment(p.OriginalPrincipal, p.AnnualRatePercent, p.TermMonths)
		if err != nil {
			return model.LoanFacts{}, err
		}
		facts.MonthlyPayment = pmt
	}

	if err := facts.Validate(); err != nil {
		return model.LoanFacts{}, domainErr("loan facts", "%v", err)
	}
	return facts, nil
}
