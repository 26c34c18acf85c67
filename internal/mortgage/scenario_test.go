package mortgage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/refi-monitor/internal/model"
)

func newLoan() model.LoanFacts {
	orig := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return model.LoanFacts{
		PropertyID:        "prop-1",
		OriginalPrincipal: d("200000"),
		Balance:           d("200000"),
		AnnualRatePercent: d("7"),
		TermMonths:        360,
		MonthlyPayment:    d("1330.60"),
		OriginationDate:   orig,
		PropertyValue:     d("250000"),
		AsOf:              orig,
	}
}

func TestBuildScenario(t *testing.T) {
	s, err := BuildScenario(newLoan(), model.RateQuote{TermMonths: 360, AnnualRatePercent: d("6")}, d("3000"))
	require.NoError(t, err)

	assert.Equal(t, 360, s.TermMonths)
	assertMoney(t, "1199.10", s.NewMonthlyPayment)
	assertMoney(t, "131.50", s.MonthlySavings)
	assertMoney(t, "47341.42", s.LifetimeInterestSavings)
	assertMoney(t, "3000.00", s.ClosingCosts)
	require.NotNil(t, s.BreakEvenMonths)
	assert.Equal(t, 23, *s.BreakEvenMonths)
}

func TestBuildScenario_ShorterTermCostsMorePerMonth(t *testing.T) {
	s, err := BuildScenario(newLoan(), model.RateQuote{TermMonths: 180, AnnualRatePercent: d("6")}, d("3000"))
	require.NoError(t, err)

	assertMoney(t, "1687.71", s.NewMonthlyPayment)
	assertMoney(t, "-357.11", s.MonthlySavings)
	assert.Nil(t, s.BreakEvenMonths)
	assertMoney(t, "175229.34", s.LifetimeInterestSavings)
}

func TestBuildScenario_RejectsInvalidInputs(t *testing.T) {
	loan := newLoan()
	loan.Balance = d("250000")
	_, err := BuildScenario(loan, model.RateQuote{TermMonths: 360, AnnualRatePercent: d("6")}, d("0"))
	assert.True(t, IsDomainError(err))

	_, err = BuildScenario(newLoan(), model.RateQuote{TermMonths: 0, AnnualRatePercent: d("6")}, d("0"))
	assert.True(t, IsDomainError(err))

	_, err = BuildScenario(newLoan(), model.RateQuote{TermMonths: 360, AnnualRatePercent: d("6")}, d("-1"))
	assert.True(t, IsDomainError(err))
}

func TestLoanToValue(t *testing.T) {
	ltv, err := LoanToValue(d("200000"), d("250000"))
	require.NoError(t, err)
	assertMoney(t, "80.00", ltv)

	_, err = LoanToValue(d("200000"), d("0"))
	assert.True(t, IsDomainError(err))
}

func TestFactsFor_DerivesBalanceAndPayment(t *testing.T) {
	p := model.Property{
		ID:                "prop-2",
		OriginalPrincipal: d("200000"),
		AnnualRatePercent: d("6"),
		TermMonths:        360,
		OriginationDate:   time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC),
		PropertyValue:     d("300000"),
	}
	facts, err := FactsFor(p, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 60, facts.MonthsElapsed())
	assertMoney(t, "186108.71", facts.Balance)
	assertMoney(t, "1199.10", facts.MonthlyPayment)
}

func TestFactsFor_KeepsRecordedBalance(t *testing.T) {
	p := model.Property{
		ID:                "prop-3",
		OriginalPrincipal: d("200000"),
		CurrentBalance:    d("150000"),
		MonthlyPayment:    d("1250"),
		AnnualRatePercent: d("6"),
		TermMonths:        360,
		OriginationDate:   time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	facts, err := FactsFor(p, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assertMoney(t, "150000.00", facts.Balance)
	assertMoney(t, "1250.00", facts.MonthlyPayment)
}

func TestFactsFor_PaidOffLoanIsInvalid(t *testing.T) {
	p := model.Property{
		ID:                "prop-4",
		OriginalPrincipal: d("12000"),
		AnnualRatePercent: d("0"),
		TermMonths:        12,
		OriginationDate:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := FactsFor(p, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, IsDomainError(err))
}

func TestSchedule_ClosesAtZero(t *testing.T) {
	rows, err := Schedule(d("200000"), d("6"), 360)
	require.NoError(t, err)
	require.Len(t, rows, 360)

	assertMoney(t, "1199.10", rows[0].Payment)
	assertMoney(t, "1000.00", rows[0].Interest)
	assertMoney(t, "199.10", rows[0].Principal)
	assert.True(t, rows[359].Balance.IsZero())

	total := d("0")
	for _, r := range rows {
		total = total.Add(r.Principal)
	}
	assertMoney(t, "200000.00", total)
}
