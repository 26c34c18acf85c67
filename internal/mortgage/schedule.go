package mortgage

import (
	"github.com/shopspring/decimal"
)

// Installment is one row of an amortization schedule.
type Installment struct {
	Month     int             `json:"month"`
	Payment   decimal.Decimal `json:"payment"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Balance   decimal.Decimal `json:"balance"`
}

// Schedule returns the full amortization schedule for a new loan. The final
// installment absorbs any rounding residue so the schedule closes at zero.
func Schedule(principal, annualRatePercent decimal.Decimal, termMonths int) ([]Installment, error) {
	if err := checkLoan("schedule", principal, annualRatePercent, termMonths); err != nil {
		return nil, err
	}

	pmt := roundMoney(payment(principal, annualRatePercent, termMonths))
	r := monthlyRate(annualRatePercent)
	balance := principal

	rows := make([]Installment, 0, termMonths)
	for m := 1; m <= termMonths; m++ {
		interest := roundMoney(balance.Mul(r))
		princ := pmt.Sub(interest)
		if m == termMonths || princ.GreaterThan(balance) {
			princ = balance
		}
		balance = balance.Sub(princ)
		rows = append(rows, Installment{
			Month:     m,
			Payment:   princ.Add(interest),
			Principal: princ,
			Interest:  interest,
			Balance:   balance,
		})
	}
	return rows, nil
}
