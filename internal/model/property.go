package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Property is the persisted record a borrower's loan facts are projected from.
// CurrentBalance and MonthlyPayment may be left zero, in which case they are
// derived from the amortization schedule.
type Property struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id"`
	Name              string          `json:"name"`
	Address           string          `json:"address,omitempty"`
	CreditTier        string          `json:"credit_tier,omitempty"`
	OriginalPrincipal decimal.Decimal `json:"original_principal"`
	CurrentBalance    decimal.Decimal `json:"current_balance"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent"`
	TermMonths        int             `json:"term_months"`
	MonthlyPayment    decimal.Decimal `json:"monthly_payment"`
	OriginationDate   time.Time       `json:"origination_date"`
	PropertyValue     decimal.Decimal `json:"property_value"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
