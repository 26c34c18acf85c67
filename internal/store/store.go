package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/refi-monitor/internal/alert"
	"github.com/sells-group/refi-monitor/internal/engine"
	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/mortgage"
	"github.com/sells-group/refi-monitor/internal/template"
)

// ErrNotFound is returned (wrapped) when a record does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrInvalid is returned (wrapped) when a record fails validation.
var ErrInvalid = eris.New("store: invalid record")

// ErrStale is returned (wrapped) when a conditional state change finds the
// alert no longer in the state it was read in.
var ErrStale = eris.New("store: alert changed since it was read")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return eris.Is(err, ErrNotFound)
}

// IsInvalid reports whether err wraps ErrInvalid.
func IsInvalid(err error) bool {
	return eris.Is(err, ErrInvalid)
}

// IsStale reports whether err wraps ErrStale.
func IsStale(err error) bool {
	return eris.Is(err, ErrStale)
}

// StateChange moves an alert from the state it was read in (From, stamped
// Seen) to To. It applies only if the stored row still matches From and Seen.
type StateChange struct {
	AlertID     string
	From        alert.State
	Seen        time.Time
	To          alert.State
	SnoozeUntil *time.Time
	At          time.Time
}

// PropertyFilter narrows ListProperties.
type PropertyFilter struct {
	OwnerID string `json:"owner_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Store is the persistence interface for properties, alerts, rate snapshots
// and the decision audit log.
type Store interface {
	// Properties
	CreateProperty(ctx context.Context, p model.Property) (*model.Property, error)
	GetProperty(ctx context.Context, id string) (*model.Property, error)
	ListProperties(ctx context.Context, filter PropertyFilter) ([]model.Property, error)
	UpdateProperty(ctx context.Context, p model.Property) error
	DeleteProperty(ctx context.Context, id string) error
	GetLoanFacts(ctx context.Context, propertyID string, asOf time.Time) (*model.LoanFacts, error)

	// Alerts
	CreateAlert(ctx context.Context, a *alert.Instance) error
	GetAlert(ctx context.Context, id string) (*alert.Instance, error)
	ListAlerts(ctx context.Context, propertyID string) ([]alert.Instance, error)
	ListAllAlerts(ctx context.Context) ([]alert.Instance, error)
	DeleteAlert(ctx context.Context, id string) error
	SaveAlertState(ctx context.Context, alertID string, state alert.State, snoozeUntil *time.Time, at time.Time) error
	SwapAlertState(ctx context.Context, change StateChange) error

	// Rate snapshots
	SaveSnapshot(ctx context.Context, snap model.Snapshot) (string, error)
	LatestSnapshot(ctx context.Context) (*model.Snapshot, error)

	// Decision audit log
	RecordDecisions(ctx context.Context, decisions []engine.Decision) error
	ListDecisions(ctx context.Context, alertID string, limit int) ([]engine.Decision, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// loanFacts projects a stored property onto LoanFacts at asOf.
func loanFacts(p *model.Property, asOf time.Time) (*model.LoanFacts, error) {
	facts, err := mortgage.FactsFor(*p, asOf)
	if err != nil {
		return nil, err
	}
	return &facts, nil
}

func validateProperty(p model.Property) error {
	if p.Name == "" {
		return eris.Wrap(ErrInvalid, "property name is required")
	}
	if !p.OriginalPrincipal.IsPositive() {
		return eris.Wrapf(ErrInvalid, "property %q original principal must be positive", p.Name)
	}
	if p.TermMonths <= 0 {
		return eris.Wrapf(ErrInvalid, "property %q term must be positive", p.Name)
	}
	if p.AnnualRatePercent.IsNegative() {
		return eris.Wrapf(ErrInvalid, "property %q rate must not be negative", p.Name)
	}
	if p.CurrentBalance.IsNegative() || p.PropertyValue.IsNegative() || p.MonthlyPayment.IsNegative() {
		return eris.Wrapf(ErrInvalid, "property %q amounts must not be negative", p.Name)
	}
	return nil
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "store: parse %s", field)
	}
	return d, nil
}

// propertyDecimals holds the text form of a property's decimal columns.
type propertyDecimals struct {
	principal, balance, rate, payment, value string
}

func (pd propertyDecimals) apply(p *model.Property) error {
	var err error
	if p.OriginalPrincipal, err = parseDecimal("original_principal", pd.principal); err != nil {
		return err
	}
	if p.CurrentBalance, err = parseDecimal("current_balance", pd.balance); err != nil {
		return err
	}
	if p.AnnualRatePercent, err = parseDecimal("annual_rate_percent", pd.rate); err != nil {
		return err
	}
	if p.MonthlyPayment, err = parseDecimal("monthly_payment", pd.payment); err != nil {
		return err
	}
	if p.PropertyValue, err = parseDecimal("property_value", pd.value); err != nil {
		return err
	}
	return nil
}

// encodeAlert returns the JSON columns for an alert.
func encodeAlert(a *alert.Instance) (inputs, terms []byte, err error) {
	inputs, err = template.MarshalInputs(a.Inputs)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "store: encode alert %s inputs", a.ID)
	}
	if a.LoanTerms == nil {
		terms = []byte("[]")
	} else if terms, err = json.Marshal(a.LoanTerms); err != nil {
		return nil, nil, eris.Wrapf(err, "store: encode alert %s terms", a.ID)
	}
	return inputs, terms, nil
}

// decodeAlert fills the JSON-backed fields of a. Inputs that no longer
// decode are left nil so the engine reports the alert instead of the whole
// listing failing.
func decodeAlert(a *alert.Instance, kind, state string, inputs, terms []byte) error {
	a.TemplateKind = template.Kind(kind)
	st, err := alert.ParseState(state)
	if err != nil {
		return eris.Wrapf(err, "store: alert %s", a.ID)
	}
	a.State = st

	in, err := template.UnmarshalInputs(inputs)
	if err != nil {
		zap.L().Warn("store: alert inputs do not decode",
			zap.String("alert_id", a.ID),
			zap.Error(err),
		)
	} else {
		a.Inputs = in
	}

	if len(terms) > 0 {
		if err := json.Unmarshal(terms, &a.LoanTerms); err != nil {
			return eris.Wrapf(err, "store: decode alert %s terms", a.ID)
		}
		if len(a.LoanTerms) == 0 {
			a.LoanTerms = nil
		}
	}
	return nil
}
