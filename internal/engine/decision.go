package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/refi-monitor/internal/alert"
	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/template"
)

// Reasons attached to decisions.
const (
	ReasonSnoozed      = "snoozed"
	ReasonNoQuotes     = "no matching quotes"
	ReasonTriggered    = "condition met"
	ReasonCleared      = "condition no longer met"
	ReasonUnchanged    = "unchanged"
	ReasonSnoozeExpire = "snooze expired"
)

// Decision is the outcome of evaluating one alert. A decision whose
// Transition did not change state is a no-op.
type Decision struct {
	AlertID    string           `json:"alert_id"`
	PropertyID string           `json:"property_id"`
	Kind       template.Kind    `json:"kind"`
	Transition alert.Transition `json:"transition"`
	// Evaluated is false when the predicate was not run (snoozed or no
	// matching quotes).
	Evaluated bool `json:"evaluated"`
	Triggered bool `json:"triggered"`
	// Scenario is the best refinance scenario the predicate was judged
	// against. Nil for templates that do not use scenarios.
	Scenario *model.RefinanceScenario `json:"scenario,omitempty"`
	// Candidates counts the quotes that passed the alert's filters.
	Candidates int              `json:"candidates"`
	LTV        *decimal.Decimal `json:"ltv,omitempty"`
	// SnoozeUntil is carried through while the alert stays snoozed.
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
	EvaluatedAt time.Time  `json:"evaluated_at"`
}

// Changed reports whether the alert's persisted state must change.
func (d Decision) Changed() bool { return d.Transition.Changed() }

// StartedSounding reports whether this decision moved the alert into sounding.
func (d Decision) StartedSounding() bool {
	return d.Transition.To == alert.StateSounding && d.Transition.From != alert.StateSounding
}

// Failure is an alert that could not be evaluated. Its state is left as is.
type Failure struct {
	AlertID    string `json:"alert_id"`
	PropertyID string `json:"property_id"`
	Err        error  `json:"-"`
	Message    string `json:"error"`
}

// Batch is the result of EvaluateAll, sorted by alert ID.
type Batch struct {
	Decisions []Decision `json:"decisions"`
	Failures  []Failure  `json:"failures"`
}

// Changed returns the decisions whose state must be persisted.
func (b Batch) Changed() []Decision {
	var out []Decision
	for _, d := range b.Decisions {
		if d.Changed() {
			out = append(out, d)
		}
	}
	return out
}
