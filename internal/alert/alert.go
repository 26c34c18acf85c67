// Package alert holds the persisted per-property alert record and its
// lifecycle: active, snoozed and sounding.
package alert

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/refi-monitor/internal/template"
)

// State is an alert's lifecycle state.
type State string

const (
	StateActive   State = "active"
	StateSnoozed  State = "snoozed"
	StateSounding State = "sounding"
)

// ErrInvalidTransition is returned when a user action does not apply to the
// alert's current state.
var ErrInvalidTransition = eris.New("alert: invalid state transition")

// ParseState validates a stored state name.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateActive, StateSnoozed, StateSounding:
		return State(s), nil
	default:
		return "", eris.Errorf("alert: unknown state %q", s)
	}
}

// Instance is one alert configured on a property.
type Instance struct {
	ID           string          `json:"id"`
	PropertyID   string          `json:"property_id"`
	TemplateKind template.Kind   `json:"template_kind"`
	Inputs       template.Inputs `json:"-"`
	// LoanTerms restricts which quoted terms (in months) are considered.
	// Empty means every quoted term.
	LoanTerms   []int      `json:"loan_terms,omitempty"`
	State       State      `json:"state"`
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// New creates an active alert. The template kind is taken from inputs, so a
// new alert can never disagree with its own inputs.
func New(propertyID string, inputs template.Inputs, loanTerms []int, now time.Time) (*Instance, error) {
	if propertyID == "" {
		return nil, eris.New("alert: property id is required")
	}
	if inputs == nil {
		return nil, eris.New("alert: inputs are required")
	}
	if err := inputs.Validate(); err != nil {
		return nil, err
	}
	for _, t := range loanTerms {
		if t <= 0 {
			return nil, eris.Errorf("alert: loan term filter must be positive (got %d)", t)
		}
	}
	now = now.UTC()
	return &Instance{
		ID:           uuid.New().String(),
		PropertyID:   propertyID,
		TemplateKind: inputs.Kind(),
		Inputs:       inputs,
		LoanTerms:    slices.Clone(loanTerms),
		State:        StateActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// AllowsTerm reports whether quotes for termMonths pass the loan-term filter.
func (a *Instance) AllowsTerm(termMonths int) bool {
	return len(a.LoanTerms) == 0 || slices.Contains(a.LoanTerms, termMonths)
}

// SnoozedAt reports whether the alert is snoozed and the snooze has not yet
// expired at now.
func (a *Instance) SnoozedAt(now time.Time) bool {
	return a.State == StateSnoozed && a.SnoozeUntil != nil && now.Before(*a.SnoozeUntil)
}

// Resolve returns the state the alert is effectively in at now. A snooze
// whose deadline has passed resolves to active and expired is true. The
// instance is not mutated.
func (a *Instance) Resolve(now time.Time) (state State, expired bool) {
	if a.State == StateSnoozed && !a.SnoozedAt(now) {
		return StateActive, true
	}
	return a.State, false
}

// Snooze silences the alert until the given time.
func (a *Instance) Snooze(until, now time.Time) error {
	if !until.After(now) {
		return eris.Wrapf(ErrInvalidTransition, "alert %s: snooze until %s is not in the future", a.ID, until.Format(time.RFC3339))
	}
	u := until.UTC()
	a.State = StateSnoozed
	a.SnoozeUntil = &u
	a.UpdatedAt = now.UTC()
	return nil
}

// Unsnooze returns a snoozed alert to active.
func (a *Instance) Unsnooze(now time.Time) error {
	if a.State != StateSnoozed {
		return eris.Wrapf(ErrInvalidTransition, "alert %s: unsnooze from %s", a.ID, a.State)
	}
	a.Apply(StateActive, now)
	return nil
}

// Acknowledge silences a sounding alert back to active without snoozing it.
// It will sound again on the next pass if its condition still holds.
func (a *Instance) Acknowledge(now time.Time) error {
	if a.State != StateSounding {
		return eris.Wrapf(ErrInvalidTransition, "alert %s: acknowledge from %s", a.ID, a.State)
	}
	a.Apply(StateActive, now)
	return nil
}

// Apply moves the alert to state. Leaving snoozed clears SnoozeUntil.
func (a *Instance) Apply(state State, now time.Time) {
	a.State = state
	if state != StateSnoozed {
		a.SnoozeUntil = nil
	}
	a.UpdatedAt = now.UTC()
}

// Next is the evaluation transition: given the resolved current state
// (active or sounding) and whether the predicate holds, it returns the new
// state.
func Next(current State, triggered bool) State {
	switch {
	case triggered:
		return StateSounding
	case current == StateSounding:
		return StateActive
	default:
		return current
	}
}

// Transition records a state change (or its absence) for audit.
type Transition struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// Changed reports whether the transition moves the alert to another state.
func (t Transition) Changed() bool { return t.From != t.To }
