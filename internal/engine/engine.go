// Package engine evaluates refinance alerts against a loan and a rate
// snapshot and decides each alert's next lifecycle state. It performs no I/O
// and never reads the clock; the caller supplies now.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/refi-monitor/internal/alert"
	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/mortgage"
	"github.com/sells-group/refi-monitor/internal/template"
)

// ScenarioBuilder prices one refinance scenario.
type ScenarioBuilder func(loan model.LoanFacts, quote model.RateQuote, closingCosts decimal.Decimal) (model.RefinanceScenario, error)

// Engine evaluates alerts. The zero value is not usable; use New.
type Engine struct {
	catalog     *template.Catalog
	concurrency int
	build       ScenarioBuilder
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog replaces the default template catalog.
func WithCatalog(c *template.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithConcurrency bounds how many alerts EvaluateAll evaluates at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithScenarioBuilder replaces mortgage.BuildScenario.
func WithScenarioBuilder(b ScenarioBuilder) Option {
	return func(e *Engine) { e.build = b }
}

// New creates an Engine using the default catalog.
func New(opts ...Option) *Engine {
	e := &Engine{
		catalog:     template.Default,
		concurrency: 8,
		build:       mortgage.BuildScenario,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Catalog returns the catalog the engine evaluates against.
func (e *Engine) Catalog() *template.Catalog { return e.catalog }

// Evaluate decides the next state of inst for loan at now. The instance is
// not mutated; apply the decision with ApplyDecision.
func (e *Engine) Evaluate(loan model.LoanFacts, inst alert.Instance, snapshot model.Snapshot, closingCosts decimal.Decimal, now time.Time) (Decision, error) {
	tmpl, err := e.check(inst)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		AlertID:     inst.ID,
		PropertyID:  inst.PropertyID,
		Kind:        inst.TemplateKind,
		EvaluatedAt: now,
	}

	current, expired := inst.Resolve(now)
	if current == alert.StateSnoozed {
		d.Transition = alert.Transition{From: inst.State, To: alert.StateSnoozed, Reason: ReasonSnoozed}
		d.SnoozeUntil = inst.SnoozeUntil
		return d, nil
	}
	from := inst.State

	subject := template.Subject{Loan: loan, Today: now}
	if tmpl.UsesScenarios {
		scenarios, err := e.scenarios(loan, inst, snapshot, closingCosts)
		if err != nil {
			return Decision{}, err
		}
		d.Candidates = len(scenarios)
		if len(scenarios) == 0 {
			d.Transition = alert.Transition{From: from, To: current, Reason: ReasonNoQuotes}
			return d, nil
		}
		best, _ := e.catalog.Best(tmpl.Kind, scenarios)
		subject.Scenario = &best
		d.Scenario = &best
	} else if loan.PropertyValue.IsPositive() {
		ltv, err := mortgage.LoanToValue(loan.Balance, loan.PropertyValue)
		if err != nil {
			return Decision{}, err
		}
		d.LTV = &ltv
	}

	triggered, err := e.catalog.Evaluate(tmpl.Kind, subject, inst.Inputs)
	if err != nil {
		return Decision{}, err
	}
	d.Evaluated = true
	d.Triggered = triggered

	next := alert.Next(current, triggered)
	d.Transition = alert.Transition{From: from, To: next, Reason: reason(current, next, expired)}
	return d, nil
}

// check validates the alert's kind and inputs against the catalog.
func (e *Engine) check(inst alert.Instance) (template.Template, error) {
	tmpl, ok := e.catalog.Lookup(inst.TemplateKind)
	if !ok {
		return template.Template{}, &InvalidInputError{AlertID: inst.ID, Reason: "unknown template kind " + string(inst.TemplateKind)}
	}
	if inst.Inputs == nil {
		return template.Template{}, &InvalidInputError{AlertID: inst.ID, Reason: "missing inputs"}
	}
	if inst.Inputs.Kind() != inst.TemplateKind {
		return template.Template{}, &InvalidInputError{
			AlertID: inst.ID,
			Reason:  "inputs are " + string(inst.Inputs.Kind()) + " but template is " + string(inst.TemplateKind),
		}
	}
	if err := inst.Inputs.Validate(); err != nil {
		return template.Template{}, &InvalidInputError{AlertID: inst.ID, Reason: err.Error()}
	}
	return tmpl, nil
}

// scenarios prices every quote that passes the alert's term filter and the
// loan's credit tier.
func (e *Engine) scenarios(loan model.LoanFacts, inst alert.Instance, snapshot model.Snapshot, closingCosts decimal.Decimal) ([]model.RefinanceScenario, error) {
	var out []model.RefinanceScenario
	tier := model.NormalizeTier(loan.CreditTier)
	for _, q := range snapshot.Quotes {
		if !inst.AllowsTerm(q.TermMonths) {
			continue
		}
		if qt := model.NormalizeTier(q.CreditTier); tier != "" && qt != "" && qt != tier {
			continue
		}
		s, err := e.build(loan, q, closingCosts)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func reason(current, next alert.State, expired bool) string {
	switch {
	case next == alert.StateSounding && current != alert.StateSounding:
		return ReasonTriggered
	case next == alert.StateActive && current == alert.StateSounding:
		return ReasonCleared
	case expired:
		return ReasonSnoozeExpire
	default:
		return ReasonUnchanged
	}
}

// Job is one alert to evaluate in a batch.
type Job struct {
	Loan         model.LoanFacts
	Alert        alert.Instance
	ClosingCosts decimal.Decimal
}

// EvaluateAll evaluates every job against snapshot. A job that fails is
// recorded in Batch.Failures and never stops the others. Results are sorted
// by alert ID. Cancelling ctx stops jobs that have not started; they are
// reported as failures.
func (e *Engine) EvaluateAll(ctx context.Context, jobs []Job, snapshot model.Snapshot, now time.Time) Batch {
	decisions := make([]*Decision, len(jobs))
	failures := make([]*Failure, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				failures[i] = newFailure(job.Alert, err)
				return nil
			}
			d, err := e.Evaluate(job.Loan, job.Alert, snapshot, job.ClosingCosts, now)
			if err != nil {
				zap.L().Warn("engine: alert evaluation failed",
					zap.String("alert_id", job.Alert.ID),
					zap.String("property_id", job.Alert.PropertyID),
					zap.Error(err),
				)
				failures[i] = newFailure(job.Alert, err)
				return nil
			}
			decisions[i] = &d
			return nil
		})
	}
	_ = g.Wait()

	var b Batch
	for i := range jobs {
		if decisions[i] != nil {
			b.Decisions = append(b.Decisions, *decisions[i])
		}
		if failures[i] != nil {
			b.Failures = append(b.Failures, *failures[i])
		}
	}
	sort.SliceStable(b.Decisions, func(i, j int) bool { return b.Decisions[i].AlertID < b.Decisions[j].AlertID })
	sort.SliceStable(b.Failures, func(i, j int) bool { return b.Failures[i].AlertID < b.Failures[j].AlertID })
	return b
}

func newFailure(inst alert.Instance, err error) *Failure {
	return &Failure{AlertID: inst.ID, PropertyID: inst.PropertyID, Err: err, Message: err.Error()}
}

// ApplyDecision moves inst to the decision's target state.
func ApplyDecision(inst *alert.Instance, d Decision) {
	if d.Transition.To == alert.StateSnoozed {
		return
	}
	inst.Apply(d.Transition.To, d.EvaluatedAt)
}
