// Package template is the registry of refinance alert templates: what each
// kind means, the inputs it takes, how it decides whether to trigger, and
// which refinance scenario it should be judged against.
package template

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/mortgage"
)

// Subject is what a predicate is evaluated against. Scenario is nil for
// templates that do not use refinance scenarios.
type Subject struct {
	Loan     model.LoanFacts
	Scenario *model.RefinanceScenario
	Today    time.Time
}

// Predicate decides whether inputs are satisfied by subject.
type Predicate func(subject Subject, inputs Inputs) (bool, error)

// Template is one catalog entry.
type Template struct {
	Kind          Kind
	Title         string
	Description   string
	DefaultInputs Inputs
	// UsesScenarios is false for templates evaluated against the current
	// loan alone.
	UsesScenarios bool
	Predicate     Predicate
	// Better reports whether a is strictly more favorable than b for this
	// template. Nil when UsesScenarios is false.
	Better func(a, b model.RefinanceScenario) bool
}

// Catalog maps kinds to templates and keeps a stable display order.
type Catalog struct {
	byKind map[Kind]Template
	order  []Kind
}

// NewCatalog builds a catalog. Registering a kind twice panics.
func NewCatalog(templates ...Template) *Catalog {
	c := &Catalog{byKind: make(map[Kind]Template, len(templates))}
	for _, t := range templates {
		if _, dup := c.byKind[t.Kind]; dup {
			panic("template: duplicate kind " + string(t.Kind))
		}
		c.byKind[t.Kind] = t
		c.order = append(c.order, t.Kind)
	}
	return c
}

// Lookup returns the template for kind.
func (c *Catalog) Lookup(kind Kind) (Template, bool) {
	t, ok := c.byKind[kind]
	return t, ok
}

// Kinds returns every registered kind in display order.
func (c *Catalog) Kinds() []Kind {
	return append([]Kind(nil), c.order...)
}

// All returns every template in display order.
func (c *Catalog) All() []Template {
	out := make([]Template, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKind[k])
	}
	return out
}

// Evaluate runs the predicate for kind.
func (c *Catalog) Evaluate(kind Kind, subject Subject, inputs Inputs) (bool, error) {
	t, ok := c.byKind[kind]
	if !ok {
		return false, eris.Errorf("template: unknown kind %q", kind)
	}
	if t.UsesScenarios && subject.Scenario == nil {
		return false, eris.Errorf("template: %s requires a refinance scenario", kind)
	}
	return t.Predicate(subject, inputs)
}

// Best picks the most favorable scenario for kind. Ties go to the shorter term.
func (c *Catalog) Best(kind Kind, scenarios []model.RefinanceScenario) (model.RefinanceScenario, bool) {
	t, ok := c.byKind[kind]
	if !ok || !t.UsesScenarios || len(scenarios) == 0 {
		return model.RefinanceScenario{}, false
	}
	best := scenarios[0]
	for _, s := range scenarios[1:] {
		switch {
		case t.Better(s, best):
			best = s
		case !t.Better(best, s) && s.TermMonths < best.TermMonths:
			best = s
		}
	}
	return best, true
}

// typed adapts a predicate over one concrete input type, rejecting any other.
func typed[T Inputs](fn func(Subject, T) (bool, error)) Predicate {
	return func(subject Subject, inputs Inputs) (bool, error) {
		in, ok := inputs.(T)
		if !ok {
			var want T
			return false, eris.Errorf("template: %s predicate given %T inputs", want.Kind(), inputs)
		}
		return fn(subject, in)
	}
}

// lowerBreakEven prefers any break-even over none, then fewer months.
func lowerBreakEven(a, b model.RefinanceScenario) bool {
	switch {
	case a.BreakEvenMonths == nil:
		return false
	case b.BreakEvenMonths == nil:
		return true
	default:
		return *a.BreakEvenMonths < *b.BreakEvenMonths
	}
}

// Default is the catalog used for both display and evaluation.
var Default = NewCatalog(
	Template{
		Kind:          KindMonthlySavings,
		Title:         "Monthly savings",
		Description:   "Alert when refinancing would lower the monthly payment by at least the chosen amount.",
		DefaultInputs: MonthlySavings{Amount: decimal.NewFromInt(200)},
		UsesScenarios: true,
		Predicate: typed(func(s Subject, in MonthlySavings) (bool, error) {
			return s.Scenario.MonthlySavings.GreaterThanOrEqual(in.Amount), nil
		}),
		Better: func(a, b model.RefinanceScenario) bool {
			return a.MonthlySavings.GreaterThan(b.MonthlySavings)
		},
	},
	Template{
		Kind:          KindBreakEven,
		Title:         "Break-even",
		Description:   "Alert when closing costs would be recovered from monthly savings within the chosen number of months.",
		DefaultInputs: BreakEven{Months: 24},
		UsesScenarios: true,
		Predicate: typed(func(s Subject, in BreakEven) (bool, error) {
			be := s.Scenario.BreakEvenMonths
			return be != nil && *be <= in.Months, nil
		}),
		Better: lowerBreakEven,
	},
	Template{
		Kind:          KindBreakEvenDate,
		Title:         "Break-even by date",
		Description:   "Alert when closing costs would be recovered from monthly savings before the chosen date.",
		DefaultInputs: BreakEvenDate{ByDate: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)},
		UsesScenarios: true,
		Predicate: typed(func(s Subject, in BreakEvenDate) (bool, error) {
			be := s.Scenario.BreakEvenMonths
			if be == nil {
				return false, nil
			}
			if s.Today.IsZero() {
				return false, eris.New("template: break-even-date needs today's date")
			}
			breakEven := addMonths(calendarDate(s.Today), *be)
			return !breakEven.After(calendarDate(in.ByDate)), nil
		}),
		Better: lowerBreakEven,
	},
	Template{
		Kind:          KindPMIRemoval,
		Title:         "PMI removal",
		Description:   "Alert when the loan-to-value ratio falls to the chosen percentage so mortgage insurance can be dropped.",
		DefaultInputs: PMIRemoval{LTV: decimal.NewFromInt(80)},
		UsesScenarios: false,
		Predicate: typed(func(s Subject, in PMIRemoval) (bool, error) {
			ltv, err := mortgage.LoanToValue(s.Loan.Balance, s.Loan.PropertyValue)
			if err != nil {
				return false, err
			}
			return ltv.LessThanOrEqual(in.LTV), nil
		}),
	},
	Template{
		Kind:          KindRateImprovement,
		Title:         "Rate improvement",
		Description:   "Alert when available rates drop below the current rate by at least the chosen number of percentage points.",
		DefaultInputs: RateImprovement{Improvement: decimal.RequireFromString("0.5")},
		UsesScenarios: true,
		Predicate: typed(func(s Subject, in RateImprovement) (bool, error) {
			gain := s.Loan.AnnualRatePercent.Sub(s.Scenario.NewRate)
			return gain.GreaterThanOrEqual(in.Improvement), nil
		}),
		Better: func(a, b model.RefinanceScenario) bool {
			return a.NewRate.LessThan(b.NewRate)
		},
	},
	Template{
		Kind:          KindInterestSavings,
		Title:         "Lifetime interest savings",
		Description:   "Alert when refinancing would save at least the chosen amount of interest over the life of the loan.",
		DefaultInputs: InterestSavings{LifetimeSavings: decimal.NewFromInt(25000)},
		UsesScenarios: true,
		Predicate: typed(func(s Subject, in InterestSavings) (bool, error) {
			return s.Scenario.LifetimeInterestSavings.GreaterThanOrEqual(in.LifetimeSavings), nil
		}),
		Better: func(a, b model.RefinanceScenario) bool {
			return a.LifetimeInterestSavings.GreaterThan(b.LifetimeInterestSavings)
		},
	},
)
