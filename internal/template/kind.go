package template

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Kind identifies an alert template.
type Kind string

const (
	KindMonthlySavings  Kind = "monthly-savings"
	KindBreakEven       Kind = "break-even"
	KindBreakEvenDate   Kind = "break-even-date"
	KindPMIRemoval      Kind = "pmi-removal"
	KindRateImprovement Kind = "rate-improvement"
	KindInterestSavings Kind = "interest-savings"
)

// ParseKind accepts a kind name, case-insensitively, with either dashes or
// underscores.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if _, ok := Default.Lookup(k); !ok {
		return "", eris.Errorf("template: unknown kind %q", s)
	}
	return k, nil
}
