package engine

import (
	"errors"
	"fmt"
)

// InvalidInputError reports an alert whose stored inputs cannot be evaluated:
// an unknown template kind, inputs tagged for a different kind, or inputs
// that fail validation.
type InvalidInputError struct {
	AlertID string
	Reason  string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("engine: alert %s: invalid inputs: %s", e.AlertID, e.Reason)
}

// IsInvalidInput reports whether err is or wraps an InvalidInputError.
func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}
