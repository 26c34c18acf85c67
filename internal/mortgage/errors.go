package mortgage

import (
	"errors"
	"fmt"
)

// DomainError reports numeric input outside the domain of a mortgage
// function. It always indicates a caller bug and is never recovered here.
type DomainError struct {
	Op     string
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("mortgage: %s: %s", e.Op, e.Reason)
}

func domainErr(op, format string, args ...any) error {
	return &DomainError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// IsDomainError reports whether err (or anything it wraps) is a DomainError.
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}
