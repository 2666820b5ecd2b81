package ledger

import (
	"errors"
	"fmt"
)

// ErrValidation marks every rejection raised before anything is written.
// Callers match it with errors.Is and map it to a client error.
var ErrValidation = errors.New("validation rejected")

var (
	ErrNothingToRecord    = errors.New("nothing to record")
	ErrOverCollection     = errors.New("cannot collect more than is owed")
	ErrReturnExceedsStock = errors.New("returned empties exceed containers held")
	ErrUnderflow          = errors.New("balance would drop below zero")
	ErrNegativeCount      = errors.New("counts must not be negative")
	ErrNegativePrice      = errors.New("prices must not be negative")
	ErrPricePrecision     = errors.New("prices allow at most two decimal places")
	ErrUnknownMode        = errors.New("unknown payment mode")
)

// ValidationError carries the reason and a human-readable detail.
// It unwraps to both ErrValidation and the specific reason.
type ValidationError struct {
	Err     error
	Details string
}

func (e *ValidationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Details)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

func reject(reason error, format string, args ...any) error {
	return &ValidationError{Err: reason, Details: fmt.Sprintf(format, args...)}
}
