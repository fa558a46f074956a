package limit

import (
	"errors"

	"github.com/thmegy/Unfolding-sub003/stats"
)

// Sentinel causes of fatal errors.
var (
	ErrNaN            = stats.ErrNaN
	ErrIterationLimit = stats.ErrIterationLimit
)

// FatalError is a numerical failure that aborts the run: a NaN in the
// iteration state or an exhausted iteration cap. Fit failures are not fatal;
// they are counted by the solver.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return "limit: " + e.Op + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is, or wraps, a FatalError or one of its causes.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe) || errors.Is(err, ErrNaN) || errors.Is(err, ErrIterationLimit)
}

func fatal(op string, err error) error {
	fatalErrors.WithLabelValues(op).Inc()
	return &FatalError{Op: op, Err: err}
}
