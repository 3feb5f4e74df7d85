package executor

import (
	"errors"
	"fmt"
)

// ErrConfirmationTimeout marks a confirmation wait that outlived its tier
// timeout. The submission may still land later; the retry loop treats this
// as retryable.
var ErrConfirmationTimeout = errors.New("confirmation timed out")

// SimulationError is a pre-submission failure. It is never retried.
type SimulationError struct {
	Label string
	Err   error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation of %s failed: %v", e.Label, e.Err)
}

func (e *SimulationError) Unwrap() error { return e.Err }

// ExecutionError is the terminal outcome of an exhausted retry loop.
type ExecutionError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of %s failed after %d attempts: %v", e.Label, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
