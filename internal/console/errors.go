package console

import (
	"errors"
	"fmt"
)

// Console errors.
var (
	// ErrGuardNotHeld indicates Guard.Exit was called at depth zero.
	// It is raised as a panic because it always means a pairing bug.
	ErrGuardNotHeld = errors.New("reentrancy guard released while not held")

	// ErrSessionBusy indicates an operation that requires an idle session.
	ErrSessionBusy = errors.New("session is busy")
)

// OperationError records a buffer fault hit during a session operation.
type OperationError struct {
	Op  string // Operation name (e.g., "append", "read command line")
	Err error  // Underlying error
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
