package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrStepLimitExceeded fails a run whose definition would execute more
// steps than the configured ceiling.
var ErrStepLimitExceeded = errors.New("step limit exceeded")

// ErrRunTerminal is returned when an operation targets a run that has
// already completed, failed, or been cancelled.
var ErrRunTerminal = errors.New("run is in a terminal state")

// InvariantError reports corrupted run state the engine cannot recover
// from: a cursor outside the snapshot, an undecodable snapshot. It
// always fails the run loudly, never drops it.
type InvariantError struct {
	RunID  uuid.UUID
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("run %s invariant violated: %s", e.RunID, e.Reason)
}
