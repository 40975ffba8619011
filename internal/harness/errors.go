package harness

import (
	"fmt"
	"time"
)

// SpawnError reports that a command could not be started at all
// (missing executable, permission error).
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that a command exceeded its bounded lifetime and
// was forcibly terminated. Distinct from a non-zero exit code.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}
