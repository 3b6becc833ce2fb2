// Package runner replays plans against a live browser by delegating
// low-level decisions to the Computer Use agent.
package runner

import (
	"errors"
	"fmt"
)

// ErrAborted signals a cooperative halt requested by the operator. It
// unwinds the run without being treated as a failure.
var ErrAborted = errors.New("abort requested")

// RunnerError is a terminal run failure: the executor cannot continue and
// the run will be reported as failed.
type RunnerError struct {
	Message string
	Err     error
}

func (e *RunnerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RunnerError) Unwrap() error { return e.Err }

func runnerErrorf(format string, args ...any) *RunnerError {
	return &RunnerError{Message: fmt.Sprintf(format, args...)}
}
