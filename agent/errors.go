package agent

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStarted = errors.New("agent already started")
	ErrNotStarted     = errors.New("agent not started")
	ErrEmptyCommand   = errors.New("agent command is empty")
)

// ProcessError reports a failure to run the agent process.
type ProcessError struct {
	Cause    error
	Message  string
	ExitCode int
}

func (e *ProcessError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("process error: %s (exit code %d)", e.Message, e.ExitCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("process error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("process error: %s", e.Message)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// NotFoundError indicates the agent binary could not be found.
type NotFoundError struct {
	Cause error
	Path  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("agent binary not found at %q: %v", e.Path, e.Cause)
}

func (e *NotFoundError) Unwrap() error {
	return e.Cause
}
