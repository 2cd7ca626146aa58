package supermaven

import (
	"errors"
	"fmt"
)

// Sentinel errors for malformed agent output.
var (
	ErrMissingKind         = errors.New("message has no kind field")
	ErrPassthroughTooDeep  = fmt.Errorf("passthrough nesting exceeds %d levels", MaxPassthroughDepth)
	ErrUnknownResponseItem = errors.New("unknown response item")
)

// DecodeError reports a line of agent output that could not be decoded.
// The session read loop logs these and keeps going.
type DecodeError struct {
	Cause error
	Line  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// UnknownMessageKindError is returned for a kind tag this package does not know.
type UnknownMessageKindError struct {
	Kind string
}

func (e *UnknownMessageKindError) Error() string {
	return fmt.Sprintf("unknown message kind %q", e.Kind)
}
