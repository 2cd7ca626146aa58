package serve

import (
	"context"
	"errors"
	"time"

	supermaven "github.com/Paranoid-AF/supermaven"
	"github.com/Paranoid-AF/supermaven/session"
	"github.com/Paranoid-AF/supermaven/state"
	"github.com/Paranoid-AF/supermaven/suggest"
)

// Suggester is the part of session.Session the server needs.
type Suggester interface {
	Complete(ctx context.Context, path, content string, offset int) (suggest.Suggestion, error)
}

var _ Suggester = (*session.Session)(nil)

// SessionCompleter answers edit requests from an agent session.
type SessionCompleter struct {
	s       Suggester
	timeout time.Duration
}

// NewSessionCompleter creates a completer. A positive timeout bounds how long
// a request waits for the final suggestion.
func NewSessionCompleter(s Suggester, timeout time.Duration) *SessionCompleter {
	return &SessionCompleter{s: s, timeout: timeout}
}

// Complete sends the edit and waits for the agent's final suggestion.
func (c *SessionCompleter) Complete(ctx context.Context, req *supermaven.EditRequest) *supermaven.SuggestionResponse {
	resp := &supermaven.SuggestionResponse{RequestID: req.RequestID}
	if req.Path == "" {
		resp.Error = &supermaven.Error{Code: "invalid_request", Message: "path is required"}
		return resp
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	sg, err := c.s.Complete(ctx, req.Path, req.Content, req.CursorOffset)
	if err != nil {
		resp.Error = errorFor(err)
		return resp
	}

	resp.StateID = sg.StateID
	resp.Text = sg.Text()
	resp.Deleted = sg.Deleted()
	resp.Dedent = sg.Dedent()
	return resp
}

func errorFor(err error) *supermaven.Error {
	code := "agent_error"
	switch {
	case errors.Is(err, session.ErrSuperseded):
		code = "superseded"
	case errors.Is(err, context.DeadlineExceeded):
		code = "timeout"
	case errors.Is(err, context.Canceled):
		code = "cancelled"
	case errors.Is(err, state.ErrCursorOutOfRange):
		code = "invalid_request"
	case errors.Is(err, session.ErrClosed):
		code = "agent_unavailable"
	}
	return &supermaven.Error{Code: code, Message: err.Error()}
}
