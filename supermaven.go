// Package supermaven defines the wire messages exchanged with the Supermaven
// agent and the request/response types editors use to talk to the daemon.
//
// Agent messages are JSON objects written one per line over the agent's stdio.
// Editor messages are JSON-encoded and sent over a Unix domain socket, one per line.
package supermaven

// EditRequest is sent from an editor client to the daemon.
type EditRequest struct {
	// RequestID is a per-client incrementing identifier.
	// The daemon echoes it back in the response for ordering.
	RequestID int `json:"request_id"`
	// SessionID identifies the editor session. A newer request on the same
	// session cancels the older one.
	SessionID string `json:"session_id"`
	// Path is the file being edited.
	Path string `json:"path"`
	// Content is the full buffer content.
	Content string `json:"content"`
	// CursorOffset is the cursor position as a byte offset into Content.
	CursorOffset int `json:"cursor_offset"`
}

// SuggestionResponse is sent from the daemon back to the editor client.
type SuggestionResponse struct {
	// RequestID is echoed from the request.
	RequestID int `json:"request_id"`
	// StateID is the agent state the suggestion was produced for.
	StateID StateID `json:"state_id,omitempty"`
	// Text is inserted at the cursor.
	Text string `json:"text"`
	// Deleted is buffer text to remove immediately before the cursor first.
	Deleted string `json:"deleted,omitempty"`
	// Dedent is the indentation hint for the insertion point, if any.
	Dedent string `json:"dedent,omitempty"`
	// Error is set when the daemon cannot fulfill the request.
	Error *Error `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the editor client.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "superseded", "timeout").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}

// ConfigRequest is sent from the editor client for configuration operations.
type ConfigRequest struct {
	// Action is the config operation: "get", "defaults", or "validate".
	Action string `json:"action"`
}

// ConfigResponse is sent from the daemon in response to a ConfigRequest.
type ConfigResponse struct {
	// Config is the current configuration (for "get" and "defaults" actions).
	Config *Config `json:"config,omitempty"`
	// Warnings contains configuration warnings (for "validate" action).
	Warnings []string `json:"warnings,omitempty"`
	// Error is set when the operation fails.
	Error *Error `json:"error,omitempty"`
}
