// Package state tracks the state id shared between the editor and the agent
// and turns batches of local edits into outbound state updates.
package state

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	supermaven "github.com/Paranoid-AF/supermaven"
)

// Sentinel errors for Commit.
var (
	ErrStaleOrUnknownStateID = errors.New("stale or unknown state id")
	ErrCursorOutOfRange      = errors.New("cursor offset out of range")
)

type phase int

const (
	phaseIdle phase = iota
	phasePending
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phasePending:
		return "pending"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Synchronizer owns the current state id of one agent session.
//
// At most one id is in flight: BeginUpdate allocates it, Commit makes it
// current. A second BeginUpdate before Commit supersedes the first id.
type Synchronizer struct {
	logger *slog.Logger

	mu      sync.Mutex
	phase   phase
	pending supermaven.StateID
	last    supermaven.StateID // highest id ever allocated

	current atomic.Uint64
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = logger }
}

// New creates a synchronizer with no committed state.
func New(opts ...Option) *Synchronizer {
	s := &Synchronizer{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginUpdate allocates a fresh id, strictly greater than every id allocated
// before it, and makes it the pending id. The current id is unchanged.
func (s *Synchronizer) BeginUpdate() supermaven.StateID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last++
	if s.phase == phasePending {
		s.logger.Debug("state update superseded", "state_id", s.pending, "by", s.last)
	}
	s.phase = phasePending
	s.pending = s.last
	return s.last
}

// Commit validates batch, makes batch.NewID current and returns the encoded
// state update to send to the agent. Only the pending id is accepted; anything
// else fails with ErrStaleOrUnknownStateID and leaves the state unchanged.
func (s *Synchronizer) Commit(batch Batch) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phasePending || batch.NewID != s.pending {
		return nil, fmt.Errorf("%w: %s (pending %s, %s)", ErrStaleOrUnknownStateID, batch.NewID, s.pending, s.phase)
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	data, err := supermaven.NewStateUpdateMessage(batch.NewID, batch.Updates).Marshal()
	if err != nil {
		return nil, err
	}

	s.current.Store(uint64(batch.NewID))
	s.phase = phaseIdle
	s.pending = 0
	s.logger.Debug("state committed", "state_id", batch.NewID, "updates", len(batch.Updates))
	return data, nil
}

// CurrentID returns the most recently committed id, or zero before the first commit.
// Safe to call from any goroutine.
func (s *Synchronizer) CurrentID() supermaven.StateID {
	return supermaven.StateID(s.current.Load())
}

// Pending returns the id allocated by BeginUpdate and not yet committed.
func (s *Synchronizer) Pending() (supermaven.StateID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.phase == phasePending
}
