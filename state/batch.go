package state

import (
	"fmt"

	supermaven "github.com/Paranoid-AF/supermaven"
)

// Batch is the set of updates that moves the agent to state NewID.
// Updates apply in order against the current state.
type Batch struct {
	NewID   supermaven.StateID
	Updates []supermaven.StateUpdate
}

// NewBatch starts an empty batch for id.
func NewBatch(id supermaven.StateID) *Batch {
	return &Batch{NewID: id}
}

// AddFile appends a full-content update for path.
func (b *Batch) AddFile(path, content string) *Batch {
	b.Updates = append(b.Updates, supermaven.FileUpdate{Path: path, Content: content})
	return b
}

// AddCursor appends a cursor move for path.
func (b *Batch) AddCursor(path string, offset int) *Batch {
	b.Updates = append(b.Updates, supermaven.CursorPositionUpdate{Path: path, Offset: offset})
	return b
}

// Validate checks that every update is a known variant, by value or by
// non-nil pointer, and that each cursor offset fits the latest content sent
// for its path earlier in the batch.
func (b Batch) Validate() error {
	lengths := make(map[string]int)
	for i, u := range b.Updates {
		switch p := u.(type) {
		case *supermaven.FileUpdate:
			if p != nil {
				u = *p
			}
		case *supermaven.CursorPositionUpdate:
			if p != nil {
				u = *p
			}
		}
		switch u := u.(type) {
		case supermaven.FileUpdate:
			lengths[u.Path] = len(u.Content)
		case supermaven.CursorPositionUpdate:
			if u.Offset < 0 {
				return fmt.Errorf("%w: update %d: %s offset %d is negative", ErrCursorOutOfRange, i, u.Path, u.Offset)
			}
			if n, ok := lengths[u.Path]; ok && u.Offset > n {
				return fmt.Errorf("%w: update %d: %s offset %d exceeds content length %d", ErrCursorOutOfRange, i, u.Path, u.Offset, n)
			}
		default:
			return fmt.Errorf("update %d: unsupported update type %T", i, u)
		}
	}
	return nil
}
