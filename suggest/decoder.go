package suggest

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	supermaven "github.com/Paranoid-AF/supermaven"
)

// ErrItemsAfterEnd is returned when the agent sends items for a state id
// after that id's End item.
var ErrItemsAfterEnd = errors.New("response items after end")

// StateSource reports the state id responses must match to be folded.
type StateSource interface {
	CurrentID() supermaven.StateID
}

// fold accumulates items for one state id.
type fold struct {
	id     supermaven.StateID
	ops    []Op
	dedent string // pending hint for the next insertion
	active bool
	ended  bool
}

func (f *fold) snapshot(final bool) Suggestion {
	ops := make([]Op, len(f.ops), len(f.ops)+1)
	copy(ops, f.ops)
	if f.dedent != "" {
		ops = append(ops, Op{Kind: OpInsert, Dedent: f.dedent})
	}
	return Suggestion{StateID: f.id, Ops: ops, Final: final}
}

// Decoder folds responses for the current state id into suggestions and
// drops responses for any other id. It is safe for concurrent use.
type Decoder struct {
	src    StateSource
	cache  *Cache
	logger *slog.Logger

	mu    sync.Mutex
	fold  fold
	stale int
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) { d.logger = logger }
}

// WithCache stores every final suggestion in c.
func WithCache(c *Cache) Option {
	return func(d *Decoder) { d.cache = c }
}

// NewDecoder creates a decoder that checks relevance against src.
func NewDecoder(src StateSource, opts ...Option) *Decoder {
	d := &Decoder{src: src, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed folds one response. It returns the suggestions emitted while folding:
// a snapshot for every Barrier and the final suggestion for End.
//
// A response whose state id is not the current one, or is zero, is dropped
// without error and leaves the accumulator untouched. Items after End fail with
// ErrItemsAfterEnd; suggestions emitted before the violation are still returned.
func (d *Decoder) Feed(resp *supermaven.Response) ([]Suggestion, error) {
	if resp == nil {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Zero is never allocated, so a response for it, or one without a
	// state_id, is stale even before the first commit.
	current := d.src.CurrentID()
	if resp.StateID == 0 || resp.StateID != current {
		d.stale++
		d.logger.Debug("dropping stale response", "state_id", resp.StateID, "current", current, "items", len(resp.Items))
		return nil, nil
	}

	if !d.fold.active || d.fold.id != resp.StateID {
		if d.fold.active && !d.fold.ended && len(d.fold.ops) > 0 {
			d.logger.Debug("abandoning fold", "state_id", d.fold.id, "ops", len(d.fold.ops))
		}
		d.fold = fold{id: resp.StateID, active: true}
	}

	var out []Suggestion
	for i, item := range resp.Items {
		if d.fold.ended {
			return out, fmt.Errorf("%w: state %s, item %d (%s)", ErrItemsAfterEnd, resp.StateID, i, item.ItemKind())
		}

		switch it := item.(type) {
		case supermaven.TextItem:
			d.fold.ops = append(d.fold.ops, Op{Kind: OpInsert, Text: it.Text, Dedent: d.fold.dedent})
			d.fold.dedent = ""
		case supermaven.DelItem:
			if text := d.fold.snapshot(false).Text(); len(text) >= len(it.Text) && !strings.HasSuffix(text, it.Text) {
				d.logger.Warn("deletion does not match inserted text", "state_id", resp.StateID, "del", it.Text, "suffix", lastRunes(text, utf8.RuneCountInString(it.Text)))
			}
			d.fold.ops = append(d.fold.ops, Op{Kind: OpDelete, Text: it.Text})
		case supermaven.DedentItem:
			d.fold.dedent += it.Text
		case supermaven.BarrierItem:
			out = append(out, d.fold.snapshot(false))
		case supermaven.EndItem:
			final := d.fold.snapshot(true)
			d.fold.ended = true
			if d.cache != nil {
				d.cache.Put(final)
			}
			out = append(out, final)
		default:
			// Abort the fold; the id stays closed like after End.
			d.fold.ops = nil
			d.fold.dedent = ""
			d.fold.ended = true
			return out, fmt.Errorf("%w: %T", supermaven.ErrUnknownResponseItem, item)
		}
	}
	return out, nil
}

// Abandon discards the in-progress fold, e.g. when the agent output ends.
func (d *Decoder) Abandon() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fold.active && !d.fold.ended {
		d.logger.Debug("abandoning fold", "state_id", d.fold.id, "ops", len(d.fold.ops))
	}
	d.fold = fold{}
}

// Pending returns a copy of the accumulator. The zero Suggestion means no fold is active.
func (d *Decoder) Pending() Suggestion {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.fold.active {
		return Suggestion{}
	}
	return d.fold.snapshot(d.fold.ended)
}

// Stale returns how many responses have been dropped as stale.
func (d *Decoder) Stale() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stale
}

// Completed returns the final suggestion for id if it is still cached.
func (d *Decoder) Completed(id supermaven.StateID) (Suggestion, bool) {
	if d.cache == nil {
		return Suggestion{}, false
	}
	return d.cache.Get(id)
}

// lastRunes returns the last n runes of s.
func lastRunes(s string, n int) string {
	i := len(s)
	for ; n > 0 && i > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return s[i:]
}
