// Package suggest folds the agent's streamed response items into suggestions.
package suggest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	supermaven "github.com/Paranoid-AF/supermaven"
)

// OpKind discriminates between edit operations.
type OpKind int

const (
	OpInsert OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Op is one step of an edit script applied at the cursor.
type Op struct {
	Kind OpKind
	// Text is inserted at, or removed from immediately before, the current position.
	Text string
	// Dedent is the indentation hint attached to an insertion point.
	// It is passed through for the renderer and not resolved here.
	Dedent string
}

// Suggestion is an ordered edit script for one state id.
// Snapshots emitted at barriers have Final set to false.
type Suggestion struct {
	StateID supermaven.StateID
	Ops     []Op
	Final   bool
}

// Text returns the text inserted at the cursor after all deletions are applied.
func (s Suggestion) Text() string {
	text, _ := s.apply()
	return text
}

// Deleted returns the buffer text removed from before the cursor, i.e. the
// part of the deletions that reaches past the suggestion's own insertions.
func (s Suggestion) Deleted() string {
	_, deleted := s.apply()
	return deleted
}

// Dedent returns the first indentation hint in the script, if any.
func (s Suggestion) Dedent() string {
	for _, op := range s.Ops {
		if op.Dedent != "" {
			return op.Dedent
		}
	}
	return ""
}

// Empty reports whether the suggestion changes nothing.
func (s Suggestion) Empty() bool {
	text, deleted := s.apply()
	return text == "" && deleted == ""
}

// apply runs the script against an empty insertion. A deletion removes its
// text from the end of the inserted text when it matches there, otherwise as
// many runes as it holds; whatever does not fit spills into the buffer before
// the cursor.
func (s Suggestion) apply() (text, deleted string) {
	var cur string
	for _, op := range s.Ops {
		switch op.Kind {
		case OpInsert:
			cur += op.Text
		case OpDelete:
			var spill string
			cur, spill = deleteSuffix(cur, op.Text)
			deleted = spill + deleted
		}
	}
	return cur, deleted
}

// deleteSuffix removes del from the end of text. It never splits a rune.
// spill is the leading part of del that reaches before text.
func deleteSuffix(text, del string) (rest, spill string) {
	if strings.HasSuffix(text, del) {
		return text[:len(text)-len(del)], ""
	}
	n := utf8.RuneCountInString(del)
	i := len(text)
	for n > 0 && i > 0 {
		_, size := utf8.DecodeLastRuneInString(text[:i])
		i -= size
		n--
	}
	if n == 0 {
		return text[:i], ""
	}
	j := 0
	for ; n > 0; n-- {
		_, size := utf8.DecodeRuneInString(del[j:])
		j += size
	}
	return "", del[:j]
}

func (s Suggestion) String() string {
	final := "snapshot"
	if s.Final {
		final = "final"
	}
	return fmt.Sprintf("%s %s %q", s.StateID, final, s.Text())
}
