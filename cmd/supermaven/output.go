package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	supermaven "github.com/Paranoid-AF/supermaven"
	"github.com/Paranoid-AF/supermaven/suggest"
)

// output writes one entry per event, either as TOML documents separated by
// comment rules or as one human-readable line.
type output struct {
	mu    sync.Mutex
	w     io.Writer
	human bool
	now   func() time.Time
}

// newOutput picks text for terminals and TOML otherwise, unless format forces one.
func newOutput(f *os.File, format string) (*output, error) {
	o := &output{w: f, now: time.Now}
	switch format {
	case "auto", "":
		o.human = term.IsTerminal(int(f.Fd()))
	case "text":
		o.human = true
	case "toml":
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return o, nil
}

type entry struct {
	Message    *messageEntry    `toml:"message,omitempty"`
	Suggestion *suggestionEntry `toml:"suggestion,omitempty"`
	Error      *errorEntry      `toml:"error,omitempty"`
}

type messageEntry struct {
	Timestamp string `toml:"timestamp"`
	Line      int    `toml:"line,omitempty"`
	Direction string `toml:"direction,omitempty"`
	Kind      string `toml:"kind"`
	JSON      string `toml:"json"`
}

type suggestionEntry struct {
	Timestamp string    `toml:"timestamp"`
	StateID   string    `toml:"state_id"`
	Final     bool      `toml:"final"`
	Text      string    `toml:"text"`
	Deleted   string    `toml:"deleted,omitempty"`
	Dedent    string    `toml:"dedent,omitempty"`
	Ops       []opEntry `toml:"ops,omitempty"`
}

type opEntry struct {
	Op     string `toml:"op"`
	Text   string `toml:"text"`
	Dedent string `toml:"dedent,omitempty"`
}

type errorEntry struct {
	Line    int    `toml:"line,omitempty"`
	Message string `toml:"message"`
	Input   string `toml:"input,omitempty"`
}

func (o *output) write(e entry, human string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.human {
		_, err := fmt.Fprintln(o.w, human)
		return err
	}
	if _, err := fmt.Fprintf(o.w, "# %s\n\n", strings.Repeat("═", 60)); err != nil {
		return err
	}
	if err := toml.NewEncoder(o.w).Encode(e); err != nil {
		return err
	}
	_, err := fmt.Fprintln(o.w)
	return err
}

func (o *output) timestamp() string {
	return o.now().Format(time.RFC3339)
}

// Message writes an agent or editor message. line is the input line number,
// or zero when not reading from a file.
func (o *output) Message(line int, direction string, msg supermaven.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Kind(), err)
	}
	return o.message(line, direction, string(msg.Kind()), data)
}

func (o *output) message(line int, direction, kind string, data []byte) error {
	e := &messageEntry{
		Timestamp: o.timestamp(),
		Line:      line,
		Direction: direction,
		Kind:      kind,
		JSON:      string(data),
	}
	human := fmt.Sprintf("%-20s %s", kind, data)
	if direction != "" {
		human = fmt.Sprintf("%-8s %s", direction, human)
	}
	return o.write(entry{Message: e}, human)
}

// Suggestion writes a folded suggestion.
func (o *output) Suggestion(s suggest.Suggestion) error {
	e := &suggestionEntry{
		Timestamp: o.timestamp(),
		StateID:   s.StateID.String(),
		Final:     s.Final,
		Text:      s.Text(),
		Deleted:   s.Deleted(),
		Dedent:    s.Dedent(),
	}
	for _, op := range s.Ops {
		e.Ops = append(e.Ops, opEntry{Op: op.Kind.String(), Text: op.Text, Dedent: op.Dedent})
	}

	human := "suggestion " + s.String()
	if e.Deleted != "" {
		human += fmt.Sprintf(" (deletes %q)", e.Deleted)
	}
	return o.write(entry{Suggestion: e}, human)
}

// Error writes a problem with one input line and keeps going.
func (o *output) Error(line int, input []byte, err error) error {
	e := &errorEntry{Line: line, Message: err.Error(), Input: string(input)}
	human := fmt.Sprintf("error    line %d: %v", line, err)
	return o.write(entry{Error: e}, human)
}
