package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Trace directions.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// TraceEntry is one line of a trace file. Lines that are not valid JSON are
// kept verbatim in Raw.
type TraceEntry struct {
	Timestamp string          `json:"timestamp"`
	Direction string          `json:"direction"` // "sent" or "received"
	Message   json.RawMessage `json:"message,omitempty"`
	Raw       string          `json:"raw,omitempty"`
}

// Line returns the protocol line the entry was recorded from.
func (e TraceEntry) Line() []byte {
	if len(e.Message) > 0 {
		return e.Message
	}
	return []byte(e.Raw)
}

// Recorder tees the lines passing through a reader and a writer into a
// JSONL trace.
type Recorder struct {
	r LineReader
	w LineWriter

	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewRecorder records lines read from r and written to w into out.
// Either r or w may be nil.
func NewRecorder(r LineReader, w LineWriter, out io.Writer) *Recorder {
	return &Recorder{r: r, w: w, out: out, now: time.Now}
}

// ReadLine reads from the wrapped reader and records the line as received.
func (rec *Recorder) ReadLine() ([]byte, error) {
	if rec.r == nil {
		return nil, io.EOF
	}
	line, err := rec.r.ReadLine()
	if err != nil {
		return nil, err
	}
	if err := rec.record(DirectionReceived, line); err != nil {
		return nil, err
	}
	return line, nil
}

// WriteLine records the line as sent and writes it to the wrapped writer.
func (rec *Recorder) WriteLine(line []byte) error {
	if rec.w == nil {
		return io.ErrClosedPipe
	}
	if err := rec.w.WriteLine(line); err != nil {
		return err
	}
	return rec.record(DirectionSent, line)
}

func (rec *Recorder) record(direction string, line []byte) error {
	entry := TraceEntry{
		Timestamp: rec.now().UTC().Format(time.RFC3339Nano),
		Direction: direction,
	}
	if json.Valid(line) {
		entry.Message = append(json.RawMessage(nil), line...)
	} else {
		entry.Raw = string(line)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal trace entry: %w", err)
	}
	data = append(data, '\n')

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, err := rec.out.Write(data); err != nil {
		return fmt.Errorf("write trace entry: %w", err)
	}
	return nil
}

// ParseTraceEntry parses one trace line. It reports false when the line is
// not a trace entry, e.g. a raw protocol message.
func ParseTraceEntry(line []byte) (TraceEntry, bool) {
	var entry TraceEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return TraceEntry{}, false
	}
	if entry.Direction != DirectionSent && entry.Direction != DirectionReceived {
		return TraceEntry{}, false
	}
	if len(entry.Message) == 0 && entry.Raw == "" {
		return TraceEntry{}, false
	}
	return entry, true
}

// ReadTrace loads every entry of a trace.
func ReadTrace(r io.Reader) ([]TraceEntry, error) {
	s := NewStream(r, nil)
	var entries []TraceEntry
	for n := 1; ; n++ {
		line, err := s.ReadLine()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entry, ok := ParseTraceEntry(line)
		if !ok {
			return entries, fmt.Errorf("trace line %d: not a trace entry", n)
		}
		entries = append(entries, entry)
	}
}
