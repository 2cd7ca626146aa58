// Package transport carries newline-delimited JSON between the editor side
// and the agent process.
package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrEmbeddedNewline is returned when a line to write contains a newline.
var ErrEmbeddedNewline = errors.New("line contains a newline")

// LineReader yields one message line at a time, without the terminator.
// It returns io.EOF after the last line.
type LineReader interface {
	ReadLine() ([]byte, error)
}

// LineWriter writes one message line and terminates it.
type LineWriter interface {
	WriteLine(line []byte) error
}

// Stream reads and writes newline-terminated lines over a byte stream.
// Lines have no length limit. Reads must come from a single goroutine;
// writes are serialized.
type Stream struct {
	r *bufio.Reader

	mu sync.Mutex
	w  io.Writer
}

// NewStream creates a stream. Either side may be nil if unused.
func NewStream(r io.Reader, w io.Writer) *Stream {
	s := &Stream{w: w}
	if r != nil {
		s.r = bufio.NewReaderSize(r, 64*1024)
	}
	return s
}

// ReadLine returns the next non-blank line with its trailing "\r\n" or "\n"
// removed. A final line without a terminator is still returned.
func (s *Stream) ReadLine() ([]byte, error) {
	if s.r == nil {
		return nil, io.EOF
	}
	for {
		line, err := s.r.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// WriteLine writes line followed by "\n".
func (s *Stream) WriteLine(line []byte) error {
	if bytes.IndexByte(line, '\n') >= 0 {
		return ErrEmbeddedNewline
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return io.ErrClosedPipe
	}
	_, err := s.w.Write(buf)
	return err
}
