// Package session binds the state synchronizer and the response decoder to
// one agent connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	supermaven "github.com/Paranoid-AF/supermaven"
	"github.com/Paranoid-AF/supermaven/state"
	"github.com/Paranoid-AF/supermaven/suggest"
	"github.com/Paranoid-AF/supermaven/transport"
)

var (
	// ErrSuperseded is returned by Complete when a newer edit replaced the
	// state it was waiting on.
	ErrSuperseded = errors.New("superseded by a newer edit")
	// ErrClosed is returned once the session or the agent connection is closed.
	ErrClosed = errors.New("session closed")
	// ErrUnhandledMessage is returned by Handle for message types it does not route.
	ErrUnhandledMessage = errors.New("unhandled message type")
)

type result struct {
	s   suggest.Suggestion
	err error
}

// Session is one editor's conversation with the agent.
type Session struct {
	id     string
	w      transport.LineWriter
	h      Handler
	logger *slog.Logger
	states *state.Synchronizer
	dec    *suggest.Decoder
	cache  *suggest.Cache

	// editMu serializes Edit so allocation, commit and write reach the agent in order.
	editMu sync.Mutex

	mu      sync.Mutex
	docs    map[string]string
	waiters map[supermaven.StateID][]chan result
	dust    []string
	repo    string
	cursor  cursor
	closed  bool

	closeOnce sync.Once
}

// cursor is where the last committed state put the cursor.
type cursor struct {
	id     supermaven.StateID
	path   string
	offset int
}

type options struct {
	logger *slog.Logger
	ttl    time.Duration
	id     string
}

// Option configures a Session.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSuggestionTTL sets how long final suggestions stay retrievable by state id.
func WithSuggestionTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// New creates a session that writes state updates to w and reports agent
// messages to h. A nil h is replaced by NopHandler.
func New(w transport.LineWriter, h Handler, opts ...Option) *Session {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if h == nil {
		h = NopHandler{}
	}

	logger := o.logger.With("session", o.id)
	s := &Session{
		id:      o.id,
		w:       w,
		h:       h,
		logger:  logger,
		states:  state.New(state.WithLogger(logger)),
		cache:   suggest.NewCache(o.ttl),
		docs:    make(map[string]string),
		waiters: make(map[supermaven.StateID][]chan result),
	}
	s.dec = suggest.NewDecoder(s.states, suggest.WithLogger(logger), suggest.WithCache(s.cache))
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CurrentID returns the state id the agent was last told about.
func (s *Session) CurrentID() supermaven.StateID { return s.states.CurrentID() }

// Stale returns how many agent responses were dropped as stale.
func (s *Session) Stale() int { return s.dec.Stale() }

// Pending returns the suggestion being folded for the current state, if any.
func (s *Session) Pending() suggest.Suggestion { return s.dec.Pending() }

// Completed returns a cached final suggestion.
func (s *Session) Completed(id supermaven.StateID) (suggest.Suggestion, bool) {
	return s.dec.Completed(id)
}

// DustStrings returns the strings from the agent's latest metadata message.
func (s *Session) DustStrings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.dust)
}

// ActiveRepo returns the repository name the agent last reported.
func (s *Session) ActiveRepo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo
}

// Edit tells the agent about a buffer and cursor. The full content is sent
// only when it differs from what was last sent for path. It returns the new
// state id, which is current once Edit returns.
func (s *Session) Edit(path, content string, offset int) (supermaven.StateID, error) {
	id, _, err := s.edit(path, content, offset, false)
	return id, err
}

// Complete performs Edit and waits for the final suggestion of the new state.
// When the current state already has this content and cursor and its final
// suggestion is still cached, that suggestion is returned without a new edit.
func (s *Session) Complete(ctx context.Context, path, content string, offset int) (suggest.Suggestion, error) {
	if sg, ok := s.answered(path, content, offset); ok {
		s.logger.Debug("suggestion served from cache", "state_id", sg.StateID, "path", path)
		return sg, nil
	}

	id, ch, err := s.edit(path, content, offset, true)
	if err != nil {
		return suggest.Suggestion{}, err
	}

	select {
	case r := <-ch:
		return r.s, r.err
	case <-ctx.Done():
		s.dropWaiter(id, ch)
		return suggest.Suggestion{}, ctx.Err()
	}
}

// answered returns the cached final suggestion of the current state if that
// state describes exactly this buffer and cursor.
func (s *Session) answered(path, content string, offset int) (suggest.Suggestion, bool) {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	s.mu.Lock()
	cur := s.cursor
	doc, known := s.docs[path]
	closed := s.closed
	s.mu.Unlock()

	if closed || !known || doc != content || cur.path != path || cur.offset != offset {
		return suggest.Suggestion{}, false
	}
	if cur.id == 0 || cur.id != s.states.CurrentID() {
		return suggest.Suggestion{}, false
	}
	return s.dec.Completed(cur.id)
}

func (s *Session) edit(path, content string, offset int, wait bool) (supermaven.StateID, chan result, error) {
	if offset < 0 || offset > len(content) {
		return 0, nil, fmt.Errorf("%w: %s offset %d, content length %d", state.ErrCursorOutOfRange, path, offset, len(content))
	}

	s.editMu.Lock()
	defer s.editMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, nil, ErrClosed
	}
	prev, known := s.docs[path]
	s.mu.Unlock()

	id := s.states.BeginUpdate()
	s.supersedeBefore(id)

	batch := state.NewBatch(id)
	sendContent := !known || prev != content
	if sendContent {
		batch.AddFile(path, content)
	}
	batch.AddCursor(path, offset)

	line, err := s.states.Commit(*batch)
	if err != nil {
		return 0, nil, err
	}

	// Re-checked with the waiter registration so a shutdown since the check
	// above cannot leave the waiter unanswered.
	var ch chan result
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, nil, ErrClosed
	}
	if wait {
		ch = make(chan result, 1)
		s.waiters[id] = append(s.waiters[id], ch)
	}
	s.mu.Unlock()

	if err := s.w.WriteLine(line); err != nil {
		if ch != nil {
			s.dropWaiter(id, ch)
		}
		return 0, nil, fmt.Errorf("send state %s: %w", id, err)
	}

	s.mu.Lock()
	if sendContent {
		s.docs[path] = content
	}
	s.cursor = cursor{id: id, path: path, offset: offset}
	s.mu.Unlock()
	s.logger.Debug("state sent", "state_id", id, "path", path, "offset", offset, "content", sendContent)
	return id, ch, nil
}

// supersedeBefore fails every waiter for an id older than id.
func (s *Session) supersedeBefore(id supermaven.StateID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for wid, chs := range s.waiters {
		if wid >= id {
			continue
		}
		for _, ch := range chs {
			ch <- result{err: fmt.Errorf("state %s: %w", wid, ErrSuperseded)}
		}
		delete(s.waiters, wid)
	}
}

func (s *Session) dropWaiter(id supermaven.StateID, ch chan result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chs := slices.DeleteFunc(s.waiters[id], func(c chan result) bool { return c == ch })
	if len(chs) == 0 {
		delete(s.waiters, id)
		return
	}
	s.waiters[id] = chs
}

func (s *Session) deliver(sg suggest.Suggestion) {
	s.mu.Lock()
	chs := s.waiters[sg.StateID]
	delete(s.waiters, sg.StateID)
	s.mu.Unlock()
	for _, ch := range chs {
		ch <- result{s: sg}
	}
}

func (s *Session) failAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, chs := range s.waiters {
		for _, ch := range chs {
			ch <- result{err: err}
		}
		delete(s.waiters, id)
	}
}

// Handle routes one agent message. Passthrough wrappers are unwrapped first.
// Suggestions emitted before a decoder error are still delivered.
func (s *Session) Handle(msg supermaven.Message) error {
	msg, err := supermaven.Unwrap(msg)
	if err != nil {
		return err
	}

	switch m := pointerTo(msg).(type) {
	case *supermaven.ResponseMessage:
		out, err := s.dec.Feed(&m.Response)
		for _, sg := range out {
			s.h.OnSuggestion(sg)
			if sg.Final {
				s.deliver(sg)
			}
		}
		return err
	case *supermaven.MetadataMessage:
		s.mu.Lock()
		s.dust = slices.Clone(m.DustStrings)
		s.mu.Unlock()
	case *supermaven.ApologyMessage:
		s.h.OnApology(m.Message)
	case *supermaven.ActivationRequestMessage:
		s.h.OnActivationRequest(m.ActivateURL)
	case *supermaven.ActivationSuccessMessage:
		s.h.OnActivationSuccess()
	case *supermaven.PopupMessage:
		s.h.OnPopup(m)
	case *supermaven.TaskStatusMessage:
		s.h.OnTaskStatus(m)
	case *supermaven.ActiveRepoMessage:
		s.mu.Lock()
		s.repo = m.RepoSimpleName
		s.mu.Unlock()
		s.h.OnActiveRepo(m.RepoSimpleName)
	default:
		return fmt.Errorf("%w: %T", ErrUnhandledMessage, msg)
	}
	return nil
}

// pointerTo normalizes value-form messages to the pointer form ParseMessage returns.
func pointerTo(msg supermaven.Message) supermaven.Message {
	switch m := msg.(type) {
	case supermaven.ResponseMessage:
		return &m
	case supermaven.MetadataMessage:
		return &m
	case supermaven.ApologyMessage:
		return &m
	case supermaven.ActivationRequestMessage:
		return &m
	case supermaven.ActivationSuccessMessage:
		return &m
	case supermaven.PopupMessage:
		return &m
	case supermaven.TaskStatusMessage:
		return &m
	case supermaven.ActiveRepoMessage:
		return &m
	}
	return msg
}

// Run reads agent output from r until EOF or ctx is done. Lines that fail to
// decode and protocol violations are logged and skipped. At EOF the
// in-progress fold is dropped, waiting Complete calls fail with ErrClosed,
// and Run returns nil.
//
// A read blocked in r is not interrupted by ctx; closing the agent's output
// ends it.
func (s *Session) Run(ctx context.Context, r transport.LineReader) error {
	type read struct {
		line []byte
		err  error
	}
	lines := make(chan read)
	go func() {
		for {
			line, err := r.ReadLine()
			select {
			case lines <- read{line, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.shutdown(ErrClosed)
			return ctx.Err()
		case rd := <-lines:
			if rd.err != nil {
				s.shutdown(ErrClosed)
				if errors.Is(rd.err, io.EOF) {
					s.logger.Info("agent output closed")
					return nil
				}
				return fmt.Errorf("read agent output: %w", rd.err)
			}
			s.handleLine(rd.line)
		}
	}
}

func (s *Session) handleLine(line []byte) {
	msg, err := supermaven.ParseMessage(line)
	if err != nil {
		s.logger.Warn("skipping agent message", "error", err)
		return
	}
	if err := s.Handle(msg); err != nil {
		s.logger.Warn("agent message rejected", "kind", msg.Kind(), "error", err)
	}
}

func (s *Session) shutdown(err error) {
	s.dec.Abandon()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.failAll(err)
}

// Close fails pending Complete calls, rejects further edits and releases the
// suggestion cache.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.shutdown(ErrClosed)
		s.cache.Close()
	})
}
