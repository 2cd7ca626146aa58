// Package serve exposes a session to editor clients over a Unix domain socket.
package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	supermaven "github.com/Paranoid-AF/supermaven"
)

// Completer turns an edit request into a suggestion response.
type Completer interface {
	Complete(ctx context.Context, req *supermaven.EditRequest) *supermaven.SuggestionResponse
}

// sessionEntry tracks a cancellable in-flight request for an editor session.
type sessionEntry struct {
	requestID int
	cancel    context.CancelFunc
}

// Server listens on a Unix domain socket for edit requests.
type Server struct {
	listener   net.Listener
	sockPath   string
	engine     Completer
	loadConfig func() (*supermaven.Config, error)
	logger     *slog.Logger
	closeOnce  sync.Once

	mu       sync.Mutex
	sessions map[string]sessionEntry
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithConfigLoader sets how "get" and "validate" config requests load the
// configuration. Defaults to supermaven.LoadConfig.
func WithConfigLoader(load func() (*supermaven.Config, error)) Option {
	return func(s *Server) { s.loadConfig = load }
}

// NewServer creates a server bound to sockPath that answers with completer.
func NewServer(sockPath string, completer Completer, opts ...Option) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:   listener,
		sockPath:   sockPath,
		engine:     completer,
		loadConfig: supermaven.LoadConfig,
		logger:     slog.Default(),
		sessions:   make(map[string]sessionEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SockPath returns the socket the server listens on.
func (s *Server) SockPath() string { return s.sockPath }

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting connections, cancels in-flight requests and removes
// the socket file.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.listener.Close()
		os.Remove(s.sockPath)

		s.mu.Lock()
		for sid, entry := range s.sessions {
			entry.cancel()
			delete(s.sessions, sid)
		}
		s.mu.Unlock()
	})
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	raw, err := reader.ReadBytes('\n')
	if len(raw) == 0 {
		if err != nil {
			s.logger.Debug("connection closed without request", "error", err)
		}
		return
	}
	s.logger.Debug("request", "data", string(raw))

	// Config requests carry an "action" field.
	var cfgReq supermaven.ConfigRequest
	if err := json.Unmarshal(raw, &cfgReq); err == nil && cfgReq.Action != "" {
		s.write(conn, s.handleConfigRequest(&cfgReq))
		return
	}

	var req supermaven.EditRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.Warn("invalid request", "error", err)
		return
	}

	// Cancel any in-flight request for this session and create a new context.
	ctx, cancel := context.WithCancel(context.Background())
	sid := req.SessionID
	reqID := req.RequestID
	if sid != "" {
		s.mu.Lock()
		if prev, ok := s.sessions[sid]; ok {
			prev.cancel()
		}
		s.sessions[sid] = sessionEntry{requestID: reqID, cancel: cancel}
		s.mu.Unlock()
	}
	defer func() {
		cancel()
		if sid != "" {
			s.mu.Lock()
			if cur, ok := s.sessions[sid]; ok && cur.requestID == reqID {
				delete(s.sessions, sid)
			}
			s.mu.Unlock()
		}
	}()

	resp := s.engine.Complete(ctx, &req)

	// If cancelled, skip writing; the client has already moved on.
	if ctx.Err() != nil {
		return
	}

	resp.RequestID = req.RequestID
	s.write(conn, resp)
}

func (s *Server) handleConfigRequest(req *supermaven.ConfigRequest) *supermaven.ConfigResponse {
	var resp supermaven.ConfigResponse

	switch req.Action {
	case "get":
		cfg, err := s.loadConfig()
		if err != nil {
			resp.Error = &supermaven.Error{Code: "config_error", Message: err.Error()}
		} else {
			resp.Config = cfg
		}

	case "defaults":
		resp.Config = supermaven.DefaultConfig()

	case "validate":
		cfg, err := s.loadConfig()
		if err != nil {
			resp.Error = &supermaven.Error{Code: "config_error", Message: err.Error()}
		} else {
			resp.Warnings = supermaven.ValidateConfig(cfg)
		}

	default:
		resp.Error = &supermaven.Error{
			Code:    "unknown_action",
			Message: "unknown config action: " + req.Action,
		}
	}
	return &resp
}

func (s *Server) write(conn net.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to marshal response", "error", err)
		return
	}

	s.logger.Debug("response", "data", string(data))

	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// ResolveSocketPath returns the socket path editors and the daemon agree on.
// Priority: $SUPERMAVEN_SOCKET > $XDG_RUNTIME_DIR/supermaven.sock > /tmp/supermaven-<uid>.sock
func ResolveSocketPath() string {
	if path := os.Getenv("SUPERMAVEN_SOCKET"); path != "" {
		return path
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "supermaven.sock")
	}
	return fmt.Sprintf("/tmp/supermaven-%d.sock", os.Getuid())
}
