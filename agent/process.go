// Package agent runs the completion agent as a child process speaking the
// line protocol on its stdio.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"mvdan.cc/sh/v3/shell"

	"github.com/Paranoid-AF/supermaven/transport"
)

// DefaultStopTimeout is how long Stop waits after SIGTERM before killing the agent.
const DefaultStopTimeout = 500 * time.Millisecond

// ParseCommand splits a configured command line into argv. Quoting and
// environment expansion follow shell rules; env may be nil to use the
// process environment.
func ParseCommand(command string, env func(string) string) ([]string, error) {
	argv, err := shell.Fields(command, env)
	if err != nil {
		return nil, fmt.Errorf("parse agent command: %w", err)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return argv, nil
}

// Config describes how to run the agent.
type Config struct {
	Command     string
	WorkDir     string
	Env         []string
	StopTimeout time.Duration
}

// Process is a running agent.
type Process struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stream   *transport.Stream
	stdin    io.Closer
	started  bool
	stopping bool
	done     chan struct{}
	waitErr  error
}

// Option configures a Process.
type Option func(*Process)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Process) { p.logger = logger }
}

// New creates an agent process. It does not start it.
func New(cfg Config, opts ...Option) *Process {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	p := &Process{cfg: cfg, logger: slog.Default(), done: make(chan struct{})}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns the agent. The process is not tied to ctx beyond startup;
// use Stop to end it.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	argv, err := ParseCommand(p.cfg.Command, nil)
	if err != nil {
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	cmd.Dir = p.cfg.WorkDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &ProcessError{Message: "failed to create stdin pipe", Cause: err}
	}
	// Output pipes are created here rather than with StdoutPipe so that Wait
	// does not close them while unread output remains.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return &ProcessError{Message: "failed to create stdout pipe", Cause: err}
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		stdoutW.Close()
		return &ProcessError{Message: "failed to create stderr pipe", Cause: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdout.Close()
		stderr.Close()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return &NotFoundError{Path: argv[0], Cause: err}
		}
		return &ProcessError{Message: "failed to start agent", Cause: err}
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stream = transport.NewStream(&drainReader{f: stdout}, stdin)
	p.started = true
	p.logger.Info("agent started", "pid", cmd.Process.Pid, "command", argv[0])

	go p.drainStderr(stderr)
	go p.wait()
	return nil
}

func (p *Process) drainStderr(f *os.File) {
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.logger.Debug("agent stderr", "line", scanner.Text())
	}
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	stopping := p.stopping
	if err != nil && !stopping {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = &ProcessError{Message: "agent exited", ExitCode: exitErr.ExitCode(), Cause: err}
		} else {
			err = &ProcessError{Message: "agent wait failed", Cause: err}
		}
		p.waitErr = err
	}
	p.mu.Unlock()

	if stopping {
		p.logger.Debug("agent stopped")
	} else if err != nil {
		p.logger.Warn("agent exited", "error", err)
	} else {
		p.logger.Info("agent exited")
	}
	close(p.done)
}

// Stream returns the agent's stdio as a line stream.
func (p *Process) Stream() (*transport.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil, ErrNotStarted
	}
	return p.stream, nil
}

// Done is closed once the agent has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error after Done is closed. Exits caused by Stop are not errors.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Stop closes the agent's stdin, sends SIGTERM and kills the process group
// if it has not exited within the stop timeout.
func (p *Process) Stop() error {
	p.mu.Lock()
	if !p.started || p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	cmd := p.cmd
	stdin := p.stdin
	p.mu.Unlock()

	_ = stdin.Close()
	_ = signalGroup(cmd.Process, syscall.SIGTERM)

	select {
	case <-p.done:
		return nil
	case <-time.After(p.cfg.StopTimeout):
	}

	p.logger.Warn("agent did not exit after SIGTERM, killing", "timeout", p.cfg.StopTimeout)
	_ = signalGroup(cmd.Process, syscall.SIGKILL)

	select {
	case <-p.done:
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}

func signalGroup(proc *os.Process, sig syscall.Signal) error {
	if proc == nil {
		return nil
	}
	if err := syscall.Kill(-proc.Pid, sig); err != nil {
		return proc.Signal(sig)
	}
	return nil
}

// drainReader reads an output pipe until it is exhausted, then closes it.
// The pipe reaches EOF once the agent and any children sharing it have exited.
type drainReader struct {
	f   *os.File
	err error
}

func (r *drainReader) Read(b []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.f.Read(b)
	if err != nil {
		r.err = err
		r.f.Close()
	}
	return n, err
}
