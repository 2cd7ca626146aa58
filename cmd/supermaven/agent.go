package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	supermaven "github.com/Paranoid-AF/supermaven"
	"github.com/Paranoid-AF/supermaven/agent"
	"github.com/Paranoid-AF/supermaven/transport"
)

// agentConn is a started agent with its line endpoints, optionally recorded.
type agentConn struct {
	proc  *agent.Process
	r     transport.LineReader
	w     transport.LineWriter
	trace *os.File

	closeOnce sync.Once
}

func startAgent(ctx context.Context, cfg *supermaven.Config, logger *slog.Logger) (*agentConn, error) {
	proc := agent.New(agent.Config{
		Command:     supermaven.ResolveAgentCommand(cfg),
		WorkDir:     cfg.Agent.WorkDir,
		StopTimeout: cfg.Agent.StopTimeout(),
	}, agent.WithLogger(logger))
	if err := proc.Start(ctx); err != nil {
		return nil, err
	}
	stream, err := proc.Stream()
	if err != nil {
		proc.Stop()
		return nil, err
	}

	conn := &agentConn{proc: proc, r: stream, w: stream}
	if path := supermaven.ResolveTracePath(cfg); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			proc.Stop()
			return nil, fmt.Errorf("open trace: %w", err)
		}
		rec := transport.NewRecorder(stream, stream, f)
		conn.r, conn.w, conn.trace = rec, rec, f
		logger.Info("recording agent traffic", "path", path)
	}
	return conn, nil
}

// Close stops the agent and closes the trace file. Safe to call more than once.
func (c *agentConn) Close() {
	c.closeOnce.Do(func() {
		c.proc.Stop()
		if c.trace != nil {
			c.trace.Close()
		}
	})
}
