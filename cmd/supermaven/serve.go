package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	supermaven "github.com/Paranoid-AF/supermaven"
	"github.com/Paranoid-AF/supermaven/serve"
	"github.com/Paranoid-AF/supermaven/session"
)

var errAgentExited = errors.New("agent exited")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent and serve editors over a Unix socket",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, w := range supermaven.ValidateConfig(cfg) {
		logger.Warn("config", "warning", w)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := startAgent(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	sess := session.New(conn.w, &printHandler{logger: logger},
		session.WithLogger(logger),
		session.WithSuggestionTTL(cfg.Session.SuggestionTTL()))
	defer sess.Close()

	socketPath := serve.ResolveSocketPath()
	srv, err := serve.NewServer(socketPath, serve.NewSessionCompleter(sess, cfg.Session.CompleteTimeout()),
		serve.WithLogger(logger),
		serve.WithConfigLoader(loadConfig))
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer srv.Close()

	logger.Info("ready", "socket", socketPath, "session", sess.ID())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sess.Run(gctx, conn.r); err != nil {
			return err
		}
		return agentExit(gctx, conn)
	})
	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		srv.Close()
		conn.Close()
		return nil
	})

	return ignoreShutdown(g.Wait())
}

// agentExit reports why the agent's output ended.
func agentExit(ctx context.Context, conn *agentConn) error {
	select {
	case <-conn.proc.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := conn.proc.Err(); err != nil {
		return err
	}
	return errAgentExited
}

// ignoreShutdown maps errors caused by a requested shutdown to nil.
func ignoreShutdown(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
