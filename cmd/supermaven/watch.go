package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Paranoid-AF/supermaven/session"
	"github.com/Paranoid-AF/supermaven/watch"
)

var watchSnapshots bool

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Send file changes under a directory to the agent and print suggestions",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchSnapshots, "snapshots", false, "Also print partial suggestions at barriers")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out, err := newOutput(os.Stdout, format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := startAgent(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	sess := session.New(conn.w, &printHandler{out: out, logger: logger, snapshots: watchSnapshots},
		session.WithLogger(logger),
		session.WithSuggestionTTL(cfg.Session.SuggestionTTL()))
	defer sess.Close()

	w, err := watch.New(watch.Config{
		Root:         args[0],
		Ignore:       cfg.Watch.Ignore,
		Debounce:     cfg.Watch.Debounce(),
		MaxFileBytes: int64(cfg.Watch.MaxFileBytes),
	}, sess, watch.WithLogger(logger))
	if err != nil {
		return err
	}
	defer w.Close()

	logger.Info("watching", "dir", args[0], "session", sess.ID())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sess.Run(gctx, conn.r); err != nil {
			return err
		}
		return agentExit(gctx, conn)
	})
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		w.Close()
		conn.Close()
		return nil
	})

	return ignoreShutdown(g.Wait())
}
