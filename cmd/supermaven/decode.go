package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	supermaven "github.com/Paranoid-AF/supermaven"
	"github.com/Paranoid-AF/supermaven/suggest"
	"github.com/Paranoid-AF/supermaven/transport"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode agent output or a recorded trace and fold its suggestions",
	Long: `decode reads agent output lines, or a trace written with trace_path, from
file or standard input. Every message is printed, and responses are folded
into suggestions. In a trace, the state updates that were sent decide which
responses are current; in raw agent output the newest response id is.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	out, err := newOutput(os.Stdout, format)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	return decodeLines(in, out, logger)
}

// replayState is the current state id while replaying recorded traffic.
type replayState struct {
	id supermaven.StateID
}

func (s *replayState) CurrentID() supermaven.StateID { return s.id }

// decodeLines prints every message read from r and the suggestions folded
// from its responses. Bad lines are reported and skipped.
func decodeLines(r io.Reader, out *output, logger *slog.Logger) error {
	cur := &replayState{}
	dec := suggest.NewDecoder(cur, suggest.WithLogger(logger))
	traced := false

	s := transport.NewStream(r, nil)
	for n := 1; ; n++ {
		line, err := s.ReadLine()
		if err == io.EOF {
			if stale := dec.Stale(); stale > 0 {
				logger.Info("stale responses skipped", "count", stale)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read line %d: %w", n, err)
		}

		direction := ""
		if e, ok := transport.ParseTraceEntry(line); ok {
			direction = e.Direction
			line = e.Line()
		}

		if direction == transport.DirectionSent {
			traced = true
			var upd supermaven.StateUpdateMessage
			if err := json.Unmarshal(line, &upd); err != nil {
				if err := out.Error(n, line, err); err != nil {
					return err
				}
				continue
			}
			cur.id = upd.NewID
			if err := out.message(n, direction, supermaven.StateUpdateKind, line); err != nil {
				return err
			}
			continue
		}

		msg, err := supermaven.DecodeMessage(line)
		if err != nil {
			if err := out.Error(n, line, err); err != nil {
				return err
			}
			continue
		}
		if err := out.Message(n, direction, msg); err != nil {
			return err
		}

		resp, ok := msg.(*supermaven.ResponseMessage)
		if !ok {
			continue
		}
		if !traced && resp.StateID > cur.id {
			cur.id = resp.StateID
		}
		suggestions, err := dec.Feed(&resp.Response)
		for _, sg := range suggestions {
			if err := out.Suggestion(sg); err != nil {
				return err
			}
		}
		if err != nil {
			if err := out.Error(n, line, err); err != nil {
				return err
			}
		}
	}
}
