// Command supermaven runs the Supermaven agent behind a state-sync session.
//
// Usage:
//
//	supermaven serve              # agent + editor socket
//	supermaven watch ./src        # send file changes, print suggestions
//	supermaven decode trace.jsonl # replay agent output or a trace
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	supermaven "github.com/Paranoid-AF/supermaven"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath string
	format     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "supermaven",
	Short: "Editor-side client for the Supermaven completion agent",
	Long: `supermaven keeps the Supermaven agent in sync with editor buffers and
folds its streamed responses into suggestions. It serves editors over a
Unix socket, watches directories, and decodes recorded agent traffic.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "supermaven", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $SUPERMAVEN_CONFIG_DIR/config.toml)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "auto", "Output format: auto, toml or text")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger creates a structured logger with the configured verbosity.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig loads the file named by --config, or the default config file.
func loadConfig() (*supermaven.Config, error) {
	if configPath != "" {
		return supermaven.LoadConfigFile(configPath)
	}
	return supermaven.LoadConfig()
}
