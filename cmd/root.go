// Package cmd wires the CLI: batch one-shot turns, the NDJSON stdio
// server, and migration management.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/miriadlabs/miriad/cmd.Version=v1.0.0"
var Version = "dev"

var (
	flagPrompt  string
	flagStdio   bool
	flagDB      string
	flagFormat  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "miriad",
	Short: "miriad — long-lived coding agent with persistent memory",
	Long: `miriad is a coding agent runtime with three-tier persistent memory:
temporal history with agentic compaction, a present-state scratchpad,
and versioned long-term entries, all in one SQLite file.

Batch:  miriad -p "fix the failing test"
Server: miriad --stdio --db ~/.miriad/agent.db`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		if flagFormat != "text" && flagFormat != "json" {
			return fmt.Errorf("invalid --format %q (want text or json)", flagFormat)
		}
		switch {
		case flagStdio:
			return runStdio()
		case flagPrompt != "":
			return runBatch(flagPrompt)
		default:
			return cmd.Help()
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagPrompt, "prompt", "p", "", "run one turn with this prompt and exit")
	rootCmd.Flags().BoolVar(&flagStdio, "stdio", false, "serve the NDJSON protocol on stdin/stdout")
	rootCmd.Flags().StringVar(&flagFormat, "format", "text", "batch output format: text or json")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (default: $MIRIAD_DB or ~/.miriad/agent.db)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(migrateCmd())
}

// setupLogging sends logs to stderr; stdout carries protocol output.
func setupLogging() {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("miriad %s\n", Version)
		},
	}
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
