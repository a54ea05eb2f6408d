// Package cli implements quorumctl, the command line client of the
// analysis orchestrator.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/quorum/internal/client"
)

// NewRootCommand builds the quorumctl command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "quorumctl",
		Short: "Start and follow analysis runs",
		Long: `quorumctl talks to a quorum server: it starts analysis runs on
discussion threads, inspects and cancels them, and follows run events and
the activity feed live over WebSocket or polling.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	// Global flags
	root.PersistentFlags().String("addr", "http://localhost:8080", "Server base URL")
	root.PersistentFlags().Bool("poll", false, "Force polling instead of WebSocket push")
	root.PersistentFlags().Duration("interval", time.Second, "Polling interval")
	root.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newAnalyzeCmd(),
		newGetCmd(),
		newEventsCmd(),
		newRunsCmd(),
		newCancelCmd(),
		newWatchCmd(),
		newActivityCmd(),
	)
	return root
}

func apiClient(cmd *cobra.Command) (*client.Client, error) {
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return nil, err
	}
	return client.NewClient(addr), nil
}

func logger(cmd *cobra.Command) *slog.Logger {
	name, _ := cmd.Flags().GetString("log-level")
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: parseLogLevel(name),
	}))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
	return err
}
