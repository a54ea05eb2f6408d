package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xiaot623/quorum/internal/domain"
)

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <subject-id>",
		Short: "Start an analysis run on a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			run, err := c.Analyze(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, run)
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			run, err := c.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, run)
		},
	}
}

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "List a run's events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			afterSeq, err := cmd.Flags().GetInt64("after-seq")
			if err != nil {
				return err
			}
			events, err := c.ListEvents(cmd.Context(), args[0], afterSeq)
			if err != nil {
				return err
			}
			for _, ev := range events {
				printEvent(cmd, ev)
			}
			return nil
		},
	}
	cmd.Flags().Int64("after-seq", 0, "Only list events after this sequence number")
	return cmd
}

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs <subject-id>",
		Short: "List a thread's runs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			runs, err := c.ListRuns(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, run := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d%%\t%s\n",
					run.ID, run.Status, run.Progress, run.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			run, err := c.CancelRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, run)
		},
	}
}

// printEvent writes one event per line.
func printEvent(cmd *cobra.Command, ev domain.AnalysisEvent) {
	detail := ev.Message
	if status, ok := ev.Status(); ok {
		detail = string(status)
		if b, ok := ev.Body.(domain.StatusBody); ok && b.Reason != "" {
			detail += ": " + b.Reason
		}
	}
	who := ev.Contributor
	if who == "" {
		who = "-"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%3d %-14s %3d%% %-12s %s\n", ev.Seq, ev.Kind(), ev.Progress, who, detail)
}
