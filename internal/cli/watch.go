package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/quorum/internal/domain"
	"github.com/xiaot623/quorum/internal/live"
	"github.com/xiaot623/quorum/internal/protocol"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow a run's events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return follow(cmd, protocol.RunEventsChannel(args[0]), 0, func(p protocol.Payload) (bool, error) {
				var ev domain.AnalysisEvent
				if err := json.Unmarshal(p.Data, &ev); err != nil {
					return false, fmt.Errorf("decode event %d: %w", p.Seq, err)
				}
				printEvent(cmd, ev)
				status, ok := ev.Status()
				return ok && status.IsTerminal(), nil
			})
		},
	}
}

func newActivityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Follow the live activity feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := cmd.Flags().GetInt("count")
			if err != nil {
				return err
			}
			afterSeq, err := cmd.Flags().GetInt64("after-seq")
			if err != nil {
				return err
			}
			seen := 0
			return follow(cmd, protocol.ActivityChannel, afterSeq, func(p protocol.Payload) (bool, error) {
				var entry domain.ActivityEntry
				if err := json.Unmarshal(p.Data, &entry); err != nil {
					return false, fmt.Errorf("decode activity %d: %w", p.Seq, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%3d %-20s %-10s %s\n", entry.Seq, entry.Type, entry.RunID, entry.Message)
				seen++
				return count > 0 && seen >= count, nil
			})
		},
	}
	cmd.Flags().Int("count", 0, "Exit after this many entries (0 follows until interrupted)")
	cmd.Flags().Int64("after-seq", 0, "Only show entries after this sequence number")
	return cmd
}

func liveClient(cmd *cobra.Command) (*live.Client, time.Duration, error) {
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return nil, 0, err
	}
	poll, err := cmd.Flags().GetBool("poll")
	if err != nil {
		return nil, 0, err
	}
	interval, err := cmd.Flags().GetDuration("interval")
	if err != nil {
		return nil, 0, err
	}
	c, err := live.New(cmd.Context(), live.Options{
		BaseURL:      addr,
		DisablePush:  poll,
		PollInterval: interval,
		Logger:       logger(cmd),
	})
	if err != nil {
		return nil, 0, err
	}
	return c, interval, nil
}

// follow subscribes to channel and feeds payloads to handle until it reports
// done. Retryable transport errors resubscribe after the last seen payload.
func follow(cmd *cobra.Command, channel string, afterSeq int64, handle func(protocol.Payload) (bool, error)) error {
	ctx := cmd.Context()
	transport, interval, err := liveClient(cmd)
	if err != nil {
		return err
	}
	log := logger(cmd)
	log.Debug("following channel", "channel", channel, "mode", transport.Mode())

	var cursor atomic.Int64
	cursor.Store(afterSeq)
	for {
		// A nil result means handle reported done.
		result := make(chan error, 1)
		finish := func(err error) {
			select {
			case result <- err:
			default:
			}
		}

		unsubscribe := transport.SubscribeFrom(channel, cursor.Load(),
			func(p protocol.Payload) {
				cursor.Store(p.Seq)
				done, err := handle(p)
				if err != nil || done {
					finish(err)
				}
			},
			func(err error) {
				if err == nil {
					err = errors.New("subscription ended")
				}
				finish(err)
			})

		select {
		case <-ctx.Done():
			unsubscribe()
			return nil
		case err := <-result:
			unsubscribe()
			if err == nil {
				return nil
			}
			var liveErr *live.Error
			if !errors.As(err, &liveErr) || !liveErr.Retryable {
				return err
			}
			log.Warn("live subscription dropped, resubscribing", "channel", channel, "after_seq", cursor.Load(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
