package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/llm-verdict/internal/status"
	"github.com/giantswarm/llm-verdict/internal/testrun"
)

func newStatusCmd() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the status and graded results of a run",
		Long: `Show the latest snapshot of a run from the configured store (or the redis
mirror when redis.url is set).

With --watch the command polls until the run is Completed or Failed, printing
each change in status or result count.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := d.Close(); err != nil {
					slog.Error("failed to close resources", "error", err)
				}
			}()

			runID := args[0]
			out := cmd.OutOrStdout()

			if !watch {
				snap, err := d.publisher.Read(ctx, runID)
				if err != nil {
					return fmt.Errorf("failed to read run %s: %w", runID, err)
				}
				renderSnapshot(out, snap)
				return nil
			}

			var last testrun.Snapshot
			err = d.publisher.Poll(ctx, runID, interval, func(snap testrun.Snapshot) error {
				if snap.Status != last.Status || countResults(snap) != countResults(last) {
					_, _ = fmt.Fprintf(out, "%s  %s  %d results\n",
						time.Now().Format("15:04:05"), snap.Status, countResults(snap))
				}
				last = snap
				return nil
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out)
			renderSnapshot(out, last)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the run finishes")
	cmd.Flags().DurationVar(&interval, "interval", status.DefaultPollInterval, "Polling interval for --watch")

	return cmd
}

func countResults(snap testrun.Snapshot) int {
	n := 0
	for _, batch := range snap.Results {
		n += len(batch)
	}
	return n
}
