package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/llm-verdict/internal/testrun"
)

func newRunCmd() *cobra.Command {
	var (
		owner   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <definition>",
		Short: "Create a test run and execute it in this process",
		Long: `Create a run from a YAML definition file (or the name of a built-in
example) in the configured store, execute it in-process and print the graded
results.

The command exits non-zero when the run ends Failed. Interrupting it records
the run as Failed with reason "cancelled".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			def, err := testrun.Load(args[0])
			if err != nil {
				return err
			}

			d, err := newDeps(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := d.Close(); err != nil {
					slog.Error("failed to close resources", "error", err)
				}
			}()

			run, err := d.store.CreateRun(ctx, *def, owner)
			if err != nil {
				return fmt.Errorf("failed to create run: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Test: %s\n", def.Title)
			_, _ = fmt.Fprintf(out, "Run ID: %s\n", run.ID)
			_, _ = fmt.Fprintf(out, "Providers: %d x %d requests\n", len(def.Providers), def.NumRequests)
			for i, p := range def.Providers {
				_, _ = fmt.Fprintf(out, "  %d. %s\n", i+1, p)
			}
			_, _ = fmt.Fprintln(out)

			coord := d.newCoordinator()
			coord.SetProgressFunc(func(providerID string, request, total int) {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "\r  [%s] request %d/%d...", providerID, request, total)
			})

			start := time.Now()
			runErr := coord.Run(ctx, run.ID)
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "\n\n")

			snap, err := d.store.LoadSnapshot(context.WithoutCancel(ctx), run.ID)
			if err != nil {
				return fmt.Errorf("failed to load results: %w", err)
			}
			renderSnapshot(out, snap)
			_, _ = fmt.Fprintf(out, "\nDuration: %s\n", time.Since(start).Round(time.Millisecond))

			if runErr != nil {
				return fmt.Errorf("run %s failed: %w", run.ID, runErr)
			}
			slog.Info("test run complete", "run_id", run.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", testrun.DefaultOwner, "Owner recorded on the run")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall timeout for the run (e.g. 10m). 0 means no timeout")

	return cmd
}
