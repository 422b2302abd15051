package cmd

import (
	"fmt"
	"log/slog"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/giantswarm/llm-verdict/internal/testrun"
)

func newListCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List test runs in the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := newStoreFromConfig(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					slog.Error("failed to close store", "error", err)
				}
			}()

			runs, err := st.ListRuns(ctx, owner)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No test runs found.")
				return nil
			}
			renderRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Only list runs created by this owner")

	return cmd
}

func newExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "List the built-in example definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := testrun.Examples()
			if err != nil {
				return fmt.Errorf("failed to list examples: %w", err)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Name", "Title", "Requests", "Providers"})
			table.SetBorder(false)
			for _, name := range names {
				def, err := testrun.LoadExample(name)
				if err != nil {
					table.Append([]string{name, fmt.Sprintf("error loading: %v", err), "", ""})
					continue
				}
				table.Append([]string{name, def.Title, fmt.Sprintf("%d", def.NumRequests), fmt.Sprintf("%d", len(def.Providers))})
			}
			table.Render()
			return nil
		},
	}
}
