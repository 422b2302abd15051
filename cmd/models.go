package cmd

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/llm-verdict/internal/kserve"
)

func newModelsCmd() *cobra.Command {
	var selector string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List model endpoints discovered from KServe InferenceServices",
		Long: `List InferenceServices in the configured namespace with their readiness and
OpenAI-compatible endpoint. Ready models can be used as provider ids when
the server runs with --kserve.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := kserve.NewDiscovery(
				viper.GetString(kserveNamespaceKey),
				viper.GetString(kserveKubeconfigKey),
				viper.GetBool(kserveInClusterKey),
			)
			if err != nil {
				return fmt.Errorf("failed to create KServe discovery: %w", err)
			}
			if selector != "" {
				d.SetLabelSelector(selector)
			}

			endpoints, err := d.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(endpoints) == 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No InferenceServices found in namespace %s.\n", viper.GetString(kserveNamespaceKey))
				return nil
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Model", "Ready", "URL", "Message"})
			table.SetBorder(false)
			for _, ep := range endpoints {
				table.Append([]string{ep.Model, fmt.Sprintf("%t", ep.Ready), ep.URL, ep.Message})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&selector, "selector", "l", "", "Label selector applied to InferenceServices")

	return cmd
}
