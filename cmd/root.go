package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "llm-verdict",
	Short: "Run prompts against LLM providers and grade every answer with a reviewer model",
	Long: `llm-verdict sends one prompt to a list of LLM providers several times each,
asks a reviewer model whether every response satisfies a review criterion, and
records the TRUE/FALSE verdicts as the run progresses.

Runs can be created over the HTTP API, through MCP tools, or directly from the
command line. Observers follow progress over a websocket, by polling, or with
'llm-verdict status --watch'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if err := initConfig(configPath); err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		logFile, _ := cmd.Flags().GetString("log-file")
		configureLogger(logFile, verbose)
		return nil
	},
}

var (
	buildCommit = "unknown"
	buildDate   = "unknown"
)

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// SetBuildInfo sets the commit and build date for the version command.
func SetBuildInfo(commit, date string) {
	buildCommit = commit
	buildDate = date
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "llm-verdict version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newExamplesCmd())
	rootCmd.AddCommand(newModelsCmd())

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ./"+configFileName+")")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to a rotating file instead of stderr")
	rootCmd.PersistentFlags().String("store", "", "Store driver: memory, badger or postgres")
	rootCmd.PersistentFlags().String("store-path", "", "Badger data directory")
	rootCmd.PersistentFlags().String("store-dsn", "", "Postgres connection string")

	rootCmd.PersistentFlags().Bool("kserve", false, "Resolve providers from KServe InferenceServices")
	rootCmd.PersistentFlags().StringP("namespace", "n", defaultKServeNamespace, "Kubernetes namespace for InferenceService discovery")
	rootCmd.PersistentFlags().String("kubeconfig", "", "Path to kubeconfig file")
	rootCmd.PersistentFlags().Bool("in-cluster", false, "Use in-cluster Kubernetes authentication")

	for flag, key := range map[string]string{
		"store":      storeDriverKey,
		"store-path": storePathKey,
		"store-dsn":  storeDSNKey,
		"kserve":     kserveEnabledKey,
		"namespace":  kserveNamespaceKey,
		"kubeconfig": kserveKubeconfigKey,
		"in-cluster": kserveInClusterKey,
	} {
		bindFlag(rootCmd.PersistentFlags().Lookup(flag), key)
	}
}
