package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/enso/internal/config"
)

var (
	configureProvider string
	configureModel    string
	configureAPIKey   string
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the initial configuration file",
	Long: `Write a configuration file with sensible defaults. Use the flags to
set the primary model and API key; everything else can be edited in the
file afterwards.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureProvider, "provider", "", "model provider (anthropic, openai)")
	configureCmd.Flags().StringVar(&configureModel, "model", "", "model name")
	configureCmd.Flags().StringVar(&configureAPIKey, "api-key", "", "API key for the provider")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	// Start from the existing file when there is one, so re-running
	// configure only touches the flagged fields.
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if configureProvider != "" {
		cfg.Models[0].Provider = configureProvider
	}
	if configureModel != "" {
		cfg.Models[0].Model = configureModel
	}
	if configureAPIKey != "" {
		cfg.Models[0].APIKey = configureAPIKey
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(cmd.OutOrStdout(), "You can now start a session with: enso run")

	return nil
}
