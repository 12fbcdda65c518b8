package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective nwbd configuration.

Loads the configuration file, applies environment overrides and defaults,
and prints the result as YAML. API keys never appear here: the config only
names the environment variable that carries them.

Examples:
  # Show effective config
  nwbd config show

  # Show a specific config file
  nwbd config show --config /etc/nwbd/config.yaml`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	_, _ = fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}
