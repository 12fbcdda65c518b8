package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the nwbd configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  nwbd config validate

  # Validate specific config file
  nwbd config validate --config /etc/nwbd/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	// Load and validate configuration
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	// Determine path for display
	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	// Additional validation checks
	var warnings []string

	if os.Getenv(cfg.LLM.APIKeyEnv) == "" {
		warnings = append(warnings, fmt.Sprintf("%s is not set - LLM calls will fail", cfg.LLM.APIKeyEnv))
	}

	if len(cfg.Tools.ConverterCommand) == 0 {
		warnings = append(warnings, "tools.converter_command not configured - conversions will fail")
	}

	if len(cfg.Tools.ValidatorCommand) == 0 {
		warnings = append(warnings, "tools.validator_command not configured - validation will fail")
	}

	// Print results
	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  API port:        %d\n", cfg.Server.Port)
	fmt.Printf("  LLM model:       %s\n", cfg.LLM.Model)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)

	return nil
}
