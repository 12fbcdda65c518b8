package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample nwbd configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/nwbd/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  nwbd init

  # Initialize with custom path
  nwbd init --config /etc/nwbd/config.yaml

  # Force overwrite existing config
  nwbd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		// Use custom path
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		// Use default path
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	defaults := config.GetDefaultConfig()

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: nwbd start")
	fmt.Printf("  3. Or specify custom config: nwbd start --config %s\n", configPath)
	fmt.Println("\nAPI key note:")
	fmt.Println("  The Anthropic API key is never stored in the config file.")
	fmt.Println("  Export it before starting the server:")
	fmt.Printf("    export %s=sk-ant-...\n", defaults.LLM.APIKeyEnv)

	return nil
}
