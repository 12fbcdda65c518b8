// Package commands implements the nwbctl CLI commands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/cmdutil"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nwbctl",
	Short: "nwbctl - Client for the nwbd conversion daemon",
	Long: `nwbctl drives a neurophysiology-to-NWB conversion workflow on a
running nwbd server: upload a recording, start the conversion, answer
the daemon's metadata questions, follow progress, and download the
finished NWB file with its validation report.

A typical session:
  nwbctl upload recording.bin recording.meta
  nwbctl convert --follow
  nwbctl chat "the subject is an adult male mouse, session from March 3rd"
  nwbctl validation
  nwbctl download nwb ./session.nwb

Use "nwbctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cmdutil.Flags.ServerURL, "server", "http://127.0.0.1:8100", "nwbd server URL")
	rootCmd.PersistentFlags().StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().BoolVar(&cmdutil.Flags.NoColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&cmdutil.Flags.Verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(inputCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(validationCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("nwbctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}
