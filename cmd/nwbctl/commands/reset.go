package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/cmdutil"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/cli/prompt"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the workflow session",
	Long: `Clear the workflow session: uploaded recording, collected metadata,
and validation state. The server refuses to reset while a conversion
step is running.

Examples:
  # Reset with confirmation prompt
  nwbctl reset

  # Reset without prompting
  nwbctl reset --yes`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip the confirmation prompt")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		ok, err := prompt.Confirm("Reset the session and discard its state?", false)
		if err != nil {
			if prompt.IsAborted(err) {
				return nil
			}
			return err
		}
		if !ok {
			return nil
		}
	}

	if err := cmdutil.GetClient().Reset(cmd.Context()); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	fmt.Println("Session reset.")
	return nil
}
