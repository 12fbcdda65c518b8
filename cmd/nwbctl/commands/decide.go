package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/cmdutil"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/cli/prompt"
)

var decideCmd = &cobra.Command{
	Use:   "decide [accept|improve]",
	Short: "Resolve a conversion that passed with issues",
	Long: `When validation passes with non-blocking issues, decide whether to
accept the NWB file as is or run another correction pass to improve it.

Without an argument, the decision is selected interactively.

Examples:
  # Keep the file as is
  nwbctl decide accept

  # Attempt to fix the remaining issues
  nwbctl decide improve

  # Choose interactively
  nwbctl decide`,
	ValidArgs: []string{"accept", "improve"},
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	RunE:      runDecide,
}

func runDecide(cmd *cobra.Command, args []string) error {
	var action string
	if len(args) == 1 {
		action = args[0]
	} else {
		selected, err := prompt.Select("Validation passed with issues", []prompt.SelectOption{
			{Label: "Accept the file as is", Value: "accept", Description: "Keep the current NWB output and finish the workflow"},
			{Label: "Improve the file", Value: "improve", Description: "Run another correction pass against the reported issues"},
		})
		if err != nil {
			if prompt.IsAborted(err) {
				fmt.Println("Aborted, no decision submitted.")
				return nil
			}
			return err
		}
		action = selected
	}

	if action == "accept" {
		action = "accept_as_is"
	}

	resp, err := cmdutil.GetClient().ImprovementDecision(cmd.Context(), action)
	if err != nil {
		return fmt.Errorf("failed to submit decision: %w", err)
	}

	fmt.Printf("Decision recorded (status: %s)\n", resp.Status)
	return nil
}
