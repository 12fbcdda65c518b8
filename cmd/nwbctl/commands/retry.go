package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/cmdutil"
)

var (
	retryDecline bool
	retryAnyway  bool
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Approve or decline a correction retry",
	Long: `Answer the daemon's request to retry a failed validation with
corrections applied.

When the previous attempt made no progress the daemon warns instead of
retrying; pass --anyway to override the warning and retry regardless.

Examples:
  # Approve the retry
  nwbctl retry

  # Decline and finalize as failed
  nwbctl retry --decline

  # Retry despite a no-progress warning
  nwbctl retry --anyway`,
	RunE: runRetry,
}

func init() {
	retryCmd.Flags().BoolVar(&retryDecline, "decline", false, "Decline the retry and finalize the workflow")
	retryCmd.Flags().BoolVar(&retryAnyway, "anyway", false, "Retry even when no progress was made")
}

func runRetry(cmd *cobra.Command, args []string) error {
	resp, err := cmdutil.GetClient().RetryApproval(cmd.Context(), !retryDecline, retryAnyway)
	if err != nil {
		return fmt.Errorf("failed to submit retry decision: %w", err)
	}

	if resp.NoProgressWarning {
		fmt.Println("The last correction attempt made no progress.")
		if resp.Message != "" {
			fmt.Printf("  %s\n", resp.Message)
		}
		fmt.Println("Run 'nwbctl retry --anyway' to retry regardless, or 'nwbctl retry --decline' to stop.")
		return nil
	}

	fmt.Printf("Decision recorded (status: %s)\n", resp.Status)
	return nil
}
