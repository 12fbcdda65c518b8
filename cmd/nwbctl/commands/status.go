package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/cmdutil"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/cli/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the workflow session status",
	Long: `Display the current workflow session: status, phase, detected
format, correction attempt, and any metadata fields still missing.

Examples:
  # Show status as a table
  nwbctl status

  # Show status as JSON
  nwbctl status -o json`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := cmdutil.GetClient().Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch status: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		return cmdutil.PrintOutput(os.Stdout, status, false, "", nil)
	}

	pairs := [][2]string{
		{"Session", status.SessionID},
		{"Status", status.Status},
		{"Phase", status.Phase},
	}
	if status.DetectedFormat != "" {
		pairs = append(pairs, [2]string{"Format", status.DetectedFormat})
	}
	if status.InputPath != "" {
		pairs = append(pairs, [2]string{"Input", status.InputPath})
	}
	if status.OutputPath != "" {
		pairs = append(pairs, [2]string{"Output", status.OutputPath})
	}
	if status.ValidationOutcome != "" {
		pairs = append(pairs, [2]string{"Validation", status.ValidationOutcome})
	}
	if status.ValidationSummary != "" {
		pairs = append(pairs, [2]string{"Summary", status.ValidationSummary})
	}
	if status.CorrectionAttempt > 0 {
		pairs = append(pairs, [2]string{"Attempt", fmt.Sprintf("%d (retry possible: %t)", status.CorrectionAttempt, status.CanRetry)})
	}
	if status.TerminalStatus != "" {
		pairs = append(pairs, [2]string{"Terminal", status.TerminalStatus})
	}
	if len(status.MissingFields) > 0 {
		pairs = append(pairs, [2]string{"Missing", strings.Join(status.MissingFields, ", ")})
	}

	return output.SimpleTable(os.Stdout, pairs)
}
