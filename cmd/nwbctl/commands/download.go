package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/cmdutil"
)

var downloadReportFormat string

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download conversion artifacts",
}

var downloadNWBCmd = &cobra.Command{
	Use:   "nwb <dest>",
	Short: "Download the finished NWB file",
	Long: `Download the converted NWB file to a local path.

Examples:
  nwbctl download nwb ./session.nwb`,
	Args: cobra.ExactArgs(1),
	RunE: runDownloadNWB,
}

var downloadReportCmd = &cobra.Command{
	Use:   "report [dest]",
	Short: "Download the validation report",
	Long: `Download the validation report. With no destination argument the
report is written to stdout.

Examples:
  # Print the JSON report
  nwbctl download report

  # Save the human-readable report
  nwbctl download report --format txt ./report.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDownloadReport,
}

func init() {
	downloadReportCmd.Flags().StringVar(&downloadReportFormat, "format", "json", "Report format (json|txt)")
	downloadCmd.AddCommand(downloadNWBCmd)
	downloadCmd.AddCommand(downloadReportCmd)
}

func runDownloadNWB(cmd *cobra.Command, args []string) error {
	dest := args[0]
	if err := cmdutil.GetClient().DownloadNWB(cmd.Context(), dest); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	fmt.Printf("Saved NWB file to %s\n", dest)
	return nil
}

func runDownloadReport(cmd *cobra.Command, args []string) error {
	var w io.Writer = os.Stdout
	if len(args) == 1 {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", args[0], err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	if err := cmdutil.GetClient().DownloadReport(cmd.Context(), downloadReportFormat, w); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	if len(args) == 1 {
		fmt.Printf("Saved report to %s\n", args[0])
	}
	return nil
}
