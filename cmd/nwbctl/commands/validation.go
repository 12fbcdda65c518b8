package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/cmdutil"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/cli/output"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/apiclient"
)

var validationCmd = &cobra.Command{
	Use:   "validation",
	Short: "Show the latest validation report",
	Long: `Display the latest validation report: outcome, issue counts, and
each issue with the daemon's triage (priority, whether it is fixable by
providing metadata).

Examples:
  # Show the report as a table
  nwbctl validation

  # Full report as JSON
  nwbctl validation -o json`,
	RunE: runValidation,
}

// issueTable renders enriched validation issues.
type issueTable []apiclient.EnrichedIssue

// Headers implements output.TableRenderer.
func (it issueTable) Headers() []string {
	return []string{"SEVERITY", "PRIORITY", "CODE", "LOCATION", "MESSAGE", "USER FIXABLE"}
}

// Rows implements output.TableRenderer.
func (it issueTable) Rows() [][]string {
	rows := make([][]string, 0, len(it))
	for _, issue := range it {
		fixable := ""
		if issue.UserFixable {
			fixable = "yes"
		}
		rows = append(rows, []string{issue.Severity, issue.Priority, issue.Code, issue.Location, issue.Message, fixable})
	}
	return rows
}

// plainIssueTable renders raw issues when no enrichment is available.
type plainIssueTable []apiclient.Issue

func (it plainIssueTable) Headers() []string {
	return []string{"SEVERITY", "CODE", "LOCATION", "MESSAGE"}
}

func (it plainIssueTable) Rows() [][]string {
	rows := make([][]string, 0, len(it))
	for _, issue := range it {
		rows = append(rows, []string{issue.Severity, issue.Code, issue.Location, issue.Message})
	}
	return rows
}

func runValidation(cmd *cobra.Command, args []string) error {
	report, err := cmdutil.GetClient().Validation(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch validation report: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		return cmdutil.PrintOutput(os.Stdout, report, false, "", nil)
	}

	fmt.Printf("Outcome: %s (attempt %d)\n", report.Outcome, report.Attempt)
	for severity, count := range report.Counts {
		fmt.Printf("  %s: %d\n", severity, count)
	}

	if len(report.Issues) == 0 {
		fmt.Println("\nNo issues found.")
		return nil
	}
	fmt.Println()

	if len(report.Enriched) > 0 {
		return output.PrintTable(os.Stdout, issueTable(report.Enriched))
	}
	return output.PrintTable(os.Stdout, plainIssueTable(report.Issues))
}
