package nwb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FileReporter renders validation reports to JSON and plain-text files
// next to the output they describe. It satisfies Reporter; a PDF-capable
// renderer can replace it without touching the workflow.
type FileReporter struct{}

// Render writes "<stem>_vN.report.json" and ".report.txt" and returns
// their paths. Report files follow the same immutability rule as
// outputs: they are written once per version, never rewritten.
func (FileReporter) Render(ctx context.Context, report ValidationReport, outputPath string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	jsonPath := ReportPath(outputPath, "json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", jsonPath, err)
	}

	txtPath := ReportPath(outputPath, "txt")
	if err := os.WriteFile(txtPath, []byte(renderText(report)), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", txtPath, err)
	}

	return []string{jsonPath, txtPath}, nil
}

func renderText(report ValidationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "NWB validation report\n")
	fmt.Fprintf(&b, "output:  %s\n", report.OutputPath)
	fmt.Fprintf(&b, "attempt: %d\n", report.Attempt)
	fmt.Fprintf(&b, "outcome: %s\n\n", report.Outcome)

	if len(report.Issues) == 0 {
		b.WriteString("No issues found.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%s\n\n", report.Summary())
	for _, issue := range report.Issues {
		fmt.Fprintf(&b, "[%s] %s", issue.Severity, issue.Message)
		if issue.Location != "" {
			fmt.Fprintf(&b, " (at %s)", issue.Location)
		}
		b.WriteByte('\n')
	}

	if len(report.Enriched) > 0 {
		b.WriteString("\nPrioritised fixes:\n")
		for _, issue := range report.Enriched {
			fmt.Fprintf(&b, "- [%s] %s", issue.Priority, issue.Message)
			if issue.FixAction != "" {
				fmt.Fprintf(&b, " -> %s", issue.FixAction)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
