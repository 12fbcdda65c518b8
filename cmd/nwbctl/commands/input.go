package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/cmdutil"
)

var (
	inputFields []string
	inputCancel bool
)

var inputCmd = &cobra.Command{
	Use:   "input",
	Short: "Submit metadata fields or cancel the workflow",
	Long: `Submit structured metadata values the daemon is waiting for, or
cancel the workflow entirely.

Values are parsed as JSON where possible (numbers, booleans, arrays)
and fall back to plain strings.

Examples:
  # Provide two fields
  nwbctl input --field species="Mus musculus" --field subject_id=m042

  # A numeric field
  nwbctl input --field subject_age_days=92

  # Give up on this conversion
  nwbctl input --cancel`,
	RunE: runInput,
}

func init() {
	inputCmd.Flags().StringArrayVar(&inputFields, "field", nil, "Metadata field as name=value (repeatable)")
	inputCmd.Flags().BoolVar(&inputCancel, "cancel", false, "Cancel the workflow")
}

func runInput(cmd *cobra.Command, args []string) error {
	if !inputCancel && len(inputFields) == 0 {
		return fmt.Errorf("provide at least one --field or --cancel")
	}

	fields := make(map[string]any, len(inputFields))
	for _, raw := range inputFields {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || name == "" {
			return fmt.Errorf("malformed --field %q (expected name=value)", raw)
		}
		fields[name] = parseFieldValue(value)
	}

	resp, err := cmdutil.GetClient().UserInput(cmd.Context(), fields, inputCancel)
	if err != nil {
		return fmt.Errorf("failed to submit input: %w", err)
	}

	if inputCancel {
		fmt.Println("Workflow cancelled.")
		return nil
	}
	fmt.Printf("Submitted %d field(s) (status: %s)\n", len(fields), resp.Status)
	return nil
}

// parseFieldValue interprets a flag value as JSON when it parses,
// otherwise as a plain string.
func parseFieldValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
