package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/cmdutil"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/cli/output"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/apiclient"
)

var convertFollow bool

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Start the conversion workflow",
	Long: `Start converting the uploaded recording. The daemon detects the
recording format, collects metadata, and runs the conversion followed
by validation.

If required metadata cannot be inferred from the recording, the daemon
pauses and asks for it; answer with 'nwbctl chat' or 'nwbctl input'.

Examples:
  # Start and return immediately
  nwbctl convert

  # Start and stream progress until the workflow finishes
  nwbctl convert --follow`,
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().BoolVarP(&convertFollow, "follow", "f", false, "Stream events until the workflow finishes")
}

func runConvert(cmd *cobra.Command, args []string) error {
	client := cmdutil.GetClient()

	resp, err := client.StartConversion(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to start conversion: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		return cmdutil.PrintOutput(os.Stdout, resp, false, "", nil)
	}

	switch resp.Status {
	case "awaiting_user_input":
		fmt.Println("The conversion needs more metadata before it can run.")
		printMetadataRequest(resp.MetadataRequest)
		fmt.Println("\nProvide values with 'nwbctl input --field name=value' or describe")
		fmt.Println("your session in plain language with 'nwbctl chat'.")
		return nil
	default:
		fmt.Printf("Conversion started (status: %s)\n", resp.Status)
	}

	if !convertFollow {
		fmt.Println("Follow progress with: nwbctl events")
		return nil
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := followUntilFinalized(ctx, client); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// printMetadataRequest renders the daemon's metadata questions.
func printMetadataRequest(req *apiclient.MetadataRequest) {
	if req == nil || len(req.Fields) == 0 {
		return
	}

	if req.DetectedDataType != "" {
		fmt.Printf("\nDetected data type: %s\n", req.DetectedDataType)
	}

	table := output.NewTableData("FIELD", "DESCRIPTION", "EXAMPLE", "INFERRED")
	for _, f := range req.Fields {
		inferred := ""
		if f.InferredValue != nil {
			inferred = fmt.Sprintf("%v", f.InferredValue)
		}
		table.AddRow(f.Name, f.Description, f.Example, inferred)
	}
	fmt.Println()
	_ = output.PrintTable(os.Stdout, table)

	if req.Suggestions != "" {
		fmt.Printf("\n%s\n", req.Suggestions)
	}
}
