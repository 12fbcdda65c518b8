package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/cmdutil"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/cli/output"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload a recording to the server",
	Long: `Upload one or more recording files to the nwbd server. Formats
that split a recording across companion files (a SpikeGLX .bin with its
.meta, an OpenEphys directory's .continuous files) should be uploaded
together in a single command.

Uploading replaces any finished session; a session whose conversion is
still running must be reset or completed first.

Examples:
  # Single-file recording
  nwbctl upload recording.dat

  # SpikeGLX pair
  nwbctl upload run1_g0_t0.imec0.ap.bin run1_g0_t0.imec0.ap.meta`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func runUpload(cmd *cobra.Command, args []string) error {
	for _, path := range args {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("cannot read %s: %w", path, err)
		}
	}

	resp, err := cmdutil.GetClient().Upload(cmd.Context(), args...)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		return cmdutil.PrintOutput(os.Stdout, resp, false, "", nil)
	}

	fmt.Printf("Uploaded %d file(s): %s\n", len(resp.Files), strings.Join(resp.Files, ", "))
	fmt.Printf("  Session:  %s\n", resp.SessionID)
	fmt.Printf("  Checksum: %s\n", resp.Checksum)
	fmt.Println("\nStart the conversion with: nwbctl convert")
	return nil
}
