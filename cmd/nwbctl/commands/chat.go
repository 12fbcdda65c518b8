package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/cmdutil"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/cli/prompt"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the conversion assistant",
	Long: `Send a message to the conversion assistant. The assistant extracts
metadata (subject, species, session time, experimenter) from plain
language and asks follow-up questions until it has what it needs.

With no message argument, an interactive session opens; finish with an
empty line or Ctrl+C.

Examples:
  # One-shot message
  nwbctl chat "adult male mouse, recorded by Jane Doe on 2026-03-01"

  # Interactive session
  nwbctl chat`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return sendChat(cmd, args[0])
	}

	fmt.Println("Interactive session. Empty message or Ctrl+C to finish.")
	for {
		message, err := prompt.Input("you", "")
		if err != nil {
			if prompt.IsAborted(err) {
				return nil
			}
			return err
		}
		if strings.TrimSpace(message) == "" {
			return nil
		}
		if err := sendChat(cmd, message); err != nil {
			return err
		}
	}
}

func sendChat(cmd *cobra.Command, message string) error {
	resp, err := cmdutil.GetClient().Chat(cmd.Context(), message)
	if err != nil {
		return fmt.Errorf("chat failed: %w", err)
	}

	if resp.Status == "busy" {
		fmt.Println("The assistant is still working on your previous message; try again shortly.")
		return nil
	}

	fmt.Printf("\nassistant: %s\n", resp.Message)
	if len(resp.ExtractedMetadata) > 0 {
		fmt.Println("\nExtracted so far:")
		for k, v := range resp.ExtractedMetadata {
			fmt.Printf("  %s: %v\n", k, v)
		}
	}
	if resp.ReadyToProceed {
		fmt.Println("\nAll required metadata collected; the conversion will continue.")
	} else if resp.NeedsMoreInfo {
		fmt.Println("\nThe assistant still needs more information.")
	}
	return nil
}
