package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/cmdutil"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/apiclient"
)

var eventsKinds []string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow the server's event stream",
	Long: `Follow the nwbd event stream: status transitions, conversion
progress, log lines, conversation messages, and validation results.

Examples:
  # Follow everything
  nwbctl events

  # Only progress and status updates
  nwbctl events --kinds progress,status_update`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringSliceVar(&eventsKinds, "kinds", nil, "Event kinds to stream (default: all)")
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintln(os.Stderr, "Following events (Ctrl+C to stop)...")
	err := cmdutil.GetClient().Events(ctx, eventsKinds, func(ev apiclient.Event) error {
		printEvent(ev)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// errWorkflowFinalized stops an event follow once the workflow reaches
// a terminal status.
var errWorkflowFinalized = fmt.Errorf("workflow finalized")

// followUntilFinalized streams events, printing them, until a finalized
// event arrives or the context is cancelled.
func followUntilFinalized(ctx context.Context, client *apiclient.Client) error {
	err := client.Events(ctx, nil, func(ev apiclient.Event) error {
		printEvent(ev)
		if ev.Kind == "finalized" {
			return errWorkflowFinalized
		}
		return nil
	})
	if err == errWorkflowFinalized {
		return nil
	}
	return err
}

// printEvent renders one event as a single human-readable line.
func printEvent(ev apiclient.Event) {
	ts := ev.Timestamp.Local().Format(time.TimeOnly)

	switch ev.Kind {
	case "progress":
		var p struct {
			Percent int    `json:"percent"`
			Message string `json:"message"`
		}
		if json.Unmarshal(ev.Payload, &p) == nil {
			fmt.Printf("%s  [%3d%%] %s\n", ts, p.Percent, p.Message)
			return
		}
	case "status_update":
		var s struct {
			Status string `json:"status"`
			Phase  string `json:"phase"`
		}
		if json.Unmarshal(ev.Payload, &s) == nil {
			fmt.Printf("%s  status: %s (phase: %s)\n", ts, s.Status, s.Phase)
			return
		}
	case "conversation_message":
		var m struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if json.Unmarshal(ev.Payload, &m) == nil {
			fmt.Printf("%s  %s: %s\n", ts, m.Role, m.Content)
			return
		}
	case "log":
		var l struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		if json.Unmarshal(ev.Payload, &l) == nil {
			fmt.Printf("%s  %s  %s\n", ts, strings.ToUpper(l.Level), l.Message)
			return
		}
	case "validation_report":
		var v struct {
			Outcome string `json:"outcome"`
			Summary string `json:"summary"`
			Issues  int    `json:"issues"`
		}
		if json.Unmarshal(ev.Payload, &v) == nil {
			fmt.Printf("%s  validation: %s (%d issues) %s\n", ts, v.Outcome, v.Issues, v.Summary)
			return
		}
	case "finalized":
		var f struct {
			TerminalStatus string `json:"terminal_status"`
		}
		if json.Unmarshal(ev.Payload, &f) == nil {
			fmt.Printf("%s  finalized: %s\n", ts, f.TerminalStatus)
			return
		}
	case "lagged":
		var l struct {
			Dropped uint64 `json:"dropped"`
		}
		if json.Unmarshal(ev.Payload, &l) == nil {
			fmt.Printf("%s  (stream lagged, %d events dropped)\n", ts, l.Dropped)
			return
		}
	}

	// Unknown or unparseable: dump the raw payload.
	fmt.Printf("%s  %s: %s\n", ts, ev.Kind, string(ev.Payload))
}
