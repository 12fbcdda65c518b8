package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbctl/commands"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/apiclient"
)

func main() {
	if err := commands.Execute(); err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stderr, "Error: %s (HTTP %d)\n", apiErr.Error(), apiErr.Status)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
