package main

import (
	"fmt"
	"os"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/cmd/nwbd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
