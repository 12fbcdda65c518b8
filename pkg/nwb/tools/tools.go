// Package tools implements the converter and validator capabilities by
// shelling out to external commands. The actual NWB writing and
// inspection live in those tools; this package owns only the process
// lifecycle and the JSON protocol.
//
// Converter protocol: the request is written to the tool's stdin as a
// single JSON object. The tool writes the NWB file to the requested
// output path and may emit progress lines on stdout, each a JSON object
// {"percent": 55, "message": "writing electrodes"}. A non-zero exit
// fails the conversion; stderr is surfaced in the error.
//
// Validator protocol: the tool is invoked with the NWB path as its last
// argument and prints a JSON array of issues on stdout. A non-zero exit
// with parseable output is still a successful validation run (finding
// issues is the tool's job); unparseable output is a validator failure.
package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/telemetry"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
)

// ExecConverter runs an external conversion command.
type ExecConverter struct {
	command []string
}

// NewExecConverter creates the converter. The command is an argv slice;
// the first element is the executable.
func NewExecConverter(command []string) (*ExecConverter, error) {
	if len(command) == 0 {
		return nil, errors.New("tools: converter command is empty")
	}
	return &ExecConverter{command: command}, nil
}

// converterRequest is the JSON body written to the converter's stdin.
type converterRequest struct {
	InputPath  string         `json:"input_path"`
	OutputPath string         `json:"output_path"`
	Format     string         `json:"format"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
}

// progressLine is one stdout progress message from the converter.
type progressLine struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Convert implements nwb.Converter.
func (c *ExecConverter) Convert(ctx context.Context, req nwb.ConversionRequest) error {
	ctx, span := telemetry.StartToolSpan(ctx, "convert", c.command,
		telemetry.RecordingFormat(req.Format),
		telemetry.OutputPath(req.OutputPath),
	)
	defer span.End()

	body, err := json.Marshal(converterRequest{
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		Format:     req.Format,
		Metadata:   req.Metadata,
		Options:    req.Options,
	})
	if err != nil {
		return nwb.NewConversionError(nwb.ConversionErrorInput, "failed to encode conversion request", "error", err.Error())
	}

	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	cmd.Stdin = bytes.NewReader(body)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("tools: converter stdout: %w", err)
	}

	logger.Debug("starting external converter",
		logger.KeyCapability, "converter",
		"command", c.command[0],
		"output_path", req.OutputPath,
	)
	if err := cmd.Start(); err != nil {
		return nwb.NewConversionError(nwb.ConversionErrorCrash,
			fmt.Sprintf("converter command %q could not start", c.command[0]),
			"error", err.Error(),
		)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line progressLine
		if json.Unmarshal(scanner.Bytes(), &line) != nil {
			continue
		}
		if req.OnProgress != nil && line.Percent >= 0 {
			req.OnProgress(line.Percent, line.Message)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nwb.NewConversionError(nwb.ConversionErrorCrash,
			"converter exited with an error",
			"error", err.Error(),
			"stderr", truncate(stderr.String(), 2000),
		)
	}
	return nil
}

// ExecValidator runs an external validation command.
type ExecValidator struct {
	command []string
}

// NewExecValidator creates the validator.
func NewExecValidator(command []string) (*ExecValidator, error) {
	if len(command) == 0 {
		return nil, errors.New("tools: validator command is empty")
	}
	return &ExecValidator{command: command}, nil
}

// validatorIssue is one issue as printed by the external tool.
type validatorIssue struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Location string `json:"location"`
}

// Validate implements nwb.Validator.
func (v *ExecValidator) Validate(ctx context.Context, path string) ([]nwb.Issue, error) {
	ctx, span := telemetry.StartToolSpan(ctx, "validate", v.command, telemetry.OutputPath(path))
	defer span.End()

	args := append(append([]string(nil), v.command[1:]...), path)
	cmd := exec.CommandContext(ctx, v.command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("starting external validator",
		logger.KeyCapability, "validator",
		"command", v.command[0],
		"path", path,
	)
	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var raw []validatorIssue
	parseErr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &raw)
	if parseErr != nil {
		if runErr != nil {
			return nil, fmt.Errorf("tools: validator failed: %w: %s", runErr, truncate(stderr.String(), 2000))
		}
		return nil, fmt.Errorf("tools: validator output was not a JSON issue list: %w", parseErr)
	}

	issues := make([]nwb.Issue, 0, len(raw))
	for _, r := range raw {
		issues = append(issues, nwb.Issue{
			Severity: nwb.Severity(strings.ToUpper(r.Severity)),
			Code:     r.Code,
			Message:  r.Message,
			Location: r.Location,
		})
	}
	return issues, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
