package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not available")
	}
	path := filepath.Join(t.TempDir(), "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestExecConverterReportsProgressAndWritesOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "rec_v1.nwb")
	script := writeScript(t, `
read request
echo '{"percent": 25, "message": "reading input"}'
echo '{"percent": 75, "message": "writing"}'
echo "$request" > `+out+`
`)

	conv, err := NewExecConverter([]string{script})
	require.NoError(t, err)

	var percents []int
	err = conv.Convert(context.Background(), nwb.ConversionRequest{
		InputPath:  "/tmp/in.bin",
		OutputPath: out,
		Format:     "spikeglx",
		Metadata:   map[string]any{"species": "Mus musculus"},
		OnProgress: func(p int, _ string) { percents = append(percents, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{25, 75}, percents)

	// The tool received the request on stdin.
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"format":"spikeglx"`)
	assert.Contains(t, string(data), "Mus musculus")
}

func TestExecConverterFailureCarriesStderr(t *testing.T) {
	script := writeScript(t, `
echo "cannot map channel layout" >&2
exit 3
`)

	conv, err := NewExecConverter([]string{script})
	require.NoError(t, err)

	err = conv.Convert(context.Background(), nwb.ConversionRequest{OutputPath: "/tmp/x.nwb"})
	require.Error(t, err)

	var cerr *nwb.ConversionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, nwb.ConversionErrorCrash, cerr.Kind)
	assert.Contains(t, cerr.Context["stderr"], "cannot map channel layout")
}

func TestExecConverterMissingBinary(t *testing.T) {
	conv, err := NewExecConverter([]string{"/nonexistent/converter"})
	require.NoError(t, err)

	err = conv.Convert(context.Background(), nwb.ConversionRequest{OutputPath: "/tmp/x.nwb"})
	var cerr *nwb.ConversionError
	require.ErrorAs(t, err, &cerr)
}

func TestExecConverterEmptyCommand(t *testing.T) {
	_, err := NewExecConverter(nil)
	assert.Error(t, err)
}

func TestExecValidatorParsesIssues(t *testing.T) {
	script := writeScript(t, `
echo '[{"severity":"error","code":"check_subject_sex","message":"sex missing","location":"/general/subject"}]'
`)

	v, err := NewExecValidator([]string{script})
	require.NoError(t, err)

	issues, err := v.Validate(context.Background(), "/tmp/out_v1.nwb")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, nwb.SeverityError, issues[0].Severity)
	assert.Equal(t, "check_subject_sex", issues[0].Code)
}

func TestExecValidatorNonZeroExitWithIssuesStillSucceeds(t *testing.T) {
	script := writeScript(t, `
echo '[{"severity":"warning","code":"w1","message":"m","location":"/"}]'
exit 1
`)

	v, err := NewExecValidator([]string{script})
	require.NoError(t, err)

	issues, err := v.Validate(context.Background(), "/tmp/out_v1.nwb")
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestExecValidatorGarbageOutputFails(t *testing.T) {
	script := writeScript(t, `echo "Traceback (most recent call last):"`)

	v, err := NewExecValidator([]string{script})
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), "/tmp/out_v1.nwb")
	assert.Error(t, err)
}

func TestExecValidatorCancelledContext(t *testing.T) {
	script := writeScript(t, `sleep 10`)

	v, err := NewExecValidator([]string{script})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = v.Validate(ctx, "/tmp/out_v1.nwb")
	assert.True(t, errors.Is(err, context.Canceled))
}
