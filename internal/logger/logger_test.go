package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel_FiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "json", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestJSONFormat_StructuredFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("conversion started", KeyAttempt, 2, KeyFormat, "spikeglx")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "conversion started", record["msg"])
	assert.Equal(t, float64(2), record[KeyAttempt])
	assert.Equal(t, "spikeglx", record[KeyFormat])
}

func TestInfoCtx_InjectsLogContext(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	lc := NewLogContext("10.0.0.7")
	lc.SessionID = "sess-1"
	lc.Agent = "conversion"
	lc.Action = "detect_format"
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "dispatching")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "sess-1", record[KeySessionID])
	assert.Equal(t, "conversion", record[KeyAgent])
	assert.Equal(t, "detect_format", record[KeyAction])
	assert.Equal(t, "10.0.0.7", record[KeyClientIP])
}

func TestFromContext_NilSafe(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Nil(t, FromContext(nil)) //nolint:staticcheck
	var lc *LogContext
	assert.Nil(t, lc.Clone())
}

func TestTextFormat_ContainsLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Warn("queue lagging", KeyDropped, 3)

	out := buf.String()
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "queue lagging")
	assert.Contains(t, out, "dropped=3")
}

func TestConcurrentLogging_NoInterleavedLines(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Info("parallel write", KeyEventKind, "progress")
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 20)
	for _, line := range lines {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", FormatBytes(512))
	assert.Equal(t, "1.0KiB", FormatBytes(1024))
	assert.Equal(t, "2.5MiB", FormatBytes(2621440))
}
