package apiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Event is one server-sent event from the daemon's stream. Payload is
// left raw so callers can decode only the kinds they care about.
type Event struct {
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EventFunc handles one streamed event. Returning an error stops the
// stream and is returned from Events.
type EventFunc func(Event) error

// Events follows the daemon's SSE stream, invoking fn for each event.
// kinds filters server-side when non-empty. The call blocks until the
// context is cancelled, fn returns an error, or the stream ends.
func (c *Client) Events(ctx context.Context, kinds []string, fn EventFunc) error {
	path := "/events"
	if len(kinds) > 0 {
		path += "?kinds=" + url.QueryEscape(strings.Join(kinds, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return decodeAPIError(resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			// Blank separators and keep-alive comments.
		case strings.HasPrefix(line, "event: "):
			// The kind also lives in the data envelope; skip.
		case strings.HasPrefix(line, "data: "):
			var event Event
			if err := json.Unmarshal([]byte(line[len("data: "):]), &event); err != nil {
				return fmt.Errorf("malformed event: %w", err)
			}
			if err := fn(event); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("event stream failed: %w", err)
	}
	return nil
}
