package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

// DownloadNWB streams the finished NWB file into dest. The file is
// written atomically: a partial download never replaces dest.
func (c *Client) DownloadNWB(ctx context.Context, dest string) error {
	tmp, err := os.CreateTemp("", "nwbctl-download-*.nwb")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := c.stream(ctx, "/api/download/nwb", tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to finish download: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}

// DownloadReport writes the validation report to w. Format is "json" or
// "txt".
func (c *Client) DownloadReport(ctx context.Context, format string, w io.Writer) error {
	path := "/api/download/report"
	if format != "" {
		path += "?format=" + url.QueryEscape(format)
	}
	return c.stream(ctx, path, w)
}

func (c *Client) stream(ctx context.Context, path string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return decodeAPIError(resp.StatusCode, body)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download interrupted: %w", err)
	}
	return nil
}
