package apiclient

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// Upload sends one or more recording files to the daemon. Multi-file
// uploads carry companion files, e.g. a SpikeGLX .bin with its .meta.
// The body is streamed so recordings never have to fit in memory.
func (c *Client) Upload(ctx context.Context, paths ...string) (*UploadResponse, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to upload")
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := writeUploadBody(writer, paths)
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp.StatusCode, respBody)
	}

	var result UploadResponse
	if err := unmarshalResponse(respBody, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func writeUploadBody(writer *multipart.Writer, paths []string) error {
	field := "file"
	if len(paths) > 1 {
		field = "files"
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		part, err := writer.CreateFormFile(field, filepath.Base(path))
		if err != nil {
			_ = f.Close()
			return err
		}
		if _, err := io.Copy(part, f); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to stream %s: %w", path, err)
		}
		_ = f.Close()
	}
	return nil
}
