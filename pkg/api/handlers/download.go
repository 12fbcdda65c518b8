package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
)

// DownloadHandler streams the current conversion output and its reports.
type DownloadHandler struct {
	store *session.Store
}

// NewDownloadHandler creates the download handler.
func NewDownloadHandler(store *session.Store) *DownloadHandler {
	return &DownloadHandler{store: store}
}

// NWB streams the current output file.
func (h *DownloadHandler) NWB(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	if snap.OutputPath == "" {
		NotFound(w, "no conversion output yet")
		return
	}
	if _, err := os.Stat(snap.OutputPath); err != nil {
		NotFound(w, "output file is missing from disk")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(snap.OutputPath)+"\"")
	http.ServeFile(w, r, snap.OutputPath)
}

// Report streams the current validation report. The format query
// parameter selects json (default) or txt.
func (h *DownloadHandler) Report(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	if len(snap.ReportPaths) == 0 {
		NotFound(w, "no validation report yet")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	path := ""
	// Prefer the report for the current output version.
	if snap.OutputPath != "" {
		want := nwb.ReportPath(snap.OutputPath, format)
		for _, p := range snap.ReportPaths {
			if p == want {
				path = p
				break
			}
		}
	}
	if path == "" {
		for _, p := range snap.ReportPaths {
			if strings.HasSuffix(p, "."+format) {
				path = p
			}
		}
	}
	if path == "" {
		NotFound(w, "no report in the requested format")
		return
	}
	if _, err := os.Stat(path); err != nil {
		NotFound(w, "report file is missing from disk")
		return
	}

	contentType := "application/json"
	if format == "txt" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(path)+"\"")
	http.ServeFile(w, r, path)
}
