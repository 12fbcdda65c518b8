package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/nwb"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/actions"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/bus"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/policy"
)

// WorkflowHandler translates REST calls into bus requests against the
// conversation agent and read-only session snapshots.
type WorkflowHandler struct {
	store         *session.Store
	bus           *bus.Bus
	uploadDir     string
	maxUploadSize int64
}

// NewWorkflowHandler creates the workflow handler.
func NewWorkflowHandler(store *session.Store, b *bus.Bus, uploadDir string, maxUploadSize int64) *WorkflowHandler {
	return &WorkflowHandler{
		store:         store,
		bus:           b,
		uploadDir:     uploadDir,
		maxUploadSize: maxUploadSize,
	}
}

// UploadResponse is the 202 body for a successful upload.
type UploadResponse struct {
	SessionID string   `json:"session_id"`
	Status    string   `json:"status"`
	Checksum  string   `json:"checksum"`
	Files     []string `json:"files"`
}

// Upload accepts one or more recording files as multipart form data.
//
// Files land in the upload directory under their original names and are
// never touched afterwards. The first file is the primary input whose
// checksum is recorded. A terminal session is reset implicitly: a new
// upload starts a new workflow.
func (h *WorkflowHandler) Upload(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	if !policy.CanAcceptUpload(&snap) {
		Conflict(w, fmt.Sprintf("cannot accept an upload while status is %s", snap.Status))
		return
	}
	uploadFrom := snap.Status
	if snap.Status.IsTerminal() {
		if err := h.store.Reset(); err != nil {
			Conflict(w, err.Error())
			return
		}
		uploadFrom = session.StatusIdle
	}

	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		BadRequest(w, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		files = r.MultipartForm.File["files"]
	}
	if len(files) == 0 {
		BadRequest(w, "no files in upload; use the 'file' form field")
		return
	}

	// CAS from the guarded status: a concurrent upload that won the race
	// already moved the session to UPLOADING and this one conflicts.
	if err := h.store.Transition(uploadFrom, session.StatusUploading, nil); err != nil {
		Conflict(w, err.Error())
		return
	}

	saved, checksum, err := h.saveUpload(files)
	if err != nil {
		// Return the session to a state from which upload can be retried.
		_ = h.store.Transition(session.StatusUploading, session.StatusIdle, nil)
		BadRequest(w, err.Error())
		return
	}

	inputPath := saved[0]
	if len(saved) > 1 {
		inputPath = h.uploadDir
	}

	err = h.store.Transition(session.StatusUploading, session.StatusUploaded, func(s *session.Session) {
		s.InputPath = inputPath
		s.InputChecksum = checksum
		s.UploadedFilenames = baseNames(saved)
	})
	if err != nil {
		InternalServerError(w, err.Error())
		return
	}

	snap = h.store.Snapshot()
	logger.Info("upload accepted",
		"files", len(saved),
		"input_path", inputPath,
		"checksum", checksum,
	)
	WriteJSON(w, http.StatusAccepted, UploadResponse{
		SessionID: snap.ID,
		Status:    string(snap.Status),
		Checksum:  checksum,
		Files:     baseNames(saved),
	})
}

// saveUpload writes the form files to the upload directory and returns
// the saved paths plus the primary file's SHA-256.
func (h *WorkflowHandler) saveUpload(files []*multipart.FileHeader) ([]string, string, error) {
	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	var saved []string
	for _, fh := range files {
		name := sanitizeFilename(fh.Filename)
		if name == "" {
			return nil, "", fmt.Errorf("invalid filename %q", fh.Filename)
		}

		src, err := fh.Open()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read upload %q: %w", name, err)
		}

		dstPath := filepath.Join(h.uploadDir, name)
		dst, err := os.Create(dstPath)
		if err != nil {
			_ = src.Close()
			return nil, "", fmt.Errorf("failed to write %q: %w", name, err)
		}

		_, copyErr := io.Copy(dst, src)
		_ = src.Close()
		if closeErr := dst.Close(); copyErr == nil {
			copyErr = closeErr
		}
		if copyErr != nil {
			_ = os.Remove(dstPath)
			return nil, "", fmt.Errorf("failed to write %q: %w", name, copyErr)
		}
		saved = append(saved, dstPath)
	}

	checksum, err := nwb.ChecksumFile(saved[0])
	if err != nil {
		return nil, "", fmt.Errorf("failed to checksum upload: %w", err)
	}
	return saved, checksum, nil
}

// StartConversion begins the workflow on the uploaded input.
func (h *WorkflowHandler) StartConversion(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	if snap.InputPath == "" {
		BadRequest(w, "no input uploaded")
		return
	}

	resp, err := h.send(r, bus.AgentConversation, actions.StartConversion, actions.StartConversionPayload{})
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Chat handles one conversational turn. A busy single-flight guard maps
// to 503 with the explicit busy status in the body.
func (h *WorkflowHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var payload actions.ChatMessagePayload
	if !decodeJSONBody(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		BadRequest(w, "message must not be empty")
		return
	}

	resp, err := h.send(r, bus.AgentConversation, actions.ChatMessage, payload)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}

	status := http.StatusOK
	if chat, ok := resp.(*actions.ChatResponse); ok && chat.Status == actions.ChatStatusBusy {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}

// UserInput submits structured metadata fields or cancels the workflow.
func (h *WorkflowHandler) UserInput(w http.ResponseWriter, r *http.Request) {
	var payload actions.UserInputPayload
	if !decodeJSONBody(w, r, &payload) {
		return
	}
	if !payload.Cancel && len(payload.Fields) == 0 {
		BadRequest(w, "provide fields or cancel:true")
		return
	}

	resp, err := h.send(r, bus.AgentConversation, actions.UserInput, payload)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// RetryApproval approves or declines a correction retry.
func (h *WorkflowHandler) RetryApproval(w http.ResponseWriter, r *http.Request) {
	var payload actions.RetryDecisionPayload
	if !decodeJSONBody(w, r, &payload) {
		return
	}

	resp, err := h.send(r, bus.AgentConversation, actions.RetryDecision, payload)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// ImprovementDecision resolves a PASSED_WITH_ISSUES outcome.
func (h *WorkflowHandler) ImprovementDecision(w http.ResponseWriter, r *http.Request) {
	var payload actions.ImprovementDecisionPayload
	if !decodeJSONBody(w, r, &payload) {
		return
	}
	if payload.Action != actions.ImprovementAcceptAsIs && payload.Action != actions.ImprovementImprove {
		BadRequest(w, fmt.Sprintf("action must be %q or %q", actions.ImprovementAcceptAsIs, actions.ImprovementImprove))
		return
	}

	resp, err := h.send(r, bus.AgentConversation, actions.ImprovementDecision, payload)
	if err != nil {
		WriteWorkflowError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// StatusResponse is the session snapshot returned by GET /api/status.
type StatusResponse struct {
	SessionID         string         `json:"session_id"`
	Status            string         `json:"status"`
	Phase             string         `json:"phase"`
	ValidationOutcome string         `json:"validation_outcome,omitempty"`
	TerminalStatus    string         `json:"terminal_status,omitempty"`
	MetadataPolicy    string         `json:"metadata_policy"`
	CorrectionAttempt int            `json:"correction_attempt"`
	CanRetry          bool           `json:"can_retry"`
	InputPath         string         `json:"input_path,omitempty"`
	InputChecksum     string         `json:"input_checksum,omitempty"`
	DetectedFormat    string         `json:"detected_format,omitempty"`
	OutputPath        string         `json:"output_path,omitempty"`
	EffectiveMetadata map[string]any `json:"effective_metadata,omitempty"`
	MissingFields     []string       `json:"missing_fields,omitempty"`
	ValidationSummary string         `json:"validation_summary,omitempty"`
}

// Status returns the session snapshot.
func (h *WorkflowHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()

	resp := StatusResponse{
		SessionID:         snap.ID,
		Status:            string(snap.Status),
		Phase:             string(snap.Phase),
		ValidationOutcome: string(snap.ValidationOutcome),
		TerminalStatus:    string(snap.TerminalStatus),
		MetadataPolicy:    string(snap.MetadataPolicy),
		CorrectionAttempt: snap.CorrectionAttempt,
		CanRetry:          policy.CanRetry(&snap),
		InputPath:         snap.InputPath,
		InputChecksum:     snap.InputChecksum,
		DetectedFormat:    snap.DetectedFormat,
		OutputPath:        snap.OutputPath,
		EffectiveMetadata: snap.EffectiveMetadata(),
		MissingFields:     policy.MissingDandiFields(&snap),
	}
	if snap.ValidationReport != nil {
		resp.ValidationSummary = snap.ValidationReport.Summary()
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Validation returns the last enriched validation report.
func (h *WorkflowHandler) Validation(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	if snap.ValidationReport == nil {
		NotFound(w, "no validation report yet")
		return
	}
	WriteJSON(w, http.StatusOK, snap.ValidationReport)
}

// Reset zeroes the session. Rejected while the workflow is active.
func (h *WorkflowHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Reset(); err != nil {
		Conflict(w, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// send dispatches one bus request using the inbound request context.
func (h *WorkflowHandler) send(r *http.Request, target bus.Agent, action bus.Action, payload any) (any, error) {
	return h.bus.Send(r.Context(), bus.Request{
		Target:  target,
		Action:  action,
		Payload: payload,
	})
}

// sanitizeFilename strips any path components from an uploaded filename.
func sanitizeFilename(name string) string {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

func baseNames(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names
}
