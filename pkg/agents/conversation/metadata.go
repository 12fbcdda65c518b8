package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/internal/logger"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/llm"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/session"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/actions"
	"github.com/Python-AI-Solutions/agentic-neurodata-conversion-sub001/pkg/workflow/policy"
)

// fieldCatalog is the deterministic description of every DANDI-required
// field. The required set itself comes from policy; the model only adds
// contextual suggestions on top of these entries.
var fieldCatalog = map[string]actions.MetadataField{
	"experimenter": {
		Name:        "experimenter",
		DisplayName: "Experimenter",
		Description: "Name(s) of the person(s) who performed the recording.",
		WhyNeeded:   "DANDI requires attribution of the experimental work.",
		Example:     "Lopez, Maria",
		FieldType:   "string",
	},
	"institution": {
		Name:        "institution",
		DisplayName: "Institution",
		Description: "The institution where the recording was made.",
		WhyNeeded:   "DANDI requires the originating institution for provenance.",
		Example:     "University of Example",
		FieldType:   "string",
	},
	"session_description": {
		Name:        "session_description",
		DisplayName: "Session description",
		Description: "A free-text summary of what was recorded in this session.",
		WhyNeeded:   "NWB files must describe the session for downstream users.",
		Example:     "Awake head-fixed recording from primary visual cortex",
		FieldType:   "string",
	},
	"session_start_time": {
		Name:        "session_start_time",
		DisplayName: "Session start time",
		Description: "The wall-clock time the recording started, with timezone.",
		WhyNeeded:   "NWB requires an absolute session start time.",
		Example:     "2026-03-14T09:30:00-05:00",
		FieldType:   "timestamp",
	},
	"subject_id": {
		Name:        "subject_id",
		DisplayName: "Subject ID",
		Description: "Your lab's identifier for the recorded subject.",
		WhyNeeded:   "DANDI requires a stable subject identifier.",
		Example:     "mouse-042",
		FieldType:   "string",
	},
	"species": {
		Name:        "species",
		DisplayName: "Species",
		Description: "The subject's species, preferably as a latin binomial.",
		WhyNeeded:   "DANDI requires the species for the archive's search index.",
		Example:     "Mus musculus",
		FieldType:   "string",
	},
	"sex": {
		Name:        "sex",
		DisplayName: "Sex",
		Description: "The subject's sex: M, F, U (unknown), or O (other).",
		WhyNeeded:   "DANDI requires subject sex for the archive's metadata model.",
		Example:     "F",
		FieldType:   "string",
	},
}

// metadataSuggestions is the structured model output when polishing a
// metadata request.
type metadataSuggestions struct {
	Suggestions      string `json:"suggestions" jsonschema_description:"One short paragraph guiding the user through providing the fields, referencing anything inferable from the auto-extracted metadata"`
	DetectedDataType string `json:"detected_data_type" jsonschema_description:"Short description of the recording type inferred from the metadata, empty if unclear"`
}

// buildMetadataRequest assembles the fields the user must provide. Field
// selection is deterministic; the model contributes only the free-text
// guidance and is skipped entirely on failure.
func (a *Agent) buildMetadataRequest(ctx context.Context, snap *session.Session) *actions.MetadataRequest {
	missing := policy.MissingDandiFields(snap)
	request := &actions.MetadataRequest{Fields: make([]actions.MetadataField, 0, len(missing))}
	for _, name := range missing {
		field, ok := fieldCatalog[name]
		if !ok {
			field = actions.MetadataField{Name: name, DisplayName: name, FieldType: "string"}
		}
		if v, ok := snap.AutoExtractedMetadata[name]; ok {
			field.InferredValue = v
		}
		request.Fields = append(request.Fields, field)
	}

	var polished metadataSuggestions
	req := llm.Request{
		System: "You help neuroscientists fill in DANDI-required metadata for an NWB conversion. " +
			"Write one short, friendly paragraph of guidance. Do not invent values.",
		Prompt: fmt.Sprintf("Missing fields: %s.\nAuto-extracted metadata so far: %v.",
			strings.Join(missing, ", "), snap.AutoExtractedMetadata),
	}
	if err := a.model.GenerateStructured(ctx, req, &polished); err != nil {
		logger.WarnCtx(ctx, "metadata request polishing failed, using catalog text", logger.Err(err))
		return request
	}
	request.Suggestions = polished.Suggestions
	request.DetectedDataType = polished.DetectedDataType
	return request
}

// metadataIntro renders the chat message that accompanies a metadata
// request.
func metadataIntro(request *actions.MetadataRequest) string {
	var b strings.Builder
	b.WriteString("Before converting, I need a few details that the DANDI archive requires:\n")
	for _, f := range request.Fields {
		fmt.Fprintf(&b, "- %s: %s (e.g. %s)\n", f.DisplayName, f.Description, f.Example)
	}
	if request.Suggestions != "" {
		b.WriteString("\n")
		b.WriteString(request.Suggestions)
	}
	b.WriteString("\nYou can provide these here in chat, or tell me to proceed with what we have.")
	return b.String()
}

// chatSystemPrompt builds the system prompt for a chat turn from the
// current session snapshot.
func chatSystemPrompt(snap *session.Session) string {
	var b strings.Builder
	b.WriteString("You are the conversational interface of a neurophysiology-to-NWB conversion service. ")
	b.WriteString("Extract any metadata values the user states into extracted_metadata using canonical field names ")
	b.WriteString("(experimenter, institution, session_description, session_start_time, subject_id, species, sex). ")
	b.WriteString("Record fields the user refuses to provide in declined_fields. ")
	b.WriteString("Set ready_to_proceed only when the user clearly asks to start or continue the conversion. ")
	b.WriteString("Never invent metadata values.\n\n")

	fmt.Fprintf(&b, "Session status: %s, phase: %s.\n", snap.Status, snap.Phase)
	if snap.DetectedFormat != "" {
		fmt.Fprintf(&b, "Detected input format: %s.\n", snap.DetectedFormat)
	}
	if missing := policy.MissingDandiFields(snap); len(missing) > 0 {
		fmt.Fprintf(&b, "Still missing DANDI-required fields: %s.\n", strings.Join(missing, ", "))
	}
	if len(snap.DeclinedFields) > 0 {
		fmt.Fprintf(&b, "The user has declined to provide: %s. Do not ask for these again.\n",
			strings.Join(snap.DeclinedFields, ", "))
	}
	if snap.ValidationReport != nil {
		fmt.Fprintf(&b, "Latest validation: %s.\n", snap.ValidationReport.Summary())
	}
	return b.String()
}
