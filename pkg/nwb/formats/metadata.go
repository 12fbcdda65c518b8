package formats

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Well-known metadata keys produced by extraction. These align with the
// NWB field names the conversation agent asks the user about.
const (
	KeyDetectedFormat      = "detected_format"
	KeySessionStartTime    = "session_start_time"
	KeySessionDescription  = "session_description"
	KeySamplingRateHz      = "sampling_rate_hz"
	KeyChannelCount        = "channel_count"
	KeyProbeType           = "probe_type"
	KeyAcquisitionSoftware = "acquisition_software"
)

// ExtractMetadata pulls whatever session metadata the vendor companion
// files carry. It is best-effort and pure: unreadable companions simply
// contribute nothing. The detected format itself is always included when
// known.
func ExtractMetadata(inputPath string, det Detection) map[string]any {
	meta := make(map[string]any)
	if det.Detected() {
		meta[KeyDetectedFormat] = det.Format
	}

	switch det.Format {
	case FormatSpikeGLX, FormatNeuropixels:
		mergeSpikeGLXMeta(inputPath, meta)
	case FormatOpenEphys:
		mergeOebin(inputPath, meta)
	}
	return meta
}

// spikeglxKeyMap maps SpikeGLX .meta keys to our metadata keys.
var spikeglxKeyMap = map[string]string{
	"imSampRate":  KeySamplingRateHz,
	"nSavedChans": KeyChannelCount,
	"imDatPrb_pn": KeyProbeType,
	"appVersion":  KeyAcquisitionSoftware,
}

// mergeSpikeGLXMeta parses the first ".ap.meta" companion it finds.
// SpikeGLX meta files are "key=value" per line.
func mergeSpikeGLXMeta(inputPath string, meta map[string]any) {
	metaPath := findCompanion(inputPath, ".ap.meta")
	if metaPath == "" {
		return
	}
	f, err := os.Open(metaPath)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimPrefix(strings.TrimSpace(key), "~")
		value = strings.TrimSpace(value)

		if mapped, ok := spikeglxKeyMap[key]; ok {
			meta[mapped] = value
			continue
		}
		if key == "fileCreateTime" {
			// SpikeGLX stamps local time without zone, e.g. 2024-03-01T12:30:00
			if ts, err := time.Parse("2006-01-02T15:04:05", value); err == nil {
				meta[KeySessionStartTime] = ts.Format(time.RFC3339)
			}
		}
	}
}

// oebinFile is the subset of an OpenEphys structure.oebin we read.
type oebinFile struct {
	GUIVersion string `json:"GUI version"`
	Continuous []struct {
		SampleRate  float64 `json:"sample_rate"`
		NumChannels int     `json:"num_channels"`
		SourceName  string  `json:"source_processor_name"`
	} `json:"continuous"`
}

// mergeOebin parses the structure.oebin JSON companion.
func mergeOebin(inputPath string, meta map[string]any) {
	oebinPath := findCompanion(inputPath, "structure.oebin")
	if oebinPath == "" {
		return
	}
	data, err := os.ReadFile(oebinPath)
	if err != nil {
		return
	}
	var parsed oebinFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return
	}
	if parsed.GUIVersion != "" {
		meta[KeyAcquisitionSoftware] = "Open Ephys GUI " + parsed.GUIVersion
	}
	if len(parsed.Continuous) > 0 {
		stream := parsed.Continuous[0]
		if stream.SampleRate > 0 {
			meta[KeySamplingRateHz] = stream.SampleRate
		}
		if stream.NumChannels > 0 {
			meta[KeyChannelCount] = stream.NumChannels
		}
		if stream.SourceName != "" {
			meta[KeyProbeType] = stream.SourceName
		}
	}
}

// findCompanion locates a file matching the suffix in the input's
// directory (or the input itself when it matches).
func findCompanion(inputPath, suffix string) string {
	if strings.HasSuffix(inputPath, suffix) {
		return inputPath
	}
	info, err := os.Stat(inputPath)
	if err != nil {
		return ""
	}
	dir := inputPath
	if !info.IsDir() {
		dir = filepath.Dir(inputPath)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
			return filepath.Join(dir, entry.Name())
		}
	}
	return ""
}
