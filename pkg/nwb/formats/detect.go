// Package formats implements pure, filesystem-only detection of the
// supported neurophysiology recording formats, and extraction of whatever
// session metadata the vendor companion files carry.
//
// Detection here never consults a language model; the conversion agent
// falls back to one only when these heuristics miss.
package formats

import (
	"os"
	"path/filepath"
	"strings"
)

// Recording format identifiers. These are the values carried in
// Session.auto_extracted_metadata["detected_format"] and in LLM
// format-detection responses.
const (
	FormatSpikeGLX    = "spikeglx"
	FormatOpenEphys   = "openephys"
	FormatNeuropixels = "neuropixels"
	FormatNWB         = "nwb"
	FormatUnknown     = ""
)

// Detection is the result of a format scan.
type Detection struct {
	Format     string   `json:"format"`
	Confidence int      `json:"confidence"` // 0-100
	Indicators []string `json:"indicators"`
}

// Detected reports whether the scan produced a usable format.
func (d Detection) Detected() bool {
	return d.Format != FormatUnknown
}

// Detect scans the input path (a file or a directory) for well-known
// companion files and returns the detected format. The rules:
//
//   - a ".ap.meta" beside a ".ap.bin" (or the files themselves) => SpikeGLX
//   - a "structure.oebin" anywhere in the directory => OpenEphys
//   - an ".nwb" file => NWB passthrough
//   - a lone ".ap.bin"/".lf.bin" without meta => Neuropixels raw stream
func Detect(inputPath string) Detection {
	info, err := os.Stat(inputPath)
	if err != nil {
		return Detection{}
	}

	dir := inputPath
	if !info.IsDir() {
		dir = filepath.Dir(inputPath)

		// Direct hits on the named file first.
		switch {
		case strings.HasSuffix(inputPath, ".nwb"):
			return Detection{Format: FormatNWB, Confidence: 100, Indicators: []string{filepath.Base(inputPath)}}
		case strings.HasSuffix(inputPath, ".oebin"):
			return Detection{Format: FormatOpenEphys, Confidence: 100, Indicators: []string{filepath.Base(inputPath)}}
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Detection{}
	}

	var (
		hasAPMeta, hasAPBin, hasLFBin bool
		hasOebin, hasNWB              bool
		indicators                    []string
	)
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".ap.meta"):
			hasAPMeta = true
			indicators = append(indicators, name)
		case strings.HasSuffix(name, ".ap.bin"):
			hasAPBin = true
			indicators = append(indicators, name)
		case strings.HasSuffix(name, ".lf.bin"):
			hasLFBin = true
			indicators = append(indicators, name)
		case name == "structure.oebin":
			hasOebin = true
			indicators = append(indicators, name)
		case strings.HasSuffix(name, ".nwb"):
			hasNWB = true
			indicators = append(indicators, name)
		}
	}

	switch {
	case hasAPMeta && hasAPBin:
		return Detection{Format: FormatSpikeGLX, Confidence: 100, Indicators: indicators}
	case hasOebin:
		return Detection{Format: FormatOpenEphys, Confidence: 100, Indicators: indicators}
	case hasNWB && !info.IsDir():
		return Detection{Format: FormatNWB, Confidence: 95, Indicators: indicators}
	case hasAPBin || hasLFBin:
		// Binary stream without its SpikeGLX meta companion. Plausibly a
		// bare Neuropixels recording, but not certain enough to accept
		// without confirmation.
		return Detection{Format: FormatNeuropixels, Confidence: 60, Indicators: indicators}
	}
	return Detection{}
}

// ListFiles returns the names and sizes of the files surrounding the input
// path, capped at limit entries. This is the evidence handed to the LLM
// when pure detection misses.
func ListFiles(inputPath string, limit int) ([]FileEvidence, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, err
	}
	dir := inputPath
	if !info.IsDir() {
		dir = filepath.Dir(inputPath)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]FileEvidence, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileEvidence{Name: entry.Name(), Size: fi.Size()})
		if limit > 0 && len(files) >= limit {
			break
		}
	}
	return files, nil
}

// FileEvidence describes one neighbouring file for LLM-based detection.
type FileEvidence struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}
