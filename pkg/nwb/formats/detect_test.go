package formats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetect_SpikeGLX(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bin := writeFile(t, dir, "rec_g0_t0.imec0.ap.bin", "binary")
	writeFile(t, dir, "rec_g0_t0.imec0.ap.meta", "imSampRate=30000\n")

	det := Detect(bin)
	require.True(t, det.Detected())
	assert.Equal(t, FormatSpikeGLX, det.Format)
	assert.Equal(t, 100, det.Confidence)
	assert.Contains(t, det.Indicators, "rec_g0_t0.imec0.ap.meta")
}

func TestDetect_OpenEphysDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "structure.oebin", "{}")
	writeFile(t, dir, "continuous.dat", "data")

	det := Detect(dir)
	require.True(t, det.Detected())
	assert.Equal(t, FormatOpenEphys, det.Format)
}

func TestDetect_NWBPassthrough(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "already.nwb", "hdf5")

	det := Detect(path)
	assert.Equal(t, FormatNWB, det.Format)
	assert.Equal(t, 100, det.Confidence)
}

func TestDetect_BareBinaryIsLowConfidence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bin := writeFile(t, dir, "probe.ap.bin", "binary")

	det := Detect(bin)
	assert.Equal(t, FormatNeuropixels, det.Format)
	assert.Less(t, det.Confidence, 70, "bare stream must not auto-accept")
}

func TestDetect_UnknownAndMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", "hello")

	assert.False(t, Detect(path).Detected())
	assert.False(t, Detect(filepath.Join(dir, "missing")).Detected())
}

func TestExtractMetadata_SpikeGLX(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bin := writeFile(t, dir, "rec.ap.bin", "binary")
	writeFile(t, dir, "rec.ap.meta",
		"imSampRate=30000\nnSavedChans=385\nimDatPrb_pn=NP2.0\nfileCreateTime=2024-03-01T12:30:00\n~junk\n")

	det := Detect(bin)
	meta := ExtractMetadata(bin, det)

	assert.Equal(t, FormatSpikeGLX, meta[KeyDetectedFormat])
	assert.Equal(t, "30000", meta[KeySamplingRateHz])
	assert.Equal(t, "385", meta[KeyChannelCount])
	assert.Equal(t, "NP2.0", meta[KeyProbeType])
	assert.Equal(t, "2024-03-01T12:30:00Z", meta[KeySessionStartTime])
}

func TestExtractMetadata_OpenEphys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "structure.oebin",
		`{"GUI version":"0.6.4","continuous":[{"sample_rate":30000,"num_channels":64,"source_processor_name":"Neuropix-PXI"}]}`)

	det := Detect(dir)
	meta := ExtractMetadata(dir, det)

	assert.Equal(t, FormatOpenEphys, meta[KeyDetectedFormat])
	assert.Equal(t, float64(30000), meta[KeySamplingRateHz])
	assert.Equal(t, 64, meta[KeyChannelCount])
	assert.Equal(t, "Neuropix-PXI", meta[KeyProbeType])
	assert.Equal(t, "Open Ephys GUI 0.6.4", meta[KeyAcquisitionSoftware])
}

func TestExtractMetadata_UnreadableCompanionIsBestEffort(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "structure.oebin", "not json")

	meta := ExtractMetadata(dir, Detect(dir))
	assert.Equal(t, FormatOpenEphys, meta[KeyDetectedFormat])
	assert.NotContains(t, meta, KeySamplingRateHz)
}

func TestListFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.bin", "aaaa")
	writeFile(t, dir, "b.meta", "bb")

	files, err := ListFiles(dir, 10)
	require.NoError(t, err)
	require.Len(t, files, 2)

	capped, err := ListFiles(dir, 1)
	require.NoError(t, err)
	assert.Len(t, capped, 1)
}
