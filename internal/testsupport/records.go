package testsupport

import (
	"encoding/binary"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/suyashkumar/dicom/pkg/tag"

	"ecgbatch/internal/dicomwave"
	"ecgbatch/internal/wfdb"
)

// Leads is the standard 12-lead order.
var Leads = []string{"I", "II", "III", "aVR", "aVL", "aVF", "V1", "V2", "V3", "V4", "V5", "V6"}

// WriteECGRecord writes a 12-lead, 500 Hz, format 16 WFDB record named name
// into dir and returns its path without extension. The header carries a
// subject_id comment and a base date/time.
func WriteECGRecord(t testing.TB, dir, name, subjectID string, samples int) string {
	t.Helper()

	h := &wfdb.Header{
		Record:      name,
		NumSignals:  len(Leads),
		Fs:          500,
		NumSamples:  samples,
		BaseTime:    time.Date(2180, time.July, 23, 8, 44, 0, 0, time.UTC),
		HasBaseTime: true,
	}
	if subjectID != "" {
		h.Comments = []string{"<subject_id>: " + subjectID}
	}
	data := make([][]int16, len(Leads))
	for i, lead := range Leads {
		h.Signals = append(h.Signals, wfdb.Signal{
			File: name + ".dat", Format: 16, Gain: 200, Units: "mV", ADCRes: 16, Description: lead,
		})
		data[i] = make([]int16, samples)
		for s := range data[i] {
			data[i][s] = int16((s*7+i*13)%400 - 200)
		}
	}
	if err := wfdb.WriteRecord(dir, &wfdb.Record{Header: h, Samples: data}); err != nil {
		t.Fatalf("write WFDB record %s: %v", name, err)
	}
	return filepath.Join(dir, name)
}

// Waveform describes a DICOM waveform fixture. PayloadDelta adjusts the
// WaveformData length away from channels x samples x 2.
type Waveform struct {
	Channels       int
	Samples        int
	Fs             float64
	BitsAllocated  int
	Interpretation string
	PayloadDelta   int
	OmitSequence   bool
}

// ValidWaveform returns a fixture that passes structural validation.
func ValidWaveform() Waveform {
	return Waveform{Channels: 12, Samples: 100, Fs: 500, BitsAllocated: 16, Interpretation: "SS"}
}

// WriteWaveformDICOM writes a waveform fixture to path.
func WriteWaveformDICOM(t testing.TB, path string, w Waveform) {
	t.Helper()

	size := w.Channels*w.Samples*2 + w.PayloadDelta
	if size < 0 {
		size = 0
	}
	payload := make([]byte, size)
	for i := 0; i+1 < len(payload); i += 2 {
		binary.LittleEndian.PutUint16(payload[i:], uint16(i%512))
	}
	b := dicomwave.NewBuilder().
		Text(tag.SOPClassUID, dicomwave.TwelveLeadECGWaveformStorage).
		Text(tag.SOPInstanceUID, "2.25.42").
		Text(tag.Modality, "ECG")
	if !w.OmitSequence {
		b.Sequence(tag.WaveformSequence, dicomwave.NewBuilder().
			Uint(tag.NumberOfWaveformChannels, w.Channels).
			Uint(tag.NumberOfWaveformSamples, w.Samples).
			Decimal(tag.SamplingFrequency, w.Fs).
			Uint(tag.WaveformBitsAllocated, w.BitsAllocated).
			Text(tag.WaveformSampleInterpretation, w.Interpretation).
			Bytes(tag.WaveformData, payload))
	}
	body, err := b.Build()
	if err != nil {
		t.Fatalf("build DICOM fixture %s: %v", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer file.Close()
	if err := dicomwave.Write(file, body); err != nil {
		t.Fatalf("write DICOM fixture %s: %v", path, err)
	}
}

// WriteCSV writes header and rows as CSV to path.
func WriteCSV(t testing.TB, path string, header []string, rows ...[]string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		t.Fatalf("write csv header: %v", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		t.Fatalf("write csv rows: %v", err)
	}
}
