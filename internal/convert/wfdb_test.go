package convert_test

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/suyashkumar/dicom/pkg/tag"

	"ecgbatch/internal/convert"
	"ecgbatch/internal/dicomwave"
	"ecgbatch/internal/metaindex"
	"ecgbatch/internal/testsupport"
	"ecgbatch/internal/validator"
)

func fixedConverter() *convert.WFDB {
	c := convert.NewWFDB()
	c.Now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c
}

func TestWFDBConvertProducesValidWaveform(t *testing.T) {
	dir := t.TempDir()
	source := testsupport.WriteECGRecord(t, filepath.Join(dir, "files"), "40689238", "10001", 250)
	out := filepath.Join(dir, "out", "40689238.dcm")

	path, err := fixedConverter().Convert(context.Background(), convert.Request{
		StudyKey:   "40689238",
		SourcePath: source,
		OutputPath: out,
		Metadata: metaindex.Row{
			"subject_id":     "99999",
			"cart_id":        "6848296.0",
			"ecg_time":       "2180-07-23 08:44:00",
			"lowpassfilter":  "150.0",
			"highpassfilter": "0.5",
		},
	})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if path != out {
		t.Fatalf("unexpected output path %q", path)
	}
	if err := validator.Validate(out); err != nil {
		t.Fatalf("converted file failed validation: %v", err)
	}

	file, err := dicomwave.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	ds := file.Body
	checks := map[tag.Tag]string{
		tag.SOPClassUID:         dicomwave.TwelveLeadECGWaveformStorage,
		tag.PatientID:           "10001",
		tag.StationName:         "6848296",
		tag.StudyDate:           "21800723",
		tag.AcquisitionDateTime: "21800723084400",
		tag.Modality:            "ECG",
		tag.StudyID:             "40689238",
	}
	for tg, want := range checks {
		if got := ds.Text(tg); got != want {
			t.Fatalf("%s = %q, want %q", dicomwave.TagName(tg), got, want)
		}
	}
	if uid := ds.Text(tag.SOPInstanceUID); !strings.HasPrefix(uid, "2.25.") || len(uid) > 64 {
		t.Fatalf("unexpected instance uid %q", uid)
	}

	wf := ds.Items(tag.WaveformSequence)[0]
	channels := wf.Items(tag.ChannelDefinitionSequence)
	if len(channels) != 12 {
		t.Fatalf("expected 12 channels, got %d", len(channels))
	}
	avr := channels[3]
	if avr.Text(tag.ChannelLabel) != "aVR" {
		t.Fatalf("unexpected label %q", avr.Text(tag.ChannelLabel))
	}
	source0 := avr.Items(tag.ChannelSourceSequence)[0]
	if source0.Text(tag.CodeValue) != "2:62" || source0.Text(tag.CodingSchemeDesignator) != "MDC" {
		t.Fatalf("unexpected lead code %q/%q", source0.Text(tag.CodeValue), source0.Text(tag.CodingSchemeDesignator))
	}
	if v, _ := avr.Float(tag.ChannelSensitivity); v != 0.005 {
		t.Fatalf("unexpected sensitivity %v", v)
	}
	if v, _ := avr.Float(tag.FilterLowFrequency); v != 0.5 {
		t.Fatalf("unexpected low filter %v", v)
	}
	if v, _ := avr.Float(tag.FilterHighFrequency); v != 150 {
		t.Fatalf("unexpected high filter %v", v)
	}

	// Second sample of lead II sits at frame 1, channel 1.
	data, _ := wf.Bytes(tag.WaveformData)
	got := int16(binary.LittleEndian.Uint16(data[2*(1*12+1):]))
	if want := int16((1*7+1*13)%400 - 200); got != want {
		t.Fatalf("unexpected multiplexed sample %d, want %d", got, want)
	}
}

func TestWFDBConvertFallsBackToMetadata(t *testing.T) {
	dir := t.TempDir()
	source := testsupport.WriteECGRecord(t, dir, "7", "", 10)
	header := source + ".hea"
	content, err := os.ReadFile(header)
	if err != nil {
		t.Fatal(err)
	}
	// Drop base time and date from the record line.
	lines := strings.SplitN(string(content), "\n", 2)
	fields := strings.Fields(lines[0])
	if err := os.WriteFile(header, []byte(strings.Join(fields[:4], " ")+"\n"+lines[1]), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "7.dcm")
	_, err = fixedConverter().Convert(context.Background(), convert.Request{
		StudyKey: "7", SourcePath: source, OutputPath: out,
		Metadata: metaindex.Row{"subject_id": "123.0", "ecg_time": "2180-01-02 03:04:05"},
	})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	file, err := dicomwave.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if got := file.Body.Text(tag.PatientID); got != "123" {
		t.Fatalf("expected metadata subject id, got %q", got)
	}
	if got := file.Body.Text(tag.AcquisitionDateTime); got != "21800102030405" {
		t.Fatalf("expected metadata ecg_time, got %q", got)
	}
	if file.Body.Find(tag.StationName) != nil {
		t.Fatal("expected no station name without cart_id")
	}

	_, err = fixedConverter().Convert(context.Background(), convert.Request{
		StudyKey: "7", SourcePath: source, OutputPath: out, Metadata: metaindex.Row{},
	})
	if err != nil {
		t.Fatal(err)
	}
	file, err = dicomwave.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if got := file.Body.Text(tag.PatientID); got != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN patient, got %q", got)
	}
	if got := file.Body.Text(tag.StudyDate); got != "20240102" {
		t.Fatalf("expected current date fallback, got %q", got)
	}
}

func TestWFDBConvertErrorsLeaveNoOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out", "1.dcm")
	_, err := fixedConverter().Convert(context.Background(), convert.Request{
		StudyKey: "1", SourcePath: filepath.Join(dir, "missing"), OutputPath: out,
	})
	if err == nil {
		t.Fatal("expected error for missing record")
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("expected no output file, stat err=%v", statErr)
	}

	source := testsupport.WriteECGRecord(t, dir, "2", "1", 10)
	_, err = fixedConverter().Convert(context.Background(), convert.Request{
		StudyKey: "2", SourcePath: source, OutputPath: out,
		Metadata: metaindex.Row{"lowpassfilter": "fast"},
	})
	if err == nil || !strings.Contains(err.Error(), "lowpassfilter") {
		t.Fatalf("expected invalid filter error, got %v", err)
	}
}

func TestNewUIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		uid := convert.NewUID()
		if seen[uid] {
			t.Fatalf("duplicate uid %q", uid)
		}
		seen[uid] = true
	}
}
