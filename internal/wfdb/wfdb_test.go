package wfdb

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleHeader = `40689238 3 500 4 08:44:00 23/07/2180
40689238.dat 16 200/mV 16 0 -12 12345 0 I
40689238.dat 16 200(10)/mV 16 0 -7 42 0 II
40689238.dat 16 0/mV 16 5 0 0 0 V1
# <subject_id>: 10001
# Non-ECG comment
`

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader(strings.NewReader(sampleHeader))
	if err != nil {
		t.Fatalf("ParseHeader returned error: %v", err)
	}
	if h.Record != "40689238" || h.NumSignals != 3 || h.Fs != 500 || h.NumSamples != 4 {
		t.Fatalf("unexpected record line: %+v", h)
	}
	want := time.Date(2180, time.July, 23, 8, 44, 0, 0, time.UTC)
	if !h.HasBaseTime || !h.BaseTime.Equal(want) {
		t.Fatalf("unexpected base time %v (has=%v)", h.BaseTime, h.HasBaseTime)
	}
	if h.SubjectID() != "10001" {
		t.Fatalf("unexpected subject id %q", h.SubjectID())
	}
	if s := h.Signals[0]; s.Gain != 200 || s.Units != "mV" || s.Baseline != 0 || s.Description != "I" {
		t.Fatalf("unexpected signal 0: %+v", s)
	}
	if s := h.Signals[1]; s.Baseline != 10 {
		t.Fatalf("expected explicit baseline, got %+v", s)
	}
	if s := h.Signals[2]; s.Gain != defaultGain || s.Baseline != 5 {
		t.Fatalf("expected default gain and adczero baseline, got %+v", s)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	tests := map[string]string{
		"empty":           "",
		"signal count":    "rec 2 500 10\nrec.dat 16 200 16 0 0 0 0 I\n",
		"format modifier": "rec 1 500 10\nrec.dat 16x2 200 16 0 0 0 0 I\n",
		"bad gain":        "rec 1 500 10\nrec.dat 16 abc 16 0 0 0 0 I\n",
	}
	for name, input := range tests {
		if _, err := ParseHeader(strings.NewReader(input)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestRecordRoundTrip(t *testing.T) {
	for _, format := range []int{16, 212} {
		dir := t.TempDir()
		h, err := ParseHeader(strings.NewReader(sampleHeader))
		if err != nil {
			t.Fatal(err)
		}
		for i := range h.Signals {
			h.Signals[i].Format = format
		}
		samples := [][]int16{
			{-12, 0, 5, 2047},
			{-7, -2048, 100, -1},
			{0, 1, 2, 3},
		}
		if err := WriteRecord(dir, &Record{Header: h, Samples: samples}); err != nil {
			t.Fatalf("format %d: WriteRecord returned error: %v", format, err)
		}

		rec, err := ReadRecord(filepath.Join(dir, "40689238"))
		if err != nil {
			t.Fatalf("format %d: ReadRecord returned error: %v", format, err)
		}
		for i := range samples {
			for j := range samples[i] {
				if rec.Samples[i][j] != samples[i][j] {
					t.Fatalf("format %d: sample [%d][%d] = %d, want %d", format, i, j, rec.Samples[i][j], samples[i][j])
				}
			}
		}
		if rec.Header.SubjectID() != "10001" {
			t.Fatalf("format %d: comments lost", format)
		}
	}
}

func TestReadRecordShortSignalFile(t *testing.T) {
	dir := t.TempDir()
	h, err := ParseHeader(strings.NewReader(sampleHeader))
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteRecord(dir, &Record{Header: h, Samples: [][]int16{{1, 2}, {3, 4}, {5, 6}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadRecord(filepath.Join(dir, "40689238")); err == nil || !strings.Contains(err.Error(), "declares 4") {
		t.Fatalf("expected short file error, got %v", err)
	}
}
