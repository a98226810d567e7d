package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ecgbatch/internal/failure"
	"ecgbatch/internal/manifest"
)

var defaultOpts = manifest.Options{StudyKeyColumn: "study_id", LocatorColumn: "path"}

func TestReadNormalizesKeysAndKeepsColumns(t *testing.T) {
	input := "\uFEFFsubject_id,study_id,path\n10,40689238.0,files/p1000/s40689238/40689238\n11, 44458630 ,files/p1001/s44458630/44458630.hea\n\n"
	m, err := manifest.Read(strings.NewReader(input), ',', defaultOpts)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if got := strings.Join(m.Header, ","); got != "subject_id,study_id,path" {
		t.Fatalf("unexpected header %q", got)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", m.Len())
	}
	first := m.Entries[0]
	if first.Key != "40689238" || first.Values[1] != "40689238" {
		t.Fatalf("expected normalized key in entry and values, got %+v", first)
	}
	if m.Entries[1].Key != "44458630" {
		t.Fatalf("expected trimmed key, got %q", m.Entries[1].Key)
	}
	if m.Entries[1].Values[0] != "11" {
		t.Fatalf("expected original columns kept, got %v", m.Entries[1].Values)
	}
}

func TestReadRejectsInvalidManifests(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "empty"},
		{"missing key column", "id,path\n1,a\n", "study key column"},
		{"missing locator column", "study_id,file\n1,a\n", "locator column"},
		{"duplicate keys", "study_id,path\n1,a\n1.0,b\n", "duplicate study key"},
		{"empty key", "study_id,path\n,a\n", "empty study key"},
		{"ragged row", "study_id,path\n1,a,extra\n", "read manifest"},
		{"key escapes output dir", "study_id,path\n../etc/x,a\n", "path separator"},
		{"dot-dot key", "study_id,path\n..,a\n", "not a file name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manifest.Read(strings.NewReader(tt.input), ',', defaultOpts)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, failure.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, err)
			}
		})
	}
}

func TestLoadTSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.tsv")
	if err := os.WriteFile(path, []byte("study_id\tpath\n7\trec/7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Load(path, defaultOpts)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if m.Len() != 1 || m.Entries[0].Locator != "rec/7" {
		t.Fatalf("unexpected entries: %+v", m.Entries)
	}
}

func TestSourcePath(t *testing.T) {
	tests := []struct {
		locator string
		want    string
	}{
		{"files/p1/s1/1", "/data/files/p1/s1/1"},
		{"files/p1/s1/1.hea", "/data/files/p1/s1/1"},
		{"files/p1/s1/1.dat", "/data/files/p1/s1/1"},
		{"/abs/rec/2.hea", "/abs/rec/2"},
	}
	for _, tt := range tests {
		if got := manifest.SourcePath("/data", tt.locator); got != tt.want {
			t.Fatalf("SourcePath(%q) = %q, want %q", tt.locator, got, tt.want)
		}
	}
}
