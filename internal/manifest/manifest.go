// Package manifest loads the input manifest: one row per record to convert,
// keyed by a normalized study key.
package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ecgbatch/internal/failure"
	"ecgbatch/internal/studykey"
)

// Options names the manifest columns the engine needs.
type Options struct {
	StudyKeyColumn string
	LocatorColumn  string
}

// Entry is one manifest row. Values is aligned with Manifest.Header and keeps
// every original column so the ledger can reproduce the row.
type Entry struct {
	Key     string
	Locator string
	Values  []string
}

// Manifest is the immutable, ordered list of records for a run.
type Manifest struct {
	Header  []string
	Entries []Entry
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Entries)
}

// Load reads a CSV manifest (tab-separated when the extension is .tsv).
// Missing columns, empty keys and duplicate keys are configuration errors.
func Load(path string, opts Options) (*Manifest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, failure.Configuration("open manifest: %v", err)
	}
	defer file.Close()

	m, err := Read(file, Delimiter(path), opts)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Read parses a manifest from r using the given field delimiter.
func Read(r io.Reader, delimiter rune, opts Options) (*Manifest, error) {
	reader := NewReader(r, delimiter)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, failure.Configuration("manifest is empty")
		}
		return nil, failure.Configuration("read manifest header: %v", err)
	}
	header = CleanHeader(header)

	keyIdx := indexOf(header, opts.StudyKeyColumn)
	if keyIdx < 0 {
		return nil, failure.Configuration("study key column %q not found in manifest header", opts.StudyKeyColumn)
	}
	locIdx := indexOf(header, opts.LocatorColumn)
	if locIdx < 0 {
		return nil, failure.Configuration("locator column %q not found in manifest header", opts.LocatorColumn)
	}

	m := &Manifest{Header: header}
	seen := make(map[string]int)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, failure.Configuration("read manifest: %v", err)
		}
		if isBlank(record) {
			continue
		}
		key := studykey.Normalize(record[keyIdx])
		if key == "" {
			return nil, failure.Configuration("row %d: empty study key", line)
		}
		if err := studykey.CheckFileSafe(key); err != nil {
			return nil, failure.Configuration("row %d: %v", line, err)
		}
		if first, dup := seen[key]; dup {
			return nil, failure.Configuration("duplicate study key %q on rows %d and %d", key, first, line)
		}
		seen[key] = line
		values := append([]string(nil), record...)
		values[keyIdx] = key
		m.Entries = append(m.Entries, Entry{
			Key:     key,
			Locator: strings.TrimSpace(record[locIdx]),
			Values:  values,
		})
	}
	return m, nil
}

// SourcePath resolves a locator against the source directory. Locators name a
// WFDB record with or without its .hea or .dat extension.
func SourcePath(sourceDir, locator string) string {
	locator = strings.TrimSpace(locator)
	switch strings.ToLower(filepath.Ext(locator)) {
	case ".hea", ".dat":
		locator = strings.TrimSuffix(locator, filepath.Ext(locator))
	}
	if filepath.IsAbs(locator) || sourceDir == "" {
		return filepath.Clean(locator)
	}
	return filepath.Join(sourceDir, filepath.FromSlash(locator))
}

// Delimiter picks the field separator for a tabular file by extension.
func Delimiter(path string) rune {
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		return '\t'
	}
	return ','
}

// NewReader returns a CSV reader configured for manifest-style files.
// Rows must match the header width.
func NewReader(r io.Reader, delimiter rune) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.FieldsPerRecord = 0
	if delimiter == '\t' {
		reader.LazyQuotes = true
	}
	return reader
}

// CleanHeader trims header names and strips a UTF-8 byte order mark.
func CleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\uFEFF")
		}
		out[i] = strings.TrimSpace(name)
	}
	return out
}

func indexOf(header []string, name string) int {
	for i, column := range header {
		if column == name {
			return i
		}
	}
	return -1
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
