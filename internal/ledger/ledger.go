package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"ecgbatch/internal/failure"
	"ecgbatch/internal/fileutil"
	"ecgbatch/internal/manifest"
	"ecgbatch/internal/studykey"
)

// Columns names the key and outcome columns.
type Columns struct {
	StudyKey   string
	OutputPath string
	Error      string
}

// Status is the processing state of one ledger row.
type Status int

const (
	StatusPending Status = iota
	StatusSucceeded
	StatusFailed
	// StatusCorrupt marks a row with both outcome fields populated.
	StatusCorrupt
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "pending"
	}
}

// Entry is the outcome view of one row.
type Entry struct {
	Key        string
	OutputPath string
	Error      string
}

// Status classifies the entry.
func (e Entry) Status() Status {
	switch {
	case e.OutputPath != "" && e.Error != "":
		return StatusCorrupt
	case e.OutputPath != "":
		return StatusSucceeded
	case e.Error != "":
		return StatusFailed
	default:
		return StatusPending
	}
}

// Ledger is an ordered table of rows indexed by study key. It is not safe for
// concurrent use; the engine goroutine owns it.
type Ledger struct {
	header []string
	cols   Columns
	keyIdx int
	outIdx int
	errIdx int
	rows   [][]string
	index  map[string]int
}

// New creates an empty ledger. The outcome columns are appended to header
// when it does not already contain them.
func New(header []string, cols Columns) (*Ledger, error) {
	l := &Ledger{cols: cols, index: make(map[string]int)}
	l.header = append([]string(nil), header...)
	l.keyIdx = indexOf(l.header, cols.StudyKey)
	if l.keyIdx < 0 {
		return nil, failure.Configuration("ledger header has no study key column %q", cols.StudyKey)
	}
	if l.outIdx = indexOf(l.header, cols.OutputPath); l.outIdx < 0 {
		l.header = append(l.header, cols.OutputPath)
		l.outIdx = len(l.header) - 1
	}
	if l.errIdx = indexOf(l.header, cols.Error); l.errIdx < 0 {
		l.header = append(l.header, cols.Error)
		l.errIdx = len(l.header) - 1
	}
	return l, nil
}

// Header returns a copy of the column names.
func (l *Ledger) Header() []string {
	return append([]string(nil), l.header...)
}

// Columns returns the key and outcome column names.
func (l *Ledger) Columns() Columns {
	return l.cols
}

// Len returns the number of rows.
func (l *Ledger) Len() int {
	return len(l.rows)
}

// Append adds a row whose values are aligned with srcHeader. Columns unknown
// to the ledger are dropped and missing ones left empty. The key is
// normalized; duplicates are rejected.
func (l *Ledger) Append(srcHeader, values []string) (string, error) {
	row := make([]string, len(l.header))
	for i, name := range srcHeader {
		if i >= len(values) {
			break
		}
		if dst := indexOf(l.header, name); dst >= 0 {
			row[dst] = values[i]
		}
	}
	key := studykey.Normalize(row[l.keyIdx])
	if key == "" {
		return "", fmt.Errorf("ledger row %d: empty study key", len(l.rows)+1)
	}
	if _, dup := l.index[key]; dup {
		return "", fmt.Errorf("duplicate study key %q in ledger", key)
	}
	row[l.keyIdx] = key
	l.index[key] = len(l.rows)
	l.rows = append(l.rows, row)
	return key, nil
}

// AppendManifest adds the rows of a manifest in order.
func (l *Ledger) AppendManifest(m *manifest.Manifest) error {
	for _, entry := range m.Entries {
		if _, err := l.Append(m.Header, entry.Values); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether key has a row.
func (l *Ledger) Has(key string) bool {
	_, ok := l.index[key]
	return ok
}

// Get returns the outcome view of key.
func (l *Ledger) Get(key string) (Entry, bool) {
	idx, ok := l.index[key]
	if !ok {
		return Entry{}, false
	}
	return l.entryAt(idx), true
}

// Row returns a copy of the raw values for key, aligned with Header.
func (l *Ledger) Row(key string) ([]string, bool) {
	idx, ok := l.index[key]
	if !ok {
		return nil, false
	}
	return append([]string(nil), l.rows[idx]...), true
}

// Entries returns the outcome view of every row in ledger order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, len(l.rows))
	for i := range l.rows {
		out[i] = l.entryAt(i)
	}
	return out
}

func (l *Ledger) entryAt(idx int) Entry {
	row := l.rows[idx]
	return Entry{Key: row[l.keyIdx], OutputPath: row[l.outIdx], Error: row[l.errIdx]}
}

// SetSuccess records an output path and clears any previous error.
func (l *Ledger) SetSuccess(key, outputPath string) error {
	if strings.TrimSpace(outputPath) == "" {
		return fmt.Errorf("study key %q: empty output path", key)
	}
	return l.set(key, outputPath, "")
}

// SetFailure records an error message and clears any previous output path.
func (l *Ledger) SetFailure(key, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("study key %q: empty error message", key)
	}
	return l.set(key, "", message)
}

// Clear resets both outcome fields.
func (l *Ledger) Clear(key string) error {
	return l.set(key, "", "")
}

func (l *Ledger) set(key, outputPath, message string) error {
	idx, ok := l.index[key]
	if !ok {
		return fmt.Errorf("study key %q not in ledger", key)
	}
	l.rows[idx][l.outIdx] = outputPath
	l.rows[idx][l.errIdx] = message
	return nil
}

// Encode writes the ledger as CSV.
func (l *Ledger) Encode(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(l.header); err != nil {
		return err
	}
	for _, row := range l.rows {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Save atomically replaces path with the current contents.
func (l *Ledger) Save(path string) error {
	if err := fileutil.WriteFileAtomic(path, 0o644, l.Encode); err != nil {
		return fmt.Errorf("save ledger %s: %w", path, err)
	}
	return nil
}

// Load reads a ledger from path. A missing file returns an error matching
// fs.ErrNotExist.
func Load(path string, cols Columns) (*Ledger, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	l, err := Read(file, cols)
	if err != nil {
		return nil, fmt.Errorf("ledger %s: %w", path, err)
	}
	return l, nil
}

// Read parses a CSV ledger.
func Read(r io.Reader, cols Columns) (*Ledger, error) {
	reader := manifest.NewReader(r, ',')
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, failure.Configuration("ledger is empty")
		}
		return nil, failure.Configuration("read ledger header: %v", err)
	}
	srcHeader := manifest.CleanHeader(header)
	l, err := New(srcHeader, cols)
	if err != nil {
		return nil, err
	}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return l, nil
		}
		if err != nil {
			return nil, failure.Configuration("read ledger: %v", err)
		}
		if _, err := l.Append(srcHeader, record); err != nil {
			return nil, failure.Configuration("%v", err)
		}
	}
}

func indexOf(header []string, name string) int {
	for i, column := range header {
		if column == name {
			return i
		}
	}
	return -1
}
