package metaindex

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"ecgbatch/internal/failure"
	"ecgbatch/internal/studykey"
)

// Row is one metadata record. Values are strings regardless of source type.
type Row map[string]string

// Get returns the trimmed value of column.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r[column])
}

// Options controls how a table is read.
type Options struct {
	KeyColumn string
	// Required lists columns that must exist in the table.
	Required []string
	// SQLiteTable is the table read from SQLite sources.
	SQLiteTable string
}

// Index is a read-only lookup of metadata rows by normalized study key.
type Index struct {
	rows       map[string]Row
	columns    []string
	duplicates int
}

// Lookup returns the row for key. The key is normalized before lookup.
func (ix *Index) Lookup(key string) (Row, bool) {
	if ix == nil {
		return nil, false
	}
	row, ok := ix.rows[studykey.Normalize(key)]
	return row, ok
}

// Len returns the number of distinct keys.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.rows)
}

// Duplicates returns how many rows were ignored because an earlier row had
// the same key.
func (ix *Index) Duplicates() int {
	if ix == nil {
		return 0
	}
	return ix.duplicates
}

// Columns returns the column names in source order.
func (ix *Index) Columns() []string {
	if ix == nil {
		return nil
	}
	return append([]string(nil), ix.columns...)
}

// Load reads the metadata table at path.
func Load(path string, opts Options) (*Index, error) {
	if strings.TrimSpace(opts.KeyColumn) == "" {
		return nil, failure.Configuration("metadata key column must be set")
	}
	var (
		ix  *Index
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".tsv", ".txt":
		ix, err = loadDelimited(path, opts)
	case ".json":
		ix, err = loadJSON(path, opts)
	case ".jsonl", ".ndjson":
		ix, err = loadJSONLines(path, opts)
	case ".db", ".sqlite", ".sqlite3":
		ix, err = loadSQLite(path, opts)
	default:
		return nil, failure.Configuration("metadata table %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		if failure.IsConfiguration(err) {
			return nil, fmt.Errorf("metadata table %s: %w", path, err)
		}
		return nil, failure.Configuration("metadata table %s: %v", path, err)
	}
	return ix, nil
}

// builder accumulates rows, applying the first-row-wins duplicate rule.
type builder struct {
	opts    Options
	ix      *Index
	columns map[string]struct{}
}

func newBuilder(opts Options) *builder {
	return &builder{
		opts:    opts,
		ix:      &Index{rows: make(map[string]Row)},
		columns: make(map[string]struct{}),
	}
}

func (b *builder) addColumns(names ...string) {
	for _, name := range names {
		if _, ok := b.columns[name]; ok {
			continue
		}
		b.columns[name] = struct{}{}
		b.ix.columns = append(b.ix.columns, name)
	}
}

func (b *builder) add(row Row) {
	key := studykey.Normalize(row[b.opts.KeyColumn])
	if key == "" {
		return
	}
	if _, exists := b.ix.rows[key]; exists {
		b.ix.duplicates++
		return
	}
	row[b.opts.KeyColumn] = key
	b.ix.rows[key] = row
}

// finish verifies required columns. Object-shaped sources report the union
// of keys seen across rows.
func (b *builder) finish() (*Index, error) {
	var missing []string
	for _, name := range append([]string{b.opts.KeyColumn}, b.opts.Required...) {
		if _, ok := b.columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, failure.Configuration("missing required columns: %s", strings.Join(missing, ", "))
	}
	return b.ix, nil
}
