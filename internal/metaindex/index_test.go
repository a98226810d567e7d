package metaindex_test

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"ecgbatch/internal/failure"
	"ecgbatch/internal/metaindex"
)

var opts = metaindex.Options{
	KeyColumn: "study_id",
	Required:  []string{"subject_id", "cart_id", "ecg_time"},
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadCSVFirstRowWins(t *testing.T) {
	path := writeFile(t, "meta.csv", strings.Join([]string{
		"subject_id,study_id,cart_id,ecg_time",
		"100,40689238.0,6848296,2180-07-23 08:44:00",
		"101,40689238,9999,2180-07-24 00:00:00",
		"102,44458630,6848296,2180-07-25 10:00:00",
	}, "\n")+"\n")

	ix, err := metaindex.Load(path, opts)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if ix.Len() != 2 || ix.Duplicates() != 1 {
		t.Fatalf("expected 2 keys and 1 duplicate, got %d/%d", ix.Len(), ix.Duplicates())
	}
	row, ok := ix.Lookup("40689238.0")
	if !ok {
		t.Fatal("expected lookup by float-formatted key to succeed")
	}
	if row.Get("subject_id") != "100" || row.Get("cart_id") != "6848296" {
		t.Fatalf("expected first row to win, got %v", row)
	}
	if _, ok := ix.Lookup("1"); ok {
		t.Fatal("expected absent key")
	}
}

func TestLoadRejectsMissingColumns(t *testing.T) {
	path := writeFile(t, "meta.tsv", "study_id\tsubject_id\n1\t2\n")
	_, err := metaindex.Load(path, opts)
	if !errors.Is(err, failure.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "cart_id, ecg_time") {
		t.Fatalf("expected missing columns listed, got %v", err)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeFile(t, "meta.parquet", "")
	if _, err := metaindex.Load(path, opts); !errors.Is(err, failure.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadJSONAndJSONLines(t *testing.T) {
	jsonPath := writeFile(t, "meta.json", `[
		{"study_id": 40689238.0, "subject_id": 100, "cart_id": "6848296", "ecg_time": "2180-07-23 08:44:00", "lowpassfilter": null}
	]`)
	ix, err := metaindex.Load(jsonPath, opts)
	if err != nil {
		t.Fatalf("Load json returned error: %v", err)
	}
	row, ok := ix.Lookup("40689238")
	if !ok {
		t.Fatal("expected json row")
	}
	if row.Get("subject_id") != "100" || row.Get("lowpassfilter") != "" {
		t.Fatalf("unexpected json row %v", row)
	}

	linesPath := writeFile(t, "meta.jsonl", `{"study_id":"7","subject_id":"1","cart_id":"2","ecg_time":"t"}

{"study_id":"8","subject_id":"3","cart_id":"4","ecg_time":"t"}
`)
	ix, err = metaindex.Load(linesPath, opts)
	if err != nil {
		t.Fatalf("Load jsonl returned error: %v", err)
	}
	if ix.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", ix.Len())
	}
}

func TestLoadSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stmts := []string{
		`CREATE TABLE machine_measurements (study_id REAL, subject_id INTEGER, cart_id TEXT, ecg_time TEXT, highpassfilter REAL)`,
		`INSERT INTO machine_measurements VALUES (40689238.0, 100, '6848296', '2180-07-23 08:44:00', 0.5)`,
		`INSERT INTO machine_measurements VALUES (44458630, 101, NULL, '2180-07-25 10:00:00', NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	sqliteOpts := opts
	sqliteOpts.SQLiteTable = "machine_measurements"
	ix, err := metaindex.Load(path, sqliteOpts)
	if err != nil {
		t.Fatalf("Load sqlite returned error: %v", err)
	}
	row, ok := ix.Lookup("40689238")
	if !ok {
		t.Fatal("expected sqlite row")
	}
	if row.Get("subject_id") != "100" || row.Get("highpassfilter") != "0.5" {
		t.Fatalf("unexpected sqlite row %v", row)
	}
	if row, _ := ix.Lookup("44458630"); row.Get("cart_id") != "" {
		t.Fatalf("expected NULL to load as empty string, got %q", row.Get("cart_id"))
	}

	sqliteOpts.SQLiteTable = "absent"
	if _, err := metaindex.Load(path, sqliteOpts); !errors.Is(err, failure.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing table, got %v", err)
	}
}
