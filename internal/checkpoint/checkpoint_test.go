package checkpoint_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"ecgbatch/internal/checkpoint"
	"ecgbatch/internal/failure"
	"ecgbatch/internal/ledger"
	"ecgbatch/internal/pool"
)

var cols = ledger.Columns{StudyKey: "study_id", OutputPath: "dcm_path", Error: "dcm_error"}

func newLedger(t *testing.T, n int) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New([]string{"study_id", "path"}, cols)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	for i := 1; i <= n; i++ {
		key := strconv.Itoa(i)
		if _, err := l.Append([]string{"study_id", "path"}, []string{key, "rec/" + key}); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}
	return l
}

func success(key string) pool.Result {
	return pool.Result{Key: key, OutputPath: "/out/" + key + ".dcm"}
}

func loadTally(t *testing.T, path string) ledger.Tally {
	t.Helper()
	l, err := ledger.Load(path, cols)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	return l.Tally()
}

func TestWriterPersistsEveryBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	w := checkpoint.New(newLedger(t, 5), path, 2, nil)

	if err := w.Add(success("1")); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no ledger before the first batch, stat err=%v", err)
	}

	if err := w.Add(pool.Result{Key: "2", Err: failure.Timeout(60 * time.Second)}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	tally := loadTally(t, path)
	if tally.Succeeded != 1 || tally.ByKind[failure.KindTimeout] != 1 || tally.Pending != 3 {
		t.Fatalf("unexpected tally after first batch: %+v", tally)
	}

	if err := w.Add(success("3")); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if tally := loadTally(t, path); tally.Succeeded != 1 {
		t.Fatalf("partial batch must not be persisted, got %+v", tally)
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if tally := loadTally(t, path); tally.Succeeded != 2 || tally.Pending != 2 {
		t.Fatalf("unexpected tally after flush: %+v", tally)
	}
	if w.Writes() != 2 {
		t.Fatalf("expected 2 writes, got %d", w.Writes())
	}
}

func TestWriterZeroEveryWritesOnlyOnFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	w := checkpoint.New(newLedger(t, 3), path, 0, nil)
	for _, key := range []string{"1", "2", "3"} {
		if err := w.Add(success(key)); err != nil {
			t.Fatalf("Add returned error: %v", err)
		}
	}
	if w.Writes() != 0 {
		t.Fatalf("expected no periodic writes, got %d", w.Writes())
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if tally := loadTally(t, path); tally.Succeeded != 3 {
		t.Fatalf("unexpected tally: %+v", tally)
	}
}

func TestWriterFlushWithNothingPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	w := checkpoint.New(newLedger(t, 2), path, 10, nil)
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if tally := loadTally(t, path); tally.Total != 2 || tally.Pending != 2 {
		t.Fatalf("unexpected tally: %+v", tally)
	}
}

func TestWriterRetriesFailedPeriodicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	// A non-empty directory at the ledger path makes the rename fail.
	if err := os.MkdirAll(filepath.Join(path, "blocker"), 0o755); err != nil {
		t.Fatal(err)
	}
	w := checkpoint.New(newLedger(t, 4), path, 1, nil)

	if err := w.Add(success("1")); err != nil {
		t.Fatalf("periodic write failure must not be returned: %v", err)
	}
	if w.Writes() != 0 || w.Buffered() != 1 {
		t.Fatalf("expected buffered result after failed write, writes=%d buffered=%d", w.Writes(), w.Buffered())
	}
	if err := w.Flush(); err == nil {
		t.Fatal("expected final write failure to be returned")
	}

	if err := os.RemoveAll(path); err != nil {
		t.Fatal(err)
	}
	if err := w.Add(success("2")); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if w.Buffered() != 0 {
		t.Fatalf("expected buffer cleared after successful retry, got %d", w.Buffered())
	}
	if tally := loadTally(t, path); tally.Succeeded != 2 {
		t.Fatalf("expected both results persisted, got %+v", tally)
	}
}

func TestWriterRetriesAtNextBatchBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	if err := os.MkdirAll(filepath.Join(path, "blocker"), 0o755); err != nil {
		t.Fatal(err)
	}
	w := checkpoint.New(newLedger(t, 6), path, 3, nil)

	for i := 1; i <= 3; i++ {
		if err := w.Add(success(strconv.Itoa(i))); err != nil {
			t.Fatalf("Add(%d) returned error: %v", i, err)
		}
	}
	if w.Writes() != 0 || w.Buffered() != 3 {
		t.Fatalf("expected failed write at first boundary, writes=%d buffered=%d", w.Writes(), w.Buffered())
	}
	if err := os.RemoveAll(path); err != nil {
		t.Fatal(err)
	}

	for i := 4; i <= 5; i++ {
		if err := w.Add(success(strconv.Itoa(i))); err != nil {
			t.Fatalf("Add(%d) returned error: %v", i, err)
		}
		if w.Writes() != 0 {
			t.Fatalf("result %d is not a batch boundary, but the ledger was written", i)
		}
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected no ledger before the next boundary, stat err=%v", err)
		}
	}
	if w.Buffered() != 5 {
		t.Fatalf("expected 5 buffered results, got %d", w.Buffered())
	}

	if err := w.Add(success("6")); err != nil {
		t.Fatalf("Add(6) returned error: %v", err)
	}
	if w.Writes() != 1 || w.Buffered() != 0 {
		t.Fatalf("expected retry at second boundary, writes=%d buffered=%d", w.Writes(), w.Buffered())
	}
	if tally := loadTally(t, path); tally.Succeeded != 6 {
		t.Fatalf("expected all six results persisted, got %+v", tally)
	}
}

func TestWriterRejectsUnknownKey(t *testing.T) {
	w := checkpoint.New(newLedger(t, 1), filepath.Join(t.TempDir(), "ledger.csv"), 1, nil)
	if err := w.Add(success("99")); err == nil {
		t.Fatal("expected error for a key missing from the ledger")
	}
}
