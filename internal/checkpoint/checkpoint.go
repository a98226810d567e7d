// Package checkpoint folds worker results into the ledger and persists it in
// batches so an interrupted run loses at most one batch of completed work.
package checkpoint

import (
	"fmt"
	"log/slog"

	"ecgbatch/internal/ledger"
	"ecgbatch/internal/logging"
	"ecgbatch/internal/pool"
)

// Writer buffers results and writes the full ledger every N results.
type Writer struct {
	ledger *ledger.Ledger
	path   string
	every  int
	logger *slog.Logger

	buffer  []pool.Result
	writes  int
	pending int
	// batch counts results since the last write attempt.
	batch int
}

// New returns a writer for ledger persisted at path. every == 0 disables
// periodic writes; only Flush persists.
func New(l *ledger.Ledger, path string, every int, logger *slog.Logger) *Writer {
	if every < 0 {
		every = 0
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{
		ledger: l,
		path:   path,
		every:  every,
		logger: logging.NewComponentLogger(logger, "checkpoint"),
	}
}

// Add buffers one result. When the batch is full the buffer is folded and the
// ledger written; a failed periodic write is logged and retried at the next
// batch boundary. Fold errors are returned.
func (w *Writer) Add(res pool.Result) error {
	w.buffer = append(w.buffer, res)
	w.pending++
	w.batch++
	if w.every == 0 || w.batch < w.every {
		return nil
	}
	w.batch = 0
	if err := w.fold(); err != nil {
		return err
	}
	if err := w.write(); err != nil {
		logging.WarnWithContext(w.logger, "checkpoint write failed; retrying at next checkpoint", "checkpoint_failed",
			logging.String(logging.FieldErrorHint, "check free space and permissions of the ledger directory"),
			logging.String(logging.FieldImpact, "completed results stay buffered in memory"),
			logging.Error(err),
		)
		return nil
	}
	w.pending = 0
	return nil
}

// Flush folds any buffered results and writes the ledger unconditionally.
func (w *Writer) Flush() error {
	w.batch = 0
	if err := w.fold(); err != nil {
		return err
	}
	if err := w.write(); err != nil {
		return err
	}
	w.pending = 0
	return nil
}

// Writes reports how many times the ledger was persisted.
func (w *Writer) Writes() int {
	return w.writes
}

// Buffered reports results added since the last successful write.
func (w *Writer) Buffered() int {
	return w.pending
}

func (w *Writer) fold() error {
	for _, res := range w.buffer {
		if err := apply(w.ledger, res); err != nil {
			return err
		}
	}
	w.buffer = w.buffer[:0]
	return nil
}

func (w *Writer) write() error {
	if err := w.ledger.Save(w.path); err != nil {
		return err
	}
	w.writes++
	w.logger.Debug("ledger checkpoint written",
		logging.String("path", w.path),
		logging.Int("rows", w.ledger.Len()),
	)
	return nil
}

func apply(l *ledger.Ledger, res pool.Result) error {
	if res.Failed() {
		if err := l.SetFailure(res.Key, res.Err.Error()); err != nil {
			return fmt.Errorf("fold result: %w", err)
		}
		return nil
	}
	if err := l.SetSuccess(res.Key, res.OutputPath); err != nil {
		return fmt.Errorf("fold result: %w", err)
	}
	return nil
}
