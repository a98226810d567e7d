// Package errlog appends one tab-separated line per failed record to a plain
// text file kept next to the ledger.
package errlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"ecgbatch/internal/logging"
)

// Log is an append-only failure log. Write problems are reported through the
// structured logger and never stop the run.
type Log struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *slog.Logger
	lines  int
}

// Open opens path for appending, creating it and its directory when needed.
// An unusable path yields a Log whose writes only emit warnings.
func Open(path string, logger *slog.Logger) *Log {
	if logger == nil {
		logger = logging.NewNop()
	}
	l := &Log{path: path, logger: logging.NewComponentLogger(logger, "errlog")}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.warnOpen(err)
		return l
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.warnOpen(err)
		return l
	}
	l.file = file
	return l
}

func (l *Log) warnOpen(err error) {
	logging.WarnWithContext(l.logger, "error log unavailable", "errlog_open_failed",
		logging.String("path", l.path),
		logging.String(logging.FieldErrorHint, "check the error_log path and its directory permissions"),
		logging.String(logging.FieldImpact, "failures are recorded in the ledger only"),
		logging.Error(err),
	)
}

// Path returns the file location.
func (l *Log) Path() string {
	return l.path
}

// Lines reports how many lines were written by this Log.
func (l *Log) Lines() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines
}

// Log appends key, locator and message as one line. The returned error is
// informational; it has already been logged.
func (l *Log) Log(studyKey, locator, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("error log %s is not open", l.path)
	}
	line := sanitize(studyKey) + "\t" + sanitize(locator) + "\t" + sanitize(message) + "\n"
	if _, err := l.file.WriteString(line); err != nil {
		logging.WarnWithContext(l.logger, "error log write failed", "errlog_write_failed",
			logging.String(logging.FieldStudyKey, studyKey),
			logging.String(logging.FieldImpact, "failure is recorded in the ledger only"),
			logging.Error(err),
		)
		return fmt.Errorf("append error log: %w", err)
	}
	l.lines++
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

var fieldReplacer = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

func sanitize(field string) string {
	return fieldReplacer.Replace(field)
}
