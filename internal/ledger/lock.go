package ledger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"ecgbatch/internal/failure"
)

// Lock is an exclusive advisory lock guarding one ledger path.
type Lock struct {
	lock *flock.Flock
	path string
}

// LockPath returns the lock file location for a ledger.
func LockPath(ledgerPath string) string {
	return ledgerPath + ".lock"
}

// AcquireLock takes the run lock for ledgerPath without blocking. A lock held
// by another process is a configuration error.
func AcquireLock(ledgerPath string) (*Lock, error) {
	path := LockPath(ledgerPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire ledger lock %s: %w", path, err)
	}
	if !ok {
		return nil, failure.Configuration("ledger %s is in use by another run (lock %s)", ledgerPath, path)
	}
	return &Lock{lock: lock, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release unlocks the lock file. The file is left in place so every run
// locks the same inode.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release ledger lock: %w", err)
	}
	return nil
}
