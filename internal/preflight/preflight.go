package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"ecgbatch/internal/config"
	"ecgbatch/internal/failure"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunConvert executes the checks needed by a conversion run.
func RunConvert(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckFileReadable("Input manifest", cfg.Paths.InputManifest),
		CheckFileReadable("Metadata table", cfg.Paths.MetadataTable),
		CheckDirectoryReadable("Source directory", cfg.Paths.SourceDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Ledger directory", filepath.Dir(cfg.Paths.OutputLedger)),
	}
}

// Err folds failed results into a single configuration error, or nil when
// every check passed.
func Err(results []Result) error {
	var failed []string
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r.Name+": "+r.Detail)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return failure.Configuration("preflight failed: %s", strings.Join(failed, "; "))
}

// CheckFileReadable verifies that path is a readable regular file.
func CheckFileReadable(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return statFailure(name, path, err)
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read ok)", path)}
}

// CheckDirectoryReadable verifies that the directory exists and can be
// listed and traversed.
func CheckDirectoryReadable(name, path string) Result {
	if r, ok := checkIsDir(name, path); !ok {
		return r
	}
	if err := unix.Access(path, unix.R_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read ok)", path)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if r, ok := checkIsDir(name, path); !ok {
		return r
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func checkIsDir(name, path string) (Result, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return statFailure(name, path, err), false
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}, false
	}
	return Result{}, true
}

func statFailure(name, path string, err error) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "(error: path not set)"}
	}
	if os.IsNotExist(err) {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
	}
	return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
}
