package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ecgbatch/internal/failure"
	"ecgbatch/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckDirectoryAccess("test", f); result.Passed {
		t.Fatal("expected failure for file path")
	}
	if result := CheckDirectoryReadable("test", f); result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFileReadable(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "manifest.csv")
	if err := os.WriteFile(f, []byte("study_id,path\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckFileReadable("manifest", f); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckFileReadable("manifest", dir); result.Passed {
		t.Fatal("expected failure for directory")
	}
	if result := CheckFileReadable("manifest", ""); result.Passed || !strings.Contains(result.Detail, "path not set") {
		t.Fatalf("expected unset path failure, got %+v", result)
	}
}

func TestRunConvertReportsEveryFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	for _, dir := range []string{cfg.Paths.SourceDir, cfg.Paths.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	testsupport.WriteCSV(t, cfg.Paths.InputManifest, []string{"study_id", "path"})

	results := RunConvert(cfg)
	if len(results) != 5 {
		t.Fatalf("expected 5 checks, got %d", len(results))
	}
	err := Err(results)
	if !failure.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Metadata table") || strings.Contains(err.Error(), "Input manifest") {
		t.Fatalf("unexpected error %q", err.Error())
	}

	testsupport.WriteCSV(t, cfg.Paths.MetadataTable, []string{"study_id"})
	if err := Err(RunConvert(cfg)); err != nil {
		t.Fatalf("expected all checks to pass, got %v", err)
	}
}
