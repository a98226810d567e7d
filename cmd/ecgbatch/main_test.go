package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ecgbatch/internal/testsupport"
)

const workerEnv = "ECGBATCH_CLI_TEST_WORKER"

// TestMain runs the hidden worker command when the engine re-executes the
// test binary.
func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		cmd := newRootCommand()
		cmd.SetArgs([]string{"worker"})
		if err := cmd.Execute(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

// isolate points config discovery at empty directories.
func isolate(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Chdir(base)
	return base
}

func TestConfigInitAndValidate(t *testing.T) {
	base := isolate(t)
	target := filepath.Join(base, "conf", "ecgbatch.toml")

	out, _, err := runCLI(t, "config", "init", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, _, err := runCLI(t, "config", "init", target); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}

	out, _, err = runCLI(t, "--config", target, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Conversion paths complete: no")
}

func TestConfigRejectsUnknownKeys(t *testing.T) {
	base := isolate(t)
	path := filepath.Join(base, "bad.toml")
	if err := os.WriteFile(path, []byte("[run]\nworkerz = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, "--config", path, "config", "validate"); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestConvertThenStatus(t *testing.T) {
	isolate(t)
	t.Setenv(workerEnv, "1")
	cfg := testsupport.NewConfig(t)
	testsupport.WriteECGRecord(t, cfg.Paths.SourceDir, "a", "1001", 30)
	testsupport.WriteECGRecord(t, cfg.Paths.SourceDir, "b", "1002", 30)
	testsupport.WriteCSV(t, cfg.Paths.InputManifest, []string{"study_id", "path", "site"},
		[]string{"11", "a.hea", "north"},
		[]string{"12.0", "b", "south"},
	)
	testsupport.WriteCSV(t, cfg.Paths.MetadataTable, []string{"study_id", "subject_id", "cart_id", "ecg_time"},
		[]string{"11", "1001", "3", "2180-07-23 08:44:00"},
	)

	args := []string{
		"--log-level", "warn",
		"convert",
		"--input-manifest", cfg.Paths.InputManifest,
		"--source-dir", cfg.Paths.SourceDir,
		"--output-dir", cfg.Paths.OutputDir,
		"--metadata-table", cfg.Paths.MetadataTable,
		"--output-ledger", cfg.Paths.OutputLedger,
		"--workers", "2",
		"--timeout-seconds", "30",
		"--checkpoint-every", "0",
		"--no-progress",
	}
	out, stderr, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("convert: %v\nstderr:\n%s", err, stderr)
	}
	requireContains(t, out, "Conversion summary")
	requireContains(t, out, "MissingMetadata")
	if _, err := os.Stat(filepath.Join(cfg.Paths.OutputDir, "11.dcm")); err != nil {
		t.Fatalf("expected converted output: %v", err)
	}

	out, _, err = runCLI(t, "status", "--output-ledger", cfg.Paths.OutputLedger, "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if report.Total != 2 || report.Succeeded != 1 || report.Failed != 1 || report.ByKind["MissingMetadata"] != 1 {
		t.Fatalf("unexpected status report %+v", report)
	}

	ledgerText, err := os.ReadFile(cfg.Paths.OutputLedger)
	if err != nil {
		t.Fatal(err)
	}
	requireContains(t, string(ledgerText), "study_id,path,site,dcm_path,dcm_error\n")
	requireContains(t, string(ledgerText), "12,b,south,,MissingMetadata: no metadata row for study 12\n")
}

func TestConvertRequiresPaths(t *testing.T) {
	isolate(t)
	if _, _, err := runCLI(t, "convert", "--no-progress"); err == nil {
		t.Fatal("expected missing paths to be rejected")
	}
}

func TestValidateAndInspect(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.dcm")
	bad := filepath.Join(dir, "bad.dcm")
	testsupport.WriteWaveformDICOM(t, good, testsupport.ValidWaveform())
	broken := testsupport.ValidWaveform()
	broken.Interpretation = "US"
	testsupport.WriteWaveformDICOM(t, bad, broken)

	out, _, err := runCLI(t, "validate", good)
	if err != nil {
		t.Fatalf("validate good: %v", err)
	}
	requireContains(t, out, "[OK] "+good)

	out, _, err = runCLI(t, "validate", good, bad)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 files failed validation") {
		t.Fatalf("expected one validation failure, got %v", err)
	}
	requireContains(t, out, "[FAIL] "+bad)

	out, _, err = runCLI(t, "inspect", good)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	requireContains(t, out, "NumberOfWaveformChannels")

	out, _, err = runCLI(t, "inspect", "--json", good)
	if err != nil {
		t.Fatalf("inspect --json: %v", err)
	}
	var fields []inspectField
	if err := json.Unmarshal([]byte(out), &fields); err != nil {
		t.Fatalf("decode inspect output: %v", err)
	}
	found := false
	for _, f := range fields {
		if f.Name == "NumberOfWaveformChannels" && f.Value == "12" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected channel count field in %+v", fields)
	}
}
