package testsupport

import (
	"path/filepath"
	"testing"

	"ecgbatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a normalized config whose paths all live under a fresh
// temp directory: manifest.csv, source/, out/, metadata.csv and ledger.csv.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths = config.Paths{
		InputManifest: filepath.Join(base, "manifest.csv"),
		SourceDir:     filepath.Join(base, "source"),
		OutputDir:     filepath.Join(base, "out"),
		MetadataTable: filepath.Join(base, "metadata.csv"),
		OutputLedger:  filepath.Join(base, "ledger.csv"),
	}
	cfgVal.Run.Workers = 2
	cfgVal.Run.TimeoutSeconds = 10
	cfgVal.Run.StartupTimeoutSeconds = 20
	cfgVal.Run.ShutdownGraceSeconds = 1
	cfgVal.Run.Progress = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.Normalize(); err != nil {
		t.Fatalf("normalize test config: %v", err)
	}
	return builder.cfg
}

// WithWorkers sets the pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Run.Workers = n
	}
}

// WithTimeout sets the per-record deadline in seconds.
func WithTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Run.TimeoutSeconds = seconds
	}
}

// WithCheckpointEvery sets the checkpoint interval.
func WithCheckpointEvery(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Run.CheckpointEvery = n
	}
}

// WithOverwrite enables reconversion of existing outputs.
func WithOverwrite() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Run.Overwrite = true
	}
}
