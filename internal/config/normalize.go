package config

import (
	"fmt"
	"runtime"
	"strings"

	"ecgbatch/internal/logging"
)

// Normalize expands paths, trims names, and fills zero values with defaults.
// It is idempotent so callers can run it again after applying flag overrides.
func (c *Config) Normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeColumns()
	c.normalizeRun()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"paths.input_manifest", &c.Paths.InputManifest},
		{"paths.source_dir", &c.Paths.SourceDir},
		{"paths.output_dir", &c.Paths.OutputDir},
		{"paths.metadata_table", &c.Paths.MetadataTable},
		{"paths.output_ledger", &c.Paths.OutputLedger},
		{"paths.error_log", &c.Paths.ErrorLog},
	}
	for _, field := range fields {
		expanded, err := expandPath(*field.value)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeColumns() {
	trimOr := func(value, fallback string) string {
		if value = strings.TrimSpace(value); value == "" {
			return fallback
		}
		return value
	}
	c.Columns.StudyKey = trimOr(c.Columns.StudyKey, defaultStudyKeyColumn)
	c.Columns.Locator = trimOr(c.Columns.Locator, defaultLocatorColumn)
	c.Columns.OutputPath = trimOr(c.Columns.OutputPath, defaultOutputPathColumn)
	c.Columns.Error = trimOr(c.Columns.Error, defaultErrorColumn)
	c.Columns.MetadataKey = trimOr(c.Columns.MetadataKey, defaultMetadataKeyColumn)
	c.Columns.MetadataSQLiteTable = trimOr(c.Columns.MetadataSQLiteTable, defaultMetadataSQLiteTable)

	required := c.Columns.MetadataRequired[:0]
	seen := map[string]struct{}{}
	for _, name := range c.Columns.MetadataRequired {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		required = append(required, name)
	}
	c.Columns.MetadataRequired = required
}

func (c *Config) normalizeRun() {
	if c.Run.Workers <= 0 {
		c.Run.Workers = runtime.NumCPU()
	}
	if c.Run.StartupTimeoutSeconds <= 0 {
		c.Run.StartupTimeoutSeconds = defaultStartupTimeoutSeconds
	}
	if c.Run.ShutdownGraceSeconds < 0 {
		c.Run.ShutdownGraceSeconds = 0
	}
	if c.Run.MaxRespawnFailures <= 0 {
		c.Run.MaxRespawnFailures = defaultMaxRespawnFailures
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = logging.NormalizeFormat(c.Logging.Format)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
