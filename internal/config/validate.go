package config

import (
	"errors"
	"fmt"

	"ecgbatch/internal/logging"
)

// Validate ensures the settings are usable. Input and output locations are
// checked separately by ValidateConvert.
func (c *Config) Validate() error {
	if err := c.validateColumns(); err != nil {
		return err
	}
	if err := c.validateRun(); err != nil {
		return err
	}
	return c.validateLogging()
}

// ValidateConvert additionally requires every location a conversion run needs.
func (c *Config) ValidateConvert() error {
	if err := c.Validate(); err != nil {
		return err
	}
	required := []struct {
		name  string
		value string
	}{
		{"input manifest (--input-manifest / paths.input_manifest)", c.Paths.InputManifest},
		{"source directory (--source-dir / paths.source_dir)", c.Paths.SourceDir},
		{"output directory (--output-dir / paths.output_dir)", c.Paths.OutputDir},
		{"metadata table (--metadata-table / paths.metadata_table)", c.Paths.MetadataTable},
		{"output ledger (--output-ledger / paths.output_ledger)", c.Paths.OutputLedger},
	}
	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("%s must be set", field.name)
		}
	}
	if c.Paths.InputManifest == c.Paths.OutputLedger {
		return errors.New("output ledger must differ from the input manifest")
	}
	if c.ErrorLogPath() == c.Paths.OutputLedger {
		return errors.New("error log must differ from the output ledger")
	}
	return nil
}

func (c *Config) validateColumns() error {
	names := map[string]string{
		"columns.study_key":   c.Columns.StudyKey,
		"columns.locator":     c.Columns.Locator,
		"columns.output_path": c.Columns.OutputPath,
		"columns.error":       c.Columns.Error,
	}
	seen := map[string]string{}
	for _, field := range []string{"columns.study_key", "columns.locator", "columns.output_path", "columns.error"} {
		value := names[field]
		if value == "" {
			return fmt.Errorf("%s must be set", field)
		}
		if other, ok := seen[value]; ok {
			return fmt.Errorf("%s and %s both name column %q", other, field, value)
		}
		seen[value] = field
	}
	if c.Columns.MetadataKey == "" {
		return errors.New("columns.metadata_key must be set")
	}
	return nil
}

func (c *Config) validateRun() error {
	if c.Run.Workers < 1 {
		return errors.New("run.workers must be at least 1")
	}
	if c.Run.TimeoutSeconds < 1 {
		return errors.New("run.timeout_seconds must be at least 1")
	}
	if c.Run.CheckpointEvery < 0 {
		return errors.New("run.checkpoint_every must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}
