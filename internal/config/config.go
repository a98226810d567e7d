package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the input and output locations of a conversion run.
type Paths struct {
	InputManifest string `toml:"input_manifest"`
	SourceDir     string `toml:"source_dir"`
	OutputDir     string `toml:"output_dir"`
	MetadataTable string `toml:"metadata_table"`
	OutputLedger  string `toml:"output_ledger"`
	// ErrorLog defaults to the ledger path with ".errors.log" appended.
	ErrorLog string `toml:"error_log"`
}

// Columns names the manifest, ledger, and metadata columns the engine reads
// and writes.
type Columns struct {
	StudyKey            string   `toml:"study_key"`
	Locator             string   `toml:"locator"`
	OutputPath          string   `toml:"output_path"`
	Error               string   `toml:"error"`
	MetadataKey         string   `toml:"metadata_key"`
	MetadataRequired    []string `toml:"metadata_required"`
	MetadataSQLiteTable string   `toml:"metadata_sqlite_table"`
}

// Run contains execution limits for the worker pool and checkpointing.
type Run struct {
	Workers               int  `toml:"workers"`
	TimeoutSeconds        int  `toml:"timeout_seconds"`
	CheckpointEvery       int  `toml:"checkpoint_every"`
	Overwrite             bool `toml:"overwrite"`
	StartupTimeoutSeconds int  `toml:"startup_timeout_seconds"`
	ShutdownGraceSeconds  int  `toml:"shutdown_grace_seconds"`
	MaxRespawnFailures    int  `toml:"max_respawn_failures"`
	Progress              bool `toml:"progress"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for ecgbatch.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Columns Columns `toml:"columns"`
	Run     Run     `toml:"run"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigRelPath)
}

// Load locates, parses, normalizes, and validates a configuration file. The
// second return value is the resolved path and the third reports whether that
// file existed. Conversion paths are not required here because CLI flags may
// still supply them; see ValidateConvert.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	} else if path != "" {
		return nil, "", false, fmt.Errorf("config file %s does not exist", resolvedPath)
	}

	if err := cfg.Normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// ErrorLogPath returns the configured error log or the ledger-derived default.
func (c *Config) ErrorLogPath() string {
	if c.Paths.ErrorLog != "" {
		return c.Paths.ErrorLog
	}
	if c.Paths.OutputLedger == "" {
		return ""
	}
	return c.Paths.OutputLedger + defaultErrorLogSuffix
}

// Timeout returns the per-record deadline.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Run.TimeoutSeconds) * time.Second
}

// StartupTimeout bounds each worker's ready handshake.
func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.Run.StartupTimeoutSeconds) * time.Second
}

// ShutdownGrace is how long Close waits for workers to exit on their own.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Run.ShutdownGraceSeconds) * time.Second
}

// OutputPathFor returns the artifact location for a normalized study key.
func (c *Config) OutputPathFor(studyKey string) string {
	return filepath.Join(c.Paths.OutputDir, studyKey+".dcm")
}

func expandPath(pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
// An existing file is never overwritten.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("config file %s already exists", path)
		}
		return fmt.Errorf("write sample config: %w", err)
	}
	if _, err := file.WriteString(sampleConfig); err != nil {
		file.Close()
		return fmt.Errorf("write sample config: %w", err)
	}
	return file.Close()
}
