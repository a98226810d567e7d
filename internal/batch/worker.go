package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"ecgbatch/internal/config"
	"ecgbatch/internal/convert"
	"ecgbatch/internal/logging"
	"ecgbatch/internal/metaindex"
	"ecgbatch/internal/pool"
	"ecgbatch/internal/processor"
)

// WorkerSettings travels in every worker's init message.
type WorkerSettings struct {
	RunID               string   `json:"run_id,omitempty"`
	MetadataTable       string   `json:"metadata_table"`
	MetadataKeyColumn   string   `json:"metadata_key_column"`
	MetadataRequired    []string `json:"metadata_required,omitempty"`
	MetadataSQLiteTable string   `json:"metadata_sqlite_table,omitempty"`
	Overwrite           bool     `json:"overwrite"`
	LogLevel            string   `json:"log_level,omitempty"`
	LogFormat           string   `json:"log_format,omitempty"`
}

// SettingsFromConfig derives worker settings from a normalized config.
func SettingsFromConfig(cfg *config.Config, runID string) WorkerSettings {
	return WorkerSettings{
		RunID:               runID,
		MetadataTable:       cfg.Paths.MetadataTable,
		MetadataKeyColumn:   cfg.Columns.MetadataKey,
		MetadataRequired:    append([]string(nil), cfg.Columns.MetadataRequired...),
		MetadataSQLiteTable: cfg.Columns.MetadataSQLiteTable,
		Overwrite:           cfg.Run.Overwrite,
		LogLevel:            cfg.Logging.Level,
		LogFormat:           cfg.Logging.Format,
	}
}

// WorkerOptions customizes worker processes.
type WorkerOptions struct {
	// Converter defaults to the WFDB converter.
	Converter convert.Converter
	// LogWriter defaults to os.Stderr; stdout carries the protocol.
	LogWriter io.Writer
}

// SetupWorker returns the pool.SetupFunc run once in each worker process. It
// builds the worker logger and loads the metadata index.
func SetupWorker(opts WorkerOptions) pool.SetupFunc {
	return func(ctx context.Context, init pool.Init) (pool.Handler, error) {
		var settings WorkerSettings
		if len(init.Settings) > 0 {
			if err := json.Unmarshal(init.Settings, &settings); err != nil {
				return nil, fmt.Errorf("decode worker settings: %w", err)
			}
		}

		writer := opts.LogWriter
		if writer == nil {
			writer = os.Stderr
		}
		logger, err := logging.New(logging.Options{
			Level:  settings.LogLevel,
			Format: settings.LogFormat,
			Writer: writer,
		})
		if err != nil {
			return nil, fmt.Errorf("worker logger: %w", err)
		}
		logger = logger.With(
			logging.String(logging.FieldComponent, "worker"),
			logging.Int(logging.FieldWorkerID, init.WorkerID),
		)
		if settings.RunID != "" {
			logger = logger.With(logging.String(logging.FieldRunID, settings.RunID))
		}

		index, err := metaindex.Load(settings.MetadataTable, metaindex.Options{
			KeyColumn:   settings.MetadataKeyColumn,
			Required:    settings.MetadataRequired,
			SQLiteTable: settings.MetadataSQLiteTable,
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("metadata index loaded",
			logging.Int("rows", index.Len()),
			logging.Int("duplicates", index.Duplicates()),
			logging.Int("columns", len(index.Columns())),
			logging.Int("generation", init.Generation),
		)

		converter := opts.Converter
		if converter == nil {
			converter = convert.NewWFDB()
		}
		return &processor.Processor{
			Index:     index,
			Converter: converter,
			Overwrite: settings.Overwrite,
			Logger:    logger,
		}, nil
	}
}
