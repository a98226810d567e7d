// Package processor is the per-record task body run inside each worker
// process: fast-skip, metadata lookup, conversion and structural validation.
package processor

import (
	"context"
	"log/slog"
	"time"

	"ecgbatch/internal/convert"
	"ecgbatch/internal/failure"
	"ecgbatch/internal/fileutil"
	"ecgbatch/internal/logging"
	"ecgbatch/internal/metaindex"
	"ecgbatch/internal/pool"
	"ecgbatch/internal/validator"
)

// Processor converts and validates one record at a time.
type Processor struct {
	Index     *metaindex.Index
	Converter convert.Converter
	// Validate defaults to validator.Validate.
	Validate  func(path string) error
	Overwrite bool
	Logger    *slog.Logger
}

var _ pool.Handler = (*Processor)(nil)

// Handle implements pool.Handler. Returned errors are *failure.Error values.
func (p *Processor) Handle(ctx context.Context, task pool.Task) (string, bool, error) {
	logger := logging.WithContext(ctx, p.Logger).With(logging.String(logging.FieldStudyKey, task.Key))
	validate := p.Validate
	if validate == nil {
		validate = validator.Validate
	}

	if !p.Overwrite && fileutil.Exists(task.OutputPath) {
		if err := validate(task.OutputPath); err == nil {
			logger.Debug("output already valid; skipping", logging.String("output", task.OutputPath))
			return task.OutputPath, true, nil
		}
		logger.Debug("existing output invalid; reconverting", logging.String("output", task.OutputPath))
	}

	row, ok := p.Index.Lookup(task.Key)
	if !ok {
		return "", false, failure.New(failure.KindMissingMetadata, "no metadata row for study %s", task.Key)
	}

	started := time.Now()
	outputPath, err := p.Converter.Convert(ctx, convert.Request{
		StudyKey:   task.Key,
		SourcePath: task.SourcePath,
		OutputPath: task.OutputPath,
		Metadata:   row,
	})
	if err != nil {
		return "", false, failure.Wrap(failure.KindConversionError, err)
	}
	if outputPath == "" {
		outputPath = task.OutputPath
	}

	if err := validate(outputPath); err != nil {
		return "", false, failure.Wrap(failure.KindValidationFailed, err)
	}
	logger.Debug("record converted", logging.String("output", outputPath), logging.Duration("elapsed", time.Since(started)))
	return outputPath, false, nil
}
