package convert

import (
	"context"

	"ecgbatch/internal/metaindex"
)

// Request carries everything needed to convert one record.
type Request struct {
	StudyKey   string
	SourcePath string
	OutputPath string
	Metadata   metaindex.Row
}

// Converter turns one source record into one output artifact.
type Converter interface {
	Convert(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to the Converter interface.
type Func func(ctx context.Context, req Request) (string, error)

// Convert calls f.
func (f Func) Convert(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
