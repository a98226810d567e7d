package pool

import (
	"encoding/json"
	"time"

	"ecgbatch/internal/failure"
)

// Task is one unit of work sent to a worker.
type Task struct {
	Key        string `json:"key"`
	Locator    string `json:"locator"`
	SourcePath string `json:"source_path"`
	OutputPath string `json:"output_path"`
}

// Result is the outcome of one task. Exactly one of OutputPath and Err is
// set.
type Result struct {
	Key        string
	Locator    string
	OutputPath string
	Err        *failure.Error
	Skipped    bool
	WorkerID   int
	Duration   time.Duration
}

// Failed reports whether the task failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Init is the first message a worker receives. Settings is opaque to the
// pool and interpreted by the worker's SetupFunc.
type Init struct {
	WorkerID   int             `json:"worker_id"`
	Generation int             `json:"generation"`
	Settings   json.RawMessage `json:"settings,omitempty"`
}

const (
	msgInit      = "init"
	msgReady     = "ready"
	msgInitError = "init_error"
	msgTask      = "task"
	msgResult    = "result"
)

type wireError struct {
	Kind   failure.Kind `json:"kind"`
	Detail string       `json:"detail"`
}

// message is the single envelope used in both directions.
type message struct {
	Type       string     `json:"type"`
	Init       *Init      `json:"init,omitempty"`
	Seq        uint64     `json:"seq,omitempty"`
	Task       *Task      `json:"task,omitempty"`
	PID        int        `json:"pid,omitempty"`
	OutputPath string     `json:"output_path,omitempty"`
	Skipped    bool       `json:"skipped,omitempty"`
	Error      *wireError `json:"error,omitempty"`
	// Exiting marks a result as the worker's last message.
	Exiting    bool       `json:"exiting,omitempty"`
}

func encodeFailure(err error) *wireError {
	if err == nil {
		return nil
	}
	classified := failure.As(err)
	detail := classified.Detail
	if detail == "" && classified.Err != nil {
		detail = classified.Err.Error()
	}
	return &wireError{Kind: classified.Kind, Detail: detail}
}

func (w *wireError) decode() *failure.Error {
	if w == nil {
		return nil
	}
	kind := w.Kind
	known := false
	for _, k := range failure.Kinds {
		if k == kind {
			known = true
			break
		}
	}
	if !known {
		kind = failure.KindConversionError
	}
	return &failure.Error{Kind: kind, Detail: w.Detail}
}
