package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"ecgbatch/internal/checkpoint"
	"ecgbatch/internal/config"
	"ecgbatch/internal/errlog"
	"ecgbatch/internal/failure"
	"ecgbatch/internal/ledger"
	"ecgbatch/internal/logging"
	"ecgbatch/internal/manifest"
	"ecgbatch/internal/pool"
	"ecgbatch/internal/preflight"
	"ecgbatch/internal/validator"
	"ecgbatch/internal/workset"
)

// WorkerCommandName is the hidden CLI subcommand that runs a worker.
const WorkerCommandName = "worker"

// Engine runs one conversion job.
type Engine struct {
	Config *config.Config
	Logger *slog.Logger
	// Command builds worker processes. Defaults to re-executing the running
	// binary with the worker subcommand.
	Command func() *exec.Cmd
	// WorkerStderr receives worker logs. Defaults to os.Stderr.
	WorkerStderr io.Writer
	// Validate re-verifies recorded artifacts. Defaults to validator.Validate.
	Validate func(path string) error

	// OnPlan is called once the work set is known.
	OnPlan func(plan *workset.Plan)
	// OnResult is called for every result after it has been buffered.
	OnResult func(res pool.Result)
}

// Summary describes a finished run.
type Summary struct {
	RunID        string
	LedgerPath   string
	ErrorLogPath string

	Total      int
	Done       int
	Stale      int
	Corrupt    int
	Carried    int
	Dispatched int
	Completed  int
	Succeeded  int
	Skipped    int
	Failed     int
	ByKind     map[failure.Kind]int

	Interrupted bool
	Elapsed     time.Duration
}

// Run executes the job. Per-record failures are recorded in the ledger and
// the error log; only configuration problems and a failed final ledger write
// are returned as errors. A cancelled ctx stops dispatch, persists completed
// results and returns the partial summary with Interrupted set.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	cfg := e.Config
	if cfg == nil {
		return nil, failure.Configuration("no configuration")
	}
	if err := cfg.ValidateConvert(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, logging.NewComponentLogger(e.logger(), "engine"))
	started := time.Now()
	summary := &Summary{
		RunID:        runID,
		LedgerPath:   cfg.Paths.OutputLedger,
		ErrorLogPath: cfg.ErrorLogPath(),
		ByKind:       make(map[failure.Kind]int),
	}

	if err := os.MkdirAll(cfg.Paths.OutputDir, 0o755); err != nil {
		return nil, failure.Configuration("create output directory: %v", err)
	}
	lock, err := ledger.AcquireLock(cfg.Paths.OutputLedger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("ledger lock release failed", logging.Error(err))
		}
	}()
	if err := preflight.Err(preflight.RunConvert(cfg)); err != nil {
		return nil, err
	}

	m, err := manifest.Load(cfg.Paths.InputManifest, manifest.Options{
		StudyKeyColumn: cfg.Columns.StudyKey,
		LocatorColumn:  cfg.Columns.Locator,
	})
	if err != nil {
		return nil, err
	}
	cols := ledger.Columns{
		StudyKey:   cfg.Columns.StudyKey,
		OutputPath: cfg.Columns.OutputPath,
		Error:      cfg.Columns.Error,
	}
	prior, err := ledger.Load(cfg.Paths.OutputLedger, cols)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		prior = nil
	case err != nil:
		return nil, failure.Configuration("%v", err)
	}

	validate := e.Validate
	if validate == nil {
		validate = validator.Validate
	}
	plan, err := workset.Resolve(ctx, m, prior, workset.Options{
		Columns:   cols,
		Validate:  validate,
		Overwrite: cfg.Run.Overwrite,
		Workers:   cfg.Run.Workers,
		Logger:    logging.WithContext(ctx, e.logger()),
	})
	if err != nil {
		if ctx.Err() != nil {
			summary.Interrupted = true
			summary.Elapsed = time.Since(started)
			return summary, nil
		}
		return nil, err
	}
	summary.Total = plan.Total
	summary.Done = plan.Done
	summary.Stale = plan.Stale
	summary.Corrupt = plan.Corrupt
	summary.Carried = plan.Carried
	if e.OnPlan != nil {
		e.OnPlan(plan)
	}

	writer := checkpoint.New(plan.Ledger, cfg.Paths.OutputLedger, cfg.Run.CheckpointEvery, logging.WithContext(ctx, e.logger()))
	if len(plan.Pending) > 0 {
		if err := e.dispatch(ctx, runID, plan, writer, summary, logger); err != nil {
			return nil, err
		}
	}

	if err := writer.Flush(); err != nil {
		return nil, fmt.Errorf("final ledger write: %w", err)
	}
	summary.Interrupted = ctx.Err() != nil
	summary.Elapsed = time.Since(started)

	logger.Info("conversion run finished",
		logging.String(logging.FieldEventType, "run_finished"),
		logging.Int("total", summary.Total),
		logging.Int("already_done", summary.Done),
		logging.Int("dispatched", summary.Dispatched),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("skipped", summary.Skipped),
		logging.Int("failed", summary.Failed),
		logging.Bool("interrupted", summary.Interrupted),
		logging.Duration("elapsed", summary.Elapsed),
		logging.String("ledger", summary.LedgerPath),
	)
	return summary, nil
}

func (e *Engine) dispatch(ctx context.Context, runID string, plan *workset.Plan, writer *checkpoint.Writer, summary *Summary, logger *slog.Logger) error {
	cfg := e.Config
	tasks := make([]pool.Task, 0, len(plan.Pending))
	for _, entry := range plan.Pending {
		tasks = append(tasks, pool.Task{
			Key:        entry.Key,
			Locator:    entry.Locator,
			SourcePath: manifest.SourcePath(cfg.Paths.SourceDir, entry.Locator),
			OutputPath: cfg.OutputPathFor(entry.Key),
		})
	}

	settings, err := json.Marshal(SettingsFromConfig(cfg, runID))
	if err != nil {
		return fmt.Errorf("encode worker settings: %w", err)
	}
	command := e.Command
	if command == nil {
		command, err = pool.SelfCommand(WorkerCommandName)
		if err != nil {
			return failure.Configuration("%v", err)
		}
	}
	workers := cfg.Run.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	p, err := pool.Start(ctx, pool.Options{
		Workers:            workers,
		Timeout:            cfg.Timeout(),
		StartupTimeout:     cfg.StartupTimeout(),
		ShutdownGrace:      cfg.ShutdownGrace(),
		MaxRespawnFailures: cfg.Run.MaxRespawnFailures,
		Command:            command,
		Settings:           settings,
		Stderr:             e.WorkerStderr,
		Logger:             logging.WithContext(ctx, e.logger()),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Debug("worker pool close", logging.Error(err))
		}
	}()

	failures := errlog.Open(cfg.ErrorLogPath(), logging.WithContext(ctx, e.logger()))
	defer failures.Close()

	summary.Dispatched = len(tasks)
	logger.Info("dispatching records",
		logging.String(logging.FieldEventType, "dispatch_started"),
		logging.Int("pending", len(tasks)),
		logging.Int("workers", workers),
		logging.Duration("timeout", cfg.Timeout()),
	)

	for res := range p.Run(ctx, tasks) {
		summary.Completed++
		switch {
		case res.Failed():
			summary.Failed++
			summary.ByKind[res.Err.Kind]++
			_ = failures.Log(res.Key, res.Locator, res.Err.Error())
			logger.Debug("record failed",
				logging.String(logging.FieldStudyKey, res.Key),
				logging.Int(logging.FieldWorkerID, res.WorkerID),
				logging.String("error", res.Err.Error()),
			)
		case res.Skipped:
			summary.Succeeded++
			summary.Skipped++
		default:
			summary.Succeeded++
		}
		if err := writer.Add(res); err != nil {
			return err
		}
		if e.OnResult != nil {
			e.OnResult(res)
		}
	}
	return nil
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return logging.NewNop()
	}
	return e.Logger
}
