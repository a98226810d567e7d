package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"ecgbatch/internal/batch"
	"ecgbatch/internal/config"
	"ecgbatch/internal/failure"
	"ecgbatch/internal/pool"
	"ecgbatch/internal/workset"
)

type convertFlags struct {
	inputManifest  string
	sourceDir      string
	outputDir      string
	metadataTable  string
	outputLedger   string
	errorLogPath   string
	studyKeyColumn string
	locatorColumn  string
	outputColumn   string
	errorColumn    string
	metadataKey    string
	sqliteTable    string
	workers        int
	timeoutSeconds int
	checkpoint     int
	overwrite      bool
	noProgress     bool
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var flags convertFlags

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert the records listed in a manifest to DICOM",
		Long: "Convert every manifest row that the output ledger does not already record as\n" +
			"converted. Interrupted runs resume from the last checkpoint.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			applyConvertFlags(cmd.Flags(), &flags, cfg)
			if err := cfg.Normalize(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ValidateConvert(); err != nil {
				return err
			}
			return runConvert(cmd, ctx, cfg)
		},
	}

	defaults := config.Default()
	f := cmd.Flags()
	f.StringVar(&flags.inputManifest, "input-manifest", "", "Manifest CSV/TSV listing the records to convert")
	f.StringVar(&flags.sourceDir, "source-dir", "", "Root directory of the WFDB records")
	f.StringVar(&flags.outputDir, "output-dir", "", "Directory receiving <study key>.dcm files")
	f.StringVar(&flags.metadataTable, "metadata-table", "", "Metadata table (csv, tsv, json, jsonl, sqlite)")
	f.StringVar(&flags.outputLedger, "output-ledger", "", "Ledger CSV recording each record's outcome")
	f.StringVar(&flags.errorLogPath, "error-log-path", "", "Failure log (default <output-ledger>.errors.log)")
	f.StringVar(&flags.studyKeyColumn, "study-key-column", defaults.Columns.StudyKey, "Manifest study key column")
	f.StringVar(&flags.locatorColumn, "locator-column", defaults.Columns.Locator, "Manifest record locator column")
	f.StringVar(&flags.outputColumn, "output-path-column", defaults.Columns.OutputPath, "Ledger output path column")
	f.StringVar(&flags.errorColumn, "error-column", defaults.Columns.Error, "Ledger error column")
	f.StringVar(&flags.metadataKey, "metadata-key-column", defaults.Columns.MetadataKey, "Metadata table key column")
	f.StringVar(&flags.sqliteTable, "metadata-sqlite-table", defaults.Columns.MetadataSQLiteTable, "Table read from SQLite metadata sources")
	f.IntVar(&flags.workers, "workers", 0, "Worker processes (default CPU count)")
	f.IntVar(&flags.timeoutSeconds, "timeout-seconds", defaults.Run.TimeoutSeconds, "Hard per-record deadline")
	f.IntVar(&flags.checkpoint, "checkpoint-every", defaults.Run.CheckpointEvery, "Write the ledger every N results (0 = only at the end)")
	f.BoolVar(&flags.overwrite, "overwrite", false, "Reconvert records whose output already exists")
	f.BoolVar(&flags.noProgress, "no-progress", false, "Disable the progress bar")

	return cmd
}

// applyConvertFlags copies explicitly set flags over file values.
func applyConvertFlags(set *pflag.FlagSet, flags *convertFlags, cfg *config.Config) {
	overrides := []struct {
		name string
		src  *string
		dst  *string
	}{
		{"input-manifest", &flags.inputManifest, &cfg.Paths.InputManifest},
		{"source-dir", &flags.sourceDir, &cfg.Paths.SourceDir},
		{"output-dir", &flags.outputDir, &cfg.Paths.OutputDir},
		{"metadata-table", &flags.metadataTable, &cfg.Paths.MetadataTable},
		{"output-ledger", &flags.outputLedger, &cfg.Paths.OutputLedger},
		{"error-log-path", &flags.errorLogPath, &cfg.Paths.ErrorLog},
		{"study-key-column", &flags.studyKeyColumn, &cfg.Columns.StudyKey},
		{"locator-column", &flags.locatorColumn, &cfg.Columns.Locator},
		{"output-path-column", &flags.outputColumn, &cfg.Columns.OutputPath},
		{"error-column", &flags.errorColumn, &cfg.Columns.Error},
		{"metadata-key-column", &flags.metadataKey, &cfg.Columns.MetadataKey},
		{"metadata-sqlite-table", &flags.sqliteTable, &cfg.Columns.MetadataSQLiteTable},
	}
	for _, s := range overrides {
		if set.Changed(s.name) {
			*s.dst = *s.src
		}
	}
	if set.Changed("workers") {
		cfg.Run.Workers = flags.workers
	}
	if set.Changed("timeout-seconds") {
		cfg.Run.TimeoutSeconds = flags.timeoutSeconds
	}
	if set.Changed("checkpoint-every") {
		cfg.Run.CheckpointEvery = flags.checkpoint
	}
	if set.Changed("overwrite") {
		cfg.Run.Overwrite = flags.overwrite
	}
	if flags.noProgress {
		cfg.Run.Progress = false
	}
}

func runConvert(cmd *cobra.Command, cmdCtx *commandContext, cfg *config.Config) error {
	stderr := cmd.ErrOrStderr()
	logger, err := cmdCtx.logger(stderr)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bar *progressbar.ProgressBar
	engine := &batch.Engine{
		Config: cfg,
		Logger: logger,
		OnPlan: func(plan *workset.Plan) {
			if cfg.Run.Progress && len(plan.Pending) > 0 && isTerminal(stderr) {
				bar = newProgressBar(stderr, len(plan.Pending))
			}
		},
		OnResult: func(pool.Result) {
			if bar != nil {
				_ = bar.Add(1)
			}
		},
	}

	summary, err := engine.Run(runCtx)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderCounts("Conversion summary", summaryRows(summary)))
	colorize := isTerminal(out)
	fmt.Fprintln(out, renderStatusLine("Ledger", statusInfo, summary.LedgerPath, colorize))
	if summary.Failed > 0 {
		fmt.Fprintln(out, renderStatusLine("Error log", statusWarn, summary.ErrorLogPath, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Elapsed", statusInfo, summary.Elapsed.Round(time.Millisecond).String(), colorize))
	if summary.Interrupted {
		fmt.Fprintln(out, renderStatusLine("Interrupted", statusWarn, "completed results saved; rerun to resume", colorize))
		return context.Canceled
	}
	return nil
}

func summaryRows(s *batch.Summary) []countRow {
	rows := []countRow{
		{"Manifest rows", s.Total},
		{"Already converted", s.Done},
		{"Dispatched", s.Dispatched},
		{"Succeeded", s.Succeeded},
		{"Skipped (valid output)", s.Skipped},
		{"Failed", s.Failed},
	}
	for _, kind := range failure.Kinds {
		if n := s.ByKind[kind]; n > 0 {
			rows = append(rows, countRow{"  " + string(kind), n})
		}
	}
	if s.Stale > 0 {
		rows = append(rows, countRow{"Stale outputs cleared", s.Stale})
	}
	if s.Corrupt > 0 {
		rows = append(rows, countRow{"Corrupt rows reset", s.Corrupt})
	}
	if s.Carried > 0 {
		rows = append(rows, countRow{"Carried (not in manifest)", s.Carried})
	}
	return rows
}

func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("converting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
