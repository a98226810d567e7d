package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ecgbatch/internal/config"
	"ecgbatch/internal/failure"
	"ecgbatch/internal/ledger"
)

type statusReport struct {
	Ledger       string         `json:"ledger"`
	Total        int            `json:"total"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	Pending      int            `json:"pending"`
	Corrupt      int            `json:"corrupt"`
	ByKind       map[string]int `json:"by_kind"`
	Unclassified int            `json:"unclassified"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var ledgerPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize outcomes recorded in an output ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := strings.TrimSpace(ledgerPath)
			if path == "" {
				path = cfg.Paths.OutputLedger
			} else if path, err = config.ExpandPath(path); err != nil {
				return err
			}
			if path == "" {
				return fmt.Errorf("no ledger given (use --output-ledger or set paths.output_ledger)")
			}

			l, err := ledger.Load(path, ledger.Columns{
				StudyKey:   cfg.Columns.StudyKey,
				OutputPath: cfg.Columns.OutputPath,
				Error:      cfg.Columns.Error,
			})
			if err != nil {
				return fmt.Errorf("load ledger: %w", err)
			}
			tally := l.Tally()

			if asJSON {
				report := statusReport{
					Ledger:       path,
					Total:        tally.Total,
					Succeeded:    tally.Succeeded,
					Failed:       tally.Failed,
					Pending:      tally.Pending,
					Corrupt:      tally.Corrupt,
					ByKind:       make(map[string]int, len(tally.ByKind)),
					Unclassified: tally.Unclassified,
				}
				for kind, n := range tally.ByKind {
					report.ByKind[string(kind)] = n
				}
				return writeJSON(cmd.OutOrStdout(), report)
			}

			rows := []countRow{
				{"Total", tally.Total},
				{"Succeeded", tally.Succeeded},
				{"Failed", tally.Failed},
			}
			for _, kind := range failure.Kinds {
				if n := tally.ByKind[kind]; n > 0 {
					rows = append(rows, countRow{"  " + string(kind), n})
				}
			}
			if tally.Unclassified > 0 {
				rows = append(rows, countRow{"  Unclassified", tally.Unclassified})
			}
			rows = append(rows, countRow{"Pending", tally.Pending})
			if tally.Corrupt > 0 {
				rows = append(rows, countRow{"Corrupt", tally.Corrupt})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderCounts(path, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&ledgerPath, "output-ledger", "", "Ledger to summarize (default paths.output_ledger)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
