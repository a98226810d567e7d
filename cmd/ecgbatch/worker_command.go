package main

import (
	"github.com/spf13/cobra"

	"ecgbatch/internal/batch"
	"ecgbatch/internal/pool"
)

// newWorkerCommand is the entry point of worker processes. stdout carries
// the dispatch protocol, so everything else goes to stderr.
func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:         batch.WorkerCommandName,
		Short:       "Run a conversion worker (internal)",
		Hidden:      true,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			setup := batch.SetupWorker(batch.WorkerOptions{LogWriter: cmd.ErrOrStderr()})
			return pool.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), setup)
		},
	}
}
