package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ecgbatch/internal/validator"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "validate <file.dcm>...",
		Short:       "Structurally validate DICOM ECG waveform files",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			colorize := isTerminal(out)
			failed := 0
			for _, path := range args {
				if err := validator.Validate(path); err != nil {
					failed++
					fmt.Fprintln(out, renderStatusLine(path, statusError, err.Error(), colorize))
					continue
				}
				fmt.Fprintln(out, renderStatusLine(path, statusOK, "", colorize))
			}
			if failed > 0 {
				return fmt.Errorf("%s of %s files failed validation", formatCount(failed), formatCount(len(args)))
			}
			return nil
		},
	}
}
