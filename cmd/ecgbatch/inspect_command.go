package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ecgbatch/internal/dicomwave"
)

type inspectField struct {
	Path  string `json:"path"`
	Tag   string `json:"tag"`
	Name  string `json:"name,omitempty"`
	VR    string `json:"vr"`
	Value string `json:"value"`
}

func newInspectCommand() *cobra.Command {
	var asJSON bool
	var withMeta bool

	cmd := &cobra.Command{
		Use:         "inspect <file.dcm>",
		Short:       "Print the flattened header of a DICOM file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := dicomwave.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			var fields []dicomwave.Field
			if withMeta {
				fields = append(fields, dicomwave.Flatten(file.Meta)...)
			}
			fields = append(fields, dicomwave.Flatten(file.Body)...)

			if asJSON {
				out := make([]inspectField, 0, len(fields))
				for _, f := range fields {
					out = append(out, inspectField{Path: f.Path, Tag: f.Tag.String(), Name: f.Name, VR: f.VR, Value: f.Value})
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}

			rows := make([][]string, 0, len(fields))
			for _, f := range fields {
				rows = append(rows, []string{f.Path, f.Name, f.VR, f.Value})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(args[0], []string{"Path", "Name", "VR", "Value"}, rows, nil))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&withMeta, "meta", false, "Include the file meta information group")
	return cmd
}
