package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lab-risk-aggregator/internal/tables"
)

func newTablesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Inspect and validate clinical tables",
	}
	cmd.AddCommand(newTablesValidateCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the embedded default tables as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(tables.DefaultYAML())
			return err
		},
	})
	return cmd
}

func newTablesValidateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a tables file for consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := tables.Load(file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tables OK: version %s, %d conditions, %d parameters, %d comorbidity rules\n",
				t.Version, len(t.Conditions), len(t.Parameters), len(t.Comorbidity))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Tables file (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
