package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	var (
		project string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download a project's documents as an XLSX workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pid, err := parseProjectID(project)
			if err != nil {
				return err
			}
			data, err := newClient().Export(cmd.Context(), pid)
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("project-%s.xlsx", pid)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id (required)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default: project-<id>.xlsx)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
