package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create and list projects",
	}

	var description string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a project owned by the current user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newClient().CreateProject(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			fmt.Printf("created project %s (%s)\n", p.Name, p.ID)
			return nil
		},
	}
	create.Flags().StringVar(&description, "description", "", "project description")

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List your projects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ps, err := newClient().ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(ps)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCREATED")
			for _, p := range ps {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Name, p.CreatedAt)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(create, list)
	return cmd
}
