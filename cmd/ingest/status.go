package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/research-ingest/internal/api"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/workflow"
)

func statusCmd() *cobra.Command {
	var (
		project string
		follow  bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a project's documents and per-status counts",
		Long: `Lists the project's documents with their processing status.

With --follow the view stays open and updates as documents change, without
polling; documents in error can be re-run with "ingest retry".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pid, err := parseProjectID(project)
			if err != nil {
				return err
			}
			c := newClient()
			if follow {
				return c.Follow(cmd.Context(), pid, func(v *workflow.View, u workflow.Update) {
					if u.Event != nil {
						d := u.Event.Document
						fmt.Printf("%s  %-10s %s %s\n", time.Now().Format("15:04:05"), d.Status, d.FileName, errorSuffix(d))
					}
					fmt.Printf("  %s\n", countsLine(u.Counts))
				})
			}

			docs, err := c.ListByProject(cmd.Context(), pid)
			if err != nil {
				return err
			}
			if asJSON {
				out := api.DocumentList{Documents: make([]api.Document, 0, len(docs))}
				for _, d := range docs {
					out.Documents = append(out.Documents, api.FromDocument(d))
				}
				return printJSON(out)
			}
			var counts entity.AggregateCounts
			for _, d := range docs {
				counts.Add(d.Status, 1)
			}
			printDocuments(os.Stdout, docs)
			fmt.Println(countsLine(counts))
			return nil
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id (required)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep watching for changes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func printDocuments(w io.Writer, docs []*entity.Document) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSTAGE\tSTATUS\tATTEMPTS\tUPLOADED\tERROR")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			d.ID, d.FileName, d.Stage, d.Status, d.ProcessingAttempts,
			d.UploadedAt.Local().Format("2006-01-02 15:04"), errorSuffix(*d))
	}
	_ = tw.Flush()
}

func errorSuffix(d entity.Document) string {
	if d.ErrorKind == nil {
		return ""
	}
	msg := *d.ErrorKind
	if d.ErrorMessage != nil {
		msg += ": " + *d.ErrorMessage
	}
	return msg
}

func countsLine(c entity.AggregateCounts) string {
	return fmt.Sprintf("pending %d · processing %d · completed %d · error %d · total %d",
		c.Pending, c.Processing, c.Completed, c.Error, c.Total())
}
