package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func retryCmd() *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   "retry DOCUMENT_ID",
		Short: "Re-run a document that ended in error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[0])
			}
			var expected *int64
			if cmd.Flags().Changed("expected-version") {
				expected = &version
			}
			res, err := newClient().Retry(cmd.Context(), id, expected)
			if err != nil {
				return err
			}
			fmt.Printf("document %s is %s\n", res.DocumentID, res.Status)
			return nil
		},
	}
	cmd.Flags().Int64Var(&version, "expected-version", 0, "only retry if the document is still at this version")
	return cmd
}
