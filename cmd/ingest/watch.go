package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/ingest"
)

func watchCmd() *cobra.Command {
	var (
		f        submitFlags
		existing bool
		workers  int
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch DIR...",
		Short: "Submit files as they appear in one or more directories",
		Long: `Watches the directories recursively and submits every new or rewritten
PDF, text, RTF or DOCX file through the same validation as "submit".
Stops on Ctrl-C after the files in flight have finished.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := f.batch(nil)
			if err != nil {
				return err
			}
			gate := ingest.NewGate(ingest.PolicyFromConfig(cfg.Policy), newClient(), logger)
			queue := ingest.NewQueue(gate, b, logger,
				ingest.WithWorkers(workers),
				ingest.WithProcessTimeout(cfg.Client.Timeout),
				ingest.WithOnDone(func(job ingest.Job, out ingest.FileOutcome) {
					if out.Error != "" {
						fmt.Printf("%s  error     %s: %s\n", time.Now().Format("15:04:05"), job.Path, out.Error)
						return
					}
					fmt.Printf("%s  %-9s %s (%s)\n", time.Now().Format("15:04:05"), out.Status, job.Path, out.DocumentID)
				}),
			)

			paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
				Roots:       args,
				AllowedExts: constants.AllowedExtensions,
				InitialScan: existing,
				Debounce:    debounce,
				SkipHidden:  true,
			}, logger)
			if err != nil {
				return err
			}
			fmt.Printf("watching %v (Ctrl-C to stop)\n", args)

		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case err, ok := <-errs:
					if !ok {
						errs = nil
						continue
					}
					logger.Warn("watch error", "error", err)
				case p, ok := <-paths:
					if !ok {
						break loop
					}
					if err := queue.Enqueue(ctx, ingest.Job{Path: p}); err != nil {
						logger.Warn("enqueue failed", "path", p, "error", err)
					}
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			queue.Shutdown(shutdownCtx)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&existing, "existing", false, "also submit files already in the directories")
	cmd.Flags().IntVar(&workers, "workers", 4, "files submitted at once")
	cmd.Flags().DurationVar(&debounce, "debounce", 750*time.Millisecond, "wait this long after the last write before submitting")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
