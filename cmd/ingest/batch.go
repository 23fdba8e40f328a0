package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/research-ingest/internal/app"
	"github.com/joseph-ayodele/research-ingest/internal/dispatch"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/ingest"
	"github.com/joseph-ayodele/research-ingest/internal/projects"
)

const localUser = "local"

func batchCmd() *cobra.Command {
	var (
		f       submitFlags
		dbPath  string
		blobDir string
		out     string
		name    string
	)
	cmd := &cobra.Command{
		Use:   "batch DIR",
		Short: "Process a directory locally into SQLite and write an XLSX report",
		Long: `Runs the whole pipeline in-process against a SQLite database, without a
server. The directory is submitted one batch at a time and the project is
exported to XLSX when every batch has finished.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir := args[0]
			if out == "" {
				out = filepath.Join(filepath.Dir(filepath.Clean(dir)), "research.xlsx")
			}

			local := *cfg
			local.Database.Driver = "sqlite"
			local.Database.DSN = dbPath
			if blobDir == "" {
				tmp, err := os.MkdirTemp("", "research-ingest-blobs-")
				if err != nil {
					return err
				}
				defer func() { _ = os.RemoveAll(tmp) }()
				blobDir = tmp
			}
			local.Storage.BlobDir = blobDir

			a, err := app.Build(ctx, &local, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var project *entity.Project
			if f.project != "" {
				pid, err := parseProjectID(f.project)
				if err != nil {
					return err
				}
				if project, err = a.Service.GetProject(ctx, localUser, pid); err != nil {
					return err
				}
			} else {
				project, err = a.Service.CreateProject(ctx, projects.CreateProjectRequest{OwnerID: localUser, Name: name})
				if err != nil {
					return err
				}
				f.project = project.ID.String()
			}
			logger.Info("using project", "id", project.ID, "name", project.Name)

			b, err := f.batch([]string{dir})
			if err != nil {
				return err
			}
			gate := ingest.NewGate(ingest.PolicyFromConfig(local.Policy), dispatch.NewLocalSubmitter(a.Dispatcher, localUser), logger)

			var all ingest.BatchResult
			size := gate.Policy().MaxBatchSize
			for start := 0; start < len(b.Files); start += size {
				end := min(start+size, len(b.Files))
				chunk := b
				chunk.Files = b.Files[start:end]
				fmt.Fprintf(os.Stderr, "batch %d/%d\n", start/size+1, (len(b.Files)+size-1)/size)
				res := runBatch(cmd, gate, chunk, f.verbose)
				all.Files = append(all.Files, res.Files...)
				if ctx.Err() != nil {
					break
				}
			}
			failed := printOutcomes(os.Stdout, all)

			xlsx, err := a.Export.ExportProjectXLSX(ctx, project.ID)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			if err := os.WriteFile(out, xlsx, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Printf("wrote %s\n", out)
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(all.Files))
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&dbPath, "db", ":memory:", "SQLite database path")
	cmd.Flags().StringVar(&blobDir, "blob-dir", "", "where uploads are kept (default: a temporary directory)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "XLSX output path (default: research.xlsx next to DIR)")
	cmd.Flags().StringVar(&name, "name", "Local Batch", "name of the project created for this run")
	return cmd
}
