package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/ingest"
)

type submitFlags struct {
	project      string
	stage        string
	sourceKind   string
	templateFile string
	fields       []string
	verbose      bool
}

func (f *submitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.project, "project", "p", "", "project id (required)")
	cmd.Flags().StringVarP(&f.stage, "stage", "s", string(constants.StageTextExtraction), "text_extraction | data_extraction | full_analysis")
	cmd.Flags().StringVar(&f.sourceKind, "source-kind", string(constants.SourceManualUpload), "manual_upload | imported_record")
	cmd.Flags().StringVar(&f.templateFile, "template", "", "JSON file mapping field names to type hints (data_extraction)")
	cmd.Flags().StringArrayVar(&f.fields, "field", nil, "template field as name=hint, repeatable")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "show every phase change")
}

// batch turns the flags and paths into a gate batch. Directories are expanded
// to their supported files.
func (f *submitFlags) batch(paths []string) (ingest.Batch, error) {
	pid, err := parseProjectID(f.project)
	if err != nil {
		return ingest.Batch{}, err
	}
	stage, ok := constants.ParseStage(f.stage)
	if !ok {
		return ingest.Batch{}, fmt.Errorf("unknown stage %q", f.stage)
	}
	kind, ok := constants.ParseSourceKind(f.sourceKind)
	if !ok {
		return ingest.Batch{}, fmt.Errorf("unknown source kind %q", f.sourceKind)
	}
	tmpl, err := parseTemplate(f.templateFile, f.fields)
	if err != nil {
		return ingest.Batch{}, err
	}
	files, err := collectFiles(paths)
	if err != nil {
		return ingest.Batch{}, err
	}
	return ingest.Batch{ProjectID: pid, Stage: stage, SourceKind: kind, Template: tmpl, Files: files}, nil
}

func collectFiles(paths []string) ([]ingest.File, error) {
	var files []ingest.File
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if st.IsDir() {
			found, stats, err := ingest.CollectDirectory(p, constants.AllowedExtensions, true)
			if err != nil {
				return nil, err
			}
			logger.Info("directory scanned", "dir", p, "scanned", stats.Scanned, "matched", stats.Matched, "failed", stats.Failed)
			files = append(files, found...)
			continue
		}
		f, err := ingest.FileFromPath(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func submitCmd() *cobra.Command {
	var f submitFlags
	cmd := &cobra.Command{
		Use:   "submit FILE|DIR...",
		Short: "Validate and submit up to one batch of files",
		Long: `Validates each file (type and size), then uploads the accepted ones
concurrently and waits for the server to process them.

Files beyond the batch limit are reported and not submitted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := f.batch(args)
			if err != nil {
				return err
			}
			gate := ingest.NewGate(ingest.PolicyFromConfig(cfg.Policy), newClient(), logger)
			res := runBatch(cmd, gate, b, f.verbose)
			if n := printOutcomes(os.Stdout, res); n > 0 {
				return fmt.Errorf("%d of %d files failed", n, len(res.Files))
			}
			return nil
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func runBatch(cmd *cobra.Command, gate *ingest.Gate, b ingest.Batch, verbose bool) ingest.BatchResult {
	total := len(b.Files)
	if max := gate.Policy().MaxBatchSize; total > max {
		total = max
	}
	p := newBatchProgress(total, verbose)
	res := gate.SubmitBatch(cmd.Context(), b, p.Update)
	p.Finish()
	return res
}
