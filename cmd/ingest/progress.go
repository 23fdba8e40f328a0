package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/joseph-ayodele/research-ingest/internal/ingest"
)

// batchProgress renders gate updates as a bar over finished files plus one
// line per phase change.
type batchProgress struct {
	bar     *progressbar.ProgressBar
	out     io.Writer
	verbose bool
}

func newBatchProgress(total int, verbose bool) *batchProgress {
	w := os.Stderr
	return &batchProgress{
		out:     w,
		verbose: verbose,
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan][bold]Submitting...[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				if _, err := fmt.Fprintln(w); err != nil {
					slog.Warn("Failed to write newline after progress bar", "error", err)
				}
			}),
		),
	}
}

func (p *batchProgress) Update(u ingest.Progress) {
	switch {
	case u.Phase == ingest.PhaseProcessing:
		p.bar.Describe(fmt.Sprintf("[cyan]%s[reset] processing (about %s)", u.FileName, u.Estimate))
	case u.Phase.Terminal():
		if err := p.bar.Add(1); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	case p.verbose:
		p.bar.Describe(fmt.Sprintf("[cyan]%s[reset] %s", u.FileName, u.Phase))
	}
	if u.Phase == ingest.PhaseError && p.verbose {
		_ = p.bar.Clear()
		fmt.Fprintf(p.out, "  %s: %s\n", u.FileName, u.Message)
	}
}

func (p *batchProgress) Finish() {
	_ = p.bar.Finish()
}

// printOutcomes writes the per-file summary table and returns the failure count.
func printOutcomes(w io.Writer, res ingest.BatchResult) int {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATUS\tDOCUMENT\tDETAIL")
	failed := 0
	for _, f := range res.Files {
		detail := ""
		if f.Error != "" {
			failed++
			detail = f.ErrorKind + ": " + f.Error
		} else if f.Result != nil && f.Result.DataKind != "" {
			detail = string(f.Result.DataKind)
		}
		doc := "-"
		if f.DocumentID != uuid.Nil {
			doc = f.DocumentID.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.FileName, f.Status, doc, detail)
	}
	_ = tw.Flush()
	for _, name := range res.Dropped {
		fmt.Fprintf(w, "skipped %s: batch limit reached\n", name)
	}
	c := res.Counts()
	fmt.Fprintf(w, "\n%d completed, %d failed, %d skipped\n", c.Completed, c.Error, len(res.Dropped))
	return failed
}
