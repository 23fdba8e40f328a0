// Command llm runs one processing stage on a local file repeatedly, without a
// database, to compare model output across runs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/extract"
	"github.com/joseph-ayodele/research-ingest/internal/llm"
	"github.com/joseph-ayodele/research-ingest/internal/llm/openai"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	stageFlag := flag.String("stage", "data_extraction", "data_extraction or full_analysis")
	times := flag.Int("times", 3, "number of runs")
	templateFile := flag.String("template", "", "JSON file mapping field names to type hints")
	flag.Parse()

	if flag.NArg() != 1 {
		logger.Error("usage: llm [-stage S] [-times N] [-template F] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)
	stage, ok := constants.ParseStage(*stageFlag)
	if !ok || !stage.UsesAI() {
		logger.Error("stage must be data_extraction or full_analysis", "stage", *stageFlag)
		os.Exit(2)
	}

	v := common.NewViper()
	cfg := common.LoadConfig(v)
	if cfg.LLM.APIKey == "" {
		logger.Error("OPENAI_API_KEY env var is required")
		os.Exit(2)
	}

	var tmpl entity.Template
	if *templateFile != "" {
		raw, err := os.ReadFile(*templateFile)
		if err == nil {
			err = json.Unmarshal(raw, &tmpl)
		}
		if err != nil {
			logger.Error("read template", "path", *templateFile, "error", err)
			os.Exit(2)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read file", "path", path, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	extractor := extract.NewExtractor(extract.Config{PDFToText: cfg.Extract.PDFToTextBin, MaxChars: cfg.Extract.MaxChars}, logger)
	text, err := extractor.Extract(ctx, filepath.Base(path), data)
	if err != nil {
		logger.Error("extract", "error", err)
		os.Exit(1)
	}
	analyzer := llm.NewAnalyzer(openai.NewClient(openai.ConfigFromApp(cfg.LLM), logger), 0, logger)

	base := filepath.Base(path)
	for i := 1; i <= *times; i++ {
		runCtx, cancelRun := context.WithTimeout(context.Background(), 2*time.Minute)
		start := time.Now()
		logger.Info("stage.run.start", "iter", i, "file", base, "stage", stage)

		var out *entity.ExtractedData
		if stage == constants.StageDataExtraction {
			out, err = analyzer.ExtractData(runCtx, text.Text, base, tmpl)
		} else {
			out, err = analyzer.Analyze(runCtx, text.Text, base)
		}
		cancelRun()

		if err != nil {
			logger.Error("stage.run.error", "iter", i, "err", err)
		} else {
			b, _ := json.MarshalIndent(out.Object(), "", "  ")
			logger.Info("stage.run.ok", "iter", i, "kind", out.Kind, "elapsed_ms", time.Since(start).Milliseconds())
			fmt.Println(string(b))
		}

		time.Sleep(750 * time.Millisecond)
	}

	logger.Info("done", "file", base, "times", *times)
}
