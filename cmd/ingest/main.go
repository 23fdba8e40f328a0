package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/research-ingest/internal/client"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

var (
	cfgFile string
	v       = common.NewViper()
	cfg     *common.Config
	logger  *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Submit research documents for extraction and follow their progress",
		Long: `ingest uploads PDF, text, RTF and DOCX files to a research-ingest server,
shows per-file progress, and keeps a live view of each project's documents.

Batches are capped (10 files by default); files over the cap are reported and skipped.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ingest.yaml or $HOME/.config/research-ingest/ingest.yaml)")
	rootCmd.PersistentFlags().String("server", "", "server base URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")

	_ = v.BindPFlag("client.server_url", rootCmd.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("client.token", rootCmd.PersistentFlags().Lookup("token"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(retryCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(tokenCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if err := common.ReadConfigFile(v, cfgFile); err != nil {
		return err
	}
	cfg = common.LoadConfig(v)
	l, err := common.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	logger = l
	slog.SetDefault(logger)
	return nil
}

func newClient() *client.Client {
	return client.New(cfg.Client, logger)
}

func parseProjectID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid project id %q", s)
	}
	return id, nil
}

// parseTemplate merges --field name=hint pairs over an optional JSON template file.
func parseTemplate(file string, fields []string) (entity.Template, error) {
	tmpl := entity.Template{}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read template: %w", err)
		}
		if err := json.Unmarshal(raw, &tmpl); err != nil {
			return nil, fmt.Errorf("template %s must be a JSON object of field name to type hint: %w", file, err)
		}
	}
	for _, f := range fields {
		name, hint, ok := strings.Cut(f, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --field %q, want name=hint", f)
		}
		tmpl[name] = strings.TrimSpace(hint)
	}
	if len(tmpl) == 0 {
		return nil, nil
	}
	return tmpl, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
