package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wanjiru/amri/internal/config"
	"github.com/wanjiru/amri/internal/history"
)

var (
	exportOutput string
	exportClear  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the exchange history as JSON",
	Long: `Write all recorded exchanges to stdout (or a file) as a JSON array,
oldest first. Requires history to be enabled in the config.

Examples:
  amri export
  amri export -o history.json
  amri export --clear`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
	exportCmd.Flags().BoolVar(&exportClear, "clear", false, "delete the history after exporting")
}

func runExport(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.History == nil {
		return fmt.Errorf("history is disabled; enable the history section in %s", configPath)
	}

	store, err := history.Open(history.Config{
		Path:        cfg.HistoryPath(),
		JournalMode: cfg.History.Journal(),
	}, logger)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating history: %w", err)
	}

	var out io.Writer = os.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("creating %s: %w", exportOutput, err)
		}
		defer f.Close()
		out = f
	}

	if err := store.Export(ctx, out); err != nil {
		return err
	}

	if exportClear {
		if err := store.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "history cleared")
	}
	return nil
}
