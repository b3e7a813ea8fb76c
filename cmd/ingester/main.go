package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/ingester/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ingester",
	Short: "ingester - scraper-driven bibliographic ingestion",
	Long: `ingester loads web pages in a headless browser, picks a scraper from the
registry for each page, runs it in a script sandbox and stores the items it
describes.

Available commands:
  serve     - Start the HTTP API
  ingest    - Ingest one URL and print the created items
  scrapers  - Import and list registered scrapers

Examples:
  ingester serve                          # Start the API on :8080
  ingester ingest https://example.com/b   # One-shot ingestion
  ingester scrapers import ./scrapers     # Load scraper YAML files
  ingester scrapers list                  # Show registered scrapers`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if dbPath != "" {
			cfg.Storage.DBPath = dbPath
		}
		initLogger(cfg.Log)
		return nil
	},
}

var dbPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database path (overrides INGESTER_DB_PATH)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(scrapersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
