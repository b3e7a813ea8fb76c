package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <url>",
	Short: "Ingest one URL and print the created items",
	Long: `Load the URL in the browser, run the matching scraper and print the
result as JSON.

Examples:
  ingester ingest https://example.com/book/1
  ingester ingest --timeout 2m https://example.com/search?q=go`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var ingestTimeout time.Duration

func init() {
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 0, "ingestion deadline (default INGESTER_DEFAULT_TIMEOUT)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	timeout := ingestTimeout
	if timeout <= 0 {
		timeout = cfg.Ingest.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rt, err := startRuntime(cfg, st)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.service.Ingest(ctx, args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
