package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/ingester/api"
	"github.com/use-agent/ingester/cache"
	"github.com/use-agent/ingester/models"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Launch the browser, open the database and serve the ingestion API until SIGINT or SIGTERM.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("ingester starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"db", cfg.Storage.DBPath,
	)

	// ── 1. Storage ──────────────────────────────────────────────────
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// ── 2. Browser + ingestion service ──────────────────────────────
	rt, err := startRuntime(cfg, st)
	if err != nil {
		return err
	}
	defer rt.Close()

	// ── 3. Cache ────────────────────────────────────────────────────
	cc := cache.New[*models.IngestResponse](cfg.Cache.MaxEntries, cfg.Cache.TTL)
	defer cc.Close()

	// ── 4. Router + server ──────────────────────────────────────────
	router := api.NewRouter(api.Deps{
		Ingester: rt.service,
		Busy:     rt.service,
		Scrapers: st.registry,
		Items:    st.items,
		Cache:    cc,
	}, cfg, time.Now())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// ── 5. Graceful shutdown ────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	// Give in-flight ingestions time to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	slog.Info("ingester stopped")
	return nil
}
