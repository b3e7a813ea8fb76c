package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/ingester/browser"
	"github.com/use-agent/ingester/cleaner"
	"github.com/use-agent/ingester/config"
	"github.com/use-agent/ingester/document"
	"github.com/use-agent/ingester/fetch"
	"github.com/use-agent/ingester/ingest"
	"github.com/use-agent/ingester/registry"
	"github.com/use-agent/ingester/store"
	"github.com/use-agent/ingester/utility"
	"github.com/use-agent/ingester/webhook"
)

// storage is the sqlite-backed registry and item store.
type storage struct {
	db       *sql.DB
	registry *registry.SQLRegistry
	items    *store.SQLItemStore
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	mapping := store.DefaultMapping()
	if cfg.Storage.MappingFile != "" {
		m, err := store.LoadMapping(cfg.Storage.MappingFile)
		if err != nil {
			return nil, err
		}
		mapping = m
	}

	db, err := store.OpenAndMigrate(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	st := &storage{
		db:       db,
		registry: registry.NewSQLRegistry(db),
		items:    store.NewSQLItemStore(db, mapping),
	}

	if cfg.Storage.ScrapersDir != "" {
		n, err := importScrapers(ctx, st.registry, cfg.Storage.ScrapersDir)
		if err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("scrapers imported", "dir", cfg.Storage.ScrapersDir, "count", n)
	}
	return st, nil
}

func (s *storage) Close() {
	if err := s.db.Close(); err != nil {
		slog.Warn("closing database failed", "error", err)
	}
}

// importScrapers stores every scraper file in dir, replacing records with the same id.
func importScrapers(ctx context.Context, reg *registry.SQLRegistry, dir string) (int, error) {
	records, err := registry.LoadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if err := reg.Put(ctx, rec); err != nil {
			return 0, fmt.Errorf("import %s: %w", rec.ID, err)
		}
	}
	return len(records), nil
}

// browserRuntime is the browser-backed ingestion service.
type browserRuntime struct {
	browser *browser.Browser
	tab     *browser.Tab
	service *ingest.Service
}

func startRuntime(cfg *config.Config, st *storage) (*browserRuntime, error) {
	policy, err := fetch.ParsePolicy(cfg.Pipeline.ErrorPolicy)
	if err != nil {
		return nil, err
	}

	b, err := browser.Launch(cfg.Browser)
	if err != nil {
		return nil, err
	}
	tab, err := b.NewTab()
	if err != nil {
		b.Close()
		return nil, err
	}

	pipeline := fetch.New(tab, fetch.Config{
		DoneDelay: cfg.Pipeline.DoneDelay,
		Policy:    policy,
	})

	opts := ingest.Options{ScriptTimeout: cfg.Sandbox.ScriptTimeout}
	if cfg.Storage.SnapshotMaxTokens >= 0 {
		cl := cleaner.NewCleaner(cfg.Storage.SnapshotMaxTokens)
		opts.Snapshot = func(doc *document.Document) string { return cl.Snapshot(doc) }
	}

	http := utility.NewHTTP(cfg.Browser.DefaultProxy, cfg.Sandbox.HTTPTimeout)
	svc := ingest.NewService(pipeline, st.registry, st.items, http, opts)

	if cfg.Webhook.URL != "" {
		notifier := webhook.New(cfg.Webhook.URL, cfg.Webhook.Secret)
		svc.OnComplete(func(r *ingest.Result) {
			notifier.DeliverAsync(completedEvent(r))
		})
		slog.Info("webhook notifications enabled", "url", cfg.Webhook.URL)
	}

	return &browserRuntime{browser: b, tab: tab, service: svc}, nil
}

func (r *browserRuntime) Close() {
	r.tab.Close()
	r.browser.Close()
}

func completedEvent(r *ingest.Result) *webhook.Event {
	data := webhook.IngestData{URL: r.URL, Scraper: r.Scraper}
	for _, it := range r.Items {
		data.ItemIDs = append(data.ItemIDs, it.ID)
	}
	if r.Primary != nil {
		data.PrimaryID = r.Primary.ID
	}
	return &webhook.Event{
		Type:      webhook.EventIngestCompleted,
		SessionID: r.SessionID,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
}
