package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/ingester/document"
	"github.com/use-agent/ingester/fetch"
	"github.com/use-agent/ingester/matcher"
	"github.com/use-agent/ingester/models"
	"github.com/use-agent/ingester/registry"
	"github.com/use-agent/ingester/sandbox"
	"github.com/use-agent/ingester/store"
)

// Result describes a finished ingestion.
type Result struct {
	SessionID string        `json:"session_id"`
	URL       string        `json:"url"`
	Scraper   string        `json:"scraper"`
	ScraperID string        `json:"scraper_id"`
	Items     []store.Item  `json:"items"`
	Primary   *store.Item   `json:"primary,omitempty"`
	Duration  time.Duration `json:"-"`
}

// Options configures a Service.
type Options struct {
	ScriptTimeout time.Duration
	Snapshot      func(*document.Document) string
}

// Service ingests URLs through one shared browsing context. Ingestions are
// serialized because the context can show one page at a time.
type Service struct {
	pipeline *fetch.Pipeline
	registry registry.Registry
	items    store.ItemStore
	http     sandbox.HTTPClient
	opts     Options

	slot     chan struct{}
	patterns *matcher.Patterns

	mu         sync.Mutex
	onComplete []func(*Result)
}

// NewService creates a Service. http may be nil to disable HTTPUtilities.
func NewService(pipeline *fetch.Pipeline, reg registry.Registry, items store.ItemStore,
	http sandbox.HTTPClient, opts Options) *Service {
	return &Service{
		pipeline: pipeline,
		registry: reg,
		items:    items,
		http:     http,
		opts:     opts,
		slot:     make(chan struct{}, 1),
		patterns: matcher.NewPatterns(1024),
	}
}

// OnComplete registers fn to run after every successful ingestion.
func (s *Service) OnComplete(fn func(*Result)) {
	s.mu.Lock()
	s.onComplete = append(s.onComplete, fn)
	s.mu.Unlock()
}

// Busy reports whether an ingestion holds the browsing context.
func (s *Service) Busy() bool {
	return len(s.slot) > 0
}

// Ingest loads target, selects a scraper for it, runs the extraction and
// waits for the items, all bounded by ctx.
func (s *Service) Ingest(ctx context.Context, target string) (*Result, error) {
	start := time.Now()

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, models.NewIngestError(models.ErrCodeTimeout, "waiting for the browsing context", ctx.Err())
	}
	defer func() { <-s.slot }()

	doc, err := s.load(ctx, target)
	if err != nil {
		return nil, err
	}

	session, err := NewSession(ctx, SessionOptions{
		Document:      doc,
		Registry:      s.registry,
		Items:         s.items,
		Runner:        s.pipeline,
		HTTP:          s.http,
		ScriptTimeout: s.opts.ScriptTimeout,
		Snapshot:      s.opts.Snapshot,
		Patterns:      s.patterns,
	})
	if err != nil {
		return nil, err
	}
	defer session.Close()

	ok, err := session.Match(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewIngestError(models.ErrCodeNoScraper, "no scraper accepts "+doc.URL(), nil)
	}

	completed := make(chan struct{})
	if err := session.Execute(ctx, func(*Session) { close(completed) }); err != nil {
		return nil, err
	}
	select {
	case <-completed:
	case <-ctx.Done():
		// Completion may have raced the deadline; the session decides.
		<-session.Settled()
		if !session.Finalized() {
			return nil, models.NewScriptError(models.ErrCodeTimeout, session.Scraper().Label,
				"scraper did not signal completion", ctx.Err())
		}
	}

	rec := session.Scraper()
	res := &Result{
		SessionID: session.ID(),
		URL:       doc.URL(),
		Scraper:   rec.Label,
		ScraperID: rec.ID,
		Items:     session.Items(),
		Primary:   session.Primary(),
		Duration:  time.Since(start),
	}
	slog.Info("ingested", "url", res.URL, "scraper", res.Scraper, "items", len(res.Items),
		"duration_ms", res.Duration.Milliseconds())

	s.mu.Lock()
	hooks := append([]func(*Result){}, s.onComplete...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(res)
	}
	return res, nil
}

// load navigates the browsing context to target with a one-URL pipeline
// run and returns the loaded document.
func (s *Service) load(ctx context.Context, target string) (*document.Document, error) {
	loaded := make(chan *document.Document, 1)
	done := make(chan struct{})
	errs := make(chan error, 4)

	var doneOnce sync.Once
	err := s.pipeline.Run(ctx, nil, []string{target},
		func(doc *document.Document, proceed func()) error {
			select {
			case loaded <- doc:
			default:
			}
			proceed()
			return nil
		},
		func() { doneOnce.Do(func() { close(done) }) },
		func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	)
	if err != nil {
		return nil, err
	}

	var loadErr error
	for {
		select {
		case <-done:
			select {
			case doc := <-loaded:
				return doc, nil
			default:
			}
			select {
			case err := <-errs:
				loadErr = err
			default:
			}
			if loadErr == nil {
				loadErr = models.NewIngestError(models.ErrCodeNavigation, "no document loaded for "+target, nil)
			}
			return nil, loadErr
		case err := <-errs:
			if s.pipeline.Policy() == fetch.PolicyHalt || models.IsCode(err, models.ErrCodePipelineCanceled) {
				return nil, err
			}
			loadErr = err
		case <-ctx.Done():
			return nil, models.NewIngestError(models.ErrCodeTimeout, "loading "+target, ctx.Err())
		}
	}
}
