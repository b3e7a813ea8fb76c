// Package ingest ties a loaded document to the scraper that understands it
// and turns what the scraper extracts into saved items.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/ingester/datamodel"
	"github.com/use-agent/ingester/document"
	"github.com/use-agent/ingester/matcher"
	"github.com/use-agent/ingester/models"
	"github.com/use-agent/ingester/registry"
	"github.com/use-agent/ingester/sandbox"
	"github.com/use-agent/ingester/store"
)

// SessionOptions wires a Session to its collaborators.
type SessionOptions struct {
	Document *document.Document
	Registry registry.Registry
	Items    store.ItemStore

	// Runner and HTTP back the scraper utilities; either may be nil.
	Runner sandbox.Runner
	HTTP   sandbox.HTTPClient

	ScriptTimeout time.Duration

	// Snapshot renders the readable text attached to created items.
	Snapshot func(*document.Document) string

	// Patterns caches compiled URL patterns; nil gives the session its own.
	Patterns *matcher.Patterns
}

// Session is one ingestion attempt for one document: it owns the data
// model and the sandbox, remembers the selected scraper, and saves items
// exactly once when extraction completes.
type Session struct {
	id       string
	doc      *document.Document
	registry registry.Registry
	items    store.ItemStore
	snapshot func(*document.Document) string
	model    *datamodel.Model
	sandbox  *sandbox.Sandbox
	matcher  *matcher.Matcher

	mu       sync.Mutex
	scraper  *registry.Record
	executed bool
	created  []store.Item
	primary  *store.Item

	finalizeOnce sync.Once
	finalized    bool
	settled      chan struct{}
}

// NewSession prepares a session for opts.Document. ctx bounds the helpers
// scraper code starts; Close releases the sandbox.
func NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	if opts.Document == nil {
		return nil, models.NewIngestError(models.ErrCodeInvalidInput, "session needs a document", nil)
	}
	if opts.Registry == nil || opts.Items == nil {
		return nil, models.NewIngestError(models.ErrCodeInternal, "session needs a registry and an item store", nil)
	}
	model := datamodel.New()
	sb, err := sandbox.New(ctx, sandbox.Options{
		Document:      opts.Document,
		Model:         model,
		Runner:        opts.Runner,
		HTTP:          opts.HTTP,
		ScriptTimeout: opts.ScriptTimeout,
	})
	if err != nil {
		return nil, models.NewIngestError(models.ErrCodeInternal, "failed to create sandbox", err)
	}
	return &Session{
		id:       uuid.NewString(),
		doc:      opts.Document,
		registry: opts.Registry,
		items:    opts.Items,
		snapshot: opts.Snapshot,
		model:    model,
		sandbox:  sb,
		matcher:  matcher.New(sb, opts.Patterns),
		settled:  make(chan struct{}),
	}, nil
}

func (s *Session) ID() string                   { return s.id }
func (s *Session) Document() *document.Document { return s.doc }
func (s *Session) Model() *datamodel.Model      { return s.model }

// Scraper returns the selected scraper, or nil before a successful Match.
func (s *Session) Scraper() *registry.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scraper
}

// Items returns the items created when the session finalized.
func (s *Session) Items() []store.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Item(nil), s.created...)
}

// Primary returns the first item created, or nil.
func (s *Session) Primary() *store.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

// Match selects the scraper for the document. It reports false when no
// candidate accepts it.
func (s *Session) Match(ctx context.Context) (bool, error) {
	slog.Debug("retrieving scrapers", "session", s.id, "url", s.doc.URL())
	candidates, err := s.registry.CandidatesFor(ctx, s.doc.URL())
	if err != nil {
		return false, err
	}
	rec, err := s.matcher.Select(ctx, s.doc, candidates)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.scraper = rec
	s.mu.Unlock()
	if rec == nil {
		return false, nil
	}
	slog.Info("scraper selected", "session", s.id, "scraper", rec.Label, "url", s.doc.URL())
	return true, nil
}

// Execute runs the selected scraper's extract code. onComplete, when not
// nil, is called once after the items are saved. If the script requested
// asynchronous completion and never signals it, onComplete is never
// called and no items are created. An extraction can run once per session.
func (s *Session) Execute(ctx context.Context, onComplete func(*Session)) error {
	s.mu.Lock()
	rec := s.scraper
	already := s.executed
	s.executed = true
	s.mu.Unlock()

	if rec == nil {
		return models.NewIngestError(models.ErrCodeNoScraper, "no scraper selected for "+s.doc.URL(), nil)
	}
	if already {
		return models.NewIngestError(models.ErrCodeInvalidInput, "session already executed", nil)
	}

	slog.Debug("scraping", "session", s.id, "scraper", rec.Label, "url", s.doc.URL())
	completion, err := s.sandbox.Extract(rec.ExtractCode)
	if err != nil {
		return models.NewScriptError(models.ErrCodeExtractScript, rec.Label, "extract code failed", err)
	}

	go func() {
		defer close(s.settled)
		select {
		case <-completion.Done():
		case <-ctx.Done():
			select {
			case <-completion.Done():
			default:
				slog.Warn("scraper never signalled completion",
					"session", s.id, "scraper", rec.Label, "error", ctx.Err())
				return
			}
		}
		s.finalize(ctx)
		if onComplete != nil {
			onComplete(s)
		}
	}()
	return nil
}

// Settled is closed once an executed extraction has either been finalized
// (after onComplete returns) or abandoned because ctx ended first.
func (s *Session) Settled() <-chan struct{} {
	return s.settled
}

// Finalized reports whether the extracted items were handed to the store.
func (s *Session) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// Close releases the sandbox. Pending script callbacks are dropped.
func (s *Session) Close() {
	s.sandbox.Close()
}

// finalize saves one item per data-model subject and records the first.
func (s *Session) finalize(ctx context.Context) {
	s.finalizeOnce.Do(func() {
		snapshot := ""
		if s.snapshot != nil {
			snapshot = s.snapshot(s.doc)
		}
		// The extraction deadline must not abort saving what was extracted.
		saveCtx := context.WithoutCancel(ctx)
		created, err := s.items.Materialize(saveCtx, s.model, snapshot)
		if err != nil {
			var ie *models.IngestError
			if !errors.As(err, &ie) {
				err = models.NewIngestError(models.ErrCodeStorage, "failed to save items", err)
			}
			slog.Error("saving items failed", "session", s.id, "error", err)
		}
		s.mu.Lock()
		s.finalized = true
		s.created = created
		if len(created) > 0 {
			s.primary = &s.created[0]
		}
		s.mu.Unlock()
		slog.Info("ingestion complete", "session", s.id, "items", len(created))
	})
}
