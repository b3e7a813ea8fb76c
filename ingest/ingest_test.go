package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/ingester/datamodel"
	"github.com/use-agent/ingester/document"
	"github.com/use-agent/ingester/fetch"
	"github.com/use-agent/ingester/models"
	"github.com/use-agent/ingester/registry"
	"github.com/use-agent/ingester/store"
)

const bookPage = `<html><head><title>Go in Action</title></head><body>
<h1 id="title">Go in Action</h1><span id="by">William Kennedy</span>
<span id="isbn">ISBN:1617291781</span><span id="year">Shelter Island 2015</span>
</body></html>`

// pages is a browsing context serving canned HTML per URL.
type pages struct {
	mu       sync.Mutex
	html     map[string]string
	current  string
	handlers map[int]func(fetch.NavigationEvent)
	next     int
}

func newPages(html map[string]string) *pages {
	return &pages{html: html, handlers: map[int]func(fetch.NavigationEvent){}}
}

func (p *pages) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	if _, ok := p.html[url]; !ok {
		p.mu.Unlock()
		return errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	p.current = url
	hs := make([]func(fetch.NavigationEvent), 0, len(p.handlers))
	for _, h := range p.handlers {
		hs = append(hs, h)
	}
	p.mu.Unlock()
	go func() {
		for _, h := range hs {
			h(fetch.NavigationEvent{Requested: url, Completed: "https://ads.example.net/frame"})
			h(fetch.NavigationEvent{Requested: url, Completed: url})
		}
	}()
	return nil
}

func (p *pages) CurrentDocument(context.Context) (*document.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return document.Parse(p.current, p.html[p.current])
}

func (p *pages) Subscribe(h func(fetch.NavigationEvent)) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.handlers[id] = h
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

// countingStore records Materialize calls and creates one item per subject.
type countingStore struct {
	calls atomic.Int32
}

func (c *countingStore) Materialize(_ context.Context, model *datamodel.Model, snapshot string) ([]store.Item, error) {
	c.calls.Add(1)
	var items []store.Item
	for _, subject := range model.Subjects() {
		items = append(items, store.Item{ID: "item-" + subject, Source: subject, Snapshot: snapshot})
	}
	return items, nil
}

func parse(t *testing.T, url, body string) *document.Document {
	t.Helper()
	doc, err := document.Parse(url, body)
	require.NoError(t, err)
	return doc
}

func newTestSession(t *testing.T, reg registry.Registry, items store.ItemStore) *Session {
	t.Helper()
	pipeline := fetch.New(newPages(nil), fetch.Config{DoneDelay: time.Millisecond})
	s, err := NewSession(context.Background(), SessionOptions{
		Document:      parse(t, "https://books.example.com/item/42", bookPage),
		Registry:      reg,
		Items:         items,
		Runner:        pipeline,
		ScriptTimeout: time.Second,
		Snapshot:      func(d *document.Document) string { return "snapshot of " + d.Title() },
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func waitFor(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}

func TestSession_SynchronousExtraction(t *testing.T) {
	items := &countingStore{}
	reg := registry.NewStatic(registry.Record{
		ID: "books", Label: "Books", URLPattern: `books\.example\.com/item/`,
		ExtractCode: `
			var uri = doc.location.href;
			model.addStatement(uri, "http://purl.org/dc/elements/1.1/title", doc.querySelector("#title").textContent);
			model.addStatement("urn:second", "http://purl.org/dc/elements/1.1/title", "Second");`,
	})
	s := newTestSession(t, reg, items)

	ok, err := s.Match(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "books", s.Scraper().ID)

	completed := make(chan struct{})
	require.NoError(t, s.Execute(context.Background(), func(*Session) { close(completed) }))
	require.True(t, waitFor(completed, 2*time.Second))

	assert.Equal(t, int32(1), items.calls.Load())
	require.Len(t, s.Items(), 2)
	require.NotNil(t, s.Primary())
	assert.Equal(t, "https://books.example.com/item/42", s.Primary().Source)
	assert.Equal(t, "snapshot of Go in Action", s.Primary().Snapshot)
}

func TestSession_AsyncDoneTwiceMaterializesOnce(t *testing.T) {
	items := &countingStore{}
	reg := registry.NewStatic(registry.Record{
		ID: "async", Label: "Async", DetectCode: `return true;`,
		ExtractCode: `
			wait();
			utilities.processDocuments(null, [], function() {}, function() {
				model.addStatement(doc.location.href, "title", "late");
				done();
				done();
			});`,
	})
	s := newTestSession(t, reg, items)

	ok, err := s.Match(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	var calls atomic.Int32
	completed := make(chan struct{}, 2)
	require.NoError(t, s.Execute(context.Background(), func(*Session) {
		calls.Add(1)
		completed <- struct{}{}
	}))
	require.True(t, waitFor(completed, 2*time.Second))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), items.calls.Load())
	assert.Len(t, s.Items(), 1)
}

func TestSession_WaitWithoutDoneCreatesNothing(t *testing.T) {
	items := &countingStore{}
	reg := registry.NewStatic(registry.Record{
		ID: "stuck", Label: "Stuck", DetectCode: `return true;`,
		ExtractCode: `wait(); model.addStatement("s", "p", "v");`,
	})
	s := newTestSession(t, reg, items)
	ok, err := s.Match(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	completed := make(chan struct{})
	require.NoError(t, s.Execute(ctx, func(*Session) { close(completed) }))

	assert.False(t, waitFor(completed, 200*time.Millisecond))
	require.True(t, waitFor(s.Settled(), 2*time.Second))
	assert.False(t, s.Finalized())
	assert.Zero(t, items.calls.Load())
	assert.Nil(t, s.Primary())
}

func TestSession_CompletionRacingDeadlineIsFinalized(t *testing.T) {
	items := &countingStore{}
	reg := registry.NewStatic(registry.Record{
		ID: "books", Label: "Books", URLPattern: `books\.example\.com/item/`,
		ExtractCode: `model.addStatement(doc.location.href, "http://purl.org/dc/elements/1.1/title", "Go");`,
	})
	s := newTestSession(t, reg, items)
	ok, err := s.Match(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// Completion and the deadline are both ready when the waiter looks.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	completed := make(chan struct{})
	require.NoError(t, s.Execute(ctx, func(*Session) { close(completed) }))

	require.True(t, waitFor(s.Settled(), 2*time.Second))
	assert.True(t, s.Finalized())
	assert.True(t, waitFor(completed, time.Second))
	assert.Equal(t, int32(1), items.calls.Load())
	require.NotNil(t, s.Primary())
}

func TestSession_ExtractErrorCreatesNothing(t *testing.T) {
	items := &countingStore{}
	reg := registry.NewStatic(registry.Record{
		ID: "broken", Label: "Broken Books", DetectCode: `return true;`,
		ExtractCode: `model.addStatement("s", "p", "v"); throw new Error("layout changed");`,
	})
	s := newTestSession(t, reg, items)
	ok, err := s.Match(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	err = s.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodeExtractScript))
	assert.Contains(t, err.Error(), "Broken Books")
	assert.Contains(t, err.Error(), "layout changed")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, items.calls.Load())
}

func TestSession_ExecuteWithoutMatch(t *testing.T) {
	s := newTestSession(t, registry.NewStatic(registry.Record{ID: "x", Label: "x", URLPattern: "example.org"}), &countingStore{})

	ok, err := s.Match(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, s.Scraper())

	err = s.Execute(context.Background(), nil)
	assert.True(t, models.IsCode(err, models.ErrCodeNoScraper))
}

func TestSession_DetectFailureAbortsMatch(t *testing.T) {
	s := newTestSession(t, registry.NewStatic(
		registry.Record{ID: "bad", Label: "Bad Detect", DetectCode: `return missing.value;`},
		registry.Record{ID: "ok", Label: "ok", URLPattern: "books"},
	), &countingStore{})

	ok, err := s.Match(context.Background())
	assert.False(t, ok)
	assert.True(t, models.IsCode(err, models.ErrCodeDetectScript))
	assert.Contains(t, err.Error(), "Bad Detect")
}

func openItems(t *testing.T) *store.SQLItemStore {
	t.Helper()
	db, err := store.OpenAndMigrate(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewSQLItemStore(db, nil)
}

const bookScraper = `
	var uri = doc.location.href;
	var dc = "http://purl.org/dc/elements/1.1/";
	model.addStatement(uri, dc + "title", doc.querySelector("#title").textContent);
	model.addStatement(uri, dc + "creator", doc.querySelector("#by").textContent);
	model.addStatement(uri, dc + "identifier", doc.querySelector("#isbn").textContent);
	model.addStatement(uri, dc + "year", doc.querySelector("#year").textContent);`

func newService(t *testing.T, html map[string]string, records ...registry.Record) *Service {
	t.Helper()
	pipeline := fetch.New(newPages(html), fetch.Config{DoneDelay: time.Millisecond})
	return NewService(pipeline, registry.NewStatic(records...), openItems(t), nil, Options{ScriptTimeout: time.Second})
}

func TestService_Ingest(t *testing.T) {
	svc := newService(t,
		map[string]string{"https://books.example.com/item/42": bookPage},
		registry.Record{ID: "books", Label: "Books", URLPattern: `books\.example\.com`, ExtractCode: bookScraper},
	)
	var notified atomic.Int32
	svc.OnComplete(func(*Result) { notified.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := svc.Ingest(ctx, "https://books.example.com/item/42")
	require.NoError(t, err)

	assert.Equal(t, "Books", res.Scraper)
	assert.NotEmpty(t, res.SessionID)
	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, "Go in Action", item.Fields["title"])
	assert.Equal(t, "1617291781", item.Fields["ISBN"])
	assert.Equal(t, "2015", item.Fields["date"])
	require.Len(t, item.Creators, 1)
	assert.Equal(t, store.Creator{FirstName: "William", LastName: "Kennedy"}, item.Creators[0])
	assert.Equal(t, item.ID, res.Primary.ID)
	assert.Equal(t, int32(1), notified.Load())
}

func TestService_IngestFollowsLinks(t *testing.T) {
	listing := `<html><body><a href="/item/1">one</a><a href="/item/2">two</a></body></html>`
	svc := newService(t,
		map[string]string{
			"https://books.example.com/list":   listing,
			"https://books.example.com/item/1": `<html><head><title>One</title></head></html>`,
			"https://books.example.com/item/2": `<html><head><title>Two</title></head></html>`,
		},
		registry.Record{ID: "list", Label: "List", URLPattern: `/list$`, ExtractCode: `
			wait();
			var urls = utilities.collectURLsWithSubstring(doc, "/item/");
			utilities.processDocuments(null, urls, function(d, next) {
				model.addStatement(d.location.href, "http://purl.org/dc/elements/1.1/title", d.title);
				next();
			}, function() { done(); });`},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := svc.Ingest(ctx, "https://books.example.com/list")
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	// collectURLsWithSubstring yields the most recently found link first.
	assert.Equal(t, "Two", res.Items[0].Fields["title"])
	assert.Equal(t, "One", res.Items[1].Fields["title"])
}

func TestService_NoScraper(t *testing.T) {
	svc := newService(t,
		map[string]string{"https://books.example.com/item/42": bookPage},
		registry.Record{ID: "other", Label: "Other", URLPattern: `example\.org`, ExtractCode: bookScraper},
	)
	_, err := svc.Ingest(context.Background(), "https://books.example.com/item/42")
	assert.True(t, models.IsCode(err, models.ErrCodeNoScraper))
}

func TestService_NavigationFailure(t *testing.T) {
	svc := newService(t, map[string]string{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := svc.Ingest(ctx, "https://nowhere.invalid/")
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.ErrCodePipeline))
}

func TestService_TimeoutWhenScraperNeverCompletes(t *testing.T) {
	svc := newService(t,
		map[string]string{"https://books.example.com/item/42": bookPage},
		registry.Record{ID: "stuck", Label: "Stuck", URLPattern: "books", ExtractCode: `wait();`},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := svc.Ingest(ctx, "https://books.example.com/item/42")
	assert.True(t, models.IsCode(err, models.ErrCodeTimeout))
}
