package sandbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/ingester/datamodel"
	"github.com/use-agent/ingester/document"
	"github.com/use-agent/ingester/fetch"
	"github.com/use-agent/ingester/store"
	"github.com/use-agent/ingester/utility"
)

const page = `<html><head><title>A Book</title></head><body>
<div id="meta"><span class="t">  Go in Action&nbsp;</span><span class="a">Jane Doe</span></div>
<a href="/isbn/1">one</a><a href="/other">x</a><a href="/isbn/2">two</a><a href="/isbn/1">again</a>
</body></html>`

func newDoc(t *testing.T, url, body string) *document.Document {
	t.Helper()
	doc, err := document.Parse(url, body)
	require.NoError(t, err)
	return doc
}

func newSandbox(t *testing.T, opts Options) (*Sandbox, *datamodel.Model) {
	t.Helper()
	if opts.Document == nil {
		opts.Document = newDoc(t, "https://books.example.com/item/42", page)
	}
	if opts.Model == nil {
		opts.Model = datamodel.New()
	}
	s, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, opts.Model
}

func resolved(c *Completion, within time.Duration) bool {
	select {
	case <-c.Done():
		return true
	case <-time.After(within):
		return false
	}
}

func TestDetect_Truthiness(t *testing.T) {
	s, _ := newSandbox(t, Options{})
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"true", `return doc.location.href.indexOf("books.example.com") >= 0;`, true},
		{"false", `return false;`, false},
		{"truthy string", `return "yes";`, true},
		{"zero", `return 0;`, false},
		{"no return", `var x = 1;`, false},
		{"title", `return doc.title == "A Book";`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Detect(tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetect_Errors(t *testing.T) {
	s, _ := newSandbox(t, Options{})

	_, err := s.Detect(`throw new Error("nope");`)
	assert.ErrorContains(t, err, "nope")

	_, err = s.Detect(`return (;`)
	assert.Error(t, err)
}

func TestDetect_HasNoCompletionFunctions(t *testing.T) {
	s, _ := newSandbox(t, Options{})

	_, err := s.Extract(`var seen = typeof wait;`)
	require.NoError(t, err)

	got, err := s.Detect(`return typeof wait === "undefined" && typeof done === "undefined";`)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestSandbox_NoAmbientGlobals(t *testing.T) {
	s, _ := newSandbox(t, Options{})
	got, err := s.Detect(`return typeof require === "undefined" &&
		typeof setTimeout === "undefined" &&
		typeof console === "undefined" &&
		typeof XMLHttpRequest === "undefined" &&
		typeof browser === "undefined";`)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestSandbox_DocumentIsReadOnly(t *testing.T) {
	s, _ := newSandbox(t, Options{})
	got, err := s.Detect(`
		doc.title = "changed";
		doc.location = null;
		delete doc.URL;
		return doc.title === "A Book" && doc.location.href === "https://books.example.com/item/42" && doc.URL !== undefined;`)
	require.NoError(t, err)
	assert.True(t, got)

	_, err = s.Detect(`"use strict"; doc.title = "changed"; return true;`)
	assert.Error(t, err)
}

func TestSandbox_ScriptTimeout(t *testing.T) {
	s, _ := newSandbox(t, Options{ScriptTimeout: 50 * time.Millisecond})

	_, err := s.Detect(`while (true) {}`)
	assert.ErrorContains(t, err, "script exceeded")

	// The runtime is usable again afterwards.
	got, err := s.Detect(`return true;`)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestExtract_SynchronousCompletesImmediately(t *testing.T) {
	s, model := newSandbox(t, Options{})

	c, err := s.Extract(`
		var uri = doc.location.href;
		var t = utilities.gatherElementsOnXPath(doc, doc, '//span[@class="t"]')[0];
		model.addStatement(uri, "http://purl.org/dc/elements/1.1/title", utilities.trimString(t.textContent));
		model.addStatement(uri, "http://purl.org/dc/elements/1.1/creator", utilities.select(doc, null, "span.a")[0].textContent);
		done();`)
	require.NoError(t, err)
	assert.True(t, resolved(c, 0))
	assert.False(t, c.Async())

	title, ok := model.Get("https://books.example.com/item/42", "http://purl.org/dc/elements/1.1/title")
	require.True(t, ok)
	assert.Equal(t, "Go in Action", title)
	creator, _ := model.Get("https://books.example.com/item/42", "http://purl.org/dc/elements/1.1/creator")
	assert.Equal(t, "Jane Doe", creator)
}

func TestExtract_NullishStatementValuesMapToNothing(t *testing.T) {
	s, model := newSandbox(t, Options{})

	c, err := s.Extract(`
		var dc = "http://purl.org/dc/elements/1.1/";
		model.addStatement("http://x", dc + "title", undefined);
		model.addStatement("http://x", dc + "publisher", null);
		model.addStatement("http://x", dc + "edition", "");
		model.addStatement("http://x", dc + "creator", undefined);
		model.addStatement("http://x", dc + "year", "Reading 1994");`)
	require.NoError(t, err)
	assert.True(t, resolved(c, 0))

	title, ok := model.Get("http://x", store.PrefixDC+"title")
	require.True(t, ok)
	assert.Empty(t, title)

	item := store.DefaultMapping().Apply("http://x", model.Predicates("http://x"))
	assert.Equal(t, map[string]string{"date": "1994"}, item.Fields)
	assert.Empty(t, item.Creators)
}

func TestExtract_ErrorReturnsNoCompletion(t *testing.T) {
	s, model := newSandbox(t, Options{})
	c, err := s.Extract(`model.addStatement("s", "p", "v"); undefinedFunction();`)
	assert.Error(t, err)
	assert.Nil(t, c)
	assert.Equal(t, 1, model.Len())
}

func TestExtract_LegacyModelCalls(t *testing.T) {
	s, _ := newSandbox(t, Options{})
	c, err := s.Extract(`model.addTag("x", "y"); var r = model.getRepository(); model.detachRepository(r);`)
	require.NoError(t, err)
	assert.True(t, resolved(c, 0))
}

func TestExtract_UtilitiesLinksAndXPathResult(t *testing.T) {
	s, model := newSandbox(t, Options{})
	_, err := s.Extract(`
		var links = utilities.collectURLsWithSubstring(doc, "/isbn/");
		model.addStatement("links", "count", String(links.length));
		model.addStatement("links", "first", links[0]);
		var it = doc.evaluate("//a", doc, null, XPathResult.ANY_TYPE, null);
		var n = 0, a;
		while ((a = it.iterateNext())) { n++; }
		model.addStatement("links", "anchors", String(n));
		model.addStatement("links", "href", doc.querySelector("a").href);
		model.addStatement("links", "node", doc.querySelector("a").nodeName);`)
	require.NoError(t, err)

	preds := model.Predicates("links")
	assert.Equal(t, "2", preds["count"])
	assert.Equal(t, "https://books.example.com/isbn/2", preds["first"])
	assert.Equal(t, "4", preds["anchors"])
	assert.Equal(t, "https://books.example.com/isbn/1", preds["href"])
	assert.Equal(t, "A", preds["node"])
}

func TestExtract_WaitThenDoneFromHTTPCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<record><year>Boston 2004</year></record>"))
	}))
	defer srv.Close()

	s, model := newSandbox(t, Options{HTTP: utility.NewHTTPWithClient(srv.Client(), 5*time.Second)})
	c, err := s.Extract(`
		wait();
		utilities.HTTPUtilities.doGet("` + srv.URL + `", null, function(body) {
			model.addStatement("s", "body", body);
			done();
			done();
		});`)
	require.NoError(t, err)
	assert.True(t, c.Async())
	require.True(t, resolved(c, 3*time.Second))

	body, _ := model.Get("s", "body")
	assert.Contains(t, body, "Boston 2004")
}

func TestExtract_WaitWithoutDoneNeverResolves(t *testing.T) {
	s, _ := newSandbox(t, Options{})
	c, err := s.Extract(`wait();`)
	require.NoError(t, err)
	assert.False(t, resolved(c, 50*time.Millisecond))
}

func TestExtract_HTTPDisabled(t *testing.T) {
	s, _ := newSandbox(t, Options{})
	_, err := s.Extract(`utilities.HTTPUtilities.doGet("http://example.com", null, function() {});`)
	assert.ErrorContains(t, err, "network access is disabled")
}

// autoContext completes every navigation immediately and serves a tiny
// page whose title is its URL.
type autoContext struct {
	mu       sync.Mutex
	current  string
	handlers []func(fetch.NavigationEvent)
	fail     map[string]bool
}

func (a *autoContext) Navigate(_ context.Context, url string) error {
	if a.fail[url] {
		return errors.New("net::ERR_CONNECTION_REFUSED")
	}
	a.mu.Lock()
	a.current = url
	hs := append([]func(fetch.NavigationEvent){}, a.handlers...)
	a.mu.Unlock()
	go func() {
		for _, h := range hs {
			h(fetch.NavigationEvent{Requested: url, Completed: url})
		}
	}()
	return nil
}

func (a *autoContext) CurrentDocument(context.Context) (*document.Document, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return document.Parse(a.current, "<html><head><title>"+a.current+"</title></head></html>")
}

func (a *autoContext) Subscribe(h func(fetch.NavigationEvent)) func() {
	a.mu.Lock()
	a.handlers = append(a.handlers, h)
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		a.handlers = nil
		a.mu.Unlock()
	}
}

func TestExtract_ProcessDocuments(t *testing.T) {
	bc := &autoContext{}
	pipeline := fetch.New(bc, fetch.Config{DoneDelay: time.Millisecond})
	s, model := newSandbox(t, Options{Runner: pipeline})

	c, err := s.Extract(`
		wait();
		var urls = ["https://books.example.com/a", "https://books.example.com/b"];
		utilities.processDocuments(doc, urls, function(d, next) {
			model.addStatement(d.location.href, "title", d.title);
			next();
		}, function() { done(); }, function(e) { model.addStatement("error", "e", String(e)); });`)
	require.NoError(t, err)
	require.True(t, resolved(c, 3*time.Second))

	assert.Equal(t, []string{
		"https://books.example.com/item/42",
		"https://books.example.com/a",
		"https://books.example.com/b",
	}, model.Subjects())
	title, _ := model.Get("https://books.example.com/b", "title")
	assert.Equal(t, "https://books.example.com/b", title)
}

func TestExtract_LoadDocumentFailureCallsFailed(t *testing.T) {
	bc := &autoContext{fail: map[string]bool{"https://books.example.com/missing": true}}
	pipeline := fetch.New(bc, fetch.Config{DoneDelay: time.Millisecond, Policy: fetch.PolicyHalt})
	s, model := newSandbox(t, Options{Runner: pipeline})

	c, err := s.Extract(`
		wait();
		utilities.loadDocument("https://books.example.com/missing", function(d, next) {
			model.addStatement("loaded", "url", d.location.href);
			next();
		}, function(e) {
			model.addStatement("failed", "message", String(e));
			done();
		});`)
	require.NoError(t, err)
	require.True(t, resolved(c, 3*time.Second))

	msg, ok := model.Get("failed", "message")
	require.True(t, ok)
	assert.Contains(t, msg, "ERR_CONNECTION_REFUSED")
	_, loaded := model.Get("loaded", "url")
	assert.False(t, loaded)
}

func TestExtract_ProcessDocumentsWithoutRunner(t *testing.T) {
	s, _ := newSandbox(t, Options{})
	_, err := s.Extract(`utilities.processDocuments(null, [], function() {}, function() {});`)
	assert.ErrorContains(t, err, "no browsing context")
}

func TestSandbox_ClosedRejectsScripts(t *testing.T) {
	s, _ := newSandbox(t, Options{})
	s.Close()
	_, err := s.Detect(`return true;`)
	assert.Error(t, err)
}
