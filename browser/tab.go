package browser

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/ingester/config"
	"github.com/use-agent/ingester/document"
	"github.com/use-agent/ingester/fetch"
	"github.com/use-agent/ingester/models"
	"github.com/ysmood/gson"
)

// Tab is a browsing context backed by one Chrome tab. It reports a
// completed navigation when the main frame fires "load" for the loader
// started by Navigate; sub-frame navigations are reported with the frame's
// own URL so subscribers can tell them apart.
type Tab struct {
	page   *rod.Page
	cfg    config.BrowserConfig
	router *rod.HijackRouter

	mu        sync.Mutex
	handlers  map[int]func(fetch.NavigationEvent)
	nextID    int
	requested string
	loader    proto.NetworkLoaderID
	loaded    map[proto.NetworkLoaderID]bool

	stopEvents context.CancelFunc
}

func newTab(page *rod.Page, cfg config.BrowserConfig) *Tab {
	t := &Tab{
		page:     page,
		cfg:      cfg,
		handlers: make(map[int]func(fetch.NavigationEvent)),
		loaded:   make(map[proto.NetworkLoaderID]bool),
	}
	t.router = setupHijack(page, cfg.BlockedResourceTypes, cfg.BlockAds)

	ctx, cancel := context.WithCancel(context.Background())
	t.stopEvents = cancel
	wait := page.Context(ctx).EachEvent(
		func(e *proto.PageLifecycleEvent) {
			if e.Name == "load" && e.FrameID == page.FrameID {
				t.onMainFrameLoad(e.LoaderID)
			}
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame != nil && e.Frame.ParentID != "" {
				t.onSubframe(e.Frame.URL)
			}
		},
	)
	go wait()
	return t
}

// Navigate starts loading target in the tab.
func (t *Tab) Navigate(ctx context.Context, target string) error {
	t.mu.Lock()
	t.requested = target
	t.loader = ""
	clear(t.loaded)
	t.mu.Unlock()

	if t.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.NavigationTimeout)
		defer cancel()
	}
	p := t.page.Context(ctx)

	if headers := refererHeaders(target); len(headers) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(headers)}.Call(p)
	}

	res, err := proto.PageNavigate{URL: target}.Call(p)
	if err != nil {
		return categorizeError(err, "navigation to "+target+" failed")
	}
	if res.ErrorText != "" {
		return models.NewIngestError(models.ErrCodeNavigation, "navigation to "+target+" failed", errors.New(res.ErrorText))
	}

	t.mu.Lock()
	if t.requested != target {
		t.mu.Unlock()
		return nil
	}
	t.loader = res.LoaderID
	// Same-document navigations have no loader and fire no load event; the
	// load event for a new loader may also have beaten us here.
	complete := res.LoaderID == "" || t.loaded[res.LoaderID]
	t.mu.Unlock()

	if complete {
		t.emit(fetch.NavigationEvent{Requested: target, Completed: target})
	}
	return nil
}

// CurrentDocument snapshots the tab's DOM once it has settled.
func (t *Tab) CurrentDocument(ctx context.Context) (*document.Document, error) {
	p := t.page.Context(ctx)
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}
	raw, err := p.HTML()
	if err != nil {
		return nil, categorizeError(err, "failed to extract page HTML")
	}
	location := evalStringOrEmpty(p, `() => window.location.href`)
	if location == "" {
		t.mu.Lock()
		location = t.requested
		t.mu.Unlock()
	}
	return document.Parse(location, raw)
}

// Subscribe registers handler for navigation events.
func (t *Tab) Subscribe(handler func(fetch.NavigationEvent)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = handler
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.handlers, id)
			t.mu.Unlock()
		})
	}
}

// Close stops event delivery, the request router and the tab itself.
func (t *Tab) Close() {
	t.stopEvents()
	if t.router != nil {
		_ = t.router.Stop()
	}
	if err := t.page.Close(); err != nil {
		slog.Warn("browser: closing tab failed", "error", err)
	}
}

func (t *Tab) onMainFrameLoad(loader proto.NetworkLoaderID) {
	t.mu.Lock()
	if t.loader == "" {
		// Navigate has not returned yet; remember the load for it.
		t.loaded[loader] = true
		t.mu.Unlock()
		return
	}
	if loader != t.loader {
		t.mu.Unlock()
		return
	}
	target := t.requested
	t.mu.Unlock()
	t.emit(fetch.NavigationEvent{Requested: target, Completed: target})
}

func (t *Tab) onSubframe(frameURL string) {
	t.mu.Lock()
	target := t.requested
	t.mu.Unlock()
	if target == "" {
		return
	}
	t.emit(fetch.NavigationEvent{Requested: target, Completed: frameURL})
}

func (t *Tab) emit(ev fetch.NavigationEvent) {
	t.mu.Lock()
	hs := make([]func(fetch.NavigationEvent), 0, len(t.handlers))
	for _, h := range t.handlers {
		hs = append(hs, h)
	}
	t.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// refererHeaders makes the navigation look like it came from a search.
func refererHeaders(target string) map[string]string {
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	return map[string]string{
		"Referer": "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname()),
	}
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors.
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// categorizeError wraps raw errors into typed IngestErrors so the API layer
// can map them to HTTP status codes.
func categorizeError(err error, msg string) *models.IngestError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewIngestError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewIngestError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewIngestError(models.ErrCodeNavigation, msg, err)
	}
}
