package fetch

import (
	"context"
	"errors"
	"sync"

	"github.com/use-agent/ingester/document"
)

// fakeContext is an in-memory BrowsingContext. With auto set, every
// navigation first reports an unrelated frame load and then the real one.
type fakeContext struct {
	mu        sync.Mutex
	auto      bool
	next      int
	handlers  map[int]func(NavigationEvent)
	navigated []string
	current   string
	failNav   map[string]bool
	failDoc   map[string]bool
	navCh     chan string
}

func newFakeContext(auto bool) *fakeContext {
	return &fakeContext{
		auto:     auto,
		handlers: map[int]func(NavigationEvent){},
		failNav:  map[string]bool{},
		failDoc:  map[string]bool{},
		navCh:    make(chan string, 32),
	}
}

func (f *fakeContext) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	f.navigated = append(f.navigated, url)
	fail := f.failNav[url]
	if !fail {
		f.current = url
	}
	f.mu.Unlock()
	f.navCh <- url
	if fail {
		return errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	if f.auto {
		go func() {
			f.emit(NavigationEvent{Requested: url, Completed: url + "/frame.html"})
			f.emit(NavigationEvent{Requested: url, Completed: url})
		}()
	}
	return nil
}

func (f *fakeContext) CurrentDocument(_ context.Context) (*document.Document, error) {
	f.mu.Lock()
	current := f.current
	fail := f.failDoc[current]
	f.mu.Unlock()
	if fail {
		return nil, errors.New("target closed")
	}
	return document.Parse(current, "<html><head><title>"+current+"</title></head><body></body></html>")
}

func (f *fakeContext) Subscribe(handler func(NavigationEvent)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.handlers[id] = handler
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

func (f *fakeContext) emit(ev NavigationEvent) {
	f.mu.Lock()
	hs := make([]func(NavigationEvent), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeContext) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeContext) navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigated...)
}
