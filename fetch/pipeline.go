// Package fetch drives a browsing context through a list of URLs, one
// document at a time.
//
// A run is a small state machine:
//
//	NotStarted → (Preload | AwaitingNavigation) → Processing → (AwaitingNavigation | Done)
//
// The pipeline only leaves AwaitingNavigation when the browsing context
// reports a completed navigation for exactly the URL that was requested,
// and only leaves Processing when the processor invokes its proceed
// continuation. Any state may end in Failed, which is terminal for the run.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/ingester/document"
	"github.com/use-agent/ingester/models"
)

// NavigationEvent reports that a load finished in the browsing context.
// Completed differs from Requested for sub-resource and frame loads.
type NavigationEvent struct {
	Requested string
	Completed string
}

// BrowsingContext is the single browser tab a pipeline navigates.
type BrowsingContext interface {
	// Navigate starts loading url. It returns once the navigation has been
	// issued, not when it completes.
	Navigate(ctx context.Context, url string) error
	// CurrentDocument snapshots the loaded page.
	CurrentDocument(ctx context.Context) (*document.Document, error)
	// Subscribe registers handler for navigation events until the returned
	// function is called.
	Subscribe(handler func(NavigationEvent)) (unsubscribe func())
}

// Processor handles one loaded document. It must call proceed, directly or
// later from another goroutine, to let the pipeline move on.
type Processor func(doc *document.Document, proceed func()) error

// ErrorPolicy decides what a run does after reporting a per-URL failure.
type ErrorPolicy int

const (
	// PolicyContinue reports the failure and moves to the next URL.
	PolicyContinue ErrorPolicy = iota
	// PolicyHalt reports the failure and ends the run without onDone.
	PolicyHalt
)

// ParsePolicy maps "continue" / "halt" to an ErrorPolicy.
func ParsePolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "", "continue":
		return PolicyContinue, nil
	case "halt":
		return PolicyHalt, nil
	}
	return PolicyContinue, fmt.Errorf("fetch: unknown error policy %q", s)
}

// State is the position of a run in its state machine.
type State int

const (
	StateNotStarted State = iota
	StatePreload
	StateAwaitingNavigation
	StateProcessing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StatePreload:
		return "preload"
	case StateAwaitingNavigation:
		return "awaiting_navigation"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Config tunes a Pipeline.
type Config struct {
	// DoneDelay defers onDone so it never runs inside navigation handling.
	DoneDelay time.Duration // default: 10ms
	Policy    ErrorPolicy
}

// Pipeline owns a browsing context for the duration of each Run.
// Only one run may navigate the context at a time.
type Pipeline struct {
	bc   BrowsingContext
	cfg  Config
	busy atomic.Bool
}

// New creates a Pipeline over bc.
func New(bc BrowsingContext, cfg Config) *Pipeline {
	if cfg.DoneDelay <= 0 {
		cfg.DoneDelay = 10 * time.Millisecond
	}
	return &Pipeline{bc: bc, cfg: cfg}
}

// Busy reports whether a run currently owns the browsing context.
func (p *Pipeline) Busy() bool { return p.busy.Load() }

// Policy returns the configured error policy.
func (p *Pipeline) Policy() ErrorPolicy { return p.cfg.Policy }

// Run processes preloaded (when non-nil) and then each URL in order.
//
// With no URLs the browsing context is not touched: preloaded is handed to
// processor with onDone as its continuation, or onDone is called at once.
// Otherwise Run returns after setup and the run proceeds asynchronously.
// Cancelling ctx stops further navigation and reports a PIPELINE_CANCELED
// error through onError. Run itself only fails when another run is in
// progress.
func (p *Pipeline) Run(ctx context.Context, preloaded *document.Document, urls []string,
	processor Processor, onDone func(), onError func(error)) error {
	if onDone == nil {
		onDone = func() {}
	}
	if onError == nil {
		onError = func(err error) { slog.Warn("fetch: unhandled pipeline error", "error", err) }
	}

	if len(urls) == 0 {
		if preloaded == nil {
			onDone()
			return nil
		}
		go func() {
			if err := safeProcess(processor, preloaded, onDone); err != nil {
				onError(err)
			}
		}()
		return nil
	}

	if !p.busy.CompareAndSwap(false, true) {
		return models.NewIngestError(models.ErrCodePipelineBusy, "browsing context is in use by another run", nil)
	}

	r := &run{
		p:         p,
		ctx:       ctx,
		urls:      append([]string(nil), urls...),
		processor: processor,
		onDone:    onDone,
		onError:   onError,
		cursor:    -1,
		stopped:   make(chan struct{}),
	}
	r.unsubscribe = p.bc.Subscribe(r.onNavigation)
	go r.watch()

	if preloaded != nil {
		r.mu.Lock()
		r.state = StatePreload
		step := r.step
		r.mu.Unlock()
		go r.process(preloaded, step)
		return nil
	}
	go r.advance(0)
	return nil
}

// run is the state of one Run invocation.
type run struct {
	p         *Pipeline
	ctx       context.Context
	urls      []string
	processor Processor
	onDone    func()
	onError   func(error)

	mu          sync.Mutex
	state       State
	cursor      int
	step        uint64 // bumped on every advance; stale continuations compare against it
	finished    bool
	unsubscribe func()
	stopOnce    sync.Once
	stopped     chan struct{}
}

// advance moves the cursor to the next URL if the run is still at step from.
func (r *run) advance(from uint64) {
	r.mu.Lock()
	if r.finished || r.step != from {
		r.mu.Unlock()
		return
	}
	if err := r.ctx.Err(); err != nil {
		r.mu.Unlock()
		r.fail(canceled(err))
		return
	}
	r.step++
	r.cursor++
	if r.cursor >= len(r.urls) {
		r.state = StateDone
		r.finished = true
		r.mu.Unlock()
		r.stop()
		time.AfterFunc(r.p.cfg.DoneDelay, r.onDone)
		return
	}
	r.state = StateAwaitingNavigation
	target := r.urls[r.cursor]
	step := r.step
	r.mu.Unlock()

	slog.Debug("fetch: navigating", "url", target, "index", r.cursor)
	if err := r.p.bc.Navigate(r.ctx, target); err != nil {
		r.failStep(step, models.NewIngestError(models.ErrCodePipeline, "navigate to "+target, err))
	}
}

// onNavigation is the browsing-context subscription handler.
func (r *run) onNavigation(ev NavigationEvent) {
	r.mu.Lock()
	if r.finished || r.state != StateAwaitingNavigation {
		r.mu.Unlock()
		return
	}
	target := r.urls[r.cursor]
	if ev.Requested != target || ev.Completed != target {
		r.mu.Unlock()
		slog.Debug("fetch: ignoring unrelated load", "requested", ev.Requested, "completed", ev.Completed)
		return
	}
	r.state = StateProcessing
	step := r.step
	r.mu.Unlock()

	go r.load(target, step)
}

func (r *run) load(target string, step uint64) {
	doc, err := r.p.bc.CurrentDocument(r.ctx)
	if err != nil {
		r.failStep(step, models.NewIngestError(models.ErrCodePipeline, "read document "+target, err))
		return
	}
	r.process(doc, step)
}

func (r *run) process(doc *document.Document, step uint64) {
	var once sync.Once
	proceed := func() {
		once.Do(func() { go r.advance(step) })
	}
	if err := safeProcess(r.processor, doc, proceed); err != nil {
		r.failStep(step, models.NewIngestError(models.ErrCodePipeline, "process "+doc.URL(), err))
	}
}

// failStep reports err for the URL at step and applies the error policy.
func (r *run) failStep(step uint64, err error) {
	if r.p.cfg.Policy == PolicyHalt {
		r.fail(err)
		return
	}
	r.mu.Lock()
	stale := r.finished || r.step != step
	r.mu.Unlock()
	if stale {
		// The processor already moved on; the failure is still worth reporting.
		r.onError(err)
		return
	}
	r.onError(err)
	r.advance(step)
}

// fail ends the run and reports err. Later continuations are ignored.
func (r *run) fail(err error) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.state = StateFailed
	r.mu.Unlock()
	r.stop()
	r.onError(err)
}

// watch turns context cancellation into a terminal error.
func (r *run) watch() {
	select {
	case <-r.ctx.Done():
		r.fail(canceled(r.ctx.Err()))
	case <-r.stopped:
	}
}

// stop releases the subscription and the browsing context.
func (r *run) stop() {
	r.stopOnce.Do(func() {
		if r.unsubscribe != nil {
			r.unsubscribe()
		}
		close(r.stopped)
		r.p.busy.Store(false)
	})
}

func canceled(err error) error {
	return models.NewIngestError(models.ErrCodePipelineCanceled, "run canceled", err)
}

// safeProcess converts a panicking processor into an error.
func safeProcess(processor Processor, doc *document.Document, proceed func()) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("processor panicked: %v", rec)
		}
	}()
	return processor(doc, proceed)
}
