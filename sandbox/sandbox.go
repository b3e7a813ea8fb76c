// Package sandbox evaluates scraper scripts against a single page.
//
// A script sees exactly these globals besides the ECMAScript built-ins:
// doc, model, utilities, XPathResult and, while extracting, wait and done.
// There is no module loader, timer, console or network access other than
// what utilities provides.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/use-agent/ingester/datamodel"
	"github.com/use-agent/ingester/document"
	"github.com/use-agent/ingester/fetch"
	"github.com/use-agent/ingester/utility"
)

var errClosed = errors.New("sandbox: closed")

// Runner runs the fetch pipeline on behalf of processDocuments and
// loadDocument. *fetch.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, preloaded *document.Document, urls []string,
		processor fetch.Processor, onDone func(), onError func(error)) error
}

// HTTPClient backs utilities.HTTPUtilities. *utility.HTTP satisfies it.
type HTTPClient interface {
	Get(ctx context.Context, target string, onStatus utility.StatusFunc, onDone utility.DoneFunc)
	Post(ctx context.Context, target, body string, onStatus utility.StatusFunc, onDone utility.DoneFunc)
	Options(ctx context.Context, target, body string, onStatus utility.StatusFunc, onDone utility.DoneFunc)
}

// Options configures a Sandbox.
type Options struct {
	Document *document.Document
	Model    *datamodel.Model
	Runner   Runner     // nil disables processDocuments / loadDocument
	HTTP     HTTPClient // nil disables HTTPUtilities

	// ScriptTimeout bounds each synchronous script or callback run.
	// Zero means unbounded.
	ScriptTimeout time.Duration
}

// Sandbox is an isolated script environment bound to one document's origin.
// All methods are safe for concurrent use; script execution is serialized.
type Sandbox struct {
	origin  string
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	loop    *loop
	rt      *goja.Runtime
	timeout time.Duration

	// Owned by the loop goroutine.
	handles    map[*goja.Object]*document.Element
	docObjects map[*document.Document]*goja.Object
}

// New creates a sandbox for opts.Document. ctx bounds every asynchronous
// helper started from the scripts; Close cancels it as well.
func New(ctx context.Context, opts Options) (*Sandbox, error) {
	if opts.Document == nil {
		return nil, errors.New("sandbox: document is required")
	}
	if opts.Model == nil {
		return nil, errors.New("sandbox: model is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Sandbox{
		origin:     opts.Document.URL(),
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		loop:       newLoop(),
		timeout:    opts.ScriptTimeout,
		handles:    make(map[*goja.Object]*document.Element),
		docObjects: make(map[*document.Document]*goja.Object),
	}
	err := s.loop.call(func() error {
		s.rt = goja.New()
		s.rt.SetFieldNameMapper(goja.UncapFieldNameMapper())
		return s.install()
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Origin is the URL of the document the sandbox was created for.
func (s *Sandbox) Origin() string { return s.origin }

// Close stops the script loop and cancels outstanding helpers.
// Callbacks arriving afterwards are dropped.
func (s *Sandbox) Close() {
	s.cancel()
	s.loop.close()
}

func (s *Sandbox) install() error {
	rt := s.rt
	if err := rt.Set("doc", s.wrapDocument(s.opts.Document)); err != nil {
		return err
	}
	if err := rt.Set("model", s.opts.Model); err != nil {
		return err
	}
	if err := rt.Set("utilities", s.utilities()); err != nil {
		return err
	}
	types := newFrozen()
	for name, v := range xpathResultTypes {
		types.constant(name, rt.ToValue(v))
	}
	return rt.Set("XPathResult", rt.NewDynamicObject(types))
}

// Detect evaluates detect code as the body of a function and returns the
// truthiness of its result. wait and done are not available to it.
func (s *Sandbox) Detect(code string) (bool, error) {
	var verdict bool
	err := s.loop.call(func() error {
		g := s.rt.GlobalObject()
		_ = g.Delete("wait")
		_ = g.Delete("done")
		v, err := s.run("detect", "(function(){\n"+code+"\n})()")
		if err != nil {
			return err
		}
		verdict = v.ToBoolean()
		return nil
	})
	return verdict, err
}

// Extract evaluates extract code. The returned Completion is already
// resolved unless the script called wait(), in which case it resolves on
// the first later call to done().
func (s *Sandbox) Extract(code string) (*Completion, error) {
	c := newCompletion()
	err := s.loop.call(func() error {
		if err := s.rt.Set("wait", func() { c.async.Store(true) }); err != nil {
			return err
		}
		if err := s.rt.Set("done", func() {
			if !c.async.Load() {
				slog.Debug("sandbox: done() without wait() ignored", "origin", s.origin)
				return
			}
			c.resolve()
		}); err != nil {
			return err
		}
		if _, err := s.run("extract", code); err != nil {
			return err
		}
		if !c.async.Load() {
			c.resolve()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// run executes src on the loop goroutine under the script timeout.
func (s *Sandbox) run(name, src string) (goja.Value, error) {
	stop := s.guard()
	defer stop()
	v, err := s.rt.RunScript(name, src)
	if err != nil {
		return nil, s.scriptError(err)
	}
	return v, nil
}

// invoke calls a script function on the loop goroutine under the script
// timeout.
func (s *Sandbox) invoke(fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	stop := s.guard()
	defer stop()
	v, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, s.scriptError(err)
	}
	return v, nil
}

// callback posts fn to the loop and logs exceptions it raises.
func (s *Sandbox) callback(helper string, fn goja.Callable, args func() []goja.Value) {
	if fn == nil {
		return
	}
	ok := s.loop.post(func() {
		if _, err := s.invoke(fn, args()...); err != nil {
			slog.Warn("sandbox: callback failed", "helper", helper, "origin", s.origin, "error", err)
		}
	})
	if !ok {
		slog.Debug("sandbox: callback dropped after close", "helper", helper, "origin", s.origin)
	}
}

// guard arms the interrupt timer for one script run.
func (s *Sandbox) guard() func() {
	if s.timeout <= 0 {
		return func() {}
	}
	var mu sync.Mutex
	active := true
	timer := time.AfterFunc(s.timeout, func() {
		mu.Lock()
		defer mu.Unlock()
		if active {
			s.rt.Interrupt(fmt.Sprintf("script exceeded %s", s.timeout))
		}
	})
	return func() {
		mu.Lock()
		active = false
		mu.Unlock()
		timer.Stop()
		s.rt.ClearInterrupt()
	}
}

func (s *Sandbox) scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%v", interrupted.Value())
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fmt.Errorf("%s", ex.Error())
	}
	return err
}

// Completion tracks whether an extraction has finished.
type Completion struct {
	async atomic.Bool
	once  sync.Once
	done  chan struct{}
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Done is closed when the extraction completes.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Async reports whether the script requested asynchronous completion.
func (c *Completion) Async() bool { return c.async.Load() }

func (c *Completion) resolve() {
	c.once.Do(func() { close(c.done) })
}
