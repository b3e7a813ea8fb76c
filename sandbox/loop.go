package sandbox

import (
	"fmt"
	"log/slog"
	"sync"
)

// loop serializes every use of the JavaScript runtime onto one goroutine.
// Callbacks arriving from HTTP requests or the fetch pipeline are queued
// here instead of touching the runtime directly.
type loop struct {
	mu     sync.Mutex
	jobs   []func()
	closed bool
	wake   chan struct{}
	quit   chan struct{}
}

func newLoop() *loop {
	l := &loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	go l.run()
	return l
}

// post queues job. It reports false once the loop is closed.
func (l *loop) post(job func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.jobs = append(l.jobs, job)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs fn on the loop and waits for its result.
func (l *loop) call(fn func() error) error {
	res := make(chan error, 1)
	ok := l.post(func() {
		defer func() {
			if rec := recover(); rec != nil {
				res <- fmt.Errorf("sandbox: panic: %v", rec)
			}
		}()
		res <- fn()
	})
	if !ok {
		return errClosed
	}
	select {
	case err := <-res:
		return err
	case <-l.quit:
		return errClosed
	}
}

func (l *loop) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.jobs = nil
	close(l.quit)
}

func (l *loop) run() {
	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if l.closed || len(l.jobs) == 0 {
				l.mu.Unlock()
				break
			}
			job := l.jobs[0]
			l.jobs[0] = nil
			l.jobs = l.jobs[1:]
			l.mu.Unlock()
			runJob(job)
		}
	}
}

func runJob(job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("sandbox: job panicked", "panic", rec)
		}
	}()
	job()
}
