// Package loop provides the single interactive goroutine that owns a
// console's document and session, plus the worker primitive used to run
// work off that goroutine.
//
// Everything that touches the document runs through Post (or Call). Work
// that may block runs through Go and reports back with Post.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Errors returned by the loop.
var (
	// ErrAlreadyRunning indicates Run was called on a running loop.
	ErrAlreadyRunning = errors.New("loop already running")

	// ErrStopped indicates the loop stopped before a Call task ran.
	ErrStopped = errors.New("loop stopped")
)

// Loop serializes tasks onto one goroutine.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	running atomic.Bool
	stopped chan struct{}

	workers sync.WaitGroup
}

// New creates a loop. Tasks posted before Run are kept and run in order
// once Run starts.
func New() *Loop {
	return &Loop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Post queues fn to run on the loop goroutine. It never blocks, so workers
// can post results while the loop is busy.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Go runs fn on a new worker goroutine tracked by Wait.
func (l *Loop) Go(fn func()) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		fn()
	}()
}

// Wait blocks until every worker started with Go has returned.
func (l *Loop) Wait() {
	l.workers.Wait()
}

// Call posts fn and waits for it to run. It returns ctx.Err() if ctx ends
// first and ErrStopped if the loop stops first.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		// The task may have run just before the loop stopped.
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Running reports whether Run is active.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Run processes tasks until ctx is done. Tasks still queued at that point
// are dropped. Run may be called only once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		l.running.Store(false)
		close(l.stopped)
	}()

	for {
		for _, fn := range l.take() {
			if ctx.Err() != nil {
				return nil
			}
			fn()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// take drains the queue.
func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	tasks := l.queue
	l.queue = nil
	return tasks
}
