package console

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dshills/evalconsole/internal/logging"
)

// Handler executes a command and eventually calls done exactly once with
// the text to print. Failures are reported through the result text.
type Handler interface {
	Handle(ctx context.Context, command string, done func(result string))
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, command string, done func(result string))

// Handle calls f(ctx, command, done).
func (f HandlerFunc) Handle(ctx context.Context, command string, done func(result string)) {
	f(ctx, command, done)
}

// Executor runs work off the interactive goroutine.
type Executor interface {
	Go(fn func())
}

// Poster runs work on the interactive goroutine.
type Poster interface {
	Post(fn func())
}

// Dispatcher runs commands through a Handler on an Executor and delivers
// each result back through a Poster.
type Dispatcher struct {
	handler Handler
	exec    Executor
	post    Poster
	log     *logging.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchLogger sets the logger for handler misbehavior.
func WithDispatchLogger(l *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(h Handler, exec Executor, post Poster, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handler: h,
		exec:    exec,
		post:    post,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.WithComponent("dispatcher")
	return d
}

// Dispatch submits command to the handler on the executor. onComplete runs
// once, through the poster, whichever goroutine the handler finishes on.
// A handler that panics before calling done completes with an error text;
// extra calls to done are logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, command string, onComplete func(result string)) {
	var called atomic.Bool
	done := func(result string) {
		if !called.CompareAndSwap(false, true) {
			d.log.Warn("handler completed %q more than once; ignoring %q", command, result)
			return
		}
		d.post.Post(func() { onComplete(result) })
	}

	d.exec.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("handler panicked on %q: %v", command, r)
				if !called.Load() {
					done(fmt.Sprintf("error: %v", r))
				}
			}
		}()
		d.handler.Handle(ctx, command, done)
	})
}
