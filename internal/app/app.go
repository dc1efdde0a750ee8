// Package app wires the console together: document, loop, command handler,
// session and frontend.
package app

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/evalconsole/internal/config"
	"github.com/dshills/evalconsole/internal/console"
	"github.com/dshills/evalconsole/internal/document"
	"github.com/dshills/evalconsole/internal/frontend/stream"
	"github.com/dshills/evalconsole/internal/frontend/terminal"
	"github.com/dshills/evalconsole/internal/handler/dap"
	"github.com/dshills/evalconsole/internal/handler/lua"
	"github.com/dshills/evalconsole/internal/logging"
	"github.com/dshills/evalconsole/internal/loop"
)

// dialTimeout bounds connecting to and configuring a debug adapter.
const dialTimeout = 10 * time.Second

// Application errors.
var (
	// ErrAlreadyRunning indicates the application is already running.
	ErrAlreadyRunning = errors.New("application already running")
)

// InitError represents an initialization error.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Options configures the application.
type Options struct {
	// Config holds the resolved settings. Nil means config.Default().
	Config *config.Config
	Logger *logging.Logger

	// Stdin and Stdout are used by the plain frontend.
	Stdin  io.Reader
	Stdout io.Writer
	// Interactive makes the plain frontend print the prompt before reading.
	Interactive bool

	// Screen is used by the terminal frontend. Nil opens the real terminal.
	Screen tcell.Screen
}

type frontend interface {
	Run(ctx context.Context) error
}

// Application owns every component of a running console.
type Application struct {
	opts Options
	cfg  *config.Config
	log  *logging.Logger

	doc      *document.Document
	loop     *loop.Loop
	session  *console.Session
	frontend frontend
	view     *terminal.View

	handler console.Handler
	closer  io.Closer
	watch   func(ctx context.Context) error

	// ctx is passed to every dispatched command and ends with the app.
	ctx    context.Context
	cancel context.CancelFunc

	running      atomic.Bool
	shutdownOnce sync.Once
}

// New creates an application and starts its command handler.
func New(opts Options) (*Application, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	app := &Application{
		opts: opts,
		cfg:  opts.Config,
		log:  opts.Logger.WithComponent("app"),
	}
	app.ctx, app.cancel = context.WithCancel(context.Background())

	if err := app.bootstrap(); err != nil {
		app.shutdown()
		return nil, err
	}
	return app, nil
}

// bootstrap initializes components in dependency order.
func (app *Application) bootstrap() error {
	if err := app.cfg.Validate(); err != nil {
		return &InitError{Component: "config", Err: err}
	}

	// 1. Document and loop
	app.doc = document.New(document.WithLineEnding(app.cfg.DocumentLineEnding()))
	app.loop = loop.New()

	// 2. Command handler
	if err := app.startHandler(); err != nil {
		return &InitError{Component: "handler " + app.cfg.Handler, Err: err}
	}

	// 3. Session and frontend
	dispatcher := console.NewDispatcher(app.handler, app.loop, app.loop,
		console.WithDispatchLogger(app.opts.Logger))
	sessionOpts := []console.Option{
		console.WithPrompt(app.cfg.Prompt),
		console.WithLogger(app.opts.Logger),
		console.WithContext(app.ctx),
	}

	if app.cfg.Plain {
		var sf *stream.Frontend
		sessionOpts = append(sessionOpts, console.WithIdleFunc(func() { sf.Idle() }))
		app.session = console.New(app.doc, dispatcher, sessionOpts...)
		sf = stream.New(app.doc, app.session, app.loop, app.opts.Stdin, app.opts.Stdout,
			stream.WithInvitation(app.session.Prompt().Invitation()),
			stream.WithShowPrompt(app.opts.Interactive),
			stream.WithLogger(app.opts.Logger))
		app.frontend = sf
		return nil
	}

	screen := app.opts.Screen
	if screen == nil {
		var err error
		if screen, err = tcell.NewScreen(); err != nil {
			return &InitError{Component: "terminal", Err: err}
		}
	}
	app.view = terminal.New(screen, app.doc, app.loop, terminal.WithLogger(app.opts.Logger))
	sessionOpts = append(sessionOpts, console.WithViewer(app.view))
	app.session = console.New(app.doc, dispatcher, sessionOpts...)
	app.view.Bind(app.session)
	app.frontend = app.view
	return nil
}

func (app *Application) startHandler() error {
	switch app.cfg.Handler {
	case config.HandlerDAP:
		ctx, cancel := context.WithTimeout(app.ctx, dialTimeout)
		defer cancel()
		ev, err := dap.Dial(ctx, dap.Options{
			Address:   app.cfg.DAP.Address,
			Command:   app.cfg.DAP.Command,
			AdapterID: app.cfg.DAP.AdapterID,
			Mode:      app.cfg.DAP.Mode,
			Arguments: app.cfg.DAP.Arguments,
			Timeout:   app.cfg.DAP.Timeout.Duration,
			Logger:    app.opts.Logger,
		})
		if err != nil {
			return err
		}
		app.handler, app.closer = ev, ev
	default:
		ev, err := lua.New(
			lua.WithScript(app.cfg.Lua.Script),
			lua.WithTimeout(app.cfg.Lua.Timeout.Duration),
			lua.WithLogger(app.opts.Logger),
		)
		if err != nil {
			return err
		}
		app.handler, app.closer = ev, ev
		if app.cfg.Lua.Watch && app.cfg.Lua.Script != "" {
			app.watch = ev.Watch
		}
	}
	return nil
}

// Run shows the first prompt and serves the frontend until it finishes,
// ctx is done or Shutdown is called.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(app.ctx, cancel)
	defer stop()

	if app.view != nil {
		if err := app.view.Init(); err != nil {
			return &InitError{Component: "terminal", Err: err}
		}
		defer app.view.Close()
	}

	app.loop.Post(app.session.Clear)
	app.log.Info("console started (handler=%s, plain=%v)", app.cfg.Handler, app.cfg.Plain)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.loop.Run(gctx)
	})
	if app.watch != nil {
		g.Go(func() error {
			return app.watch(gctx)
		})
	}
	g.Go(func() error {
		// The console ends with its frontend.
		defer cancel()
		return app.frontend.Run(gctx)
	})

	err := g.Wait()
	app.Shutdown()
	return err
}

// Shutdown cancels in-flight commands and releases the handler.
func (app *Application) Shutdown() {
	app.shutdown()
}

func (app *Application) shutdown() {
	app.shutdownOnce.Do(func() {
		app.cancel()
		if app.closer != nil {
			if err := app.closer.Close(); err != nil {
				app.log.Warn("close handler: %v", err)
			}
		}
	})
}

// IsRunning reports whether Run is active.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Document returns the console document.
func (app *Application) Document() *document.Document {
	return app.doc
}

// Session returns the console session.
func (app *Application) Session() *console.Session {
	return app.session
}

// Loop returns the interactive loop.
func (app *Application) Loop() *loop.Loop {
	return app.loop
}
