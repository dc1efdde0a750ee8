// Package lua evaluates console commands in an embedded, sandboxed Lua
// state.
//
// Each command is first tried as an expression ("return <command>") and
// then as a statement block. The result text is everything the command
// printed followed by its return values, tab separated. Errors come back
// as "error: <message>" rather than failing the command.
package lua

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/evalconsole/internal/logging"
)

// DefaultTimeout bounds a single evaluation.
const DefaultTimeout = 5 * time.Second

// ErrClosed indicates the evaluator has been closed.
var ErrClosed = errors.New("lua evaluator closed")

// Evaluator wraps a gopher-lua state.
//
// gopher-lua's LState is not goroutine-safe; every access goes through mu,
// so commands and script reloads are serialized.
type Evaluator struct {
	mu     sync.Mutex
	L      *lua.LState
	out    strings.Builder
	closed bool

	timeout time.Duration
	script  string
	log     *logging.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTimeout sets the per-command timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d >= 0 {
			e.timeout = d
		}
	}
}

// WithScript sets a Lua file to run at startup and on Reload.
func WithScript(path string) Option {
	return func(e *Evaluator) {
		e.script = path
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.log = l
		}
	}
}

// New creates an evaluator and runs the startup script, if any.
func New(opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		timeout: DefaultTimeout,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithComponent("lua")

	e.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(e.L)
	e.installPrint()

	if e.script != "" {
		if err := e.Reload(); err != nil {
			e.L.Close()
			return nil, err
		}
	}
	return e, nil
}

// openSafeLibraries opens only the side-effect free standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// No io, os, debug or package. File loading stays on the Go side.
	for _, name := range []string{"dofile", "loadfile"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// installPrint redirects print into the evaluator's output buffer.
func (e *Evaluator) installPrint() {
	e.L.SetGlobal("print", e.L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		for i := 1; i <= top; i++ {
			if i > 1 {
				e.out.WriteByte('\t')
			}
			e.out.WriteString(L.ToStringMeta(L.Get(i)).String())
		}
		e.out.WriteByte('\n')
		return 0
	}))
}

// Handle evaluates command and reports the result text.
func (e *Evaluator) Handle(ctx context.Context, command string, done func(result string)) {
	done(e.Eval(ctx, command))
}

// Eval evaluates command and returns the text to print.
func (e *Evaluator) Eval(ctx context.Context, command string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "error: " + ErrClosed.Error()
	}
	if strings.TrimSpace(command) == "" {
		return ""
	}

	e.out.Reset()
	values, err := e.call(ctx, command)

	var b strings.Builder
	b.WriteString(e.out.String())
	if err != nil {
		b.WriteString("error: ")
		b.WriteString(err.Error())
	} else {
		b.WriteString(strings.Join(values, "\t"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// call compiles command as an expression or, failing that, as a block,
// and runs it with the timeout applied.
func (e *Evaluator) call(ctx context.Context, command string) ([]string, error) {
	fn, err := e.L.LoadString("return " + command)
	if err != nil {
		fn, err = e.L.LoadString(command)
		if err != nil {
			return nil, luaError(err)
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	e.L.SetContext(ctx)
	defer e.L.RemoveContext()

	top := e.L.GetTop()
	defer e.L.SetTop(top)

	e.L.Push(fn)
	if err := e.pcall(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, luaError(err)
	}

	n := e.L.GetTop() - top
	values := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		values = append(values, e.L.ToStringMeta(e.L.Get(top+i)).String())
	}
	return values, nil
}

// pcall runs the pushed function with panic recovery.
func (e *Evaluator) pcall() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return e.L.PCall(0, lua.MultRet, nil)
}

// luaError strips the stack trace from gopher-lua errors.
func luaError(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return errors.New(apiErr.Object.String())
	}
	return err
}

// Reload runs the startup script again in the current state.
func (e *Evaluator) Reload() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.script == "" {
		return nil
	}

	e.out.Reset()
	if err := e.L.DoFile(e.script); err != nil {
		return fmt.Errorf("load script %s: %w", e.script, luaError(err))
	}
	e.log.Info("loaded %s", e.script)
	return nil
}

// Watch reloads the startup script whenever it changes, until ctx is done.
// The script's directory is watched so editors that replace the file are
// also picked up.
func (e *Evaluator) Watch(ctx context.Context) error {
	if e.script == "" {
		return nil
	}
	path, err := filepath.Abs(e.script)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := e.Reload(); err != nil {
				e.log.Warn("reload: %v", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.log.Warn("watch: %v", err)
		}
	}
}

// Close releases the Lua state.
func (e *Evaluator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.L.Close()
	return nil
}
