package console

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/evalconsole/internal/document"
	"github.com/dshills/evalconsole/internal/logging"
)

// Buffer is the editable text the session works on.
type Buffer interface {
	Len() int
	LineCount() int
	LineOffset(line int) (int, error)
	LineLength(line int) (int, error)
	Get(offset, length int) (string, error)
	// Replace fails when offset or length fall outside the current content.
	Replace(offset, length int, text string) error
	AddListener(l document.Listener)
	RemoveListener(l document.Listener)
	LineDelimiter() string
}

// CommandDispatcher hands a command to out-of-band execution.
// *Dispatcher is the standard implementation.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, command string, onComplete func(result string))
}

// Viewer is told where the caret belongs after the session appends text.
type Viewer interface {
	SetCaretOffset(offset int)
}

// State is the session's position in its command cycle.
type State int

const (
	// StateIdle means listening with no command in flight.
	StateIdle State = iota
	// StateSuppressed means editing the buffer on the session's own behalf.
	StateSuppressed
	// StateAwaitingResult means a command is in flight.
	StateAwaitingResult
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSuppressed:
		return "suppressed"
	case StateAwaitingResult:
		return "awaiting-result"
	default:
		return "unknown"
	}
}

// inflight describes the dispatched command awaiting its result.
type inflight struct {
	id      string
	command string
	started time.Time
}

// Session turns buffer edits into dispatched commands.
type Session struct {
	buf        Buffer
	dispatcher CommandDispatcher
	guard      *Guard
	prompt     Prompt
	viewer     Viewer
	onIdle     func()
	log        *logging.Logger
	ctx        context.Context

	// pending is input that arrived after the in-flight command's delimiter.
	pending  string
	inflight *inflight
	// epoch invalidates completions of commands abandoned by Clear.
	epoch uint64
}

// Option configures a Session.
type Option func(*Session)

// WithPrompt sets the invitation text.
func WithPrompt(text string) Option {
	return func(s *Session) {
		s.prompt = NewPrompt(text)
	}
}

// WithLogger sets the diagnostic sink.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithViewer sets the caret target.
func WithViewer(v Viewer) Option {
	return func(s *Session) {
		s.viewer = v
	}
}

// WithIdleFunc sets a function called each time the session resumes
// listening, on the goroutine that made it idle. fn runs while the guard
// is locked and must not call back into the session.
func WithIdleFunc(fn func()) Option {
	return func(s *Session) {
		s.onIdle = fn
	}
}

// WithContext sets the context passed to every dispatch.
func WithContext(ctx context.Context) Option {
	return func(s *Session) {
		if ctx != nil {
			s.ctx = ctx
		}
	}
}

// New creates a session listening on buf. It prints nothing; call Clear to
// show the first prompt.
func New(buf Buffer, d CommandDispatcher, opts ...Option) *Session {
	s := &Session{
		dispatcher: d,
		prompt:     NewPrompt(DefaultPrompt),
		log:        logging.Nop(),
		ctx:        context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("session")
	s.guard = NewGuard(
		func() { s.buf.RemoveListener(s) },
		func() {
			s.buf.AddListener(s)
			if s.onIdle != nil {
				s.onIdle()
			}
		},
	)
	// A fresh guard is idle, so Attach cannot fail here.
	_ = s.Attach(buf)
	return s
}

// Attach stops listening to the current buffer and starts listening to
// buf. It returns ErrSessionBusy unless the session is idle.
func (s *Session) Attach(buf Buffer) error {
	ok := s.guard.IfIdle(func() {
		if s.buf != nil {
			s.buf.RemoveListener(s)
		}
		buf.AddListener(s)
		s.buf = buf
	})
	if !ok {
		return ErrSessionBusy
	}
	return nil
}

// Prompt returns the session's prompt.
func (s *Session) Prompt() Prompt {
	return s.prompt
}

// State returns the current state.
func (s *Session) State() State {
	switch {
	case s.guard.Depth() == 0:
		return StateIdle
	case s.inflight != nil:
		return StateAwaitingResult
	default:
		return StateSuppressed
	}
}

// Busy reports whether the session is not idle.
func (s *Session) Busy() bool {
	return s.State() != StateIdle
}

// Pending returns the input held back until the in-flight command completes.
func (s *Session) Pending() string {
	return s.pending
}

// CommandLineOffset returns the start of the editable command line.
func (s *Session) CommandLineOffset() (int, error) {
	return s.prompt.CommandLineOffset(s.buf)
}

// CommandLine returns the text of the editable command line.
func (s *Session) CommandLine() (string, error) {
	offset, err := s.prompt.CommandLineOffset(s.buf)
	if err != nil {
		return "", err
	}
	length, err := s.prompt.CommandLineLength(s.buf)
	if err != nil {
		return "", err
	}
	return s.buf.Get(offset, length)
}

// DocumentChanged processes an edit made by someone other than the session.
func (s *Session) DocumentChanged(ev document.ChangeEvent) {
	s.guard.Enter()
	defer s.guard.Exit()

	s.processAddition(ev.Offset, ev.Text)
}

// Clear empties the buffer and prints a fresh prompt. It returns the
// session to idle from any state; held input is discarded and the result
// of an in-flight command will be dropped when it arrives. Clear must not
// be called from inside a change notification.
func (s *Session) Clear() {
	s.epoch++
	s.pending = ""
	if s.inflight != nil {
		s.log.Warn("clear abandons command %s (%q)", s.inflight.id, s.inflight.command)
		s.inflight = nil
	}
	s.guard.Reset()

	s.guard.Enter()
	defer s.guard.Exit()

	if err := s.buf.Replace(0, s.buf.Len(), ""); err != nil {
		s.report("clear", err)
		return
	}
	s.appendText(s.prompt.Invitation())
}

// processAddition takes text back out of the buffer at offset and submits
// it as input.
func (s *Session) processAddition(offset int, text string) {
	if err := s.buf.Replace(offset, len(text), ""); err != nil {
		s.report("remove insertion", err)
		return
	}
	s.submit(offset, text)
}

// submit joins text with everything after offset, removes that tail, and
// either echoes the result or dispatches its first command.
func (s *Session) submit(offset int, text string) {
	tail, err := s.buf.Get(offset, s.buf.Len()-offset)
	if err != nil {
		s.report("read trailing input", err)
		return
	}
	if err := s.buf.Replace(offset, len(tail), ""); err != nil {
		s.report("remove trailing input", err)
		return
	}

	input := text + tail
	delim := s.buf.LineDelimiter()
	commands, _ := Split(input, delim)
	if len(commands) == 0 {
		s.appendText(input)
		return
	}

	s.pending = input[len(commands[0])+len(delim):]
	s.execCommand(delim, commands[0])
}

// execCommand echoes cmd, reads the full command line, and dispatches it.
// The guard level entered here is released by the completion.
func (s *Session) execCommand(delim, cmd string) {
	s.guard.Enter()
	dispatched := false
	defer func() {
		if !dispatched {
			if s.pending != "" {
				s.log.Warn("dropping held input %q", s.pending)
				s.pending = ""
			}
			s.guard.Exit()
		}
	}()

	if !s.appendText(cmd) {
		return
	}
	line, err := s.CommandLine()
	if err != nil {
		s.report("read command line", err)
		return
	}
	if !s.appendText(delim) {
		return
	}

	cur := &inflight{
		id:      uuid.NewString(),
		command: line,
		started: time.Now(),
	}
	epoch := s.epoch
	s.inflight = cur
	s.log.Debug("dispatch %s: %q", cur.id, line)

	dispatched = true
	s.dispatcher.Dispatch(s.ctx, line, func(result string) {
		s.complete(epoch, cur, result)
	})
}

// complete prints the result of cur and a fresh prompt, then replays held
// input. It runs on the interactive goroutine.
func (s *Session) complete(epoch uint64, cur *inflight, result string) {
	if epoch != s.epoch {
		s.log.Info("dropping result of %s after clear", cur.id)
		return
	}
	defer s.guard.Exit()

	s.inflight = nil
	s.log.Debug("complete %s in %s", cur.id, time.Since(cur.started))

	delim := s.buf.LineDelimiter()
	if !s.appendText(result) || !s.appendText(delim) || !s.appendText(s.prompt.Invitation()) {
		s.pending = ""
		return
	}

	if pending := s.pending; pending != "" {
		s.pending = ""
		s.submit(s.buf.Len(), pending)
	}
}

// appendText appends text at the end of the buffer and moves the caret.
func (s *Session) appendText(text string) bool {
	if err := s.buf.Replace(s.buf.Len(), 0, text); err != nil {
		s.report("append", err)
		return false
	}
	if s.viewer != nil {
		s.viewer.SetCaretOffset(s.buf.Len())
	}
	return true
}

// report sends a buffer fault to the diagnostic sink.
func (s *Session) report(op string, err error) {
	s.log.Error("%v", &OperationError{Op: op, Err: err})
}
