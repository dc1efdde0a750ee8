// Package stream drives a console session from line-oriented input, such as
// a pipe or a plain terminal, and writes only the command results.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/evalconsole/internal/document"
	"github.com/dshills/evalconsole/internal/logging"
)

// maxLine bounds a single input line.
const maxLine = 1 << 20

// Session is the part of the console session the frontend needs.
type Session interface {
	Busy() bool
}

// Caller runs fn on the goroutine that owns the document and waits for it.
type Caller interface {
	Call(ctx context.Context, fn func()) error
}

// Frontend feeds input lines into a document one at a time.
type Frontend struct {
	doc     *document.Document
	session Session
	caller  Caller
	in      io.Reader
	out     io.Writer
	log     *logging.Logger

	invitation string
	showPrompt bool

	idle chan struct{}
}

// Option configures a Frontend.
type Option func(*Frontend)

// WithInvitation sets the prompt text the session appends after each
// result, so it can be left out of the output.
func WithInvitation(text string) Option {
	return func(f *Frontend) {
		f.invitation = text
	}
}

// WithShowPrompt writes the invitation before reading each line.
func WithShowPrompt(show bool) Option {
	return func(f *Frontend) {
		f.showPrompt = show
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(f *Frontend) {
		if l != nil {
			f.log = l
		}
	}
}

// New creates a frontend. Pass f.Idle to the session as its idle function.
func New(doc *document.Document, session Session, caller Caller, in io.Reader, out io.Writer, opts ...Option) *Frontend {
	f := &Frontend{
		doc:     doc,
		session: session,
		caller:  caller,
		in:      in,
		out:     out,
		log:     logging.Nop(),
		idle:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.WithComponent("stream")
	return f
}

// Idle signals that the session has resumed listening.
func (f *Frontend) Idle() {
	select {
	case f.idle <- struct{}{}:
	default:
	}
}

// Run submits each input line and waits for its result before reading the
// next. It returns at end of input or when ctx is done. Lines are read on a
// separate goroutine so a blocked read does not delay cancellation.
//
// The prompt is written before each read unless input is already exhausted.
// A prompt left open by end of input is terminated with a newline.
func (f *Frontend) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(f.in)
		scanner.Buffer(make([]byte, 0, 4096), maxLine)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		line, ok, prompted, err := f.next(ctx, lines)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if !ok {
			if prompted {
				if _, err := io.WriteString(f.out, "\n"); err != nil {
					return err
				}
			}
			select {
			case err := <-readErr:
				if err != nil {
					return fmt.Errorf("read input: %w", err)
				}
			default:
			}
			return nil
		}
		if err := f.submit(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// next receives the next input line, writing the prompt first unless the
// reader has already reported end of input. ok is false at end of input.
func (f *Frontend) next(ctx context.Context, lines <-chan string) (line string, ok, prompted bool, err error) {
	select {
	case line, ok = <-lines:
		if !ok {
			return "", false, false, nil
		}
		if f.showPrompt {
			_, err = io.WriteString(f.out, f.invitation)
		}
		return line, true, f.showPrompt, err
	default:
	}

	if f.showPrompt {
		if _, err := io.WriteString(f.out, f.invitation); err != nil {
			return "", false, false, err
		}
	}
	select {
	case <-ctx.Done():
		return "", false, f.showPrompt, nil
	case line, ok = <-lines:
		return line, ok, f.showPrompt, nil
	}
}

// submit inserts line as typed input, waits until the session is idle, and
// writes whatever the session printed after the echoed line.
func (f *Frontend) submit(ctx context.Context, line string) error {
	var (
		mark int
		busy bool
		err  error
	)
	callErr := f.caller.Call(ctx, func() {
		select {
		case <-f.idle:
		default:
		}
		input := line + f.doc.LineDelimiter()
		mark = f.doc.Len() + len(input)
		err = f.doc.Insert(f.doc.Len(), input)
		busy = f.session.Busy()
	})
	if callErr != nil {
		return callErr
	}
	if err != nil {
		return fmt.Errorf("submit %q: %w", line, err)
	}

	if busy {
		select {
		case <-f.idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var output string
	if err := f.caller.Call(ctx, func() { output = f.result(mark) }); err != nil {
		return err
	}
	if output == "" {
		return nil
	}
	_, err = io.WriteString(f.out, output+"\n")
	return err
}

// result returns the text after mark without the trailing invitation.
func (f *Frontend) result(mark int) string {
	text := f.doc.Text()
	if mark > len(text) {
		f.log.Debug("output mark %d past end %d", mark, len(text))
		return ""
	}
	out := strings.TrimSuffix(text[mark:], f.invitation)
	out = strings.TrimSuffix(out, f.doc.LineDelimiter())
	return strings.ReplaceAll(out, f.doc.LineDelimiter(), "\n")
}
