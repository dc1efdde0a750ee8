package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/evalconsole/internal/console"
	"github.com/dshills/evalconsole/internal/document"
	"github.com/dshills/evalconsole/internal/loop"
)

func run(t *testing.T, input string, handler console.Handler, docOpts []document.Option, opts ...Option) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc := document.New(docOpts...)
	lp := loop.New()
	var out bytes.Buffer

	var f *Frontend
	s := console.New(doc, console.NewDispatcher(handler, lp, lp), console.WithIdleFunc(func() { f.Idle() }))
	opts = append([]Option{WithInvitation(s.Prompt().Invitation())}, opts...)
	f = New(doc, s, lp, strings.NewReader(input), &out, opts...)
	lp.Post(s.Clear)

	go lp.Run(ctx)
	if err := f.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return out.String()
}

func upper(_ context.Context, command string, done func(string)) {
	done(strings.ToUpper(command))
}

func TestFrontend_PrintsResultsOnly(t *testing.T) {
	got := run(t, "a\nbc\n", console.HandlerFunc(upper), nil)
	if got != "A\nBC\n" {
		t.Errorf("output = %q, want %q", got, "A\nBC\n")
	}
}

func TestFrontend_EmptyResultsPrintNothing(t *testing.T) {
	h := console.HandlerFunc(func(_ context.Context, command string, done func(string)) {
		if command == "quiet" {
			done("")
			return
		}
		done("loud")
	})
	got := run(t, "quiet\nx\nquiet\n", h, nil)
	if got != "loud\n" {
		t.Errorf("output = %q", got)
	}
}

func TestFrontend_MultilineResult(t *testing.T) {
	h := console.HandlerFunc(func(_ context.Context, _ string, done func(string)) {
		done("one\ntwo")
	})
	got := run(t, "x\n", h, nil)
	if got != "one\ntwo\n" {
		t.Errorf("output = %q", got)
	}
}

func TestFrontend_AsyncHandler(t *testing.T) {
	h := console.HandlerFunc(func(_ context.Context, command string, done func(string)) {
		time.Sleep(5 * time.Millisecond)
		done("<" + command + ">")
	})
	got := run(t, "1\n2\n3", h, nil)
	if got != "<1>\n<2>\n<3>\n" {
		t.Errorf("output = %q", got)
	}
}

func TestFrontend_CRLFDocument(t *testing.T) {
	opts := []document.Option{document.WithLineEnding(document.LineEndingCRLF)}
	h := console.HandlerFunc(func(_ context.Context, command string, done func(string)) {
		done(command + "\r\nsecond")
	})
	got := run(t, "x\r\n", h, opts)
	if got != "x\nsecond\n" {
		t.Errorf("output = %q", got)
	}
}

// syncBuffer is a bytes.Buffer safe to read while Run writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for out.String() != want {
		if time.Now().After(deadline) {
			t.Fatalf("output = %q, want %q", out.String(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFrontend_ShowPrompt(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc := document.New()
	lp := loop.New()
	pr, pw := io.Pipe()
	out := &syncBuffer{}

	var f *Frontend
	s := console.New(doc, console.NewDispatcher(console.HandlerFunc(upper), lp, lp),
		console.WithIdleFunc(func() { f.Idle() }))
	f = New(doc, s, lp, pr, out, WithInvitation(s.Prompt().Invitation()), WithShowPrompt(true))
	lp.Post(s.Clear)
	go lp.Run(ctx)

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	waitOutput(t, out, "js> ")
	if _, err := io.WriteString(pw, "a\n"); err != nil {
		t.Fatalf("write input: %v", err)
	}
	waitOutput(t, out, "js> A\njs> ")

	pw.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// The prompt left open at end of input is terminated, not repeated.
	if got := out.String(); got != "js> A\njs> \n" {
		t.Errorf("output = %q", got)
	}
}

func TestFrontend_NoPromptAfterInputExhausted(t *testing.T) {
	var out bytes.Buffer
	f := New(document.New(), nil, nil, strings.NewReader(""), &out,
		WithInvitation("js> "), WithShowPrompt(true))

	lines := make(chan string)
	close(lines)
	_, ok, prompted, err := f.next(context.Background(), lines)
	if err != nil || ok || prompted {
		t.Fatalf("next() = ok %v, prompted %v, err %v", ok, prompted, err)
	}
	if out.Len() != 0 {
		t.Errorf("output = %q, want nothing", out.String())
	}
}

func TestFrontend_CallErrorEndsRun(t *testing.T) {
	doc := document.New()
	callErr := errors.New("loop stopped")
	f := New(doc, nil, failingCaller{err: callErr}, strings.NewReader("a\nb\nc\n"), &bytes.Buffer{})

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, callErr) {
			t.Errorf("Run() error = %v, want %v", err, callErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the call failed")
	}
}

type failingCaller struct {
	err error
}

func (c failingCaller) Call(context.Context, func()) error {
	return c.err
}

func TestFrontend_ContextCancelWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doc := document.New()
	lp := loop.New()
	started := make(chan struct{})
	h := console.HandlerFunc(func(context.Context, string, func(string)) {
		close(started)
	})

	var f *Frontend
	s := console.New(doc, console.NewDispatcher(h, lp, lp), console.WithIdleFunc(func() { f.Idle() }))
	f = New(doc, s, lp, strings.NewReader("hang\n"), &bytes.Buffer{})
	lp.Post(s.Clear)
	go lp.Run(ctx)

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	<-started
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
