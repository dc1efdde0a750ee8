package console

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/dshills/evalconsole/internal/document"
	"github.com/dshills/evalconsole/internal/logging"
)

// mockBuffer wraps a real document, fails on demand, and checks that the
// session is never listening while it edits the buffer itself.
type mockBuffer struct {
	*document.Document
	t *testing.T

	session  *Session
	external bool

	// failAfter makes the n-th session Replace (1-based) fail; 0 disables.
	failAfter int
	replaces  int
}

func newMockBuffer(t *testing.T, opts ...document.Option) *mockBuffer {
	return &mockBuffer{Document: document.New(opts...), t: t}
}

func (m *mockBuffer) Replace(offset, length int, text string) error {
	if !m.external {
		if m.session != nil && m.HasListener(m.session) {
			m.t.Errorf("session replaced %q at %d while still listening", text, offset)
		}
		m.replaces++
		if m.failAfter > 0 && m.replaces == m.failAfter {
			return document.ErrOffsetOutOfRange
		}
	}
	return m.Document.Replace(offset, length, text)
}

// userInsert inserts text at the end as an outside edit.
func (m *mockBuffer) userInsert(text string) {
	m.userInsertAt(m.Len(), text)
}

func (m *mockBuffer) userInsertAt(offset int, text string) {
	m.t.Helper()
	m.external = true
	err := m.Document.Replace(offset, 0, text)
	m.external = false
	if err != nil {
		m.t.Fatalf("user insert: %v", err)
	}
}

// fakeLoop runs workers inline and queues posted completions until drain.
type fakeLoop struct {
	tasks []func()
}

func (f *fakeLoop) Go(fn func())   { fn() }
func (f *fakeLoop) Post(fn func()) { f.tasks = append(f.tasks, fn) }

func (f *fakeLoop) drain() {
	for len(f.tasks) > 0 {
		task := f.tasks[0]
		f.tasks = f.tasks[1:]
		task()
	}
}

// manualHandler records commands and completes them when told to.
type manualHandler struct {
	commands []string
	done     []func(string)
}

func (h *manualHandler) Handle(_ context.Context, command string, done func(string)) {
	h.commands = append(h.commands, command)
	h.done = append(h.done, done)
}

func (h *manualHandler) complete(t *testing.T, i int, result string) {
	t.Helper()
	if i >= len(h.done) {
		t.Fatalf("command %d was never dispatched (have %v)", i, h.commands)
	}
	h.done[i](result)
}

type harness struct {
	buf     *mockBuffer
	loop    *fakeLoop
	handler *manualHandler
	session *Session
	logs    *bytes.Buffer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		buf:     newMockBuffer(t),
		loop:    &fakeLoop{},
		handler: &manualHandler{},
		logs:    &bytes.Buffer{},
	}
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: h.logs})
	d := NewDispatcher(h.handler, h.loop, h.loop, WithDispatchLogger(logger))
	opts = append([]Option{WithLogger(logger)}, opts...)
	h.session = New(h.buf, d, opts...)
	h.buf.session = h.session
	h.session.Clear()
	return h
}

// finish completes command i with result and runs the posted callback.
func (h *harness) finish(t *testing.T, i int, result string) {
	t.Helper()
	h.handler.complete(t, i, result)
	h.loop.drain()
}

func (h *harness) expectText(t *testing.T, want string) {
	t.Helper()
	if got := h.buf.Text(); got != want {
		t.Fatalf("buffer = %q, want %q", got, want)
	}
}

func (h *harness) expectState(t *testing.T, want State) {
	t.Helper()
	if got := h.session.State(); got != want {
		t.Fatalf("state = %v, want %v", got, want)
	}
	listening := h.buf.HasListener(h.session)
	if listening != (want == StateIdle) {
		t.Fatalf("listening = %v in state %v", listening, want)
	}
}

func (h *harness) expectCommands(t *testing.T, want ...string) {
	t.Helper()
	got := h.handler.commands
	if len(got) != len(want) {
		t.Fatalf("dispatched %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatched %q, want %q", got, want)
		}
	}
}

var errTest = errors.New("test")
