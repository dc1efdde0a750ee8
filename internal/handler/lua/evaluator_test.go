package lua

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newEvaluator(t *testing.T, opts ...Option) *Evaluator {
	t.Helper()
	e, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEvaluator_Eval(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		command string
		want    string
	}{
		{"expression", "1 + 1", "2"},
		{"string", `"a" .. "b"`, "ab"},
		{"multiple values", "1, 'x', nil", "1\tx\tnil"},
		{"statement", "x = 40", ""},
		{"uses globals", "x + 2", "42"},
		{"print", "print('hi', 3)", "hi\t3"},
		{"print and value", "print('side'); return 7", "side\n7"},
		{"function", "function sq(n) return n * n end", ""},
		{"call", "sq(9)", "81"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Eval(ctx, tt.command); got != tt.want {
				t.Errorf("Eval(%q) = %q, want %q", tt.command, got, tt.want)
			}
		})
	}
}

func TestEvaluator_Errors(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	tests := []struct {
		command string
		contain string
	}{
		{"error('boom')", "boom"},
		{"1 +", "error: "},
		{"nosuch()", "error: "},
	}
	for _, tt := range tests {
		got := e.Eval(ctx, tt.command)
		if !strings.HasPrefix(got, "error: ") || !strings.Contains(got, tt.contain) {
			t.Errorf("Eval(%q) = %q, want error containing %q", tt.command, got, tt.contain)
		}
	}

	// The state is still usable after an error.
	if got := e.Eval(ctx, "1"); got != "1" {
		t.Errorf("Eval after error = %q", got)
	}
}

func TestEvaluator_Sandbox(t *testing.T) {
	e := newEvaluator(t)
	for _, name := range []string{"io", "os", "dofile", "loadfile"} {
		if got := e.Eval(context.Background(), "type("+name+")"); got != "nil" {
			t.Errorf("type(%s) = %q, want nil", name, got)
		}
	}
}

func TestEvaluator_Timeout(t *testing.T) {
	e := newEvaluator(t, WithTimeout(50*time.Millisecond))

	start := time.Now()
	got := e.Eval(context.Background(), "while true do end")
	if !strings.HasPrefix(got, "error: ") {
		t.Errorf("Eval(infinite loop) = %q", got)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not interrupt the loop")
	}
	if got := e.Eval(context.Background(), "2 * 3"); got != "6" {
		t.Errorf("Eval after timeout = %q", got)
	}
}

func TestEvaluator_Handle(t *testing.T) {
	e := newEvaluator(t)

	var got string
	calls := 0
	e.Handle(context.Background(), "10 / 2", func(result string) {
		got = result
		calls++
	})
	if calls != 1 || got != "5" {
		t.Errorf("Handle() called done %d times with %q", calls, got)
	}
}

func TestEvaluator_ScriptAndReload(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "init.lua")
	if err := os.WriteFile(script, []byte("greeting = 'hello'"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newEvaluator(t, WithScript(script))
	if got := e.Eval(context.Background(), "greeting"); got != "hello" {
		t.Fatalf("greeting = %q", got)
	}

	if err := os.WriteFile(script, []byte("greeting = 'bye'"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := e.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := e.Eval(context.Background(), "greeting"); got != "bye" {
		t.Errorf("greeting after reload = %q", got)
	}
}

func TestEvaluator_BadScript(t *testing.T) {
	script := filepath.Join(t.TempDir(), "bad.lua")
	if err := os.WriteFile(script, []byte("this is not lua"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(WithScript(script)); err == nil {
		t.Fatal("expected error for invalid script")
	}
}

func TestEvaluator_Watch(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "init.lua")
	if err := os.WriteFile(script, []byte("v = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := newEvaluator(t, WithScript(script))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchErr := make(chan error, 1)
	go func() { watchErr <- e.Watch(ctx) }()

	// Keep rewriting until the watcher (which may still be starting) sees it.
	deadline := time.Now().Add(5 * time.Second)
	for e.Eval(context.Background(), "v") != "2" {
		if time.Now().After(deadline) {
			t.Fatal("script change was not picked up")
		}
		if err := os.WriteFile(script, []byte("v = 2"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	if err := <-watchErr; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}

func TestEvaluator_Closed(t *testing.T) {
	e := newEvaluator(t)
	e.Close()
	if got := e.Eval(context.Background(), "1"); !strings.Contains(got, "closed") {
		t.Errorf("Eval after Close = %q", got)
	}
	if err := e.Reload(); err != ErrClosed {
		t.Errorf("Reload after Close = %v", err)
	}
}
