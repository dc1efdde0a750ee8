package loop

import (
	"context"
	"errors"
	"testing"
	"time"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc, <-chan error) {
	t.Helper()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	t.Cleanup(cancel)
	return l, cancel, errCh
}

func TestLoop_RunsTasksInOrder(t *testing.T) {
	l := New()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	if err := l.Call(ctx, func() {}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	for i, v := range got {
		if v != i {
			t.Fatalf("tasks ran out of order: %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("got %d tasks, want 5", len(got))
	}
}

func TestLoop_WorkersPostBack(t *testing.T) {
	l, _, _ := startLoop(t)

	results := make(chan int, 10)
	for i := 0; i < 10; i++ {
		i := i
		l.Go(func() {
			l.Post(func() { results <- i })
		})
	}
	l.Wait()

	seen := make(map[int]bool)
	timeout := time.After(2 * time.Second)
	for len(seen) < 10 {
		select {
		case v := <-results:
			seen[v] = true
		case <-timeout:
			t.Fatalf("only %d results arrived", len(seen))
		}
	}
}

func TestLoop_RunTwice(t *testing.T) {
	l, _, _ := startLoop(t)

	// Make sure the first Run is active.
	if err := l.Call(context.Background(), func() {}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !l.Running() {
		t.Fatal("expected loop to be running")
	}
	if err := l.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestLoop_CallAfterStop(t *testing.T) {
	l, cancel, errCh := startLoop(t)
	if err := l.Call(context.Background(), func() {}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	err := l.Call(context.Background(), func() {})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Call() after stop error = %v, want ErrStopped", err)
	}
}

func TestLoop_CallContextTimeout(t *testing.T) {
	l := New() // never run

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Call(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call() error = %v, want DeadlineExceeded", err)
	}
}
