package dap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/evalconsole/internal/logging"
)

// Errors returned by the client.
var (
	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("dap client closed")

	// ErrTerminated indicates the debuggee has terminated.
	ErrTerminated = errors.New("debuggee terminated")
)

// RequestError is a failed DAP response.
type RequestError struct {
	Command string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// encodeRequest builds the wire form of a DAP request. Empty argument maps
// are left out.
func encodeRequest(seq int, command string, args any) ([]byte, error) {
	content, err := sjson.SetBytes([]byte(`{"type":"request"}`), "seq", seq)
	if err != nil {
		return nil, err
	}
	if content, err = sjson.SetBytes(content, "command", command); err != nil {
		return nil, err
	}
	if m, ok := args.(map[string]any); args == nil || (ok && len(m) == 0) {
		return content, nil
	}
	return sjson.SetBytes(content, "arguments", args)
}

// Client is a DAP client that communicates with a debug adapter.
type Client struct {
	id        string
	transport Transport
	log       *logging.Logger

	seq       int64
	pendingMu sync.Mutex
	pending   map[int]chan gjson.Result

	stateMu    sync.Mutex
	thread     int // last stopped thread, 0 when running
	terminated bool
	output     strings.Builder

	initialized     chan struct{}
	initializedOnce sync.Once

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient creates a client and starts reading from transport.
func NewClient(transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		id:          uuid.NewString(),
		transport:   transport,
		log:         logging.Nop(),
		pending:     make(map[int]chan gjson.Result),
		initialized: make(chan struct{}),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithComponent("dap").WithField("client", c.id)
	go c.receiveLoop()
	return c
}

// Close closes the client and the transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.transport.Close()
}

// Err returns the error that stopped the receive loop, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// receiveLoop reads messages until the transport fails.
func (c *Client) receiveLoop() {
	defer close(c.stopped)
	for {
		content, err := c.transport.Receive()
		if err != nil {
			select {
			case <-c.done:
				err = ErrClosed
			default:
				c.log.Warn("receive: %v", err)
			}

			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()

			c.pendingMu.Lock()
			for seq, ch := range c.pending {
				close(ch)
				delete(c.pending, seq)
			}
			c.pendingMu.Unlock()
			return
		}

		msg := gjson.ParseBytes(content)
		switch msg.Get("type").String() {
		case "response":
			c.handleResponse(msg)
		case "event":
			c.handleEvent(msg)
		}
	}
}

func (c *Client) handleResponse(msg gjson.Result) {
	seq := int(msg.Get("request_seq").Int())

	c.pendingMu.Lock()
	ch, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.pendingMu.Unlock()

	if ok {
		ch <- msg
	}
}

func (c *Client) handleEvent(msg gjson.Result) {
	body := msg.Get("body")

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	switch msg.Get("event").String() {
	case "initialized":
		c.initializedOnce.Do(func() { close(c.initialized) })
	case "stopped":
		c.thread = int(body.Get("threadId").Int())
	case "continued":
		c.thread = 0
	case "output":
		// Telemetry is not meant for the user.
		if body.Get("category").String() != "telemetry" {
			c.output.WriteString(body.Get("output").String())
		}
	case "terminated", "exited":
		c.terminated = true
		c.thread = 0
	}
}

// TakeOutput returns and clears the output collected from output events.
func (c *Client) TakeOutput() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	out := c.output.String()
	c.output.Reset()
	return out
}

// StoppedThread returns the last stopped thread, or 0 while running.
func (c *Client) StoppedThread() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.thread
}

// Request sends command and waits for its response body.
func (c *Client) Request(ctx context.Context, command string, args any) (gjson.Result, error) {
	select {
	case <-c.done:
		return gjson.Result{}, ErrClosed
	default:
	}

	seq := int(atomic.AddInt64(&c.seq, 1))
	content, err := encodeRequest(seq, command, args)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal %s request: %w", command, err)
	}

	ch := make(chan gjson.Result, 1)
	c.pendingMu.Lock()
	c.pending[seq] = ch
	c.pendingMu.Unlock()

	if err := c.transport.Send(content); err != nil {
		c.forget(seq)
		return gjson.Result{}, fmt.Errorf("send %s request: %w", command, err)
	}

	select {
	case <-ctx.Done():
		c.forget(seq)
		return gjson.Result{}, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			if err := c.Err(); err != nil {
				return gjson.Result{}, err
			}
			return gjson.Result{}, ErrClosed
		}
		if !resp.Get("success").Bool() {
			return gjson.Result{}, &RequestError{Command: command, Message: errorMessage(resp)}
		}
		return resp.Get("body"), nil
	}
}

func (c *Client) forget(seq int) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

// errorMessage prefers the formatted error in the body over the short
// message field.
func errorMessage(resp gjson.Result) string {
	if format := resp.Get("body.error.format"); format.Exists() {
		return format.String()
	}
	if msg := resp.Get("message").String(); msg != "" {
		return msg
	}
	return "request failed"
}

// Start runs the configuration sequence: initialize, then attach or launch
// (mode "attach" or "launch"; "" skips it), then configurationDone once the
// adapter reports it is initialized. Adapters may hold the attach or launch
// response until configuration is done, so that request is sent without
// waiting for its response.
func (c *Client) Start(ctx context.Context, adapterID, mode string, args map[string]any) error {
	switch mode {
	case "", "attach", "launch":
	default:
		return fmt.Errorf("unknown start mode %q", mode)
	}

	if err := c.Initialize(ctx, adapterID); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var started chan error
	if mode != "" {
		started = make(chan error, 1)
		go func() {
			_, err := c.Request(ctx, mode, args)
			started <- err
		}()
	}

	select {
	case <-c.initialized:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClosed
	}

	if err := c.ConfigurationDone(ctx); err != nil {
		return fmt.Errorf("configurationDone: %w", err)
	}

	if started != nil {
		if err := <-started; err != nil {
			return fmt.Errorf("%s: %w", mode, err)
		}
	}
	c.log.Info("session started (mode=%q)", mode)
	return nil
}

// Initialize sends the initialize request.
func (c *Client) Initialize(ctx context.Context, adapterID string) error {
	_, err := c.Request(ctx, "initialize", map[string]any{
		"clientID":        "evalconsole",
		"clientName":      "evalconsole",
		"adapterID":       adapterID,
		"linesStartAt1":   true,
		"columnsStartAt1": true,
		"pathFormat":      "path",
	})
	return err
}

// Attach sends the attach request with adapter specific arguments.
func (c *Client) Attach(ctx context.Context, args map[string]any) error {
	_, err := c.Request(ctx, "attach", args)
	return err
}

// Launch sends the launch request with adapter specific arguments.
func (c *Client) Launch(ctx context.Context, args map[string]any) error {
	_, err := c.Request(ctx, "launch", args)
	return err
}

// ConfigurationDone ends the configuration phase.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.Request(ctx, "configurationDone", nil)
	return err
}

// Disconnect asks the adapter to end the session.
func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.Request(ctx, "disconnect", map[string]any{"terminateDebuggee": false})
	return err
}

// TopFrame returns the id of the innermost frame of thread.
func (c *Client) TopFrame(ctx context.Context, thread int) (int, bool, error) {
	body, err := c.Request(ctx, "stackTrace", map[string]any{
		"threadId":   thread,
		"startFrame": 0,
		"levels":     1,
	})
	if err != nil {
		return 0, false, err
	}
	frame := body.Get("stackFrames.0.id")
	if !frame.Exists() {
		return 0, false, nil
	}
	return int(frame.Int()), true, nil
}

// Evaluate evaluates expression in the repl context, in the top frame of
// the stopped thread when there is one.
func (c *Client) Evaluate(ctx context.Context, expression string) (string, error) {
	c.stateMu.Lock()
	terminated, thread := c.terminated, c.thread
	c.stateMu.Unlock()
	if terminated {
		return "", ErrTerminated
	}

	args := map[string]any{
		"expression": expression,
		"context":    "repl",
	}
	if thread != 0 {
		frame, ok, err := c.TopFrame(ctx, thread)
		if err != nil {
			return "", err
		}
		if ok {
			args["frameId"] = frame
		}
	}

	body, err := c.Request(ctx, "evaluate", args)
	if err != nil {
		return "", err
	}
	return body.Get("result").String(), nil
}
