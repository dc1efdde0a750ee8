package dap

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dshills/evalconsole/internal/logging"
)

// DefaultTimeout bounds a single evaluation.
const DefaultTimeout = 10 * time.Second

// Options describes how to reach and start a debug adapter.
type Options struct {
	// Address of an adapter listening on TCP. Takes precedence over Command.
	Address string
	// Command starts an adapter that speaks DAP on stdio.
	Command []string
	// AdapterID is sent in the initialize request.
	AdapterID string
	// Mode is "attach", "launch" or "" to skip both.
	Mode string
	// Arguments are passed through to attach or launch.
	Arguments map[string]any
	// Timeout bounds each evaluation. Zero disables it.
	Timeout time.Duration
	Logger  *logging.Logger
}

// Evaluator sends console commands to a debug adapter as evaluate requests.
type Evaluator struct {
	client  *Client
	timeout time.Duration
	log     *logging.Logger
}

// Dial connects to the adapter described by opts and runs the
// configuration sequence.
func Dial(ctx context.Context, opts Options) (*Evaluator, error) {
	var (
		transport Transport
		err       error
	)
	switch {
	case opts.Address != "":
		transport, err = NewSocketTransport(ctx, opts.Address)
	case len(opts.Command) > 0:
		transport, err = NewStdioTransport(exec.Command(opts.Command[0], opts.Command[1:]...))
	default:
		return nil, fmt.Errorf("dap: no adapter address or command")
	}
	if err != nil {
		return nil, err
	}

	client := NewClient(transport, WithClientLogger(opts.Logger))
	if err := client.Start(ctx, opts.AdapterID, opts.Mode, opts.Arguments); err != nil {
		client.Close()
		return nil, err
	}
	return NewEvaluator(client, opts.Timeout, opts.Logger), nil
}

// NewEvaluator wraps a started client.
func NewEvaluator(client *Client, timeout time.Duration, log *logging.Logger) *Evaluator {
	if log == nil {
		log = logging.Nop()
	}
	return &Evaluator{
		client:  client,
		timeout: timeout,
		log:     log.WithComponent("dap"),
	}
}

// Handle evaluates command and reports the result text.
func (e *Evaluator) Handle(ctx context.Context, command string, done func(result string)) {
	done(e.Eval(ctx, command))
}

// Eval evaluates command and returns the text to print: any program output
// received since the last command, then the result or "error: <message>".
func (e *Evaluator) Eval(ctx context.Context, command string) string {
	if strings.TrimSpace(command) == "" {
		return strings.TrimRight(e.client.TakeOutput(), "\n")
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	result, err := e.client.Evaluate(ctx, command)
	if err != nil {
		e.log.Debug("evaluate %q: %v", command, err)
		result = "error: " + err.Error()
	}

	output := strings.TrimRight(e.client.TakeOutput(), "\n")
	switch {
	case output == "":
		return result
	case result == "":
		return output
	default:
		return output + "\n" + result
	}
}

// Close disconnects from the adapter.
func (e *Evaluator) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.client.Disconnect(ctx); err != nil {
		e.log.Debug("disconnect: %v", err)
	}
	return e.client.Close()
}
