// Package main is the entry point for evalconsole.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/dshills/evalconsole/internal/app"
	"github.com/dshills/evalconsole/internal/config"
	"github.com/dshills/evalconsole/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// flags holds command-line overrides. Only flags the user set are applied.
type flags struct {
	configPath string
	prompt     string
	handler    string
	plain      bool
	script     string
	watch      bool
	dapAddr    string
	dapCmd     string
	logLevel   string
	logFile    string
}

func newRootCmd() *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:   "evalconsole",
		Short: "Interactive evaluation console",
		Long: `evalconsole is a read-eval-print console that lives in an editable document.

Each line typed after the prompt is evaluated by an embedded Lua interpreter
or, with --handler dap, by a debuggee through the Debug Adapter Protocol.
Input that arrives while a command runs is held and replayed afterwards.`,
		Example: `  evalconsole                              Lua console in the terminal
  evalconsole --script init.lua --watch    Load and hot-reload a script
  echo '1 + 1' | evalconsole               Evaluate piped input
  evalconsole --handler dap --dap-addr 127.0.0.1:4711`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConsole(cmd, f)
		},
	}

	bindFlags(root.Flags(), &f)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "evalconsole %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	})

	return root
}

func bindFlags(fl *pflag.FlagSet, f *flags) {
	fl.StringVarP(&f.configPath, "config", "c", "", "Path to configuration file (.toml, .yaml)")
	fl.StringVar(&f.prompt, "prompt", "", "Prompt text")
	fl.StringVar(&f.handler, "handler", "", "Command handler (lua, dap)")
	fl.BoolVar(&f.plain, "plain", false, "Read lines from stdin and print results instead of using the full-screen view")
	fl.StringVar(&f.script, "script", "", "Lua script to run at startup")
	fl.BoolVar(&f.watch, "watch", false, "Reload the Lua script when it changes")
	fl.StringVar(&f.dapAddr, "dap-addr", "", "Address of a debug adapter listening on TCP")
	fl.StringVar(&f.dapCmd, "dap-cmd", "", "Command that starts a debug adapter on stdio")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fl.StringVar(&f.logFile, "log-file", "", "Write logs to this file")
}

// applyFlags overlays the flags the user set on cfg.
func applyFlags(cmd *cobra.Command, f flags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("prompt") {
		cfg.Prompt = f.prompt
	}
	if changed("handler") {
		cfg.Handler = strings.ToLower(f.handler)
	}
	if changed("plain") {
		cfg.Plain = f.plain
	}
	if changed("script") {
		cfg.Lua.Script = f.script
	}
	if changed("watch") {
		cfg.Lua.Watch = f.watch
	}
	if changed("dap-addr") {
		cfg.DAP.Address = f.dapAddr
	}
	if changed("dap-cmd") {
		cfg.DAP.Command = strings.Fields(f.dapCmd)
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-file") {
		cfg.Log.File = f.logFile
	}
}

func runConsole(cmd *cobra.Command, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, f, cfg)

	stdinTerminal := isTerminal(cmd.InOrStdin())
	if !stdinTerminal {
		cfg.Plain = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logOut, closeLog, err := logOutput(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel(),
		Output: logOut,
		Prefix: "evalconsole",
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(app.Options{
		Config:      cfg,
		Logger:      logger,
		Stdin:       cmd.InOrStdin(),
		Stdout:      cmd.OutOrStdout(),
		Interactive: stdinTerminal,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer application.Shutdown()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// logOutput picks the log destination. The full-screen view owns the
// terminal, so without a log file its logs are discarded.
func logOutput(cfg *config.Config) (io.Writer, func(), error) {
	if cfg.Log.File != "" {
		file, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return file, func() { file.Close() }, nil
	}
	if cfg.Plain {
		return os.Stderr, func() {}, nil
	}
	return io.Discard, func() {}, nil
}

func isTerminal(r io.Reader) bool {
	file, ok := r.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
