// Package config loads evalconsole settings.
//
// Settings are layered, lowest precedence first: built-in defaults, a
// config file (TOML or YAML, chosen by extension), EVALCONSOLE_* environment
// variables, and finally command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/evalconsole/internal/document"
	"github.com/dshills/evalconsole/internal/logging"
)

// Handler kinds.
const (
	HandlerLua = "lua"
	HandlerDAP = "dap"
)

// Errors returned by configuration operations.
var (
	// ErrUnsupportedFormat indicates a config file extension we cannot parse.
	ErrUnsupportedFormat = errors.New("unsupported config format")

	// ErrValidationFailed indicates the configuration is inconsistent.
	ErrValidationFailed = errors.New("validation failed")
)

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %v", e.Path, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Duration is a time.Duration written as a string such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds all settings.
type Config struct {
	// Prompt is printed before each command line.
	Prompt string `toml:"prompt" yaml:"prompt"`
	// LineEnding is the command delimiter: "lf", "crlf" or "cr".
	LineEnding string `toml:"line_ending" yaml:"line_ending"`
	// Handler selects the command back end: "lua" or "dap".
	Handler string `toml:"handler" yaml:"handler"`
	// Plain selects the line-oriented stdin/stdout frontend.
	Plain bool `toml:"plain" yaml:"plain"`

	Log LogConfig `toml:"log" yaml:"log"`
	Lua LuaConfig `toml:"lua" yaml:"lua"`
	DAP DAPConfig `toml:"dap" yaml:"dap"`
}

// LogConfig configures diagnostics.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
	// File receives log output. Empty means stderr.
	File string `toml:"file" yaml:"file"`
}

// LuaConfig configures the Lua handler.
type LuaConfig struct {
	Script  string   `toml:"script" yaml:"script"`
	Watch   bool     `toml:"watch" yaml:"watch"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// DAPConfig configures the debug adapter handler.
type DAPConfig struct {
	Address   string         `toml:"address" yaml:"address"`
	Command   []string       `toml:"command" yaml:"command"`
	AdapterID string         `toml:"adapter_id" yaml:"adapter_id"`
	Mode      string         `toml:"mode" yaml:"mode"`
	Arguments map[string]any `toml:"arguments" yaml:"arguments"`
	Timeout   Duration       `toml:"timeout" yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Prompt:     "js> ",
		LineEnding: "lf",
		Handler:    HandlerLua,
		Log: LogConfig{
			Level: "info",
		},
		Lua: LuaConfig{
			Timeout: Duration{5 * time.Second},
		},
		DAP: DAPConfig{
			Mode:    "attach",
			Timeout: Duration{10 * time.Second},
		},
	}
}

// Load returns the defaults overlaid with the file at path and then the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the settings in path. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			perr := &ParseError{Path: path, Err: err}
			var derr *toml.DecodeError
			if errors.As(err, &derr) {
				perr.Line, perr.Column = derr.Position()
			}
			return perr
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return &ParseError{Path: path, Err: err}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return nil
}

// Validate checks that the configuration can be used.
func (c *Config) Validate() error {
	var problems []string

	switch c.Handler {
	case HandlerLua, HandlerDAP:
	default:
		problems = append(problems, fmt.Sprintf("handler %q is not %q or %q", c.Handler, HandlerLua, HandlerDAP))
	}
	if _, ok := document.ParseLineEnding(c.LineEnding); !ok {
		problems = append(problems, fmt.Sprintf("line_ending %q is not lf, crlf or cr", c.LineEnding))
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		problems = append(problems, fmt.Sprintf("log.level %q is invalid", c.Log.Level))
	}
	if c.Lua.Timeout.Duration < 0 {
		problems = append(problems, "lua.timeout is negative")
	}
	if c.Handler == HandlerDAP {
		if c.DAP.Address == "" && len(c.DAP.Command) == 0 {
			problems = append(problems, "dap needs an address or a command")
		}
		switch c.DAP.Mode {
		case "", "attach", "launch":
		default:
			problems = append(problems, fmt.Sprintf("dap.mode %q is not attach or launch", c.DAP.Mode))
		}
		if c.DAP.Timeout.Duration < 0 {
			problems = append(problems, "dap.timeout is negative")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(problems, "; "))
	}
	return nil
}

// DocumentLineEnding returns the parsed line ending.
func (c *Config) DocumentLineEnding() document.LineEnding {
	le, _ := document.ParseLineEnding(c.LineEnding)
	return le
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}
