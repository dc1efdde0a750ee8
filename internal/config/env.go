package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "EVALCONSOLE_"

// envSetter applies one environment value.
type envSetter func(c *Config, value string) error

// envMapping maps variable names (without prefix) to setters.
var envMapping = map[string]envSetter{
	"PROMPT":         func(c *Config, v string) error { c.Prompt = v; return nil },
	"LINE_ENDING":    func(c *Config, v string) error { c.LineEnding = strings.ToLower(v); return nil },
	"HANDLER":        func(c *Config, v string) error { c.Handler = strings.ToLower(v); return nil },
	"PLAIN":          func(c *Config, v string) error { return parseBool(v, &c.Plain) },
	"LOG_LEVEL":      func(c *Config, v string) error { c.Log.Level = v; return nil },
	"LOG_FILE":       func(c *Config, v string) error { c.Log.File = v; return nil },
	"LUA_SCRIPT":     func(c *Config, v string) error { c.Lua.Script = v; return nil },
	"LUA_WATCH":      func(c *Config, v string) error { return parseBool(v, &c.Lua.Watch) },
	"LUA_TIMEOUT":    func(c *Config, v string) error { return parseDuration(v, &c.Lua.Timeout) },
	"DAP_ADDRESS":    func(c *Config, v string) error { c.DAP.Address = v; return nil },
	"DAP_COMMAND":    func(c *Config, v string) error { return parseList(v, &c.DAP.Command) },
	"DAP_ADAPTER_ID": func(c *Config, v string) error { c.DAP.AdapterID = v; return nil },
	"DAP_MODE":       func(c *Config, v string) error { c.DAP.Mode = strings.ToLower(v); return nil },
	"DAP_ARGUMENTS":  func(c *Config, v string) error { return json.Unmarshal([]byte(v), &c.DAP.Arguments) },
	"DAP_TIMEOUT":    func(c *Config, v string) error { return parseDuration(v, &c.DAP.Timeout) },
}

// ApplyEnv overlays EVALCONSOLE_* variables found through lookup.
// Empty values are treated as set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for name, set := range envMapping {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := set(c, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
	}
	return nil
}

func parseBool(s string, dst *bool) error {
	switch strings.ToLower(s) {
	case "true", "yes", "on", "1":
		*dst = true
	case "false", "no", "off", "0", "":
		*dst = false
	default:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}

func parseDuration(s string, dst *Duration) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	dst.Duration = d
	return nil
}

// parseList accepts a JSON array or a whitespace separated list.
func parseList(s string, dst *[]string) error {
	if strings.HasPrefix(strings.TrimSpace(s), "[") {
		return json.Unmarshal([]byte(s), dst)
	}
	*dst = strings.Fields(s)
	return nil
}
