package console

import (
	"reflect"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		delim     string
		commands  []string
		remainder string
	}{
		{"no delimiter", "abc", "\n", nil, "abc"},
		{"empty", "", "\n", nil, ""},
		{"one command", "foo\n", "\n", []string{"foo"}, ""},
		{"paste", "a\nb\nc", "\n", []string{"a", "b"}, "c"},
		{"empty commands", "\n\n", "\n", []string{"", ""}, ""},
		{"crlf", "a\r\nb\nc\r\n", "\r\n", []string{"a", "b\nc"}, ""},
		{"cr", "x\ry", "\r", []string{"x"}, "y"},
		{"empty delimiter", "a\nb", "", nil, "a\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commands, remainder := Split(tt.text, tt.delim)
			if !reflect.DeepEqual(commands, tt.commands) {
				t.Errorf("commands = %q, want %q", commands, tt.commands)
			}
			if remainder != tt.remainder {
				t.Errorf("remainder = %q, want %q", remainder, tt.remainder)
			}
		})
	}
}
