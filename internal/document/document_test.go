package document

import (
	"errors"
	"testing"
)

type recorder struct {
	events []ChangeEvent
	onEvt  func(ev ChangeEvent)
}

func (r *recorder) DocumentChanged(ev ChangeEvent) {
	r.events = append(r.events, ev)
	if r.onEvt != nil {
		r.onEvt(ev)
	}
}

func TestParseLineEnding(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"lf", "\n", true},
		{"", "\n", true},
		{"CRLF", "\r\n", true},
		{"cr", "\r", true},
		{"nel", "\n", false},
	}
	for _, tt := range tests {
		le, ok := ParseLineEnding(tt.in)
		if le.Sequence() != tt.want || ok != tt.ok {
			t.Errorf("ParseLineEnding(%q) = %q, %v; want %q, %v", tt.in, le.Sequence(), ok, tt.want, tt.ok)
		}
	}
}

func TestDocument_Lines(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		le      LineEnding
		count   int
		offsets []int
		lengths []int
	}{
		{"empty", "", LineEndingLF, 1, []int{0}, []int{0}},
		{"single", "js> ", LineEndingLF, 1, []int{0}, []int{4}},
		{"trailing delimiter", "a\n", LineEndingLF, 2, []int{0, 2}, []int{1, 0}},
		{"three lines", "ab\nc\ndef", LineEndingLF, 3, []int{0, 3, 5}, []int{2, 1, 3}},
		{"crlf", "ab\r\ncd", LineEndingCRLF, 2, []int{0, 4}, []int{2, 2}},
		{"cr", "ab\rcd", LineEndingCR, 2, []int{0, 3}, []int{2, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewFromString(tt.text, WithLineEnding(tt.le))
			if got := d.LineCount(); got != tt.count {
				t.Fatalf("LineCount() = %d, want %d", got, tt.count)
			}
			for i := 0; i < tt.count; i++ {
				off, err := d.LineOffset(i)
				if err != nil || off != tt.offsets[i] {
					t.Errorf("LineOffset(%d) = %d, %v; want %d", i, off, err, tt.offsets[i])
				}
				n, err := d.LineLength(i)
				if err != nil || n != tt.lengths[i] {
					t.Errorf("LineLength(%d) = %d, %v; want %d", i, n, err, tt.lengths[i])
				}
			}
			if _, err := d.LineOffset(tt.count); !errors.Is(err, ErrLineOutOfRange) {
				t.Errorf("LineOffset(%d) error = %v, want ErrLineOutOfRange", tt.count, err)
			}
		})
	}
}

func TestDocument_ReplaceAndGet(t *testing.T) {
	d := NewFromString("hello world")

	if err := d.Replace(6, 5, "there"); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if got := d.Text(); got != "hello there" {
		t.Errorf("Text() = %q", got)
	}

	got, err := d.Get(0, 5)
	if err != nil || got != "hello" {
		t.Errorf("Get(0, 5) = %q, %v", got, err)
	}

	if err := d.Append("!"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if got := d.Text(); got != "hello there!" {
		t.Errorf("Text() = %q", got)
	}
}

func TestDocument_BoundsErrors(t *testing.T) {
	d := NewFromString("abc")

	if err := d.Replace(4, 0, "x"); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Errorf("Replace past end error = %v", err)
	}
	if err := d.Replace(-1, 0, "x"); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Errorf("Replace negative error = %v", err)
	}
	if err := d.Replace(1, 5, ""); !errors.Is(err, ErrRangeInvalid) {
		t.Errorf("Replace long range error = %v", err)
	}
	if _, err := d.Get(2, 2); !errors.Is(err, ErrRangeInvalid) {
		t.Errorf("Get long range error = %v", err)
	}
	if d.Text() != "abc" {
		t.Errorf("failed edits must not modify content, got %q", d.Text())
	}
}

func TestDocument_NormalizesLineEndings(t *testing.T) {
	d := New(WithLineEnding(LineEndingCRLF))
	_ = d.Append("a\nb\r\nc\rd")
	if got := d.Text(); got != "a\r\nb\r\nc\r\nd" {
		t.Errorf("Text() = %q", got)
	}

	raw := New(WithoutNormalization())
	_ = raw.Append("a\r\nb")
	if got := raw.Text(); got != "a\r\nb" {
		t.Errorf("Text() without normalization = %q", got)
	}
}

func TestDocument_Listeners(t *testing.T) {
	d := New()
	r := &recorder{}
	d.AddListener(r)
	d.AddListener(r)

	_ = d.Append("ab")
	_ = d.Replace(0, 1, "")
	d.Set("xyz")

	want := []ChangeEvent{
		{Offset: 0, Length: 0, Text: "ab"},
		{Offset: 0, Length: 1, Text: ""},
		{Offset: 0, Length: 1, Text: "xyz"},
	}
	if len(r.events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(r.events), len(want), r.events)
	}
	for i := range want {
		if r.events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, r.events[i], want[i])
		}
	}

	d.RemoveListener(r)
	if d.HasListener(r) {
		t.Error("expected listener to be removed")
	}
	_ = d.Append("more")
	if len(r.events) != len(want) {
		t.Error("removed listener must not be notified")
	}
}

func TestDocument_ListenerMayMutate(t *testing.T) {
	d := New()
	other := &recorder{}
	var self *recorder
	self = &recorder{onEvt: func(ev ChangeEvent) {
		// Detach both, then edit: neither may observe the nested change.
		d.RemoveListener(self)
		d.RemoveListener(other)
		_ = d.Append("!")
	}}
	d.AddListener(self)
	d.AddListener(other)

	_ = d.Append("x")

	if d.Text() != "x!" {
		t.Errorf("Text() = %q", d.Text())
	}
	if len(self.events) != 1 {
		t.Errorf("self saw %d events, want 1", len(self.events))
	}
	if len(other.events) != 0 {
		t.Errorf("listener removed mid-notification saw %d events", len(other.events))
	}
}
