package document

import (
	"errors"
	"strings"
	"sync"
)

// Errors returned by document operations.
var (
	ErrOffsetOutOfRange = errors.New("offset out of range")
	ErrRangeInvalid     = errors.New("invalid range")
	ErrLineOutOfRange   = errors.New("line out of range")
)

// LineEnding specifies the line ending style.
type LineEnding uint8

const (
	LineEndingLF   LineEnding = iota // Unix: \n
	LineEndingCRLF                   // Windows: \r\n
	LineEndingCR                     // Old Mac: \r
)

// ParseLineEnding parses "lf", "crlf" or "cr".
func ParseLineEnding(s string) (LineEnding, bool) {
	switch strings.ToLower(s) {
	case "lf", "":
		return LineEndingLF, true
	case "crlf":
		return LineEndingCRLF, true
	case "cr":
		return LineEndingCR, true
	default:
		return LineEndingLF, false
	}
}

// String returns the string representation of the line ending.
func (le LineEnding) String() string {
	switch le {
	case LineEndingCRLF:
		return "\\r\\n"
	case LineEndingCR:
		return "\\r"
	default:
		return "\\n"
	}
}

// Sequence returns the actual line ending characters.
func (le LineEnding) Sequence() string {
	switch le {
	case LineEndingCRLF:
		return "\r\n"
	case LineEndingCR:
		return "\r"
	default:
		return "\n"
	}
}

// ChangeEvent describes a single applied mutation: Length bytes starting at
// Offset were replaced by Text.
type ChangeEvent struct {
	Offset int
	Length int
	Text   string
}

// Listener is notified after each document change.
// Listeners are identified by ==, so implementations must be comparable;
// pointer receivers are the usual choice.
type Listener interface {
	DocumentChanged(ev ChangeEvent)
}

// Document is a line-delimited text store with change notification.
type Document struct {
	mu         sync.RWMutex
	text       string
	lineStarts []int
	lineEnding LineEnding
	normalize  bool

	listenerMu sync.Mutex
	listeners  []Listener
}

// Option configures a Document.
type Option func(*Document)

// WithLineEnding sets the line delimiter.
func WithLineEnding(le LineEnding) Option {
	return func(d *Document) {
		d.lineEnding = le
	}
}

// WithoutNormalization keeps inserted text byte for byte instead of
// converting foreign line endings to the document's delimiter.
func WithoutNormalization() Option {
	return func(d *Document) {
		d.normalize = false
	}
}

// New creates an empty document.
func New(opts ...Option) *Document {
	d := &Document{
		lineEnding: LineEndingLF,
		normalize:  true,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.reindex()
	return d
}

// NewFromString creates a document with initial content.
func NewFromString(s string, opts ...Option) *Document {
	d := New(opts...)
	d.text = d.normalizeLineEndings(s)
	d.reindex()
	return d
}

// normalizeLineEndings converts all line endings to the document's style.
func (d *Document) normalizeLineEndings(s string) string {
	if !d.normalize || !strings.ContainsAny(s, "\r\n") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if d.lineEnding != LineEndingLF {
		s = strings.ReplaceAll(s, "\n", d.lineEnding.Sequence())
	}
	return s
}

// reindex rebuilds the line start table. Callers hold mu for writing.
func (d *Document) reindex() {
	delim := d.lineEnding.Sequence()
	starts := d.lineStarts[:0]
	starts = append(starts, 0)
	for i := 0; ; {
		j := strings.Index(d.text[i:], delim)
		if j < 0 {
			break
		}
		i += j + len(delim)
		starts = append(starts, i)
	}
	d.lineStarts = starts
}

// Read Operations

// Text returns the full content.
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text
}

// Len returns the total byte length.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.text)
}

// LineDelimiter returns the configured line delimiter sequence.
func (d *Document) LineDelimiter() string {
	return d.lineEnding.Sequence()
}

// LineEnding returns the configured line ending style.
func (d *Document) LineEnding() LineEnding {
	return d.lineEnding
}

// LineCount returns the number of lines. An empty document has one line,
// and a trailing delimiter starts a new, empty last line.
func (d *Document) LineCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.lineStarts)
}

// LineOffset returns the byte offset of the start of a line.
func (d *Document) LineOffset(line int) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if line < 0 || line >= len(d.lineStarts) {
		return 0, ErrLineOutOfRange
	}
	return d.lineStarts[line], nil
}

// LineLength returns the length of a line in bytes, without its delimiter.
func (d *Document) LineLength(line int) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if line < 0 || line >= len(d.lineStarts) {
		return 0, ErrLineOutOfRange
	}
	return d.lineEndLocked(line) - d.lineStarts[line], nil
}

// LineText returns the text of a line, without its delimiter.
func (d *Document) LineText(line int) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if line < 0 || line >= len(d.lineStarts) {
		return "", ErrLineOutOfRange
	}
	return d.text[d.lineStarts[line]:d.lineEndLocked(line)], nil
}

func (d *Document) lineEndLocked(line int) int {
	if line+1 < len(d.lineStarts) {
		return d.lineStarts[line+1] - len(d.lineEnding.Sequence())
	}
	return len(d.text)
}

// Get returns length bytes starting at offset.
func (d *Document) Get(offset, length int) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.checkRange(offset, length); err != nil {
		return "", err
	}
	return d.text[offset : offset+length], nil
}

func (d *Document) checkRange(offset, length int) error {
	if offset < 0 || offset > len(d.text) {
		return ErrOffsetOutOfRange
	}
	if length < 0 || offset+length > len(d.text) {
		return ErrRangeInvalid
	}
	return nil
}

// Write Operations

// Replace replaces length bytes at offset with text and notifies listeners.
func (d *Document) Replace(offset, length int, text string) error {
	d.mu.Lock()
	if err := d.checkRange(offset, length); err != nil {
		d.mu.Unlock()
		return err
	}
	text = d.normalizeLineEndings(text)
	d.text = d.text[:offset] + text + d.text[offset+length:]
	d.reindex()
	d.mu.Unlock()

	d.notify(ChangeEvent{Offset: offset, Length: length, Text: text})
	return nil
}

// Insert inserts text at offset.
func (d *Document) Insert(offset int, text string) error {
	return d.Replace(offset, 0, text)
}

// Append inserts text at the end of the document.
func (d *Document) Append(text string) error {
	d.mu.RLock()
	end := len(d.text)
	d.mu.RUnlock()
	return d.Replace(end, 0, text)
}

// Set replaces the whole content.
func (d *Document) Set(text string) {
	d.mu.Lock()
	old := len(d.text)
	text = d.normalizeLineEndings(text)
	d.text = text
	d.reindex()
	d.mu.Unlock()

	d.notify(ChangeEvent{Offset: 0, Length: old, Text: text})
}

// Listeners

// AddListener registers l. Adding a listener twice has no effect.
func (d *Document) AddListener(l Listener) {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	for _, existing := range d.listeners {
		if existing == l {
			return
		}
	}
	d.listeners = append(d.listeners, l)
}

// RemoveListener unregisters l. Removing an unknown listener has no effect.
func (d *Document) RemoveListener(l Listener) {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	for i, existing := range d.listeners {
		if existing == l {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return
		}
	}
}

// HasListener reports whether l is registered.
func (d *Document) HasListener(l Listener) bool {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	for _, existing := range d.listeners {
		if existing == l {
			return true
		}
	}
	return false
}

// notify delivers ev to a snapshot of the listeners. A listener removed by
// an earlier listener during the same notification is skipped.
func (d *Document) notify(ev ChangeEvent) {
	d.listenerMu.Lock()
	snapshot := make([]Listener, len(d.listeners))
	copy(snapshot, d.listeners)
	d.listenerMu.Unlock()

	for _, l := range snapshot {
		if !d.HasListener(l) {
			continue
		}
		l.DocumentChanged(ev)
	}
}
