// Package terminal renders a console document full-screen with tcell and
// turns key presses into document edits.
//
// The View never touches the document from the tcell event goroutine: every
// event is posted to the loop that owns the document, and the View redraws
// from change notifications delivered on that loop.
package terminal

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"github.com/dshills/evalconsole/internal/document"
	"github.com/dshills/evalconsole/internal/logging"
)

// Session is the part of the console session the view drives.
type Session interface {
	Busy() bool
	CommandLineOffset() (int, error)
	Clear()
}

// Poster runs functions on the goroutine that owns the document.
type Poster interface {
	Post(fn func())
}

// View is a full-screen console view.
type View struct {
	screen  tcell.Screen
	doc     *document.Document
	session Session
	poster  Poster
	log     *logging.Logger
	style   tcell.Style

	caret int

	pasting bool
	paste   strings.Builder

	quit     chan struct{}
	quitOnce sync.Once
}

// Option configures a View.
type Option func(*View)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *View) {
		if l != nil {
			v.log = l
		}
	}
}

// WithStyle sets the text style.
func WithStyle(s tcell.Style) Option {
	return func(v *View) {
		v.style = s
	}
}

// New creates a view of doc on screen. Events are handled through poster.
// The view listens to doc until Close.
func New(screen tcell.Screen, doc *document.Document, poster Poster, opts ...Option) *View {
	v := &View{
		screen: screen,
		doc:    doc,
		poster: poster,
		log:    logging.Nop(),
		style:  tcell.StyleDefault,
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.WithComponent("terminal")
	doc.AddListener(v)
	return v
}

// Bind sets the session whose command line the view edits.
func (v *View) Bind(s Session) {
	v.session = s
}

// Init initializes the screen and enables bracketed paste.
func (v *View) Init() error {
	if err := v.screen.Init(); err != nil {
		return err
	}
	v.screen.EnablePaste()
	v.screen.SetStyle(v.style)
	return nil
}

// Close stops listening to the document and restores the terminal.
func (v *View) Close() {
	v.doc.RemoveListener(v)
	v.screen.Fini()
}

// Done is closed when the user asks to quit.
func (v *View) Done() <-chan struct{} {
	return v.quit
}

// Quit requests the view to stop.
func (v *View) Quit() {
	v.quitOnce.Do(func() { close(v.quit) })
}

// Run forwards screen events to the loop until ctx is done or the user
// quits.
func (v *View) Run(ctx context.Context) error {
	events := make(chan tcell.Event, 64)
	stop := make(chan struct{})
	defer close(stop)
	go v.screen.ChannelEvents(events, stop)

	v.poster.Post(v.Draw)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-v.quit:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			v.poster.Post(func() { v.HandleEvent(ev) })
		}
	}
}

// DocumentChanged redraws after every edit.
func (v *View) DocumentChanged(document.ChangeEvent) {
	v.Draw()
}

// SetCaretOffset moves the caret. The session calls it after appending.
func (v *View) SetCaretOffset(offset int) {
	v.caret = offset
	v.Draw()
}

// Caret returns the caret offset.
func (v *View) Caret() int {
	return v.caret
}

// HandleEvent applies one screen event. It must run on the loop.
func (v *View) HandleEvent(ev tcell.Event) {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		v.screen.Sync()
		v.Draw()
	case *tcell.EventPaste:
		if ev.Start() {
			v.pasting = true
			v.paste.Reset()
			return
		}
		v.pasting = false
		text := v.paste.String()
		v.paste.Reset()
		if text == "" {
			return
		}
		if v.session == nil || v.session.Busy() {
			v.log.Debug("dropped paste of %d bytes while busy", len(text))
			return
		}
		v.insert(v.doc.Len(), text)
	case *tcell.EventKey:
		if v.pasting {
			v.collectPaste(ev)
			return
		}
		v.handleKey(ev)
	}
}

// collectPaste batches pasted keys so they arrive as a single insertion.
func (v *View) collectPaste(ev *tcell.EventKey) {
	switch ev.Key() {
	case tcell.KeyRune:
		v.paste.WriteRune(ev.Rune())
	case tcell.KeyEnter, tcell.KeyLF:
		v.paste.WriteString(v.doc.LineDelimiter())
	case tcell.KeyTab:
		v.paste.WriteByte('\t')
	}
}

func (v *View) handleKey(ev *tcell.EventKey) {
	switch ev.Key() {
	case tcell.KeyCtrlC:
		v.Quit()
		return
	case tcell.KeyCtrlD:
		if v.commandLineEmpty() {
			v.Quit()
		}
		return
	case tcell.KeyCtrlL:
		if v.session != nil {
			v.session.Clear()
		}
		return
	}

	if v.session == nil || v.session.Busy() {
		return
	}
	start, err := v.session.CommandLineOffset()
	if err != nil {
		v.log.Warn("command line: %v", err)
		return
	}
	if v.caret < start || v.caret > v.doc.Len() {
		v.caret = v.doc.Len()
	}

	switch ev.Key() {
	case tcell.KeyRune:
		v.insert(v.caret, string(ev.Rune()))
	case tcell.KeyTab:
		v.insert(v.caret, "\t")
	case tcell.KeyEnter, tcell.KeyLF:
		v.insert(v.doc.Len(), v.doc.LineDelimiter())
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if v.caret > start {
			v.deleteBefore(v.caret)
		}
	case tcell.KeyDelete:
		if v.caret < v.doc.Len() {
			v.deleteBefore(v.caret + v.runeLenAt(v.caret))
		}
	case tcell.KeyLeft:
		if v.caret > start {
			v.caret -= v.runeLenBefore(v.caret)
		}
	case tcell.KeyRight:
		if v.caret < v.doc.Len() {
			v.caret += v.runeLenAt(v.caret)
		}
	case tcell.KeyHome, tcell.KeyCtrlA:
		v.caret = start
	case tcell.KeyEnd, tcell.KeyCtrlE:
		v.caret = v.doc.Len()
	default:
		return
	}
	v.Draw()
}

// insert adds text and keeps the caret after it while the session is idle.
// A dispatched command moves the caret to the end through SetCaretOffset.
func (v *View) insert(offset int, text string) {
	if err := v.doc.Insert(offset, text); err != nil {
		v.log.Warn("insert: %v", err)
		return
	}
	if v.session != nil && !v.session.Busy() {
		v.caret = offset + len(text)
	}
}

// deleteBefore removes the rune ending at end.
func (v *View) deleteBefore(end int) {
	n := v.runeLenBefore(end)
	if err := v.doc.Replace(end-n, n, ""); err != nil {
		v.log.Warn("delete: %v", err)
		return
	}
	v.caret = end - n
}

func (v *View) runeLenAt(offset int) int {
	s, err := v.doc.Get(offset, min(utf8.UTFMax, v.doc.Len()-offset))
	if err != nil || s == "" {
		return 0
	}
	_, size := utf8.DecodeRuneInString(s)
	return size
}

func (v *View) runeLenBefore(offset int) int {
	start := max(0, offset-utf8.UTFMax)
	s, err := v.doc.Get(start, offset-start)
	if err != nil || s == "" {
		return 0
	}
	_, size := utf8.DecodeLastRuneInString(s)
	return size
}

func (v *View) commandLineEmpty() bool {
	if v.session == nil {
		return true
	}
	start, err := v.session.CommandLineOffset()
	return err != nil || start >= v.doc.Len()
}

// Draw renders the tail of the document so the caret row is visible.
func (v *View) Draw() {
	width, height := v.screen.Size()
	if width <= 0 || height <= 0 {
		return
	}

	rows, cx, cy := layout(v.doc, v.caret, width)

	first := 0
	if len(rows) > height {
		first = len(rows) - height
	}
	if cy < first {
		first = cy
	}

	v.screen.Clear()
	for y := 0; y < height && first+y < len(rows); y++ {
		x := 0
		for _, r := range rows[first+y] {
			if r == '\t' {
				r = ' '
			}
			v.screen.SetContent(x, y, r, nil, v.style)
			x += cellWidth(r)
		}
	}
	v.screen.ShowCursor(cx, cy-first)
	v.screen.Show()
}

// layout wraps the document into screen rows and locates the caret.
func layout(doc *document.Document, caret, width int) (rows [][]rune, cx, cy int) {
	if caret > doc.Len() {
		caret = doc.Len()
	}

	for line := 0; line < doc.LineCount(); line++ {
		start, err := doc.LineOffset(line)
		if err != nil {
			break
		}
		text, err := doc.LineText(line)
		if err != nil {
			break
		}

		var row []rune
		col := 0
		for i, r := range text {
			w := cellWidth(r)
			if col+w > width && col > 0 {
				rows = append(rows, row)
				row, col = nil, 0
			}
			if start+i == caret {
				cx, cy = col, len(rows)
			}
			row = append(row, r)
			col += w
		}
		if start+len(text) <= caret {
			if col >= width {
				rows = append(rows, row)
				row, col = nil, 0
			}
			cx, cy = col, len(rows)
		}
		rows = append(rows, row)
	}
	return rows, cx, cy
}

// cellWidth is the number of columns r occupies; tabs and control
// characters take one.
func cellWidth(r rune) int {
	if w := runewidth.RuneWidth(r); w > 0 {
		return w
	}
	return 1
}
