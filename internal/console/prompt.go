package console

// DefaultPrompt is the invitation printed before every command line.
const DefaultPrompt = "js> "

// Prompt computes the editable command-line region from the current line
// structure of a buffer. It holds no state besides the prompt text.
type Prompt struct {
	text string
}

// NewPrompt creates a prompt with the given invitation text.
func NewPrompt(text string) Prompt {
	return Prompt{text: text}
}

// Invitation returns the text appended after every completed command.
func (p Prompt) Invitation() string {
	return p.text
}

// CommandLineOffset returns the offset just past the prompt on the last
// line, clamped to the buffer length when the prompt is only partly there.
func (p Prompt) CommandLineOffset(buf Buffer) (int, error) {
	start, err := buf.LineOffset(buf.LineCount() - 1)
	if err != nil {
		return 0, err
	}
	offset := start + len(p.text)
	if n := buf.Len(); offset > n {
		return n, nil
	}
	return offset, nil
}

// CommandLineLength returns the last line's length minus the prompt
// length, never less than zero.
func (p Prompt) CommandLineLength(buf Buffer) (int, error) {
	n, err := buf.LineLength(buf.LineCount() - 1)
	if err != nil {
		return 0, err
	}
	if n -= len(p.text); n <= 0 {
		return 0, nil
	}
	return n, nil
}
