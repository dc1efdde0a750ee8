package console

import "strings"

// Split cuts text at every occurrence of delim, left to right. It returns
// the complete commands, without their delimiters, and the unterminated
// remainder after the last delimiter. An empty delim yields no commands.
func Split(text, delim string) (commands []string, remainder string) {
	if delim == "" {
		return nil, text
	}

	start := 0
	for {
		i := strings.Index(text[start:], delim)
		if i < 0 {
			break
		}
		commands = append(commands, text[start:start+i])
		start += i + len(delim)
	}
	return commands, text[start:]
}
