package kbinxml

import "strings"

// Compact removes indentation and line breaks from generated XML: every
// line is trimmed and the lines are joined with no separator. Whitespace
// inside a text node that sits at a line boundary is lost; use the pretty
// form when it matters. Compact(Compact(s)) == Compact(s).
func Compact(text string) string {
	lines := strings.Split(text, "\n")
	var b strings.Builder
	b.Grow(len(text))
	for _, line := range lines {
		b.WriteString(strings.TrimSpace(line))
	}
	return b.String()
}

// Normalize returns text unchanged when pretty is set and its compact form
// otherwise.
func Normalize(text string, pretty bool) string {
	if pretty {
		return text
	}
	return Compact(text)
}
