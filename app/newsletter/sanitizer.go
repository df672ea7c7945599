package newsletter

import "strings"

const fence = "```"

// stringScanner tracks whether the current position is inside a JSON string literal.
// One bit of lookback is enough to tell an escaped quote from a closing one.
type stringScanner struct {
	inString bool
	escaped  bool
}

// Sanitize escapes raw control characters that appear inside string literals.
// Everything outside strings is copied unchanged.
func (s *stringScanner) Sanitize(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 16)

	for _, r := range text {
		if r == '"' && !s.escaped {
			s.inString = !s.inString
		}

		switch {
		case s.inString && r == '\n':
			b.WriteString(`\n`)
		case s.inString && r == '\r':
			b.WriteString(`\r`)
		case s.inString && r == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}

		s.escaped = r == '\\' && !s.escaped
	}

	return b.String()
}

func sanitize(text string) string {
	var s stringScanner
	return s.Sanitize(text)
}

// extractFenced unwraps output that arrives inside a markdown code block. Text that
// already starts with an object is returned as is, so fences inside its strings stay intact.
func extractFenced(text string) string {
	trimmed := strings.TrimSpace(text)

	switch {
	case strings.HasPrefix(trimmed, fence):
		return stripFence(trimmed)
	case strings.HasPrefix(trimmed, "{"):
		return text
	}

	// prose before the block
	if idx := strings.Index(trimmed, fence); idx >= 0 {
		return stripFence(trimmed[idx:])
	}
	return text
}

// stripFence removes the opening fence with its optional json tag and cuts at the last
// closing fence. Without a closing fence the rest of the text is the body.
func stripFence(text string) string {
	body := strings.TrimLeft(text[len(fence):], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, fence); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
