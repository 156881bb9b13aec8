package partial

import (
	"strings"
	"unicode"
)

// repair turns a truncated JSON prefix into a candidate complete document.
// The boolean is false when the prefix can never become valid by appending
// closers, for example because it already closes a scope it never opened.
func repair(s string) (string, bool) {
	out, lastComma, ok := closeScopes(s)
	if !ok {
		return "", false
	}
	if isValidObject(out) {
		return out, true
	}

	// A key or value cut mid-way (`{"a":1,"b":`) cannot be closed into a
	// valid document; fall back to the prefix ending at the last separator.
	if lastComma > 0 {
		if prefix, _, ok := closeScopes(s[:lastComma]); ok {
			return prefix, true
		}
	}
	return out, true
}

// closeScopes scans s with string and escape awareness and appends whatever
// is needed to close it. It also returns the offset of the last comma seen
// outside a string, or -1.
func closeScopes(s string) (string, int, bool) {
	var stack []byte
	inString := false
	escaped := false
	lastComma := -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", -1, false
			}
			stack = stack[:len(stack)-1]
		case ',':
			lastComma = i
		}
	}

	var b strings.Builder
	b.Grow(len(s) + len(stack) + 1)

	out := s
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		b.WriteString(out)
		b.WriteByte('"')
	} else {
		out = strings.TrimRightFunc(out, unicode.IsSpace)
		out = strings.TrimSuffix(out, ",")
		out = strings.TrimRightFunc(out, unicode.IsSpace)
		out = strings.TrimSuffix(out, ":")
		b.WriteString(out)
	}

	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String(), lastComma, true
}

// stripFence removes a surrounding markdown code fence, which models often
// wrap around JSON even when asked not to.
func stripFence(s string) string {
	trimmed := strings.TrimLeftFunc(s, unicode.IsSpace)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}

	nl := strings.IndexByte(trimmed, '\n')
	if nl < 0 {
		// Only the opening fence has arrived so far.
		return ""
	}
	body := trimmed[nl+1:]
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body
}
