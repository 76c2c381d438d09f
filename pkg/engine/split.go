package engine

import "strings"

// splitCommands cuts a command list on semicolons outside braces and
// brackets. Backslash and percent protect the next character.
func splitCommands(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%':
			i++
		case '{', '[':
			depth++
		case '}', ']':
			if depth > 0 {
				depth--
			}
		case ';':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// splitEquals cuts "lhs=rhs" at the first '=' outside braces and brackets.
// Both sides are trimmed.
func splitEquals(s string) (lhs, rhs string, ok bool) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%':
			i++
		case '{', '[':
			depth++
		case '}', ']':
			if depth > 0 {
				depth--
			}
		case '=':
			if depth == 0 {
				return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
			}
		}
	}
	return strings.TrimSpace(s), "", false
}

// stripBraces removes one pair of braces enclosing all of s.
func stripBraces(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return s
	}
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%':
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 && i != len(s)-1 {
				return s
			}
		}
	}
	if depth != 0 {
		return s
	}
	return strings.TrimSpace(s[1 : len(s)-1])
}

// parseCommand splits "name/sw1/sw2 args" into its parts. The name is
// lower-cased.
func parseCommand(text string) (name string, switches []string, args string) {
	name, args, _ = strings.Cut(text, " ")
	args = strings.TrimSpace(args)
	parts := strings.Split(name, "/")
	name = strings.ToLower(parts[0])
	for _, sw := range parts[1:] {
		if sw != "" {
			switches = append(switches, strings.ToLower(sw))
		}
	}
	return name, switches, args
}
