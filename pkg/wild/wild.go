// Package wild implements MUSH wildcard matching: '*' matches any run of
// characters, '?' exactly one, and '\' makes the next character literal.
// Matching is case-insensitive.
package wild

import (
	"unicode"
)

// Match reports whether s matches pattern.
func Match(pattern, s string) bool {
	_, ok := Capture(pattern, s)
	return ok
}

// Capture matches s against pattern and returns the text each wildcard
// consumed, in order.
func Capture(pattern, s string) ([]string, bool) {
	p := []rune(pattern)
	r := []rune(s)
	var caps []string
	if !match(p, r, &caps) {
		return nil, false
	}
	return caps, true
}

func match(p, s []rune, caps *[]string) bool {
	for len(p) > 0 {
		switch p[0] {
		case '*':
			for len(p) > 1 && p[1] == '*' {
				p = p[1:]
			}
			mark := len(*caps)
			// prefer the shortest run so earlier stars capture least
			for i := 0; i <= len(s); i++ {
				*caps = append((*caps)[:mark], string(s[:i]))
				if match(p[1:], s[i:], caps) {
					return true
				}
			}
			*caps = (*caps)[:mark]
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			*caps = append(*caps, string(s[:1]))
			p, s = p[1:], s[1:]
		case '\\':
			if len(p) > 1 {
				p = p[1:]
			}
			fallthrough
		default:
			if len(s) == 0 || !equalFold(p[0], s[0]) {
				return false
			}
			p, s = p[1:], s[1:]
		}
	}
	return len(s) == 0
}

func equalFold(a, b rune) bool {
	return a == b || unicode.ToLower(a) == unicode.ToLower(b)
}

// HasWildcards reports whether pattern contains an unescaped '*' or '?'.
func HasWildcards(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '*', '?':
			return true
		}
	}
	return false
}
