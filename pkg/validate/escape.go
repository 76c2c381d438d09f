package validate

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

// DoubleEscapeChecker detects \\[...\\] patterns inside function arguments
// that produce \text\ instead of the intended [text], and \{...} groups
// that print their braces instead of grouping. Both come from code written
// for an evaluator that ran queued text twice.
type DoubleEscapeChecker struct {
	Known func(name string) bool
}

func (c *DoubleEscapeChecker) Name() string { return "double-escape" }

func (c *DoubleEscapeChecker) Check(objs []*gamedb.Object) []Finding {
	var findings []Finding
	for _, o := range objs {
		if o.IsGoing() {
			continue
		}
		attrs(o, func(name, text string) {
			var effects []string
			if m := c.inFuncArgs(text); len(m) > 0 {
				effects = append(effects, fmt.Sprintf("%d escaped bracket pair(s)", len(m)))
			}
			if m := findBraceEscapes(text); len(m) > 0 {
				effects = append(effects, fmt.Sprintf("%d escaped brace group(s)", len(m)))
			}
			if len(effects) == 0 {
				return
			}
			findings = append(findings, fixable(CatDoubleEscape, o, name, text, c.fix,
				fmt.Sprintf("%s on #%d (%s): %s", name, o.DBRef, truncate(o.Name, 30), strings.Join(effects, ", "))))
		})
	}
	return findings
}

func (c *DoubleEscapeChecker) fix(text string) string {
	text = replaceSpans(text, c.inFuncArgs(text), fixBracketSpan)
	return replaceSpans(text, findBraceEscapes(text), fixBraceSpan)
}

type span struct {
	start, end int
}

func (c *DoubleEscapeChecker) inFuncArgs(text string) []span {
	var out []span
	for _, s := range findDoubleEscapePairs(text) {
		if c.insideFuncArg(text, s.start) {
			out = append(out, s)
		}
	}
	return out
}

// findDoubleEscapePairs finds all \\[...\\] paired patterns in text.
func findDoubleEscapePairs(text string) []span {
	var out []span
	i := 0
	for i+2 < len(text) {
		if !(text[i] == '\\' && text[i+1] == '\\' && text[i+2] == '[') {
			i++
			continue
		}
		start, j, depth := i, i+3, 1
		for j+2 < len(text) && depth > 0 {
			if text[j] == '\\' && text[j+1] == '\\' {
				switch text[j+2] {
				case '[':
					depth++
					j += 3
					continue
				case ']':
					depth--
					j += 3
					continue
				}
			}
			j++
		}
		if depth == 0 {
			out = append(out, span{start, j})
			i = j
		} else {
			i++
		}
	}
	return out
}

// insideFuncArg reports whether pos falls inside the argument list of a
// known function call, scanning back for an unmatched '('.
func (c *DoubleEscapeChecker) insideFuncArg(text string, pos int) bool {
	depth := 0
	for i := pos - 1; i >= 0; i-- {
		switch text[i] {
		case ')':
			depth++
		case '(':
			if depth > 0 {
				depth--
				continue
			}
			if name := funcNameBefore(text, i); name != "" && c.Known(strings.ToLower(name)) {
				return true
			}
		}
	}
	return false
}

// funcNameBefore extracts the identifier immediately before the '(' at
// paren.
func funcNameBefore(text string, paren int) string {
	i := paren - 1
	for i >= 0 && text[i] == ' ' {
		i--
	}
	end := i + 1
	for i >= 0 && (unicode.IsLetter(rune(text[i])) || unicode.IsDigit(rune(text[i])) || text[i] == '_') {
		i--
	}
	return text[i+1 : end]
}

// fixBracketSpan converts \\[text\\] to \[text\].
func fixBracketSpan(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if i+2 < len(s) && s[i] == '\\' && s[i+1] == '\\' && (s[i+2] == '[' || s[i+2] == ']') {
			b.WriteByte('\\')
			b.WriteByte(s[i+2])
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// findBraceEscapes locates \{...} groups whose closing brace is bare.
// \\{ is a literal backslash followed by a real brace and is left alone.
func findBraceEscapes(text string) []span {
	var out []span
	i := 0
	for i+2 < len(text) {
		if text[i] != '\\' || text[i+1] != '{' || (i > 0 && text[i-1] == '\\') {
			i++
			continue
		}
		j, depth := i+2, 1
		for j < len(text) && depth > 0 {
			switch text[j] {
			case '\\':
				j++
			case '{':
				depth++
			case '}':
				depth--
			}
			j++
		}
		if depth == 0 {
			out = append(out, span{i, j})
			i = j
		} else {
			i += 2
		}
	}
	return out
}

// fixBraceSpan converts \{text} to {text}.
func fixBraceSpan(s string) string {
	return strings.TrimPrefix(s, `\`)
}

func replaceSpans(text string, spans []span, fix func(string) string) string {
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, s := range spans {
		b.WriteString(text[last:s.start])
		b.WriteString(fix(text[s.start:s.end]))
		last = s.end
	}
	b.WriteString(text[last:])
	return b.String()
}

// PercentChecker detects \\% patterns, which evaluate to a backslash
// followed by the substitution instead of a literal percent.
type PercentChecker struct{}

func (c *PercentChecker) Name() string { return "percent" }

func (c *PercentChecker) Check(objs []*gamedb.Object) []Finding {
	var findings []Finding
	for _, o := range objs {
		if o.IsGoing() {
			continue
		}
		attrs(o, func(name, text string) {
			n := strings.Count(text, `\\%`)
			if n == 0 {
				return
			}
			findings = append(findings, fixable(CatPercent, o, name, text, fixPercent,
				fmt.Sprintf("Backslash-percent pattern in %s on #%d (%s), %d occurrence(s)", name, o.DBRef, truncate(o.Name, 30), n)))
		})
	}
	return findings
}

func fixPercent(text string) string {
	return strings.ReplaceAll(text, `\\%`, `\%`)
}

// BalanceChecker reports attributes whose brackets or braces do not pair
// up. The evaluator treats an unclosed group as literal text, which
// is rarely what was meant.
type BalanceChecker struct{}

func (c *BalanceChecker) Name() string { return "balance" }

func (c *BalanceChecker) Check(objs []*gamedb.Object) []Finding {
	var findings []Finding
	for _, o := range objs {
		if o.IsGoing() {
			continue
		}
		attrs(o, func(name, text string) {
			if open, pos := unbalanced(text); open != 0 {
				findings = append(findings, Finding{
					Category:    CatUnbalanced,
					Severity:    SevWarning,
					ObjectRef:   o.DBRef,
					Attr:        name,
					OwnerRef:    o.Owner,
					Description: fmt.Sprintf("Unmatched %q at position %d in %s on #%d", open, pos, name, o.DBRef),
					Current:     truncate(text, 200),
				})
			}
		})
	}
	return findings
}

// unbalanced returns the first opener left unclosed at the end of text, or
// a stray closer, and its position. Escaped characters do not count.
func unbalanced(text string) (byte, int) {
	type open struct {
		ch  byte
		pos int
	}
	var stack []open
	closer := map[byte]byte{']': '[', '}': '{', ')': '('}
	for i := 0; i < len(text); i++ {
		switch ch := text[i]; ch {
		case '\\', '%':
			i++
		case '[', '{', '(':
			stack = append(stack, open{ch, i})
		case ']', '}':
			for len(stack) > 0 && stack[len(stack)-1].ch == '(' {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 || stack[len(stack)-1].ch != closer[ch] {
				return ch, i
			}
			stack = stack[:len(stack)-1]
		case ')':
			// Parentheses are literal outside a function call.
			if len(stack) > 0 && stack[len(stack)-1].ch == '(' {
				stack = stack[:len(stack)-1]
			}
		}
	}
	for _, o := range stack {
		if o.ch != '(' {
			return o.ch, o.pos
		}
	}
	return 0, 0
}
