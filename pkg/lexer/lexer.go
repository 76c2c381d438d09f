// Package lexer turns MUSHcode input into a token stream.
//
// Lexing happens in two passes. A participle stateful grammar cuts the input
// into tokens, tracking substitution, group and escape states as it goes.
// A matcher then pairs openers with closers using a stack, demotes anything
// left unmatched to literal text and assigns every token its final mode.
// The lexer never fails: malformed input degrades to literal text.
package lexer

import (
	"unicode/utf8"

	plex "github.com/alecthomas/participle/v2/lexer"

	"github.com/crystal-mush/mushcode/pkg/markup"
)

// Kind classifies a token.
type Kind int

const (
	KindText Kind = iota
	KindOpen
	KindClose
	KindSeparator
	KindEscape
	KindPercent
	KindOther
)

var kindNames = [...]string{"Text", "Open", "Close", "Separator", "Escape", "Percent", "Other"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(?)"
}

// Mode is the lexical context a token was produced in.
type Mode int

const (
	ModePlain Mode = iota
	ModeSubst
	ModeGroup
	ModeEscape
)

var modeNames = [...]string{"Plain", "Subst", "Group", "Escape"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "Mode(?)"
}

// Token is one lexical unit. Start and End are rune offsets into the input.
// For matched openers and closers Pair is the index of the partner token,
// otherwise it is -1.
type Token struct {
	Kind  Kind
	Mode  Mode
	Value string
	Delim rune
	Start int
	End   int
	Pair  int
}

// Result is the output of Lex. Stop is the rune offset where lexing
// stopped; it equals the input length unless a closer for the start mode
// ended the run early.
type Result struct {
	Tokens []Token
	Stop   int
}

const (
	textClass = `[^\\%\[\](){}<>,]+`
	percent   = `%(?:[qQ]<[^>]*>|[qQ][0-9A-Za-z]|[xX]/?<[^>]*>|[xX].|[vV][A-Za-z]|[iIjJ]-?[0-9]|\$[0-9]|[\s\S])?`
)

// grammar is the rule set shared by every start mode. Root never pops, so
// a stray closer at top level can never underflow the state stack.
var grammar = plex.MustStateful(plex.Rules{
	"Root": {
		{Name: "Escape", Pattern: `\\`, Action: plex.Push("Escape")},
		{Name: "Percent", Pattern: percent},
		{Name: "OpenSubst", Pattern: `[\[(]`, Action: plex.Push("Subst")},
		{Name: "OpenGroup", Pattern: `\{`, Action: plex.Push("Group")},
		{Name: "OpenAngle", Pattern: `<`},
		{Name: "Close", Pattern: `[\])}>]`},
		{Name: "Separator", Pattern: `,`},
		{Name: "Text", Pattern: textClass},
		{Name: "Other", Pattern: `[\s\S]`},
	},
	"Subst": {
		{Name: "Escape", Pattern: `\\`, Action: plex.Push("Escape")},
		{Name: "Percent", Pattern: percent},
		{Name: "OpenSubst", Pattern: `[\[(]`, Action: plex.Push("Subst")},
		{Name: "OpenGroup", Pattern: `\{`, Action: plex.Push("Group")},
		{Name: "OpenAngle", Pattern: `<`},
		{Name: "CloseSubst", Pattern: `[\])]`, Action: plex.Pop()},
		{Name: "CloseBraceOrAngle", Pattern: `[}>]`},
		{Name: "Separator", Pattern: `,`},
		{Name: "Text", Pattern: textClass},
		{Name: "Other", Pattern: `[\s\S]`},
	},
	"Group": {
		{Name: "Escape", Pattern: `\\`, Action: plex.Push("Escape")},
		{Name: "Percent", Pattern: percent},
		{Name: "OpenSubst", Pattern: `[\[(]`, Action: plex.Push("Subst")},
		{Name: "OpenGroup", Pattern: `\{`, Action: plex.Push("Group")},
		{Name: "OpenAngle", Pattern: `<`},
		{Name: "CloseGroup", Pattern: `\}`, Action: plex.Pop()},
		{Name: "CloseBracketOrAngle", Pattern: `[\])>]`},
		{Name: "Separator", Pattern: `,`},
		{Name: "Text", Pattern: textClass},
		{Name: "Other", Pattern: `[\s\S]`},
	},
	"Escape": {
		{Name: "Escaped", Pattern: `[\s\S]`, Action: plex.Pop()},
	},
})

var (
	kindOf  = map[plex.TokenType]Kind{}
	escaped plex.TokenType
)

func init() {
	for name, typ := range grammar.Symbols() {
		switch name {
		case "Escape":
			kindOf[typ] = KindEscape
		case "Percent":
			kindOf[typ] = KindPercent
		case "OpenSubst", "OpenGroup", "OpenAngle":
			kindOf[typ] = KindOpen
		case "Close", "CloseSubst", "CloseBraceOrAngle", "CloseGroup", "CloseBracketOrAngle":
			kindOf[typ] = KindClose
		case "Separator":
			kindOf[typ] = KindSeparator
		case "Text":
			kindOf[typ] = KindText
		case "Escaped":
			kindOf[typ] = KindText
			escaped = typ
		case "Other":
			kindOf[typ] = KindOther
		}
	}
}

// Lex tokenizes input starting in the given mode.
//
// From ModeSubst lexing stops before the first closing ']' or ')' that does
// not match an opener; from ModeGroup before the first such '}'. ModePlain
// runs to the end of the input. ModeEscape makes the first rune literal and
// continues in plain mode.
func Lex(input markup.Text, start Mode) Result {
	src := input.Plain()
	if start == ModeEscape {
		if src == "" {
			return Result{}
		}
		_, size := utf8.DecodeRuneInString(src)
		first := Token{Kind: KindText, Mode: ModeEscape, Value: src[:size], Start: 0, End: 1, Pair: -1}
		rest := scan(src[size:], 1)
		res := match(rest, ModePlain)
		res.Tokens = append([]Token{first}, res.Tokens...)
		if res.Stop < 0 {
			res.Stop = input.Len()
		}
		return res
	}
	res := match(scan(src, 0), start)
	if res.Stop < 0 {
		res.Stop = input.Len()
	}
	return res
}

// LexString is a convenience wrapper for unstyled input.
func LexString(s string, start Mode) Result {
	return Lex(markup.New(s), start)
}

// scan runs the grammar and converts its tokens to rune-offset Tokens whose
// offsets begin at base. An internal grammar error turns the remainder of
// the input into one literal token.
func scan(src string, base int) []Token {
	var toks []Token
	lx, err := grammar.LexString("", src)
	pos := base
	consumed := 0
	if err == nil {
		for {
			tok, err := lx.Next()
			if err != nil {
				break
			}
			if tok.EOF() {
				return toks
			}
			n := utf8.RuneCountInString(tok.Value)
			t := Token{
				Kind:  kindOf[tok.Type],
				Value: tok.Value,
				Start: pos,
				End:   pos + n,
				Pair:  -1,
			}
			if tok.Type == escaped {
				t.Mode = ModeEscape
			}
			if t.Kind == KindOpen || t.Kind == KindClose {
				t.Delim, _ = utf8.DecodeRuneInString(tok.Value)
			}
			toks = append(toks, t)
			pos += n
			consumed += len(tok.Value)
		}
	}
	if rest := src[consumed:]; rest != "" {
		toks = append(toks, Token{
			Kind:  KindText,
			Value: rest,
			Start: pos,
			End:   pos + utf8.RuneCountInString(rest),
			Pair:  -1,
		})
	}
	return toks
}

// closerFor maps an opener to the closer that completes it.
func closerFor(open rune) rune {
	switch open {
	case '[':
		return ']'
	case '(':
		return ')'
	case '{':
		return '}'
	case '<':
		return '>'
	}
	return 0
}

func modeFor(open rune, outer Mode) Mode {
	switch open {
	case '[', '(':
		return ModeSubst
	case '{':
		return ModeGroup
	}
	return outer
}

// stops reports whether an unmatched closer c ends a run that began in start.
func stops(start Mode, c rune) bool {
	switch start {
	case ModeSubst:
		return c == ']' || c == ')'
	case ModeGroup:
		return c == '}'
	}
	return false
}

// match pairs delimiters, demotes strays to text and assigns final modes.
// The returned Stop is -1 when the run reached the end of the input.
func match(toks []Token, start Mode) Result {
	stop := -1
	var stack []int
	for i := range toks {
		t := &toks[i]
		switch t.Kind {
		case KindOpen:
			stack = append(stack, i)
		case KindClose:
			j := findOpener(toks, stack, t.Delim)
			if j < 0 {
				if stops(start, t.Delim) {
					stop = t.Start
					toks = toks[:i]
					break
				}
				demote(t)
				continue
			}
			for _, k := range stack[j+1:] {
				demote(&toks[k])
			}
			open := stack[j]
			stack = stack[:j]
			toks[open].Pair = i
			t.Pair = open
		}
		if stop >= 0 {
			break
		}
	}
	for _, k := range stack {
		if k < len(toks) {
			demote(&toks[k])
		}
	}
	assignModes(toks, start)
	return Result{Tokens: toks, Stop: stop}
}

// findOpener returns the stack position of the opener that c closes, or -1.
// Brace groups protect their contents: only '}' may unwind past a '{'.
// '>' only closes an angle opener sitting on top of the stack.
func findOpener(toks []Token, stack []int, c rune) int {
	if c == '>' {
		if n := len(stack); n > 0 && toks[stack[n-1]].Delim == '<' {
			return n - 1
		}
		return -1
	}
	for j := len(stack) - 1; j >= 0; j-- {
		d := toks[stack[j]].Delim
		if closerFor(d) == c {
			return j
		}
		if d == '{' {
			return -1
		}
	}
	return -1
}

func demote(t *Token) {
	t.Kind = KindText
	t.Delim = 0
	t.Pair = -1
}

// assignModes walks the matched structure and stamps each token with the
// mode of its innermost enclosing pair. Separators survive only directly
// inside a parenthesised argument list (or at top level of a substitution
// run); angle pairs are transparent.
func assignModes(toks []Token, start Mode) {
	type frame struct {
		delim rune
		mode  Mode
	}
	stack := []frame{{delim: 0, mode: start}}
	for i := range toks {
		t := &toks[i]
		top := stack[len(stack)-1]
		switch t.Kind {
		case KindOpen:
			m := modeFor(t.Delim, top.mode)
			t.Mode = m
			stack = append(stack, frame{delim: t.Delim, mode: m})
			continue
		case KindClose:
			t.Mode = top.mode
			stack = stack[:len(stack)-1]
			continue
		case KindSeparator:
			owner := rune(0)
			for j := len(stack) - 1; j >= 0; j-- {
				if stack[j].delim != '<' {
					owner = stack[j].delim
					break
				}
			}
			if owner != '(' && !(owner == 0 && start == ModeSubst) {
				t.Kind = KindText
			}
		}
		if t.Mode != ModeEscape {
			t.Mode = top.mode
		}
	}
}
