package lexer

import (
	"strings"
	"testing"

	"github.com/crystal-mush/mushcode/pkg/markup"
)

func kinds(toks []Token) string {
	var parts []string
	for _, t := range toks {
		parts = append(parts, t.Kind.String()+":"+t.Value)
	}
	return strings.Join(parts, " ")
}

func TestLexFunctionCall(t *testing.T) {
	res := LexString("[add(1,2)]", ModePlain)
	want := "Open:[ Text:add Open:( Text:1 Separator:, Text:2 Close:) Close:]"
	if got := kinds(res.Tokens); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if res.Tokens[0].Pair != 7 || res.Tokens[7].Pair != 0 {
		t.Errorf("brackets not paired: %+v", res.Tokens)
	}
	if res.Tokens[2].Pair != 6 {
		t.Errorf("parens not paired: %+v", res.Tokens[2])
	}
	if res.Tokens[3].Mode != ModeSubst {
		t.Errorf("expected argument in subst mode, got %v", res.Tokens[3].Mode)
	}
	if res.Stop != 10 {
		t.Errorf("expected stop at 10, got %d", res.Stop)
	}
}

func TestLexTopLevelCommaIsText(t *testing.T) {
	res := LexString("a,b", ModePlain)
	for _, tok := range res.Tokens {
		if tok.Kind == KindSeparator {
			t.Fatalf("unexpected separator in %q", kinds(res.Tokens))
		}
	}
}

func TestLexEscapedDelimitersDoNotPair(t *testing.T) {
	res := LexString(`[a\]b]`, ModePlain)
	want := `Open:[ Text:a Escape:\ Text:] Text:b Close:]`
	if got := kinds(res.Tokens); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if res.Tokens[3].Mode != ModeEscape {
		t.Errorf("expected escaped rune in escape mode, got %v", res.Tokens[3].Mode)
	}
	if res.Tokens[0].Pair != 5 {
		t.Errorf("expected outer bracket to pair with the unescaped closer, got %d", res.Tokens[0].Pair)
	}
}

func TestLexUnmatchedOpenersBecomeText(t *testing.T) {
	tests := []string{"[abc", "foo(bar", "{x", "a]b", "x)y", "<<"}
	for _, in := range tests {
		res := LexString(in, ModePlain)
		var sb strings.Builder
		for _, tok := range res.Tokens {
			if tok.Kind == KindOpen || tok.Kind == KindClose {
				t.Errorf("%q: unexpected delimiter token %+v", in, tok)
			}
			sb.WriteString(tok.Value)
		}
		if sb.String() != in {
			t.Errorf("%q: tokens do not cover input, got %q", in, sb.String())
		}
	}
}

func TestLexUnwindsPastUnmatchedInner(t *testing.T) {
	res := LexString("[a(b]", ModePlain)
	if res.Tokens[0].Kind != KindOpen || res.Tokens[0].Pair != 4 {
		t.Errorf("expected [ to pair with ], got %q", kinds(res.Tokens))
	}
	if res.Tokens[2].Kind != KindText {
		t.Errorf("expected stray ( demoted, got %v", res.Tokens[2].Kind)
	}
}

func TestLexBracesProtectContents(t *testing.T) {
	res := LexString("[a{b]c}", ModePlain)
	if res.Tokens[0].Kind != KindText {
		t.Errorf("expected [ to stay unmatched, got %q", kinds(res.Tokens))
	}
	brace := res.Tokens[2]
	if brace.Kind != KindOpen || brace.Delim != '{' {
		t.Fatalf("expected brace opener, got %+v", brace)
	}
	if res.Tokens[4].Kind != KindText || res.Tokens[4].Mode != ModeGroup {
		t.Errorf("expected ] inside braces to be group text, got %+v", res.Tokens[4])
	}
}

func TestLexPercentTokens(t *testing.T) {
	tests := map[string]string{
		"%0":          "%0",
		"%q<name>x":   "%q<name>",
		"%qa":         "%qa",
		"%x<#ff0000>": "%x<#ff0000>",
		"%x/<red>":    "%x/<red>",
		"%xr":         "%xr",
		"%va":         "%va",
		"%i0":         "%i0",
		"%i-1":        "%i-1",
		"%$3x":        "%$3",
		"%%":          "%%",
		"%[":          "%[",
	}
	for in, want := range tests {
		res := LexString(in, ModePlain)
		if len(res.Tokens) == 0 || res.Tokens[0].Kind != KindPercent || res.Tokens[0].Value != want {
			t.Errorf("%q: expected percent token %q, got %q", in, want, kinds(res.Tokens))
		}
	}
}

func TestLexStopsInSubstMode(t *testing.T) {
	res := LexString("add(1,2)] rest", ModeSubst)
	if res.Stop != 8 {
		t.Errorf("expected stop at 8, got %d", res.Stop)
	}
	if got := kinds(res.Tokens); got != "Text:add Open:( Text:1 Separator:, Text:2 Close:)" {
		t.Errorf("unexpected tokens %q", got)
	}

	res = LexString("a,b)", ModeSubst)
	if res.Stop != 3 || res.Tokens[1].Kind != KindSeparator {
		t.Errorf("expected top-level separator and stop at 3, got %d %q", res.Stop, kinds(res.Tokens))
	}
}

func TestLexStopsInGroupMode(t *testing.T) {
	res := LexString("a{b}c}d", ModeGroup)
	if res.Stop != 5 {
		t.Errorf("expected stop at 5, got %d", res.Stop)
	}
}

func TestLexEscapeStartMode(t *testing.T) {
	res := Lex(markup.New("[x]"), ModeEscape)
	if res.Tokens[0].Value != "[" || res.Tokens[0].Mode != ModeEscape || res.Tokens[0].Kind != KindText {
		t.Errorf("expected literal first rune, got %+v", res.Tokens[0])
	}
	if res.Tokens[len(res.Tokens)-1].Kind != KindText {
		t.Errorf("expected trailing ] to be text, got %q", kinds(res.Tokens))
	}
	if res.Stop != 3 {
		t.Errorf("expected stop at 3, got %d", res.Stop)
	}
}

func TestLexRuneOffsets(t *testing.T) {
	res := LexString("héllo[wörld]", ModePlain)
	open := res.Tokens[1]
	if open.Start != 5 || open.End != 6 {
		t.Errorf("expected rune offsets 5..6, got %d..%d", open.Start, open.End)
	}
	if last := res.Tokens[len(res.Tokens)-1]; last.End != 12 {
		t.Errorf("expected final offset 12, got %d", last.End)
	}
}

func TestLexNeverPanics(t *testing.T) {
	inputs := []string{"", "\\", "%", "]]]", "((((", "}{", "\\\\\\", "%x<", "[{(<>)}]", "\x00\xff"}
	for _, in := range inputs {
		res := LexString(in, ModePlain)
		end := 0
		for _, tok := range res.Tokens {
			if tok.Start != end {
				t.Errorf("%q: token gap at %d", in, tok.Start)
			}
			end = tok.End
		}
	}
}
