package functions

import (
	"context"
	"strings"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/markup"
	"github.com/crystal-mush/mushcode/pkg/wild"
)

// maxText bounds the output of functions that can grow text without limit.
const maxText = 8000

func fnStrlen(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return intResult(c, c.Arg(0).Len())
}

func fnUcstr(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return c.Result(c.Arg(0).ToUpper())
}

func fnLcstr(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return c.Result(c.Arg(0).ToLower())
}

func fnCapstr(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return c.Result(c.Arg(0).Capitalize())
}

func fnCat(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return c.Result(markup.Join(c.Args, markup.New(" ")))
}

func fnStrcat(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return c.Result(markup.Concat(c.Args...))
}

// mid(string, start, length) with a zero-based start.
func fnMid(_ context.Context, c *eval.Call) (eval.CallState, error) {
	start, n := toInt(c.Str(1)), toInt(c.Str(2))
	if start < 0 || n < 0 {
		return c.Error("OUT OF RANGE")
	}
	t := c.Arg(0)
	if start >= t.Len() {
		return c.Result(markup.Empty)
	}
	return c.Result(t.Substring(start, start+min(n, t.Len())))
}

func fnLeft(_ context.Context, c *eval.Call) (eval.CallState, error) {
	n := toInt(c.Str(1))
	if n < 0 {
		return c.Error("OUT OF RANGE")
	}
	return c.Result(c.Arg(0).Substring(0, n))
}

func fnRight(_ context.Context, c *eval.Call) (eval.CallState, error) {
	n := toInt(c.Str(1))
	if n < 0 {
		return c.Error("OUT OF RANGE")
	}
	t := c.Arg(0)
	return c.Result(t.Substring(t.Len()-n, t.Len()))
}

func fnRepeat(_ context.Context, c *eval.Call) (eval.CallState, error) {
	t := c.Arg(0)
	n := toInt(c.Str(1))
	if n <= 0 || t.IsEmpty() {
		return c.Result(markup.Empty)
	}
	if n > maxText/t.Len() {
		return c.Error("STRING TOO LONG")
	}
	return c.Result(t.Repeat(n))
}

// trim(string[, char[, side]]) where side is l, r or b.
func fnTrim(_ context.Context, c *eval.Call) (eval.CallState, error) {
	cut := ' '
	if r := []rune(c.Str(1)); len(r) > 0 {
		cut = r[0]
	}
	side := "b"
	if s := strings.ToLower(c.Str(2)); s != "" {
		side = s[:1]
	}
	t := c.Arg(0)
	drop := func(r rune) bool { return r == cut }
	switch side {
	case "l":
		return c.Result(trimSide(t, drop, true))
	case "r":
		return c.Result(trimSide(t, drop, false))
	}
	return c.Result(t.TrimRunes(drop))
}

func trimSide(t markup.Text, drop func(rune) bool, left bool) markup.Text {
	p := []rune(t.Plain())
	i, j := 0, len(p)
	if left {
		for i < j && drop(p[i]) {
			i++
		}
	} else {
		for j > i && drop(p[j-1]) {
			j--
		}
	}
	return t.Substring(i, j)
}

func fnSquish(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return c.Result(c.Arg(0).TrimSpace().CompressSpaces())
}

// pad returns fill repeated and cut to exactly n columns.
func pad(fill string, n int) markup.Text {
	if n <= 0 {
		return markup.Empty
	}
	if fill == "" {
		fill = " "
	}
	f := []rune(fill)
	out := make([]rune, n)
	for i := range out {
		out[i] = f[i%len(f)]
	}
	return markup.New(string(out))
}

func justify(c *eval.Call) (markup.Text, int, string, bool) {
	width := max(toInt(c.Str(1)), 0)
	if width > maxText {
		return markup.Empty, 0, "", false
	}
	return c.Arg(0), width - c.Arg(0).Width(), c.Str(2), true
}

func fnLjust(_ context.Context, c *eval.Call) (eval.CallState, error) {
	t, gap, fill, ok := justify(c)
	if !ok {
		return c.Error("STRING TOO LONG")
	}
	return c.Result(markup.Concat(t, pad(fill, gap)))
}

func fnRjust(_ context.Context, c *eval.Call) (eval.CallState, error) {
	t, gap, fill, ok := justify(c)
	if !ok {
		return c.Error("STRING TOO LONG")
	}
	return c.Result(markup.Concat(pad(fill, gap), t))
}

func fnCenter(_ context.Context, c *eval.Call) (eval.CallState, error) {
	t, gap, fill, ok := justify(c)
	if !ok {
		return c.Error("STRING TOO LONG")
	}
	if gap <= 0 {
		return c.Result(t)
	}
	left := gap / 2
	return c.Result(markup.Concat(pad(fill, left), t, pad(fill, gap-left)))
}

func fnSpace(_ context.Context, c *eval.Call) (eval.CallState, error) {
	n := 1
	if c.NArgs() > 0 && c.Str(0) != "" {
		n = toInt(c.Str(0))
	}
	return c.Result(pad(" ", min(n, maxText)))
}

// edit(string, from, to[, from, to...]). A from of ^ prepends and $ appends.
func fnEdit(_ context.Context, c *eval.Call) (eval.CallState, error) {
	t := c.Arg(0)
	for i := 1; i+1 < c.NArgs(); i += 2 {
		from, to := c.Str(i), c.Arg(i+1)
		switch from {
		case "":
		case "^":
			t = markup.Concat(to, t)
		case "$":
			t = markup.Concat(t, to)
		default:
			t = replaceAll(t, from, to)
		}
	}
	return c.Result(t)
}

func replaceAll(t markup.Text, from string, to markup.Text) markup.Text {
	n := len([]rune(from))
	var b markup.Builder
	for {
		i := t.Index(from)
		if i < 0 {
			break
		}
		b.WriteText(t.Substring(0, i))
		b.WriteText(to)
		t = t.Substring(i+n, t.Len())
	}
	b.WriteText(t)
	return b.Text()
}

// pos(needle, haystack) is one-based; a miss is the bare error prefix.
func fnPos(_ context.Context, c *eval.Call) (eval.CallState, error) {
	i := c.Arg(1).Index(c.Str(0))
	if i < 0 {
		return c.Result(c.Ev.ErrorText(""))
	}
	return intResult(c, i+1)
}

func fnReverse(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return c.Result(c.Arg(0).Reverse())
}

// lit() returns its arguments unevaluated, commas included.
func fnLit(_ context.Context, c *eval.Call) (eval.CallState, error) {
	parts := make([]markup.Text, c.NArgs())
	for i := range parts {
		parts[i] = c.Raw(i)
	}
	return c.Result(markup.Join(parts, markup.New(",")))
}

// ansi(codes, text) layers the codes under any styling already in text.
func fnAnsi(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return c.Result(c.Arg(1).Apply(markup.ParseCodes(c.Str(0))))
}

// stripansi() drops both markup and raw escape sequences.
func fnStripansi(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return c.ResultString(markup.ParseANSI(c.Str(0)).Plain())
}

func fnEscape(_ context.Context, c *eval.Call) (eval.CallState, error) {
	var b strings.Builder
	for i, ch := range c.Str(0) {
		if i == 0 || strings.ContainsRune(`%\[]{};`, ch) {
			b.WriteByte('\\')
		}
		b.WriteRune(ch)
	}
	return c.ResultString(b.String())
}

func fnSecure(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return c.ResultString(strings.Map(func(r rune) rune {
		if strings.ContainsRune(`%$\[](){},;`, r) {
			return ' '
		}
		return r
	}, c.Str(0)))
}

func fnComp(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return intResult(c, strings.Compare(c.Str(0), c.Str(1)))
}

// strmatch(string, pattern)
func fnStrmatch(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return boolResult(c, wild.Match(c.Str(1), c.Str(0)))
}
