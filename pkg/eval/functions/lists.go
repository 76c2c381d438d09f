package functions

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// delim returns the list delimiter from argument i; empty means a space.
func delim(c *eval.Call, i int) (string, bool) {
	d := c.Str(i)
	if d == "" {
		return " ", true
	}
	return d, len([]rune(d)) == 1
}

// listArgs splits argument list by the delimiter in argument d.
func listArgs(c *eval.Call, list, d int) ([]markup.Text, string, bool) {
	sep, ok := delim(c, d)
	if !ok {
		return nil, "", false
	}
	return splitList(c.Arg(list), sep), sep, true
}

func splitList(t markup.Text, sep string) []markup.Text {
	if sep == " " {
		return t.Fields()
	}
	if t.IsEmpty() {
		return nil
	}
	return t.Split(sep)
}

func joinList(items []markup.Text, sep string) markup.Text {
	return markup.Join(items, markup.New(sep))
}

func badDelim(c *eval.Call) (eval.CallState, error) {
	return c.Error("SEPARATOR MUST BE ONE CHARACTER")
}

func fnWords(_ context.Context, c *eval.Call) (eval.CallState, error) {
	items, _, ok := listArgs(c, 0, 1)
	if !ok {
		return badDelim(c)
	}
	return intResult(c, len(items))
}

func fnFirst(_ context.Context, c *eval.Call) (eval.CallState, error) {
	items, _, ok := listArgs(c, 0, 1)
	if !ok {
		return badDelim(c)
	}
	if len(items) == 0 {
		return c.Result(markup.Empty)
	}
	return c.Result(items[0])
}

func fnRest(_ context.Context, c *eval.Call) (eval.CallState, error) {
	items, sep, ok := listArgs(c, 0, 1)
	if !ok {
		return badDelim(c)
	}
	if len(items) < 2 {
		return c.Result(markup.Empty)
	}
	return c.Result(joinList(items[1:], sep))
}

func fnLast(_ context.Context, c *eval.Call) (eval.CallState, error) {
	items, _, ok := listArgs(c, 0, 1)
	if !ok {
		return badDelim(c)
	}
	if len(items) == 0 {
		return c.Result(markup.Empty)
	}
	return c.Result(items[len(items)-1])
}

// extract(list, first, count[, delim]) with a one-based first.
func fnExtract(_ context.Context, c *eval.Call) (eval.CallState, error) {
	items, sep, ok := listArgs(c, 0, 3)
	if !ok {
		return badDelim(c)
	}
	first, n := toInt(c.Str(1)), toInt(c.Str(2))
	if first < 1 || n < 1 || first > len(items) {
		return c.Result(markup.Empty)
	}
	n = min(n, len(items)-first+1)
	return c.Result(joinList(items[first-1:first-1+n], sep))
}

// member(list, word[, delim]) returns the one-based position or 0.
func fnMember(_ context.Context, c *eval.Call) (eval.CallState, error) {
	items, _, ok := listArgs(c, 0, 2)
	if !ok {
		return badDelim(c)
	}
	word := c.Str(1)
	for i, it := range items {
		if it.Plain() == word {
			return intResult(c, i+1)
		}
	}
	return intResult(c, 0)
}

// lnum(n) counts 0..n-1; lnum(lo, hi[, sep]) counts lo..hi either way.
func fnLnum(_ context.Context, c *eval.Call) (eval.CallState, error) {
	lo, hi := 0, 0
	if c.NArgs() > 1 {
		lo, hi = toInt(c.Str(0)), toInt(c.Str(1))
	} else if n := toInt(c.Str(0)); n > 0 {
		hi = n - 1
	} else {
		return c.Result(markup.Empty)
	}
	sep := " "
	if c.NArgs() > 2 {
		sep = c.Str(2)
	}
	step := 1
	if hi < lo {
		step = -1
	}
	var b strings.Builder
	for n := lo; ; n += step {
		if b.Len() > maxText {
			return c.Error("STRING TOO LONG")
		}
		if n != lo {
			b.WriteString(sep)
		}
		b.WriteString(itoa(n))
		if n == hi {
			break
		}
	}
	return c.ResultString(b.String())
}

func fnRevwords(_ context.Context, c *eval.Call) (eval.CallState, error) {
	items, sep, ok := listArgs(c, 0, 1)
	if !ok {
		return badDelim(c)
	}
	slices.Reverse(items)
	return c.Result(joinList(items, sep))
}

// sortKind picks a comparison for sort(): a(lpha), i (case-insensitive),
// n(umeric), f(loat) or d(bref). An empty kind is guessed from the items.
func sortKind(kind string, items []markup.Text) func(a, b markup.Text) int {
	if kind == "" {
		kind = guessKind(items)
	}
	switch strings.ToLower(kind)[0] {
	case 'n':
		return func(a, b markup.Text) int { return cmp.Compare(toInt(a.Plain()), toInt(b.Plain())) }
	case 'f':
		return func(a, b markup.Text) int { return cmp.Compare(toFloat(a.Plain()), toFloat(b.Plain())) }
	case 'd':
		return func(a, b markup.Text) int { return cmp.Compare(refNum(a.Plain()), refNum(b.Plain())) }
	case 'i':
		return func(a, b markup.Text) int {
			return strings.Compare(strings.ToLower(a.Plain()), strings.ToLower(b.Plain()))
		}
	}
	return func(a, b markup.Text) int { return strings.Compare(a.Plain(), b.Plain()) }
}

func guessKind(items []markup.Text) string {
	ints, floats, refs := true, true, true
	for _, it := range items {
		s := it.Plain()
		if !eval.IsInteger(s) {
			ints = false
		}
		if !eval.IsNumber(s) {
			floats = false
		}
		if _, ok := gamedb.ParseRef(s); !ok {
			refs = false
		}
	}
	switch {
	case len(items) == 0:
		return "a"
	case ints:
		return "n"
	case floats:
		return "f"
	case refs:
		return "d"
	}
	return "a"
}

func refNum(s string) int {
	ref, _ := gamedb.ParseRef(s)
	return int(ref)
}

// sort(list[, kind[, delim]])
func fnSort(_ context.Context, c *eval.Call) (eval.CallState, error) {
	items, sep, ok := listArgs(c, 0, 2)
	if !ok {
		return badDelim(c)
	}
	slices.SortStableFunc(items, sortKind(c.Str(1), items))
	return c.Result(joinList(items, sep))
}

// setOp sorts both lists alphabetically, removes duplicates and keeps the
// items for which keep(inA, inB) holds.
func setOp(c *eval.Call, keep func(inA, inB bool) bool) (eval.CallState, error) {
	sep, ok := delim(c, 2)
	if !ok {
		return badDelim(c)
	}
	inA := make(map[string]bool)
	inB := make(map[string]bool)
	var all []markup.Text
	seen := make(map[string]bool)
	for i, set := range []map[string]bool{inA, inB} {
		for _, it := range splitList(c.Arg(i), sep) {
			s := it.Plain()
			set[s] = true
			if !seen[s] {
				seen[s] = true
				all = append(all, it)
			}
		}
	}
	var out []markup.Text
	for _, it := range all {
		if keep(inA[it.Plain()], inB[it.Plain()]) {
			out = append(out, it)
		}
	}
	slices.SortStableFunc(out, sortKind("a", nil))
	return c.Result(joinList(out, sep))
}

func fnSetunion(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return setOp(c, func(a, b bool) bool { return a || b })
}

func fnSetinter(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return setOp(c, func(a, b bool) bool { return a && b })
}

func fnSetdiff(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return setOp(c, func(a, b bool) bool { return a && !b })
}
