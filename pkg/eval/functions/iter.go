package functions

import (
	"context"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// evalDelims evaluates the optional input and output delimiter arguments of
// a no-parse list function. The output delimiter defaults to the input one.
func evalDelims(ctx context.Context, c *eval.Call, in, out int) (string, string, bool, error) {
	for _, i := range []int{in, out} {
		t, err := c.Eval(ctx, i)
		if err != nil {
			return "", "", false, err
		}
		if i < len(c.Args) {
			c.Args[i] = t
		}
	}
	sep, ok := delim(c, in)
	if !ok {
		return "", "", false, nil
	}
	osep := sep
	if out < c.NArgs() {
		osep = c.Str(out)
	}
	return sep, osep, true, nil
}

// iter(list, expr[, delim[, odelim]]) evaluates expr once per item with ##
// bound to the item and #@ to its one-based position.
func fnIter(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	list, err := c.Eval(ctx, 0)
	if err != nil {
		return eval.CallState{}, err
	}
	sep, osep, ok, err := evalDelims(ctx, c, 2, 3)
	if err != nil {
		return eval.CallState{}, err
	}
	if !ok {
		return badDelim(c)
	}
	items := splitList(list, sep)
	out := make([]markup.Text, 0, len(items))
	for i, it := range items {
		ps := c.State.WithLoop(eval.LoopFrame{Token: it, Number: i + 1})
		t, err := c.EvalIn(ctx, 1, ps)
		if err != nil {
			return eval.CallState{}, err
		}
		out = append(out, t)
	}
	return c.Result(joinList(out, osep))
}

// iterTarget resolves the obj/attr first argument of map(), filter() and
// fold().
func iterTarget(ctx context.Context, c *eval.Call) (func([]markup.Text) (markup.Text, error), string, error) {
	ref, attr, msg, err := c.ObjAttr(ctx, c.Str(0))
	if err != nil || msg != "" {
		return nil, msg, err
	}
	return func(args []markup.Text) (markup.Text, error) {
		return c.CallIterFun(ctx, ref, attr, args)
	}, "", nil
}

// map(obj/attr, list[, delim[, odelim]]) passes each item as %0 and its
// position as %1.
func fnMap(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	call, msg, err := iterTarget(ctx, c)
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	sep, ok := delim(c, 2)
	if !ok {
		return badDelim(c)
	}
	osep := sep
	if c.NArgs() > 3 {
		osep = c.Str(3)
	}
	items := splitList(c.Arg(1), sep)
	out := make([]markup.Text, 0, len(items))
	for i, it := range items {
		t, err := call([]markup.Text{it, markup.New(itoa(i + 1))})
		if err != nil {
			return eval.CallState{}, err
		}
		out = append(out, t)
	}
	return c.Result(joinList(out, osep))
}

// filter(obj/attr, list[, delim[, odelim]]) keeps the items for which the
// attribute returns 1.
func fnFilter(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	call, msg, err := iterTarget(ctx, c)
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	sep, ok := delim(c, 2)
	if !ok {
		return badDelim(c)
	}
	osep := sep
	if c.NArgs() > 3 {
		osep = c.Str(3)
	}
	var out []markup.Text
	for i, it := range splitList(c.Arg(1), sep) {
		t, err := call([]markup.Text{it, markup.New(itoa(i + 1))})
		if err != nil {
			return eval.CallState{}, err
		}
		if t.Plain() == "1" {
			out = append(out, it)
		}
	}
	return c.Result(joinList(out, osep))
}

// fold(obj/attr, list[, base[, delim]]) threads an accumulator through the
// list as %0 with the item as %1. Without a base the first item seeds it.
func fnFold(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	call, msg, err := iterTarget(ctx, c)
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	sep, ok := delim(c, 3)
	if !ok {
		return badDelim(c)
	}
	items := splitList(c.Arg(1), sep)
	var acc markup.Text
	if c.NArgs() > 2 {
		acc = c.Arg(2)
	} else if len(items) > 0 {
		acc, items = items[0], items[1:]
	}
	for _, it := range items {
		acc, err = call([]markup.Text{acc, it})
		if err != nil {
			return eval.CallState{}, err
		}
	}
	return c.Result(acc)
}

// orError turns a lookup failure into either the Go error or a soft error.
func orError(c *eval.Call, msg string, err error) (eval.CallState, error) {
	if err != nil {
		return eval.CallState{}, err
	}
	return c.Error(msg)
}
