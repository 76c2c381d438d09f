package functions

import (
	"context"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// s() evaluates its already-evaluated argument a second time.
func fnS(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	out, err := c.EvalText(ctx, c.Arg(0), c.State)
	if err != nil {
		return eval.CallState{}, err
	}
	return c.Result(out)
}

func fnNull(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return c.Result(markup.Empty)
}

func fnVersion(_ context.Context, c *eval.Call) (eval.CallState, error) {
	if c.Ev.Version != "" {
		return c.ResultString(c.Ev.Version)
	}
	return c.ResultString("mushcode")
}

// list(list, expr[, delim]) works like iter() but sends each result to
// the enactor as its own line instead of returning it.
func fnList(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	list, err := c.Eval(ctx, 0)
	if err != nil {
		return eval.CallState{}, err
	}
	d, err := c.Eval(ctx, 2)
	if err != nil {
		return eval.CallState{}, err
	}
	if c.NArgs() > 2 {
		c.Args[2] = d
	}
	sep, ok := delim(c, 2)
	if !ok {
		return badDelim(c)
	}
	for i, it := range splitList(list, sep) {
		ps := c.State.WithLoop(eval.LoopFrame{Token: it, Number: i + 1})
		t, err := c.EvalIn(ctx, 1, ps)
		if err != nil {
			return eval.CallState{}, err
		}
		c.Scope().Deliver(c.State.Enactor, t)
	}
	return c.Result(markup.Empty)
}
