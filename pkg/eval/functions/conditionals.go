package functions

import (
	"context"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/markup"
	"github.com/crystal-mush/mushcode/pkg/wild"
)

// --- Boolean ---

func fnAnd(_ context.Context, c *eval.Call) (eval.CallState, error) {
	for _, a := range c.Args {
		if !c.IsTrue(a) {
			return boolResult(c, false)
		}
	}
	return boolResult(c, true)
}

func fnOr(_ context.Context, c *eval.Call) (eval.CallState, error) {
	for _, a := range c.Args {
		if c.IsTrue(a) {
			return boolResult(c, true)
		}
	}
	return boolResult(c, false)
}

func fnXor(_ context.Context, c *eval.Call) (eval.CallState, error) {
	n := 0
	for _, a := range c.Args {
		if c.IsTrue(a) {
			n++
		}
	}
	return boolResult(c, n%2 == 1)
}

func fnNot(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return boolResult(c, !c.IsTrue(c.Arg(0)))
}

func fnT(_ context.Context, c *eval.Call) (eval.CallState, error) {
	return boolResult(c, c.IsTrue(c.Arg(0)))
}

// cand() stops evaluating at the first false argument.
func fnCand(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	for i := range c.Args {
		v, err := c.Eval(ctx, i)
		if err != nil {
			return eval.CallState{}, err
		}
		if !c.IsTrue(v) {
			return boolResult(c, false)
		}
	}
	return boolResult(c, true)
}

// cor() stops evaluating at the first true argument.
func fnCor(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	for i := range c.Args {
		v, err := c.Eval(ctx, i)
		if err != nil {
			return eval.CallState{}, err
		}
		if c.IsTrue(v) {
			return boolResult(c, true)
		}
	}
	return boolResult(c, false)
}

// --- Conditionals ---

// if(cond, then[, else]) and ifelse() evaluate only the chosen branch.
func fnIf(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	cond, err := c.Eval(ctx, 0)
	if err != nil {
		return eval.CallState{}, err
	}
	branch := 2
	if c.IsTrue(cond) {
		branch = 1
	}
	out, err := c.Eval(ctx, branch)
	if err != nil {
		return eval.CallState{}, err
	}
	return c.Result(out)
}

// switchOn walks pattern/result pairs. match decides a pattern; all keeps
// going after the first hit. An odd trailing argument is the default.
func switchOn(ctx context.Context, c *eval.Call, all bool, match func(pattern, expr string) ([]string, bool)) (eval.CallState, error) {
	expr, err := c.Eval(ctx, 0)
	if err != nil {
		return eval.CallState{}, err
	}
	var b markup.Builder
	matched := false
	i := 1
	for ; i+1 < c.NArgs(); i += 2 {
		pattern, err := c.Eval(ctx, i)
		if err != nil {
			return eval.CallState{}, err
		}
		caps, ok := match(pattern.Plain(), expr.Plain())
		if !ok {
			continue
		}
		ps := c.State.WithSwitch(expr).WithCaptures(textList(caps))
		out, err := c.EvalIn(ctx, i+1, ps)
		if err != nil {
			return eval.CallState{}, err
		}
		b.WriteText(out)
		matched = true
		if !all {
			return c.Result(b.Text())
		}
	}
	if !matched && i < c.NArgs() {
		out, err := c.EvalIn(ctx, i, c.State.WithSwitch(expr))
		if err != nil {
			return eval.CallState{}, err
		}
		b.WriteText(out)
	}
	return c.Result(b.Text())
}

func fnSwitch(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	return switchOn(ctx, c, false, wild.Capture)
}

func fnSwitchAll(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	return switchOn(ctx, c, true, wild.Capture)
}

// case() compares exactly instead of by wildcard.
func fnCase(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	return switchOn(ctx, c, false, func(pattern, expr string) ([]string, bool) {
		return nil, pattern == expr
	})
}

func textList(ss []string) []markup.Text {
	out := make([]markup.Text, len(ss))
	for i, s := range ss {
		out[i] = markup.New(s)
	}
	return out
}
