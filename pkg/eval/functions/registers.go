package functions

import (
	"context"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// setRegs writes the name/value pairs of setq() and setr().
func setRegs(c *eval.Call) (string, bool) {
	for i := 0; i+1 < c.NArgs(); i += 2 {
		name := c.Str(i)
		if !eval.ValidRegister(name) {
			return name, false
		}
		c.State = c.State.WithRegister(name, c.Arg(i+1))
	}
	return "", true
}

// setq(reg, value[, reg, value...])
func fnSetq(_ context.Context, c *eval.Call) (eval.CallState, error) {
	if c.NArgs()%2 != 0 {
		return c.Error("INVALID SETQ ARGUMENTS")
	}
	if _, ok := setRegs(c); !ok {
		return c.Error("INVALID GLOBAL REGISTER")
	}
	return c.Result(markup.Empty)
}

// setr() is setq() returning the value written.
func fnSetr(_ context.Context, c *eval.Call) (eval.CallState, error) {
	if _, ok := setRegs(c); !ok {
		return c.Error("INVALID GLOBAL REGISTER")
	}
	return c.Result(c.Arg(1))
}

func fnR(_ context.Context, c *eval.Call) (eval.CallState, error) {
	if !eval.ValidRegister(c.Str(0)) {
		return c.Error("INVALID GLOBAL REGISTER")
	}
	return c.Result(c.State.Regs.Get(c.Str(0)))
}

// localize(expr) evaluates expr and then restores the registers.
func fnLocalize(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	saved := c.State.Regs
	out, err := c.Eval(ctx, 0)
	if err != nil {
		return eval.CallState{}, err
	}
	c.State = c.State.WithRegisters(saved)
	return c.Result(out)
}
