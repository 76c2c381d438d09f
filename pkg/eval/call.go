package eval

import (
	"context"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// Call is one function invocation as seen by its handler. State starts as
// the caller's state one nesting level deeper and accumulates register
// writes made while evaluating arguments.
type Call struct {
	Ev    *Evaluator
	Name  string
	State ParserState
	Args  []markup.Text

	raw   [][]*node
	run   *runner
	depth int
}

// NArgs returns the number of arguments.
func (c *Call) NArgs() int { return len(c.Args) }

// Arg returns argument i, or empty.
func (c *Call) Arg(i int) markup.Text {
	if i < 0 || i >= len(c.Args) {
		return markup.Empty
	}
	return c.Args[i]
}

// Str returns argument i as plain text.
func (c *Call) Str(i int) string {
	return c.Arg(i).Plain()
}

// Raw returns the unevaluated source of argument i.
func (c *Call) Raw(i int) markup.Text {
	if i < 0 || i >= len(c.raw) {
		return markup.Empty
	}
	return c.run.raw(c.raw[i])
}

func (c *Call) evalAll(ctx context.Context) error {
	c.Args = make([]markup.Text, len(c.raw))
	for i := range c.raw {
		t, err := c.Eval(ctx, i)
		if err != nil {
			return err
		}
		c.Args[i] = t
	}
	return nil
}

// Eval evaluates argument i in the call's state. Register writes carry
// forward to later evaluations.
func (c *Call) Eval(ctx context.Context, i int) (markup.Text, error) {
	return c.EvalIn(ctx, i, c.State)
}

// EvalIn evaluates argument i in ps, a state derived from c.State (for
// example with a loop frame pushed). Register writes carry forward.
func (c *Call) EvalIn(ctx context.Context, i int, ps ParserState) (markup.Text, error) {
	if i < 0 || i >= len(c.raw) {
		return markup.Empty, nil
	}
	cs, err := c.run.seq(ctx, c.raw[i], ps, argMode)
	if err != nil {
		return markup.Empty, err
	}
	c.absorb(cs)
	return cs.Text, nil
}

// EvalText evaluates text, typically an attribute body, in ps. Register
// writes carry forward.
func (c *Call) EvalText(ctx context.Context, text markup.Text, ps ParserState) (markup.Text, error) {
	ps.scope = c.State.scope
	cs, err := c.Ev.exec(ctx, text, ps, evFCheck)
	if err != nil {
		return markup.Empty, err
	}
	c.absorb(cs)
	return cs.Text, nil
}

func (c *Call) absorb(cs CallState) {
	c.depth = max(c.depth, cs.Depth)
	c.State = c.State.WithRegisters(cs.Regs)
}

// Result returns t with the call's registers.
func (c *Call) Result(t markup.Text) (CallState, error) {
	return CallState{Text: t, Regs: c.State.Regs}, nil
}

// ResultString returns a plain result.
func (c *Call) ResultString(s string) (CallState, error) {
	return c.Result(markup.New(s))
}

// Error returns a soft-error result.
func (c *Call) Error(msg string) (CallState, error) {
	c.Ev.Metrics.SoftError()
	return c.Result(c.Ev.ErrorText(msg))
}

// Scope returns the enclosing command scope.
func (c *Call) Scope() *Scope { return c.State.scope }

func (c *Call) isWizard(ctx context.Context, ref gamedb.DBRef) (bool, error) {
	obj, err := c.Ev.Store.Object(ctx, ref)
	if err != nil {
		if gamedb.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return obj.IsWizard(), nil
}
