package functions

import (
	"context"
	"strings"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// controlled resolves name and checks that the executor controls it.
func controlled(ctx context.Context, c *eval.Call, name string) (gamedb.DBRef, string, error) {
	ref, msg, err := c.Resolve(ctx, name)
	if err != nil || msg != "" {
		return ref, msg, err
	}
	ok, err := controls(ctx, c, c.State.Executor, ref)
	if err != nil {
		return ref, "", err
	}
	if !ok {
		return ref, eval.MsgPerm, nil
	}
	return ref, "", nil
}

// set(obj, flag), set(obj, !flag) or set(obj, attr:value).
func fnSet(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	ref, msg, err := controlled(ctx, c, c.Str(0))
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	what := c.Str(1)
	if attr, value, ok := strings.Cut(what, ":"); ok {
		attr = gamedb.NormalizeAttr(attr)
		if attr == "" {
			return c.Error(eval.MsgNoAttr)
		}
		if err := c.Ev.Store.SetAttr(ctx, ref, attr, value); err != nil {
			return orNotFound(c, err)
		}
		if c.Ev.Locks != nil && gamedb.IsLockAttr(attr) {
			c.Ev.Locks.InvalidateObject(ref)
		}
		return c.Result(markup.Empty)
	}
	on := true
	if strings.HasPrefix(what, "!") {
		on, what = false, what[1:]
	}
	what = strings.ToUpper(strings.TrimSpace(what))
	if _, ok := gamedb.FlagTable[what]; !ok {
		return c.Error("NO SUCH FLAG")
	}
	if err := c.Ev.Store.SetFlag(ctx, ref, what, on); err != nil {
		return orNotFound(c, err)
	}
	return c.Result(markup.Empty)
}

func orNotFound(c *eval.Call, err error) (eval.CallState, error) {
	if gamedb.IsNotFound(err) {
		return c.Error(strings.ToUpper(err.Error()))
	}
	return eval.CallState{}, err
}

// pemit(targets, message) journals message for each target in the
// space-separated list.
func fnPemit(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	for _, name := range strings.Fields(c.Str(0)) {
		ref, msg, err := c.Resolve(ctx, name)
		if err != nil {
			return eval.CallState{}, err
		}
		if msg != "" {
			continue
		}
		c.Scope().Deliver(ref, c.Arg(1))
	}
	return c.Result(markup.Empty)
}

// trigger(obj/attr, args...) queues the attribute as commands run by obj.
func fnTrigger(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	objName, attr, found := strings.Cut(c.Str(0), "/")
	if !found {
		return c.Error(eval.MsgNoAttr)
	}
	ref, msg, err := controlled(ctx, c, objName)
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	body, ok, err := c.Attr(ctx, ref, gamedb.NormalizeAttr(attr))
	if err != nil {
		return eval.CallState{}, err
	}
	if !ok || body == "" {
		return c.Result(markup.Empty)
	}
	c.Scope().Defer(eval.Deferred{
		Executor: ref,
		Enactor:  c.State.Executor,
		Caller:   c.State.Executor,
		Command:  body,
		Args:     c.Args[1:],
		Regs:     c.State.Regs,
	})
	return c.Result(markup.Empty)
}

// wait(seconds, command) or wait(obj/attr[/timeout], command) queues
// command, unevaluated, run by the executor.
func fnWait(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	when, err := c.Eval(ctx, 0)
	if err != nil {
		return eval.CallState{}, err
	}
	d := eval.Deferred{
		Executor: c.State.Executor,
		Enactor:  c.State.Enactor,
		Caller:   c.State.Caller,
		Command:  c.Raw(1).Plain(),
		Args:     c.State.Args,
		Regs:     c.State.Regs,
	}
	spec := strings.TrimSpace(when.Plain())
	if eval.IsNumber(spec) {
		d.Delay = eval.Seconds(toFloat(spec))
		c.Scope().Defer(d)
		return c.Result(markup.Empty)
	}
	parts := strings.SplitN(spec, "/", 3)
	if len(parts) < 2 {
		return c.Error("INVALID WAIT")
	}
	ref, msg, err := controlled(ctx, c, parts[0])
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	d.SemObj = ref
	d.SemAttr = gamedb.NormalizeAttr(parts[1])
	if len(parts) == 3 {
		d.Timeout = eval.Seconds(toFloat(parts[2]))
	}
	c.Scope().Defer(d)
	return c.Result(markup.Empty)
}
