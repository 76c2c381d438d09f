package functions

import (
	"context"
	"strconv"
	"strings"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

func refText(ref gamedb.DBRef) string {
	return "#" + strconv.Itoa(int(ref))
}

// object resolves argument i to a live object. A nil object with a nil
// error means msg holds the soft error.
func object(ctx context.Context, c *eval.Call, i int) (*gamedb.Object, string, error) {
	ref, msg, err := c.Resolve(ctx, c.Str(i))
	if err != nil || msg != "" {
		return nil, msg, err
	}
	return c.Object(ctx, ref)
}

// objectFn builds a one-object reader such as name() or loc().
func objectFn(read func(c *eval.Call, o *gamedb.Object) (eval.CallState, error)) eval.Handler {
	return func(ctx context.Context, c *eval.Call) (eval.CallState, error) {
		o, msg, err := object(ctx, c, 0)
		if o == nil {
			return orError(c, msg, err)
		}
		return read(c, o)
	}
}

var (
	fnNum = objectFn(func(c *eval.Call, o *gamedb.Object) (eval.CallState, error) {
		return c.ResultString(refText(o.DBRef))
	})
	fnName = objectFn(func(c *eval.Call, o *gamedb.Object) (eval.CallState, error) {
		return c.ResultString(o.DisplayName())
	})
	fnOwner = objectFn(func(c *eval.Call, o *gamedb.Object) (eval.CallState, error) {
		return c.ResultString(refText(o.Owner))
	})
	fnLoc = objectFn(func(c *eval.Call, o *gamedb.Object) (eval.CallState, error) {
		return c.ResultString(refText(o.Location))
	})
	fnType = objectFn(func(c *eval.Call, o *gamedb.Object) (eval.CallState, error) {
		return c.ResultString(o.Type.String())
	})
	// flags() lists flag names separated by spaces.
	fnFlags = objectFn(func(c *eval.Call, o *gamedb.Object) (eval.CallState, error) {
		return c.ResultString(strings.Join(o.FlagNames(), " "))
	})
	fnHasflag = objectFn(func(c *eval.Call, o *gamedb.Object) (eval.CallState, error) {
		name := strings.TrimSpace(c.Str(1))
		if t, ok := gamedb.ParseType(name); ok {
			return boolResult(c, o.Type == t)
		}
		return boolResult(c, o.HasFlag(name))
	})
	fnHaspower = objectFn(func(c *eval.Call, o *gamedb.Object) (eval.CallState, error) {
		return boolResult(c, o.HasPower(strings.TrimSpace(c.Str(1))))
	})
)

// readAttr reads an attribute named by an obj/attr spec.
func readAttr(ctx context.Context, c *eval.Call, spec string) (eval.CallState, error) {
	ref, attr, msg, err := c.ObjAttr(ctx, spec)
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	v, _, err := c.Attr(ctx, ref, attr)
	if err != nil {
		return eval.CallState{}, err
	}
	return c.ResultString(v)
}

// get(obj/attr)
func fnGet(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	if !strings.Contains(c.Str(0), "/") {
		return c.Error(eval.MsgNoAttr)
	}
	return readAttr(ctx, c, c.Str(0))
}

// xget(obj, attr)
func fnXget(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	return readAttr(ctx, c, c.Str(0)+"/"+c.Str(1))
}

// v(attr) reads from the executor; v(0) through v(9) are the arguments.
func fnV(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	name := strings.TrimSpace(c.Str(0))
	if len(name) == 1 && name[0] >= '0' && name[0] <= '9' {
		return c.Result(c.State.Arg(int(name[0] - '0')))
	}
	if strings.Contains(name, "/") {
		return c.Error(eval.MsgNoAttr)
	}
	return readAttr(ctx, c, name)
}

func callU(ctx context.Context, c *eval.Call, local bool) (eval.CallState, error) {
	out, msg, err := c.CallUFun(ctx, c.Str(0), c.Args[1:], local)
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	return c.Result(out)
}

// u(obj/attr, args...) evaluates the attribute as its holder.
func fnU(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	return callU(ctx, c, false)
}

// ulocal() is u() that leaves the caller's registers untouched.
func fnUlocal(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	return callU(ctx, c, true)
}

// hasattr(obj, attr)
func fnHasattr(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	ref, msg, err := c.Resolve(ctx, c.Str(0))
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	_, ok, err := c.Attr(ctx, ref, gamedb.NormalizeAttr(c.Str(1)))
	if err != nil {
		return eval.CallState{}, err
	}
	return boolResult(c, ok)
}

// lockSpec splits "obj[/type]".
func lockSpec(ctx context.Context, c *eval.Call, spec string) (gamedb.DBRef, string, string, error) {
	name, lockType, _ := strings.Cut(spec, "/")
	ref, msg, err := c.Resolve(ctx, name)
	return ref, lockType, msg, err
}

// elock(obj[/type], victim) tests victim against the lock.
func fnElock(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	if c.Ev.Locks == nil {
		return c.Error(eval.MsgPerm)
	}
	ref, lockType, msg, err := lockSpec(ctx, c, c.Str(0))
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	victim, msg, err := c.Resolve(ctx, c.Str(1))
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	ok, err := c.Ev.Locks.Pass(ctx, ref, victim, lockType)
	if err != nil {
		if gamedb.IsNotFound(err) {
			return c.Error("INVALID LOCK TYPE")
		}
		return eval.CallState{}, err
	}
	return boolResult(c, ok)
}

// lock(obj[/type]) returns the lock text; lock(obj[/type], text) sets it
// first, which needs control of obj.
func fnLock(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	ref, lockType, msg, err := lockSpec(ctx, c, c.Str(0))
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	if c.NArgs() > 1 {
		if c.State.NoSideEffects || c.Ev.Locks == nil {
			return c.Error(eval.MsgPerm)
		}
		ok, err := controls(ctx, c, c.State.Executor, ref)
		if err != nil {
			return eval.CallState{}, err
		}
		if !ok {
			return c.Error(eval.MsgPerm)
		}
		if err := c.Ev.Locks.SetLock(ctx, ref, lockType, c.Str(1)); err != nil {
			if eval.IsStoreError(err) {
				return eval.CallState{}, err
			}
			return c.Error(strings.ToUpper(err.Error()))
		}
	}
	text, err := c.Ev.Store.Lock(ctx, ref, lockType)
	if err != nil {
		if gamedb.IsNotFound(err) {
			return c.Error("INVALID LOCK TYPE")
		}
		return eval.CallState{}, err
	}
	return c.ResultString(text)
}

// controls(who, what)
func fnControls(ctx context.Context, c *eval.Call) (eval.CallState, error) {
	who, msg, err := c.Resolve(ctx, c.Str(0))
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	what, msg, err := c.Resolve(ctx, c.Str(1))
	if err != nil || msg != "" {
		return orError(c, msg, err)
	}
	ok, err := controls(ctx, c, who, what)
	if err != nil {
		return eval.CallState{}, err
	}
	return boolResult(c, ok)
}

// controls asks the lock layer when one is attached. Without it, wizards
// control everything and objects control what they own.
func controls(ctx context.Context, c *eval.Call, who, what gamedb.DBRef) (bool, error) {
	if c.Ev.Locks != nil {
		return c.Ev.Locks.Controls(ctx, who, what)
	}
	if who == what {
		return true, nil
	}
	w, msg, err := c.Object(ctx, who)
	if err != nil || msg != "" {
		return false, err
	}
	t, msg, err := c.Object(ctx, what)
	if err != nil || msg != "" {
		return false, err
	}
	return w.IsWizard() || t.Owner == who || t.Owner == w.Owner && !t.IsWizard(), nil
}
