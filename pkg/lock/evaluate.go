package lock

import (
	"context"
	"log"
	"slices"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/wild"
)

// MaxIndirect bounds @-lock indirection and nested evaluation locks.
const MaxIndirect = 20

// AttrEvaluator runs an attribute of obj as code on behalf of enactor with
// side effects disallowed, for ATTR/pattern locks.
type AttrEvaluator interface {
	EvalAttr(ctx context.Context, obj, enactor gamedb.DBRef, attr string) (string, error)
}

// Env is what a lock is evaluated against.
type Env struct {
	Store gamedb.Store
	Attrs AttrEvaluator // nil makes evaluation locks fail
}

type depthKey struct{}

func lockDepth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

func deeper(ctx context.Context) context.Context {
	return context.WithValue(ctx, depthKey{}, lockDepth(ctx)+1)
}

// Evaluate compiles lockString and evaluates it. A malformed lock fails
// with a *ParseError.
func Evaluate(ctx context.Context, env Env, lockString string, gated, unlocker gamedb.DBRef) (bool, error) {
	c, err := Compile(lockString)
	if err != nil {
		return false, err
	}
	return c.Eval(ctx, env, gated, unlocker)
}

// Eval reports whether unlocker passes the lock on gated. Store lookups
// happen only for the operands actually reached; & and | short-circuit
// left to right. Objects that no longer exist fail their test.
func (c *Compiled) Eval(ctx context.Context, env Env, gated, unlocker gamedb.DBRef) (bool, error) {
	if c == nil || c.Root == nil {
		return true, nil
	}
	if lockDepth(ctx) > MaxIndirect {
		return false, nil
	}
	r := &evaluator{env: env, gated: gated, unlocker: unlocker}
	return r.eval(ctx, c.Root)
}

type evaluator struct {
	env      Env
	gated    gamedb.DBRef
	unlocker gamedb.DBRef
}

func (r *evaluator) eval(ctx context.Context, n *Node) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	switch n.Kind {
	case KindAnd:
		ok, err := r.eval(ctx, n.Left)
		if err != nil || !ok {
			return false, err
		}
		return r.eval(ctx, n.Right)
	case KindOr:
		ok, err := r.eval(ctx, n.Left)
		if err != nil || ok {
			return ok, err
		}
		return r.eval(ctx, n.Right)
	case KindNot:
		ok, err := r.eval(ctx, n.Left)
		return !ok && err == nil, err
	case KindRef, KindName:
		target, err := r.resolve(ctx, n)
		if err != nil || target == gamedb.Nothing {
			return false, err
		}
		if target == r.unlocker {
			return true, nil
		}
		return r.carries(ctx, target)
	case KindFlag, KindPower, KindType:
		obj, err := r.object(ctx, r.unlocker)
		if err != nil || obj == nil {
			return false, err
		}
		switch n.Kind {
		case KindFlag:
			return obj.HasFlag(n.Name), nil
		case KindPower:
			return obj.HasPower(n.Name), nil
		}
		return obj.Type.String() == n.Name, nil
	case KindChannel:
		return r.env.Store.OnChannel(ctx, n.Name, r.unlocker)
	case KindOwner:
		target, err := r.resolve(ctx, n.Left)
		if err != nil || target == gamedb.Nothing {
			return false, err
		}
		obj, err := r.object(ctx, r.unlocker)
		if err != nil || obj == nil {
			return false, err
		}
		return obj.Owner == target, nil
	case KindAttr:
		ok, err := r.attrMatches(ctx, r.unlocker, n)
		if err != nil || ok {
			return ok, err
		}
		return r.contentsMatch(ctx, n)
	case KindEval:
		return r.evalLock(ctx, n)
	case KindIndir:
		return r.indirect(ctx, n.Left)
	case KindCarry:
		if n.Left.Kind == KindAttr {
			return r.contentsMatch(ctx, n.Left)
		}
		target, err := r.resolve(ctx, n.Left)
		if err != nil || target == gamedb.Nothing {
			return false, err
		}
		return r.carries(ctx, target)
	case KindIs:
		if n.Left.Kind == KindAttr {
			return r.attrMatches(ctx, r.unlocker, n.Left)
		}
		target, err := r.resolve(ctx, n.Left)
		if err != nil || target == gamedb.Nothing {
			return false, err
		}
		return target == r.unlocker, nil
	case KindSameOwner:
		target, err := r.resolve(ctx, n.Left)
		if err != nil || target == gamedb.Nothing {
			return false, err
		}
		a, err := r.object(ctx, r.unlocker)
		if err != nil || a == nil {
			return false, err
		}
		b, err := r.object(ctx, target)
		if err != nil || b == nil {
			return false, err
		}
		return a.Owner == b.Owner, nil
	}
	return false, nil
}

// resolve turns a #n or name operand into a reference. Names are matched
// as the gated object sees them, then as player names.
func (r *evaluator) resolve(ctx context.Context, n *Node) (gamedb.DBRef, error) {
	if n.Kind == KindRef {
		return n.Ref, nil
	}
	ref, err := r.env.Store.Match(ctx, r.gated, n.Name)
	if err != nil && !gamedb.IsNotFound(err) {
		return gamedb.Nothing, err
	}
	if err == nil && ref >= 0 {
		return ref, nil
	}
	ref, err = r.env.Store.Match(ctx, r.gated, "*"+n.Name)
	if err != nil && !gamedb.IsNotFound(err) {
		return gamedb.Nothing, err
	}
	if err != nil || ref < 0 {
		log.Printf("LOCK: unresolved name %q in lock on #%d", n.Name, r.gated)
		return gamedb.Nothing, nil
	}
	return ref, nil
}

// object fetches a snapshot; a missing object is nil without error.
func (r *evaluator) object(ctx context.Context, ref gamedb.DBRef) (*gamedb.Object, error) {
	obj, err := r.env.Store.Object(ctx, ref)
	if gamedb.IsNotFound(err) {
		return nil, nil
	}
	return obj, err
}

func (r *evaluator) contents(ctx context.Context) ([]gamedb.DBRef, error) {
	refs, err := r.env.Store.Contents(ctx, r.unlocker)
	if gamedb.IsNotFound(err) {
		return nil, nil
	}
	return refs, err
}

func (r *evaluator) carries(ctx context.Context, target gamedb.DBRef) (bool, error) {
	refs, err := r.contents(ctx)
	return slices.Contains(refs, target), err
}

func (r *evaluator) attrMatches(ctx context.Context, obj gamedb.DBRef, n *Node) (bool, error) {
	v, _, err := r.env.Store.Attr(ctx, obj, n.Name)
	if err != nil {
		if gamedb.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return wild.Match(n.Pattern, v), nil
}

func (r *evaluator) contentsMatch(ctx context.Context, n *Node) (bool, error) {
	refs, err := r.contents(ctx)
	if err != nil {
		return false, err
	}
	for _, ref := range refs {
		ok, err := r.attrMatches(ctx, ref, n)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// evalLock evaluates the gated object's attribute with the unlocker as
// enactor and matches the result against the pattern.
func (r *evaluator) evalLock(ctx context.Context, n *Node) (bool, error) {
	if r.env.Attrs == nil || lockDepth(ctx) >= MaxIndirect {
		return false, nil
	}
	out, err := r.env.Attrs.EvalAttr(deeper(ctx), r.gated, r.unlocker, n.Name)
	if err != nil {
		if gamedb.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return wild.Match(n.Pattern, out), nil
}

// indirect evaluates target's basic lock in place of the operand. An
// unlocked target passes.
func (r *evaluator) indirect(ctx context.Context, operand *Node) (bool, error) {
	if lockDepth(ctx) >= MaxIndirect {
		return false, nil
	}
	target, err := r.resolve(ctx, operand)
	if err != nil || target == gamedb.Nothing {
		return false, err
	}
	text, err := r.env.Store.Lock(ctx, target, "")
	if err != nil {
		if gamedb.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	c, err := Compile(text)
	if err != nil {
		log.Printf("LOCK: bad basic lock on #%d: %v", target, err)
		return false, nil
	}
	return c.Eval(deeper(ctx), r.env, target, r.unlocker)
}
