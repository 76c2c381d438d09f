package lock

import (
	"context"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// Softcode evaluates ATTR/pattern lock attributes with the MUSHcode
// evaluator. Each evaluation is its own top-level command with side effects
// disallowed; a limit abort yields the sentinel text.
type Softcode struct {
	Ev *eval.Evaluator
}

func (s Softcode) EvalAttr(ctx context.Context, obj, enactor gamedb.DBRef, attr string) (string, error) {
	body, ok, err := s.Ev.Store.Attr(ctx, obj, attr)
	if err != nil || !ok || body == "" {
		return "", err
	}
	ps := eval.NewState(obj, enactor).WithoutSideEffects()
	ps = ps.WithScope(s.Ev.NewScope())
	cs, err := s.Ev.Evaluate(ctx, markup.New(body), ps)
	if err != nil {
		if cs, err = s.Ev.Abort(err, ps); err != nil {
			return "", err
		}
	}
	return cs.Text.Plain(), nil
}

// Wire connects a cache and an evaluator in both directions: functions
// consult the cache and evaluation locks run through the evaluator.
func Wire(c *Cache, ev *eval.Evaluator) {
	ev.Locks = c
	c.SetEvaluator(Softcode{Ev: ev})
}
