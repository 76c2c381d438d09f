// Package engine runs MUSHcode command lists. A top-level command owns one
// evaluation scope; its messages, queued commands and queue operations are
// journaled and applied together when it finishes, or dropped when a
// resource limit aborts it.
package engine

import (
	"context"
	"log"
	"runtime/debug"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/eval/functions"
	"github.com/crystal-mush/mushcode/pkg/events"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/lock"
	"github.com/crystal-mush/mushcode/pkg/markup"
	"github.com/crystal-mush/mushcode/pkg/metrics"
	"github.com/crystal-mush/mushcode/pkg/queue"
)

// Deliverer receives command output.
type Deliverer interface {
	Deliver(ctx context.Context, to gamedb.DBRef, text markup.Text)
}

// Emitter is a Deliverer that also takes typed events and room-wide
// messages. events.Bus implements it.
type Emitter interface {
	Deliverer
	Emit(ev events.Event)
	EmitToRoom(ctx context.Context, store gamedb.Store, room, except gamedb.DBRef, ev events.Event) error
}

// Options configure an Engine. Zero values take the package defaults.
type Options struct {
	Eval          eval.Options
	Limits        eval.Limits
	LockCacheSize int
	Queue         queue.Options
	Metrics       *metrics.Metrics
}

// Engine ties the evaluator, the lock cache and the scheduler together.
type Engine struct {
	Ev      *eval.Evaluator
	Locks   *lock.Cache
	Queue   *queue.Scheduler
	Out     Deliverer
	Metrics *metrics.Metrics

	commands map[string]*command
	prefixes []string // @-command names, sorted, for abbreviations
}

// New builds an engine over store with every built-in function and
// command registered. Output goes to out, which may be nil.
func New(store gamedb.Store, out Deliverer, opts Options) *Engine {
	funcs := eval.NewRegistry()
	functions.RegisterAll(funcs)

	ev := eval.New(store, funcs, opts.Eval)
	ev.Metrics = opts.Metrics
	if opts.Limits != (eval.Limits{}) {
		ev.SetLimits(opts.Limits)
	}
	locks := lock.NewCache(store, opts.LockCacheSize, opts.Metrics)
	lock.Wire(locks, ev)

	e := &Engine{
		Ev:      ev,
		Locks:   locks,
		Out:     out,
		Metrics: opts.Metrics,
	}
	e.commands, e.prefixes = builtinCommands()

	qopts := opts.Queue
	if qopts.Metrics == nil {
		qopts.Metrics = opts.Metrics
	}
	e.Queue = queue.New(e, qopts)
	return e
}

// SetLimits replaces the ceilings applied to commands started from now on.
func (e *Engine) SetLimits(l eval.Limits) {
	e.Ev.SetLimits(l)
}

// RunTopLevelCommand runs raw as actor. The result holds everything
// delivered directly to the actor, one message per line; a limit abort
// yields the sentinel text and nothing else. Store failures are returned
// as errors and the command's journal is dropped.
func (e *Engine) RunTopLevelCommand(ctx context.Context, actor gamedb.DBRef, raw string) (eval.CallState, error) {
	return e.run(ctx, eval.NewState(actor, actor), raw)
}

// Execute runs a queued entry. It implements queue.Executor.
func (e *Engine) Execute(ctx context.Context, entry *queue.Entry) error {
	if _, err := e.Ev.Store.Object(ctx, entry.Executor); err != nil {
		if gamedb.IsNotFound(err) {
			log.Printf("ENGINE: dropping entry %s for missing #%d", entry.ID, entry.Executor)
			return nil
		}
		return err
	}
	ps := eval.NewState(entry.Executor, entry.Enactor).WithArgs(entry.Args)
	ps.Caller = entry.Caller
	if entry.Regs != nil {
		ps = ps.WithRegisters(entry.Regs)
	}
	_, err := e.run(ctx, ps, entry.Command)
	return err
}

func (e *Engine) run(ctx context.Context, ps eval.ParserState, raw string) (cs eval.CallState, err error) {
	e.Metrics.CommandRun()
	j := &journal{scope: e.Ev.NewScope()}
	ps = ps.WithScope(j.scope)
	r := &runner{e: e, j: j}
	defer func() {
		if p := recover(); p != nil {
			j.discard()
			log.Printf("ENGINE: #%d: panic in command %q: %v\n%s", ps.Executor, truncate(raw, 80), p, debug.Stack())
			e.Metrics.ExecutorPanic()
			cs, err = eval.CallState{Text: e.Ev.ErrorText(msgInternal)}, nil
			e.emit(ctx, events.EvText, ps.Executor, eval.Delivery{To: ps.Executor, Text: cs.Text})
		}
	}()

	if err := r.list(ctx, raw, &ps); err != nil {
		j.discard()
		if le, ok := eval.AsLimit(err); ok {
			cs, _ := e.Ev.Abort(err, ps)
			log.Printf("ENGINE: #%d: command aborted (%s, limit %d): %s", ps.Executor, le.Kind, le.Limit, truncate(raw, 80))
			e.emit(ctx, events.EvAbort, ps.Executor, eval.Delivery{To: ps.Executor, Text: cs.Text})
			return cs, nil
		}
		if eval.IsStoreError(err) {
			log.Printf("ENGINE: #%d: store error: %v", ps.Executor, err)
		}
		return eval.CallState{}, err
	}
	return eval.CallState{Text: e.flush(ctx, j, ps.Executor), Regs: ps.Regs}, nil
}

// flush applies a finished command's journal in order and returns what
// was delivered directly to actor.
func (e *Engine) flush(ctx context.Context, j *journal, actor gamedb.DBRef) markup.Text {
	j.collect()
	var out []markup.Text
	for _, s := range j.steps {
		switch {
		case s.op != nil:
			s.op(e.Queue)
		case s.deferred != nil:
			e.schedule(*s.deferred)
		case s.room != gamedb.Nothing:
			e.emitRoom(ctx, actor, s.room, s.delivery.Text)
		default:
			e.emit(ctx, s.kind, actor, s.delivery)
			if s.delivery.To == actor {
				out = append(out, s.delivery.Text)
			}
		}
	}
	j.steps = nil
	return markup.Join(out, markup.New("\n"))
}

func (e *Engine) schedule(d eval.Deferred) {
	entry := queue.FromDeferred(d)
	switch {
	case d.SemAttr != "":
		e.Queue.Wait(queue.Key{Obj: d.SemObj, Attr: d.SemAttr}, entry, d.Timeout)
	case d.Delay > 0:
		e.Queue.EnqueueDelayed(entry, d.Delay)
	default:
		e.Queue.Enqueue(entry)
	}
}

func (e *Engine) emit(ctx context.Context, kind events.EventType, source gamedb.DBRef, d eval.Delivery) {
	if e.Out == nil {
		return
	}
	if em, ok := e.Out.(Emitter); ok && kind != events.EvText {
		em.Emit(events.Event{Type: kind, Player: d.To, Source: source, Text: d.Text})
		return
	}
	e.Out.Deliver(ctx, d.To, d.Text)
}

func (e *Engine) emitRoom(ctx context.Context, source, room gamedb.DBRef, text markup.Text) {
	if e.Out == nil {
		return
	}
	if em, ok := e.Out.(Emitter); ok {
		ev := events.Event{Type: events.EvRoom, Source: source, Text: text}
		if err := em.EmitToRoom(ctx, e.Ev.Store, room, gamedb.Nothing, ev); err != nil {
			log.Printf("ENGINE: emit to #%d: %v", room, err)
		}
		return
	}
	contents, err := e.Ev.Store.Contents(ctx, room)
	if err != nil {
		log.Printf("ENGINE: contents of #%d: %v", room, err)
		return
	}
	for _, ref := range contents {
		e.Out.Deliver(ctx, ref, text)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
