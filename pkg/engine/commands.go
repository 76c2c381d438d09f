package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/events"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/lock"
	"github.com/crystal-mush/mushcode/pkg/markup"
	"github.com/crystal-mush/mushcode/pkg/queue"
	"github.com/crystal-mush/mushcode/pkg/wild"
)

// HuhMessage is delivered for a command nothing recognizes.
const HuhMessage = `Huh?  (Type "help" for help.)`

const defaultSemaphore = "SEMAPHORE"

// msgInternal is the soft error a command gets when a handler panics.
const msgInternal = "INTERNAL ERROR"

// commandHandler runs one command. ps is the state of the enclosing list;
// handlers that evaluate store the resulting registers back into it.
type commandHandler func(ctx context.Context, r *runner, ps *eval.ParserState, args string, switches []string) error

type command struct {
	name    string
	handler commandHandler
}

func builtinCommands() (map[string]*command, []string) {
	cmds := make(map[string]*command)
	register := func(name string, h commandHandler) {
		cmds[name] = &command{name: name, handler: h}
	}

	register("think", cmdThink)
	register("@pemit", cmdPemit)
	register("@set", cmdSet)
	register("@lock", cmdLock)
	register("@unlock", cmdUnlock)
	register("@wait", cmdWait)
	register("@notify", cmdNotify)
	register("@drain", cmdDrain)
	register("@halt", cmdHalt)
	register("@trigger", cmdTrigger)
	register("@force", cmdForce)
	register("@switch", cmdSwitch)
	register("@dolist", cmdDolist)
	register("@function", cmdFunction)

	var prefixes []string
	for name := range cmds {
		if name[0] == '@' {
			prefixes = append(prefixes, name)
		}
	}
	slices.Sort(prefixes)
	return cmds, prefixes
}

// lookup finds a command by exact name, or an @-command by unique prefix.
func (e *Engine) lookup(name string) *command {
	if cmd, ok := e.commands[name]; ok {
		return cmd
	}
	if len(name) < 2 || name[0] != '@' {
		return nil
	}
	var found *command
	for _, full := range e.prefixes {
		if strings.HasPrefix(full, name) {
			if found != nil {
				return nil
			}
			found = e.commands[full]
		}
	}
	return found
}

func hasSwitch(switches []string, name string) bool {
	return slices.Contains(switches, name)
}

// runner executes the commands of one top-level command.
type runner struct {
	e *Engine
	j *journal
}

// list runs a semicolon-separated command list as one nesting level.
func (r *runner) list(ctx context.Context, raw string, ps *eval.ParserState) error {
	leave, err := ps.Scope().EnterCommand()
	if err != nil {
		return err
	}
	defer leave()
	for _, text := range splitCommands(raw) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.command(ctx, strings.TrimSpace(text), ps); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) command(ctx context.Context, text string, ps *eval.ParserState) error {
	if text == "" {
		return nil
	}
	cps := ps.WithCommand(markup.New(text))
	defer func() { ps.Regs = cps.Regs }()

	if text[0] == '&' {
		return cmdSetAttr(ctx, r, &cps, text[1:])
	}
	name, switches, args := parseCommand(text)
	cmd := r.e.lookup(name)
	if cmd == nil {
		r.j.notify(events.EvHuh, ps.Executor, markup.New(HuhMessage))
		return nil
	}
	return cmd.handler(ctx, r, &cps, args, switches)
}

// nested runs body as an inline command list in child, carrying the
// registers back into ps.
func (r *runner) nested(ctx context.Context, body string, ps *eval.ParserState, child eval.ParserState) error {
	child.Regs = ps.Regs
	err := r.list(ctx, stripBraces(body), &child)
	ps.Regs = child.Regs
	return err
}

func (r *runner) evalText(ctx context.Context, t markup.Text, ps *eval.ParserState) (markup.Text, error) {
	cs, err := r.e.Ev.EvaluateArg(ctx, t, *ps)
	if err != nil {
		return markup.Empty, err
	}
	ps.Regs = cs.Regs
	return cs.Text, nil
}

func (r *runner) eval(ctx context.Context, s string, ps *eval.ParserState) (markup.Text, error) {
	return r.evalText(ctx, markup.New(s), ps)
}

func (r *runner) evalString(ctx context.Context, s string, ps *eval.ParserState) (string, error) {
	t, err := r.eval(ctx, s, ps)
	return strings.TrimSpace(t.Plain()), err
}

// tell sends a system message to the executor.
func (r *runner) tell(ps *eval.ParserState, msg string) {
	r.j.notify(events.EvText, ps.Executor, markup.New(msg))
}

// match resolves name for the executor. It reports failures to the
// executor and returns ok=false.
func (r *runner) match(ctx context.Context, ps *eval.ParserState, name string) (gamedb.DBRef, bool, error) {
	ref, err := r.e.Ev.Store.Match(ctx, ps.Executor, name)
	if err != nil {
		if gamedb.IsNotFound(err) {
			r.tell(ps, "I don't see that here.")
			return gamedb.Nothing, false, nil
		}
		return gamedb.Nothing, false, err
	}
	switch ref {
	case gamedb.Nothing:
		r.tell(ps, "I don't see that here.")
		return ref, false, nil
	case gamedb.Ambiguous:
		r.tell(ps, "I don't know which one you mean!")
		return ref, false, nil
	}
	return ref, true, nil
}

// controlled is match plus a control check.
func (r *runner) controlled(ctx context.Context, ps *eval.ParserState, name string) (gamedb.DBRef, bool, error) {
	ref, ok, err := r.match(ctx, ps, name)
	if err != nil || !ok {
		return ref, false, err
	}
	ok, err = r.e.Locks.Controls(ctx, ps.Executor, ref)
	if err != nil {
		return ref, false, err
	}
	if !ok {
		r.tell(ps, "Permission denied.")
	}
	return ref, ok, nil
}

func (r *runner) isWizard(ctx context.Context, ref gamedb.DBRef) (bool, error) {
	obj, err := r.e.Ev.Store.Object(ctx, ref)
	if err != nil {
		if gamedb.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return obj.IsWizard(), nil
}

// deferred returns a queue entry template for commands run by the
// executor on behalf of the same enactor.
func deferred(ps *eval.ParserState, command string) eval.Deferred {
	return eval.Deferred{
		Executor: ps.Executor,
		Enactor:  ps.Enactor,
		Caller:   ps.Caller,
		Command:  command,
		Args:     ps.Args,
		Regs:     ps.Regs,
	}
}

func seconds(s string) time.Duration {
	return eval.Seconds(eval.ToFloat(s))
}

// think <message>
func cmdThink(ctx context.Context, r *runner, ps *eval.ParserState, args string, _ []string) error {
	msg, err := r.eval(ctx, args, ps)
	if err != nil {
		return err
	}
	r.j.notify(events.EvText, ps.Executor, msg)
	return nil
}

// @pemit[/contents|/list] <target>=<message>
func cmdPemit(ctx context.Context, r *runner, ps *eval.ParserState, args string, switches []string) error {
	lhs, rhs, ok := splitEquals(args)
	if !ok {
		r.tell(ps, "@pemit: I need a target and message separated by =.")
		return nil
	}
	targets, err := r.evalString(ctx, lhs, ps)
	if err != nil {
		return err
	}
	msg, err := r.eval(ctx, rhs, ps)
	if err != nil {
		return err
	}

	names := []string{targets}
	if hasSwitch(switches, "list") {
		names = strings.Fields(targets)
	}
	for _, name := range names {
		ref, ok, err := r.match(ctx, ps, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if hasSwitch(switches, "contents") {
			r.j.notifyRoom(ref, msg)
		} else {
			r.j.notify(events.EvText, ref, msg)
		}
	}
	return nil
}

// @set <object>=[!]<flag> or @set <object>=<attr>:<value>
func cmdSet(ctx context.Context, r *runner, ps *eval.ParserState, args string, _ []string) error {
	lhs, rhs, ok := splitEquals(args)
	if !ok || rhs == "" {
		r.tell(ps, "Set what?")
		return nil
	}
	name, err := r.evalString(ctx, lhs, ps)
	if err != nil {
		return err
	}
	what, err := r.evalString(ctx, rhs, ps)
	if err != nil {
		return err
	}
	ref, ok, err := r.controlled(ctx, ps, name)
	if err != nil || !ok {
		return err
	}
	if attr, value, found := strings.Cut(what, ":"); found {
		return r.setAttr(ctx, ps, ref, attr, value)
	}

	on := true
	if strings.HasPrefix(what, "!") {
		on, what = false, what[1:]
	}
	flag := strings.ToUpper(strings.TrimSpace(what))
	if _, ok := gamedb.FlagTable[flag]; !ok {
		r.tell(ps, "I don't understand that flag.")
		return nil
	}
	if err := r.e.Ev.Store.SetFlag(ctx, ref, flag, on); err != nil {
		return err
	}
	if on {
		r.tell(ps, "Set.")
	} else {
		r.tell(ps, "Cleared.")
	}
	return nil
}

// &<attr> <object>=<value>, value stored unevaluated.
func cmdSetAttr(ctx context.Context, r *runner, ps *eval.ParserState, text string) error {
	attr, rest, _ := strings.Cut(text, " ")
	lhs, rhs, _ := splitEquals(rest)
	name, err := r.evalString(ctx, lhs, ps)
	if err != nil {
		return err
	}
	ref, ok, err := r.controlled(ctx, ps, name)
	if err != nil || !ok {
		return err
	}
	return r.setAttr(ctx, ps, ref, attr, rhs)
}

func (r *runner) setAttr(ctx context.Context, ps *eval.ParserState, ref gamedb.DBRef, attr, value string) error {
	attr = gamedb.NormalizeAttr(attr)
	if attr == "" {
		r.tell(ps, "Set what?")
		return nil
	}
	if err := r.e.Ev.Store.SetAttr(ctx, ref, attr, value); err != nil {
		return err
	}
	if gamedb.IsLockAttr(attr) {
		r.e.Locks.InvalidateObject(ref)
	}
	if value == "" {
		r.tell(ps, "Cleared.")
	} else {
		r.tell(ps, "Set.")
	}
	return nil
}

// @lock[/<type>] <object>=<key>, key taken literally.
func cmdLock(ctx context.Context, r *runner, ps *eval.ParserState, args string, switches []string) error {
	lhs, key, ok := splitEquals(args)
	if !ok || key == "" {
		r.tell(ps, "You must specify a key to lock with.")
		return nil
	}
	return r.setLock(ctx, ps, lhs, key, switches, "Locked.")
}

// @unlock[/<type>] <object>
func cmdUnlock(ctx context.Context, r *runner, ps *eval.ParserState, args string, switches []string) error {
	return r.setLock(ctx, ps, args, "", switches, "Unlocked.")
}

func (r *runner) setLock(ctx context.Context, ps *eval.ParserState, target, key string, switches []string, done string) error {
	name, err := r.evalString(ctx, target, ps)
	if err != nil {
		return err
	}
	lockType := "BASIC"
	if len(switches) > 0 {
		lockType = switches[0]
	}
	if _, err := gamedb.LockAttr(lockType); err != nil {
		r.tell(ps, "Invalid lock type.")
		return nil
	}
	ref, ok, err := r.controlled(ctx, ps, name)
	if err != nil || !ok {
		return err
	}
	err = r.e.Locks.SetLock(ctx, ref, lockType, key)
	var perr *lock.ParseError
	switch {
	case errors.As(err, &perr):
		r.tell(ps, "I don't understand that key.")
		return nil
	case err != nil:
		return err
	}
	r.tell(ps, done)
	return nil
}

// @wait <seconds>=<command>
// @wait <object>[/<attr>][/<timeout>]=<command>
func cmdWait(ctx context.Context, r *runner, ps *eval.ParserState, args string, _ []string) error {
	lhs, body, ok := splitEquals(args)
	if !ok {
		r.tell(ps, "@wait: I need something to wait for.")
		return nil
	}
	spec, err := r.evalString(ctx, lhs, ps)
	if err != nil {
		return err
	}
	d := deferred(ps, body)
	if eval.IsNumber(spec) {
		d.Delay = seconds(spec)
		ps.Scope().Defer(d)
		return nil
	}

	parts := strings.SplitN(spec, "/", 3)
	ref, ok, err := r.controlled(ctx, ps, parts[0])
	if err != nil || !ok {
		return err
	}
	d.SemObj, d.SemAttr = ref, defaultSemaphore
	switch len(parts) {
	case 2:
		if eval.IsNumber(parts[1]) {
			d.Timeout = seconds(parts[1])
		} else {
			d.SemAttr = gamedb.NormalizeAttr(parts[1])
		}
	case 3:
		d.SemAttr = gamedb.NormalizeAttr(parts[1])
		d.Timeout = seconds(parts[2])
	}
	if d.SemAttr == "" {
		d.SemAttr = defaultSemaphore
	}
	ps.Scope().Defer(d)
	return nil
}

// semaphore resolves "<object>[/<attr>]" to a queue key the executor
// controls.
func (r *runner) semaphore(ctx context.Context, ps *eval.ParserState, spec string) (queue.Key, bool, error) {
	name, attr, found := strings.Cut(spec, "/")
	ref, ok, err := r.controlled(ctx, ps, name)
	if err != nil || !ok {
		return queue.Key{}, false, err
	}
	if !found || strings.TrimSpace(attr) == "" {
		attr = defaultSemaphore
	}
	return queue.Key{Obj: ref, Attr: gamedb.NormalizeAttr(attr)}, true, nil
}

// @notify[/all] <object>[/<attr>][=<count>]
func cmdNotify(ctx context.Context, r *runner, ps *eval.ParserState, args string, switches []string) error {
	lhs, rhs, _ := splitEquals(args)
	spec, err := r.evalString(ctx, lhs, ps)
	if err != nil {
		return err
	}
	count := 1
	if rhs != "" {
		n, err := r.evalString(ctx, rhs, ps)
		if err != nil {
			return err
		}
		if count = eval.ToInt(n); count <= 0 {
			r.tell(ps, "Notify how many times?")
			return nil
		}
	}
	key, ok, err := r.semaphore(ctx, ps, spec)
	if err != nil || !ok {
		return err
	}
	all := hasSwitch(switches, "all")
	r.j.queue(func(q *queue.Scheduler) {
		if all {
			q.NotifyAll(key)
			return
		}
		for range count {
			q.Notify(key)
		}
	})
	r.tell(ps, "Notified.")
	return nil
}

// @drain <object>[/<attr>]
func cmdDrain(ctx context.Context, r *runner, ps *eval.ParserState, args string, _ []string) error {
	spec, err := r.evalString(ctx, args, ps)
	if err != nil {
		return err
	}
	key, ok, err := r.semaphore(ctx, ps, spec)
	if err != nil || !ok {
		return err
	}
	whole := !strings.Contains(spec, "/")
	r.j.queue(func(q *queue.Scheduler) {
		if whole {
			q.DrainObject(key.Obj)
		} else {
			q.Drain(key)
		}
	})
	r.tell(ps, "Drained.")
	return nil
}

// @halt [<object>] or @halt/all
func cmdHalt(ctx context.Context, r *runner, ps *eval.ParserState, args string, switches []string) error {
	if hasSwitch(switches, "all") {
		wiz, err := r.isWizard(ctx, ps.Executor)
		if err != nil {
			return err
		}
		if !wiz {
			r.tell(ps, "Permission denied.")
			return nil
		}
		r.j.queue(func(q *queue.Scheduler) { q.HaltAll() })
		r.tell(ps, "Everything halted.")
		return nil
	}
	target := ps.Executor
	if strings.TrimSpace(args) != "" {
		name, err := r.evalString(ctx, args, ps)
		if err != nil {
			return err
		}
		ref, ok, err := r.controlled(ctx, ps, name)
		if err != nil || !ok {
			return err
		}
		target = ref
	}
	r.j.queue(func(q *queue.Scheduler) { q.Halt(target) })
	r.tell(ps, "Halted.")
	return nil
}

// @trigger[/now] <object>/<attr>[=<arg0>,<arg1>,...]
func cmdTrigger(ctx context.Context, r *runner, ps *eval.ParserState, args string, switches []string) error {
	lhs, rhs, _ := splitEquals(args)
	spec, err := r.evalString(ctx, lhs, ps)
	if err != nil {
		return err
	}
	name, attr, found := strings.Cut(spec, "/")
	if !found || strings.TrimSpace(attr) == "" {
		r.tell(ps, "I need an object and an attribute.")
		return nil
	}
	var targs []markup.Text
	if rhs != "" {
		for _, a := range r.e.Ev.SplitArgs(markup.New(rhs)).Args {
			v, err := r.evalText(ctx, a, ps)
			if err != nil {
				return err
			}
			targs = append(targs, v)
		}
	}
	ref, ok, err := r.controlled(ctx, ps, name)
	if err != nil || !ok {
		return err
	}
	body, ok, err := r.e.Ev.Store.Attr(ctx, ref, gamedb.NormalizeAttr(attr))
	if err != nil {
		return err
	}
	if !ok || body == "" {
		r.tell(ps, "No such attribute.")
		return nil
	}

	if hasSwitch(switches, "now") {
		child := ps.WithExecutor(ref).WithArgs(targs)
		child.Enactor = ps.Executor
		return r.nested(ctx, body, ps, child)
	}
	ps.Scope().Defer(eval.Deferred{
		Executor: ref,
		Enactor:  ps.Executor,
		Caller:   ps.Executor,
		Command:  body,
		Args:     targs,
		Regs:     ps.Regs,
	})
	r.tell(ps, "Triggered.")
	return nil
}

// @force[/now] <object>=<command>
func cmdForce(ctx context.Context, r *runner, ps *eval.ParserState, args string, switches []string) error {
	lhs, body, ok := splitEquals(args)
	if !ok || body == "" {
		r.tell(ps, "Force whom to do what?")
		return nil
	}
	name, err := r.evalString(ctx, lhs, ps)
	if err != nil {
		return err
	}
	ref, ok, err := r.controlled(ctx, ps, name)
	if err != nil || !ok {
		return err
	}
	if hasSwitch(switches, "now") {
		child := ps.WithExecutor(ref)
		child.Enactor = ps.Executor
		return r.nested(ctx, body, ps, child)
	}
	d := deferred(ps, body)
	d.Executor, d.Enactor, d.Caller = ref, ps.Executor, ps.Executor
	ps.Scope().Defer(d)
	return nil
}

// @switch[/first|/all] <value>=<pattern>,<action>,...[,<default>]
func cmdSwitch(ctx context.Context, r *runner, ps *eval.ParserState, args string, switches []string) error {
	lhs, rhs, ok := splitEquals(args)
	if !ok {
		r.tell(ps, "@switch: I need a value and some cases.")
		return nil
	}
	value, err := r.eval(ctx, lhs, ps)
	if err != nil {
		return err
	}
	cases := r.e.Ev.SplitArgs(markup.New(rhs)).Args
	first := hasSwitch(switches, "first")
	matched := false
	for i := 0; i+1 < len(cases); i += 2 {
		pat, err := r.evalText(ctx, cases[i], ps)
		if err != nil {
			return err
		}
		caps, ok := wild.Capture(pat.Plain(), value.Plain())
		if !ok {
			continue
		}
		matched = true
		if err := r.switchAction(ctx, ps, cases[i+1].Plain(), value, caps); err != nil {
			return err
		}
		if first {
			break
		}
	}
	if !matched && len(cases)%2 == 1 {
		return r.switchAction(ctx, ps, cases[len(cases)-1].Plain(), value, nil)
	}
	return nil
}

func (r *runner) switchAction(ctx context.Context, ps *eval.ParserState, action string, value markup.Text, caps []string) error {
	action = strings.ReplaceAll(action, "#$", value.Plain())
	child := *ps
	if len(caps) > 0 {
		texts := make([]markup.Text, len(caps))
		for i, c := range caps {
			texts[i] = markup.New(c)
		}
		child = child.WithCaptures(texts)
	}
	return r.nested(ctx, action, ps, child)
}

// @dolist[/delimit][/now] [<delim>] <list>=<action>
func cmdDolist(ctx context.Context, r *runner, ps *eval.ParserState, args string, switches []string) error {
	lhs, action, ok := splitEquals(args)
	if !ok || action == "" {
		r.tell(ps, "@dolist: I need a list and an action.")
		return nil
	}
	action = stripBraces(action)
	list, err := r.evalString(ctx, lhs, ps)
	if err != nil {
		return err
	}
	var items []string
	if hasSwitch(switches, "delimit") {
		delim, rest, _ := strings.Cut(list, " ")
		if delim == "" {
			r.tell(ps, "@dolist: I need a delimiter.")
			return nil
		}
		for _, item := range strings.Split(rest, delim) {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	} else {
		items = strings.Fields(list)
	}

	now := hasSwitch(switches, "now")
	for i, item := range items {
		cmd := strings.NewReplacer("##", item, "#@", strconv.Itoa(i+1)).Replace(action)
		if now {
			if err := r.nested(ctx, cmd, ps, *ps); err != nil {
				return err
			}
			continue
		}
		ps.Scope().Defer(deferred(ps, cmd))
	}
	return nil
}

// @function[/privileged][/preserve] <name>=<object>/<attr>
// @function/delete <name>
func cmdFunction(ctx context.Context, r *runner, ps *eval.ParserState, args string, switches []string) error {
	wiz, err := r.isWizard(ctx, ps.Executor)
	if err != nil {
		return err
	}
	if !wiz {
		r.tell(ps, "Permission denied.")
		return nil
	}
	lhs, rhs, _ := splitEquals(args)
	name := strings.ToUpper(lhs)
	if hasSwitch(switches, "delete") {
		if r.e.Ev.Funcs.RemoveUser(name) {
			r.tell(ps, fmt.Sprintf("Function %s deleted.", name))
		} else {
			r.tell(ps, "No such user function.")
		}
		return nil
	}

	spec, err := r.evalString(ctx, rhs, ps)
	if err != nil {
		return err
	}
	objName, attr, found := strings.Cut(spec, "/")
	if !found {
		r.tell(ps, "I need an object and an attribute.")
		return nil
	}
	ref, ok, err := r.match(ctx, ps, objName)
	if err != nil || !ok {
		return err
	}
	attr = gamedb.NormalizeAttr(attr)
	if _, ok, err := r.e.Ev.Store.Attr(ctx, ref, attr); err != nil {
		return err
	} else if !ok {
		r.tell(ps, "No such attribute.")
		return nil
	}
	err = r.e.Ev.Funcs.DefineUser(eval.UserFunction{
		Name:       name,
		Obj:        ref,
		Attr:       attr,
		Privileged: hasSwitch(switches, "privileged"),
		Preserve:   hasSwitch(switches, "preserve"),
		Owner:      ps.Executor,
	})
	if err != nil {
		r.tell(ps, "Function "+name+" not defined: "+err.Error())
		return nil
	}
	r.tell(ps, fmt.Sprintf("Function %s defined.", name))
	return nil
}
