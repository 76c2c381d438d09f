// Package eval evaluates MUSHcode: it walks the lexer's token structure,
// performs % substitutions and dispatches function calls through a Registry,
// enforcing the recursion and invocation ceilings of the enclosing command.
package eval

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/lexer"
	"github.com/crystal-mush/mushcode/pkg/markup"
	"github.com/crystal-mush/mushcode/pkg/metrics"
)

// Evaluation flags.
const (
	evFCheck evalMode = 1 << iota // a leading name( is a function call
	evFMand                       // inside [], an unknown call stays verbatim
	evStrip                       // strip top-level braces
	evTrim                        // drop leading and trailing spaces of the source
)

type evalMode uint8

// argMode is how function arguments are evaluated.
const argMode = evFCheck | evStrip | evTrim

// errNotCall reports an unknown function inside [].
var errNotCall = errors.New("eval: not a function call")

// LockChecker answers the lock questions functions ask. It is implemented
// by the lock cache.
type LockChecker interface {
	Pass(ctx context.Context, gated, unlocker gamedb.DBRef, lockType string) (bool, error)
	Validate(lockString string) error
	SetLock(ctx context.Context, obj gamedb.DBRef, lockType, lockString string) error
	Controls(ctx context.Context, who, what gamedb.DBRef) (bool, error)
	// InvalidateObject drops compiled locks after a lock attribute changes
	// behind SetLock's back.
	InvalidateObject(obj gamedb.DBRef)
}

// Options are fixed for the lifetime of an Evaluator.
type Options struct {
	ErrorPrefix   string // soft-error prefix, "#-1" when empty
	SpaceCompress bool   // collapse runs of spaces in literal text
	Version       string // reported by version()
}

// Evaluator evaluates MUSHcode against an object store. It is safe for
// concurrent use; all per-command state lives in ParserState and Scope.
type Evaluator struct {
	Store   gamedb.Store
	Funcs   *Registry
	Locks   LockChecker
	Metrics *metrics.Metrics
	Options

	limits atomic.Pointer[Limits]
}

// New returns an Evaluator with default limits.
func New(store gamedb.Store, funcs *Registry, opts Options) *Evaluator {
	if funcs == nil {
		funcs = NewRegistry()
	}
	if opts.ErrorPrefix == "" {
		opts.ErrorPrefix = DefaultErrorPrefix
	}
	ev := &Evaluator{Store: store, Funcs: funcs, Options: opts}
	ev.SetLimits(DefaultLimits())
	return ev
}

// SetLimits replaces the limits snapshot used by new scopes.
func (ev *Evaluator) SetLimits(l Limits) {
	ev.limits.Store(&l)
}

// Limits returns the current limits snapshot.
func (ev *Evaluator) Limits() Limits {
	return *ev.limits.Load()
}

// NewScope starts a top-level command scope with the current limits.
func (ev *Evaluator) NewScope() *Scope {
	return NewScope(ev.Limits())
}

// ErrorText returns a soft-error result.
func (ev *Evaluator) ErrorText(msg string) markup.Text {
	return markup.New(Sentinel(ev.ErrorPrefix, msg))
}

// Evaluate evaluates text as a command argument: a leading function call is
// recognised, brace groups are kept. A state without a scope gets a fresh
// one, making this call the top-level command.
func (ev *Evaluator) Evaluate(ctx context.Context, text markup.Text, ps ParserState) (CallState, error) {
	return ev.exec(ctx, text, ps, evFCheck)
}

// EvaluateArg evaluates text the way a function argument is evaluated:
// surrounding spaces are dropped and top-level braces stripped.
func (ev *Evaluator) EvaluateArg(ctx context.Context, text markup.Text, ps ParserState) (CallState, error) {
	return ev.exec(ctx, text, ps, argMode)
}

// Abort converts a limit error into the sentinel result of an aborted
// command. Any other error is returned unchanged.
func (ev *Evaluator) Abort(err error, ps ParserState) (CallState, error) {
	le, ok := AsLimit(err)
	if !ok {
		return CallState{}, err
	}
	ev.Metrics.LimitAbort(le.Kind)
	if s := ps.Scope(); s != nil {
		s.Discard()
	}
	return CallState{Text: ev.ErrorText(le.Error()), Regs: ps.Regs}, nil
}

// SplitArgs cuts text on top-level commas without evaluating it. The
// pieces are returned in CallState.Args, trimmed of surrounding spaces.
func (ev *Evaluator) SplitArgs(text markup.Text) CallState {
	res := lexer.Lex(text, lexer.ModeSubst)
	r := &runner{ev: ev, src: text}
	nodes := buildTree(res.Tokens)
	if res.Stop < text.Len() {
		nodes = append(nodes, &node{kind: nodeText, start: res.Stop, end: text.Len()})
	}
	var args []markup.Text
	for _, arg := range splitSeps(nodes) {
		args = append(args, r.raw(arg).TrimSpace())
	}
	return CallState{Text: text, Args: args}
}

func (ev *Evaluator) exec(ctx context.Context, text markup.Text, ps ParserState, mode evalMode) (CallState, error) {
	if ps.Regs == nil {
		ps.Regs = NewRegisters()
	}
	if ps.scope == nil {
		ps.scope = ev.NewScope()
	}
	if text.IsEmpty() {
		return CallState{Regs: ps.Regs}, nil
	}
	res := lexer.Lex(text, lexer.ModePlain)
	r := &runner{ev: ev, src: text}
	return r.seq(ctx, buildTree(res.Tokens), ps, mode)
}

type nodeKind uint8

const (
	nodeText nodeKind = iota
	nodeEscape
	nodePercent
	nodeSep
	nodeGroup
)

// node is one element of the evaluation tree. Offsets are rune offsets
// into the runner's source; a group spans its delimiters.
type node struct {
	kind     nodeKind
	start    int
	end      int
	value    string
	delim    rune
	children []*node
}

// buildTree nests matched [ ( { pairs. Angle pairs only guide the lexer's
// separator handling and are flattened back into text here.
func buildTree(toks []lexer.Token) []*node {
	return build(toks, 0, len(toks))
}

func build(toks []lexer.Token, i, end int) []*node {
	var out []*node
	text := func(start, stop int) {
		if n := len(out); n > 0 && out[n-1].kind == nodeText && out[n-1].end == start {
			out[n-1].end = stop
			return
		}
		out = append(out, &node{kind: nodeText, start: start, end: stop})
	}
	for i < end {
		t := toks[i]
		switch t.Kind {
		case lexer.KindOpen:
			if t.Delim == '<' || t.Pair <= i || t.Pair >= end {
				text(t.Start, t.End)
				i++
				continue
			}
			j := t.Pair
			out = append(out, &node{
				kind:     nodeGroup,
				start:    t.Start,
				end:      toks[j].End,
				delim:    t.Delim,
				children: build(toks, i+1, j),
			})
			i = j + 1
		case lexer.KindEscape:
			if i+1 < end && toks[i+1].Mode == lexer.ModeEscape {
				out = append(out, &node{kind: nodeEscape, start: t.Start, end: toks[i+1].End, value: toks[i+1].Value})
				i += 2
				continue
			}
			// a trailing backslash escapes nothing and is dropped
			i++
		case lexer.KindPercent:
			out = append(out, &node{kind: nodePercent, start: t.Start, end: t.End, value: t.Value})
			i++
		case lexer.KindSeparator:
			out = append(out, &node{kind: nodeSep, start: t.Start, end: t.End})
			i++
		default:
			if t.Mode == lexer.ModeEscape {
				out = append(out, &node{kind: nodeEscape, start: t.Start, end: t.End, value: t.Value})
			} else {
				text(t.Start, t.End)
			}
			i++
		}
	}
	return out
}

// splitSeps cuts a node list on separators.
func splitSeps(nodes []*node) [][]*node {
	out := [][]*node{nil}
	for _, n := range nodes {
		if n.kind == nodeSep {
			out = append(out, nil)
			continue
		}
		out[len(out)-1] = append(out[len(out)-1], n)
	}
	return out
}

// runner evaluates trees cut from one source text.
type runner struct {
	ev  *Evaluator
	src markup.Text
}

// raw returns the source text covered by nodes.
func (r *runner) raw(nodes []*node) markup.Text {
	if len(nodes) == 0 {
		return markup.Empty
	}
	return r.src.Substring(nodes[0].start, nodes[len(nodes)-1].end)
}

// trim drops spaces at both ends of the source covered by nodes.
func (r *runner) trim(nodes []*node) []*node {
	for len(nodes) > 0 && nodes[0].kind == nodeText {
		n := *nodes[0]
		for n.start < n.end && r.src.Substring(n.start, n.start+1).Plain() == " " {
			n.start++
		}
		if n.start < n.end {
			nodes = append([]*node{&n}, nodes[1:]...)
			break
		}
		nodes = nodes[1:]
	}
	for len(nodes) > 0 && nodes[len(nodes)-1].kind == nodeText {
		last := len(nodes) - 1
		n := *nodes[last]
		for n.end > n.start && r.src.Substring(n.end-1, n.end).Plain() == " " {
			n.end--
		}
		if n.end > n.start {
			nodes = append(nodes[:last:last], &n)
			break
		}
		nodes = nodes[:last]
	}
	return nodes
}

// seq evaluates a node list left to right. Registers written by one node
// are visible to the next; %x colors apply to everything after them.
func (r *runner) seq(ctx context.Context, nodes []*node, ps ParserState, mode evalMode) (CallState, error) {
	if mode&evTrim != 0 {
		nodes = r.trim(nodes)
	}
	var b markup.Builder
	var style markup.Style
	depth := 0

	if mode&evFCheck != 0 {
		if name, ok := r.callName(nodes); ok {
			cs, known, err := r.call(ctx, name, nodes[1], ps)
			if err != nil {
				return CallState{}, err
			}
			if known {
				b.WriteText(cs.Text)
				depth = cs.Depth
				ps = ps.WithRegisters(cs.Regs)
				nodes = nodes[2:]
			} else if mode&evFMand != 0 {
				return CallState{}, errNotCall
			}
		}
	}

	for _, n := range nodes {
		switch n.kind {
		case nodeText:
			b.WriteText(r.text(n, ps).Apply(style))
		case nodeEscape:
			b.WriteStyled(n.value, style)
		case nodeSep:
			b.WriteStyled(",", style)
		case nodePercent:
			sub, st, isStyle, err := r.percent(ctx, n.value, ps, style)
			if err != nil {
				return CallState{}, err
			}
			if isStyle {
				style = st
				continue
			}
			b.WriteText(sub.Apply(style))
		case nodeGroup:
			cs, err := r.group(ctx, n, ps, mode)
			if err != nil {
				return CallState{}, err
			}
			b.WriteText(cs.Text.Apply(style))
			depth = max(depth, cs.Depth)
			ps = ps.WithRegisters(cs.Regs)
		}
	}
	return CallState{Text: b.Text(), Depth: depth, Regs: ps.Regs}, nil
}

// callName reports whether nodes start with name( and returns the name.
func (r *runner) callName(nodes []*node) (string, bool) {
	if len(nodes) < 2 || nodes[0].kind != nodeText || nodes[1].kind != nodeGroup || nodes[1].delim != '(' {
		return "", false
	}
	name := strings.TrimSpace(r.src.Substring(nodes[0].start, nodes[0].end).Plain())
	if !validFuncName(name) {
		return "", false
	}
	return name, true
}

func (r *runner) group(ctx context.Context, n *node, ps ParserState, mode evalMode) (CallState, error) {
	switch n.delim {
	case '[':
		cs, err := r.seq(ctx, n.children, ps, evFCheck|evFMand)
		if errors.Is(err, errNotCall) {
			return CallState{Text: r.src.Substring(n.start, n.end), Regs: ps.Regs}, nil
		}
		return cs, err
	case '{':
		cs, err := r.seq(ctx, n.children, ps, 0)
		if err != nil || mode&evStrip != 0 {
			return cs, err
		}
		cs.Text = markup.Concat(markup.New("{"), cs.Text, markup.New("}"))
		return cs, nil
	default:
		cs, err := r.seq(ctx, n.children, ps, 0)
		if err != nil {
			return cs, err
		}
		open := r.src.Substring(n.start, n.start+1)
		closer := r.src.Substring(n.end-1, n.end)
		cs.Text = markup.Concat(open, cs.Text, closer)
		return cs, nil
	}
}

// text renders a literal node, replacing loop and switch tokens.
func (r *runner) text(n *node, ps ParserState) markup.Text {
	t := r.src.Substring(n.start, n.end)
	if (len(ps.Loops) > 0 || len(ps.Switches) > 0) && t.ContainsRune('#') {
		t = loopTokens(t, ps)
	}
	if r.ev.SpaceCompress {
		t = t.CompressSpaces()
	}
	return t
}

func loopTokens(t markup.Text, ps ParserState) markup.Text {
	plain := []rune(t.Plain())
	var b markup.Builder
	from := 0
	for i := 0; i+1 < len(plain); i++ {
		if plain[i] != '#' {
			continue
		}
		var sub markup.Text
		ok := false
		if f, in := ps.loop(0); in {
			switch plain[i+1] {
			case '#':
				sub, ok = f.Token, true
			case '+':
				sub, ok = f.Token2, true
			case '@':
				sub, ok = markup.New(itoa(f.Number)), true
			case '!':
				sub, ok = markup.New(itoa(len(ps.Loops)-1)), true
			}
		}
		if plain[i+1] == '$' && len(ps.Switches) > 0 {
			sub, ok = ps.Switches[len(ps.Switches)-1], true
		}
		if !ok {
			continue
		}
		b.WriteText(t.Substring(from, i))
		b.WriteText(sub)
		from = i + 2
		i++
	}
	if from == 0 {
		return t
	}
	b.WriteText(t.Substring(from, len(plain)))
	return b.Text()
}

// call invokes a built-in or user function. known is false when the name
// resolves to nothing, in which case nothing was evaluated.
func (r *runner) call(ctx context.Context, name string, paren *node, ps ParserState) (CallState, bool, error) {
	ev := r.ev
	def, isBuiltin := ev.Funcs.Lookup(name)
	var uf *UserFunction
	if !isBuiltin {
		var ok bool
		if uf, ok = ev.Funcs.LookupUser(name); !ok {
			return CallState{}, false, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return CallState{}, true, err
	}
	scope := ps.scope
	if ps.Nest+1 > scope.Limits.Recursion {
		return CallState{}, true, &LimitError{Kind: LimitRecursion, Limit: scope.Limits.Recursion, Function: strings.ToUpper(name)}
	}
	if err := scope.invoke(strings.ToUpper(name)); err != nil {
		return CallState{}, true, err
	}
	ev.Metrics.FunctionCalled(strings.ToLower(name))

	argNodes := splitSeps(paren.children)
	c := &Call{
		Ev:    ev,
		Name:  strings.ToUpper(name),
		State: ps.WithCall(strings.ToUpper(name)),
		run:   r,
	}
	for _, a := range argNodes {
		c.raw = append(c.raw, r.trim(a))
	}
	// f() passes no arguments to functions that accept none
	if len(c.raw) == 1 && len(c.raw[0]) == 0 && (uf != nil || def.MinArgs == 0) {
		c.raw = nil
	}

	var cs CallState
	var err error
	if uf != nil {
		cs, err = c.user(ctx, uf)
	} else {
		cs, err = c.builtin(ctx, def)
	}
	if err != nil {
		return CallState{}, true, err
	}
	if cs.Regs == nil {
		cs.Regs = c.State.Regs
	}
	cs.Depth = max(cs.Depth, 1+c.depth)
	return cs, true, nil
}

func (c *Call) builtin(ctx context.Context, def *FunctionDefinition) (CallState, error) {
	if def.Flags&FnNoParse != 0 {
		c.Args = make([]markup.Text, len(c.raw))
		for i, a := range c.raw {
			c.Args[i] = c.run.raw(a)
		}
	} else if err := c.evalAll(ctx); err != nil {
		return CallState{}, err
	}

	n := len(c.Args)
	if n < def.MinArgs || (def.MaxArgs >= 0 && n > def.MaxArgs) {
		return c.Error(arityMessage(c.Name, def.MinArgs, def.MaxArgs, n))
	}
	if def.Flags&FnStripMarkup != 0 {
		for i, a := range c.Args {
			c.Args[i] = a.StripStyle()
		}
	}
	if def.Flags&FnNumeric != 0 {
		for _, a := range c.Args {
			if !IsNumber(a.Plain()) {
				return c.Error("ARGUMENTS MUST BE NUMBERS")
			}
		}
	}
	if def.Flags&FnSideEffect != 0 && c.State.NoSideEffects {
		return c.Error("PERMISSION DENIED")
	}
	if def.Flags&FnPrivileged != 0 {
		wiz, err := c.isWizard(ctx, c.State.Executor)
		if err != nil {
			return CallState{}, err
		}
		if !wiz {
			return c.Error("PERMISSION DENIED")
		}
	}
	return def.Handler(ctx, c)
}

// user runs an @function: the attribute is evaluated with the arguments as
// %0-%9, as the defining object when privileged.
func (c *Call) user(ctx context.Context, uf *UserFunction) (CallState, error) {
	if err := c.evalAll(ctx); err != nil {
		return CallState{}, err
	}
	body, ok, err := c.Ev.Store.Attr(ctx, uf.Obj, uf.Attr)
	if err != nil {
		if gamedb.IsNotFound(err) {
			return c.Error("NO SUCH OBJECT")
		}
		return CallState{}, err
	}
	if !ok {
		return c.Result(markup.Empty)
	}
	saved := c.State.Regs
	ps := c.State.WithArgs(c.Args)
	if uf.Privileged {
		ps = ps.WithExecutor(uf.Obj)
	} else {
		ps.Caller = c.State.Executor
	}
	res, err := c.EvalText(ctx, markup.New(body), ps)
	if err != nil {
		return CallState{}, err
	}
	if uf.Preserve {
		c.State = c.State.WithRegisters(saved)
	}
	return c.Result(res)
}

// percent expands a % token. When the token is a color code it returns the
// new style and isStyle instead of text.
func (r *runner) percent(ctx context.Context, tok string, ps ParserState, cur markup.Style) (markup.Text, markup.Style, bool, error) {
	code := strings.TrimPrefix(tok, "%")
	if code == "" {
		return markup.Empty, cur, false, nil
	}
	ch := code[0]
	rest := code[1:]
	ev := r.ev
	switch ch {
	case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return ps.Arg(int(ch - '0')), cur, false, nil
	case 'r', 'R':
		return markup.New("\r\n"), cur, false, nil
	case 't', 'T':
		return markup.New("\t"), cur, false, nil
	case 'b', 'B':
		return markup.New(" "), cur, false, nil
	case '%':
		return markup.New("%"), cur, false, nil
	case '#':
		return markup.New(refString(ps.Enactor)), cur, false, nil
	case '!':
		return markup.New(refString(ps.Executor)), cur, false, nil
	case '@':
		return markup.New(refString(ps.Caller)), cur, false, nil
	case '+':
		return markup.New(itoa(len(ps.Args))), cur, false, nil
	case 'm', 'M':
		return ps.Command, cur, false, nil
	case 'n', 'N':
		name, err := r.name(ctx, ps.Enactor)
		if err != nil {
			return markup.Empty, cur, false, err
		}
		if ch == 'N' {
			name = capitalize(name)
		}
		return markup.New(name), cur, false, nil
	case 'l', 'L':
		obj, err := ev.Store.Object(ctx, ps.Enactor)
		if err != nil {
			if gamedb.IsNotFound(err) {
				return markup.Empty, cur, false, nil
			}
			return markup.Empty, cur, false, err
		}
		return markup.New(refString(obj.Location)), cur, false, nil
	case 's', 'S', 'o', 'O', 'p', 'P', 'a', 'A':
		p, err := r.pronoun(ctx, ps.Enactor, ch|0x20)
		if err != nil {
			return markup.Empty, cur, false, err
		}
		if ch >= 'A' && ch <= 'Z' {
			p = capitalize(p)
		}
		return markup.New(p), cur, false, nil
	case 'q', 'Q':
		name := rest
		if strings.HasPrefix(rest, "<") {
			name = strings.TrimSuffix(rest[1:], ">")
		}
		return ps.Regs.Get(name), cur, false, nil
	case 'v', 'V':
		if rest == "" {
			return markup.Empty, cur, false, nil
		}
		v, _, err := ev.Store.Attr(ctx, ps.Executor, "V"+strings.ToUpper(rest))
		if err != nil && !gamedb.IsNotFound(err) {
			return markup.Empty, cur, false, err
		}
		return markup.New(v), cur, false, nil
	case 'x', 'X':
		return markup.Empty, colorCode(rest, cur), true, nil
	case 'i', 'I', 'j', 'J':
		n, abs := 0, false
		if strings.HasPrefix(rest, "-") {
			abs = true
			rest = rest[1:]
		}
		if rest != "" {
			n = int(rest[0] - '0')
		}
		if abs {
			n = len(ps.Loops) - 1 - n
		}
		f, ok := ps.loop(n)
		if !ok {
			return markup.Empty, cur, false, nil
		}
		if ch == 'j' || ch == 'J' {
			return f.Token2, cur, false, nil
		}
		return f.Token, cur, false, nil
	case '$':
		if rest == "" {
			return markup.New("$"), cur, false, nil
		}
		i := int(rest[0] - '0')
		if i < len(ps.Captures) {
			return ps.Captures[i], cur, false, nil
		}
		return markup.Empty, cur, false, nil
	}
	return markup.New(code), cur, false, nil
}

// colorCode applies a %x code to the running style.
func colorCode(code string, cur markup.Style) markup.Style {
	switch {
	case code == "":
		return cur
	case strings.HasPrefix(code, "/<") || strings.HasPrefix(code, "<"):
		return markup.ParseCodes(code).Over(cur)
	}
	st, reset, ok := markup.ColorCode(code[0])
	switch {
	case !ok:
		return cur
	case reset:
		return markup.Style{}
	}
	return st.Over(cur)
}

func (r *runner) name(ctx context.Context, ref gamedb.DBRef) (string, error) {
	obj, err := r.ev.Store.Object(ctx, ref)
	if err != nil {
		if gamedb.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return obj.DisplayName(), nil
}

var pronouns = map[byte][4]string{
	// neuter, feminine, masculine, plural
	's': {"it", "she", "he", "they"},
	'o': {"it", "her", "him", "them"},
	'p': {"its", "her", "his", "their"},
	'a': {"its", "hers", "his", "theirs"},
}

// pronoun picks a pronoun from the object's SEX attribute.
func (r *runner) pronoun(ctx context.Context, ref gamedb.DBRef, kind byte) (string, error) {
	sex, _, err := r.ev.Store.Attr(ctx, ref, "SEX")
	if err != nil && !gamedb.IsNotFound(err) {
		return "", err
	}
	g := 0
	if sex = strings.TrimSpace(sex); sex != "" {
		switch sex[0] {
		case 'F', 'f', 'W', 'w':
			g = 1
		case 'M', 'm':
			g = 2
		case 'P', 'p':
			g = 3
		}
	}
	return pronouns[kind][g], nil
}
