package eval

import (
	"slices"
	"strings"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// Registers is a persistent q-register bank (%q0-%q9, %qa-%qz and named
// registers %q<name>). A bank is never modified after creation; With returns
// a new bank, so states holding the old one are unaffected.
type Registers struct {
	vals map[string]markup.Text
}

// NewRegisters returns an empty bank.
func NewRegisters() *Registers {
	return &Registers{}
}

func regKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidRegister reports whether name can be used as a register name.
func ValidRegister(name string) bool {
	name = regKey(name)
	if name == "" || len(name) > 32 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			return false
		}
	}
	return true
}

// Get returns the register value; unset registers read as empty.
func (r *Registers) Get(name string) markup.Text {
	if r == nil {
		return markup.Empty
	}
	return r.vals[regKey(name)]
}

// With returns a bank with name set to v. An empty v clears the register.
func (r *Registers) With(name string, v markup.Text) *Registers {
	key := regKey(name)
	nr := &Registers{vals: make(map[string]markup.Text, r.Len()+1)}
	if r != nil {
		for k, old := range r.vals {
			nr.vals[k] = old
		}
	}
	if v.IsEmpty() {
		delete(nr.vals, key)
	} else {
		nr.vals[key] = v
	}
	return nr
}

// Len returns the number of set registers.
func (r *Registers) Len() int {
	if r == nil {
		return 0
	}
	return len(r.vals)
}

// Names lists set register names in sorted order.
func (r *Registers) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.vals))
	for k := range r.vals {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// Plain flattens the bank to strings, for queue entries and debugging.
func (r *Registers) Plain() map[string]string {
	if r.Len() == 0 {
		return nil
	}
	out := make(map[string]string, len(r.vals))
	for k, v := range r.vals {
		out[k] = v.Plain()
	}
	return out
}

// RegistersFrom rebuilds a bank from Plain output.
func RegistersFrom(m map[string]string) *Registers {
	r := NewRegisters()
	if len(m) == 0 {
		return r
	}
	r.vals = make(map[string]markup.Text, len(m))
	for k, v := range m {
		if v != "" {
			r.vals[regKey(k)] = markup.New(v)
		}
	}
	return r
}

// LoopFrame is one level of iter()/parse()/map() nesting: ## is Token,
// #+ is Token2 and #@ is Number.
type LoopFrame struct {
	Token  markup.Text
	Token2 markup.Text
	Number int
}

// ParserState is the immutable context an expression is evaluated in. The
// With* methods return modified copies; slices are never written in place.
type ParserState struct {
	Executor gamedb.DBRef // %! and the object whose permissions apply
	Caller   gamedb.DBRef // %@
	Enactor  gamedb.DBRef // %#

	Args    []markup.Text // %0-%9
	Regs    *Registers
	Command markup.Text // %m

	Loops    []LoopFrame   // innermost last
	Switches []markup.Text // #$ values, innermost last
	Captures []markup.Text // %$0-%$9 from the last wildcard match
	Stack    []string      // names of the functions being evaluated
	Nest     int           // function nesting level

	NoSideEffects bool

	scope *Scope
}

// NewState returns a state for code run by executor on behalf of enactor.
func NewState(executor, enactor gamedb.DBRef) ParserState {
	return ParserState{
		Executor: executor,
		Caller:   enactor,
		Enactor:  enactor,
		Regs:     NewRegisters(),
	}
}

// Scope returns the per-command scope, or nil outside one.
func (ps ParserState) Scope() *Scope { return ps.scope }

// WithScope attaches a top-level command scope.
func (ps ParserState) WithScope(s *Scope) ParserState {
	ps.scope = s
	return ps
}

// WithArgs replaces %0-%9.
func (ps ParserState) WithArgs(args []markup.Text) ParserState {
	ps.Args = slices.Clip(args)
	return ps
}

// WithRegisters replaces the register bank.
func (ps ParserState) WithRegisters(r *Registers) ParserState {
	if r == nil {
		r = NewRegisters()
	}
	ps.Regs = r
	return ps
}

// WithRegister sets a single register.
func (ps ParserState) WithRegister(name string, v markup.Text) ParserState {
	ps.Regs = ps.Regs.With(name, v)
	return ps
}

// WithExecutor switches the executing object; the old executor becomes the
// caller.
func (ps ParserState) WithExecutor(obj gamedb.DBRef) ParserState {
	ps.Caller = ps.Executor
	ps.Executor = obj
	return ps
}

// WithLoop pushes an iteration frame.
func (ps ParserState) WithLoop(f LoopFrame) ParserState {
	ps.Loops = append(slices.Clip(ps.Loops), f)
	return ps
}

// WithSwitch pushes a #$ value.
func (ps ParserState) WithSwitch(v markup.Text) ParserState {
	ps.Switches = append(slices.Clip(ps.Switches), v)
	return ps
}

// WithCaptures replaces the wildcard capture registers.
func (ps ParserState) WithCaptures(caps []markup.Text) ParserState {
	ps.Captures = slices.Clip(caps)
	return ps
}

// WithCall records entry into the named function.
func (ps ParserState) WithCall(name string) ParserState {
	ps.Stack = append(slices.Clip(ps.Stack), name)
	ps.Nest++
	return ps
}

// WithNest sets the function nesting level.
func (ps ParserState) WithNest(n int) ParserState {
	ps.Nest = n
	return ps
}

// WithCommand sets %m.
func (ps ParserState) WithCommand(cmd markup.Text) ParserState {
	ps.Command = cmd
	return ps
}

// WithoutSideEffects forbids side-effecting functions below this point.
func (ps ParserState) WithoutSideEffects() ParserState {
	ps.NoSideEffects = true
	return ps
}

// Arg returns %<i>, or empty.
func (ps ParserState) Arg(i int) markup.Text {
	if i < 0 || i >= len(ps.Args) {
		return markup.Empty
	}
	return ps.Args[i]
}

// loop returns the frame n levels out from the innermost.
func (ps ParserState) loop(n int) (LoopFrame, bool) {
	i := len(ps.Loops) - 1 - n
	if n < 0 || i < 0 {
		return LoopFrame{}, false
	}
	return ps.Loops[i], true
}

// CallState is the result of evaluating an expression: the produced text,
// the expression depth and the register bank after evaluation. Args is set
// only by SplitArgs, which leaves the pieces unevaluated.
type CallState struct {
	Text  markup.Text
	Depth int
	Args  []markup.Text
	Regs  *Registers
}
