package eval

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

// Function flags.
const (
	FnNoParse     = 1 << iota // arguments are passed raw
	FnStripMarkup             // arguments are projected to plain text
	FnNumeric                 // every argument must be a number
	FnSideEffect              // mutates the store or queues work
	FnPrivileged              // wizard-only
)

// Handler implements a function. It returns the result and, on store
// trouble or a limit abort, an error.
type Handler func(ctx context.Context, c *Call) (CallState, error)

// FunctionDefinition describes a built-in function. MaxArgs < 0 means
// unbounded.
type FunctionDefinition struct {
	Name    string
	Handler Handler
	MinArgs int
	MaxArgs int
	Flags   int
}

// UserFunction is a function defined in softcode with @function.
type UserFunction struct {
	Name       string
	Obj        gamedb.DBRef
	Attr       string
	Privileged bool // run as the defining object
	Preserve   bool // restore the caller's registers afterwards
	Owner      gamedb.DBRef
}

// Registry maps function names to definitions. Reads take the shared lock;
// registration and @function take it exclusively.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]*FunctionDefinition
	user  map[string]*UserFunction
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[string]*FunctionDefinition),
		user:  make(map[string]*UserFunction),
	}
}

func fnKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Register adds a built-in under its name and any aliases.
func (r *Registry) Register(def FunctionDefinition, aliases ...string) {
	def.Name = fnKey(def.Name)
	d := &def
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[def.Name] = d
	for _, a := range aliases {
		r.funcs[fnKey(a)] = d
	}
}

// Alias makes alias resolve to an existing built-in.
func (r *Registry) Alias(alias, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.funcs[fnKey(target)]
	if !ok {
		return fmt.Errorf("eval: alias %s: no function %s", alias, target)
	}
	r.funcs[fnKey(alias)] = d
	return nil
}

// Lookup finds a built-in by name or alias.
func (r *Registry) Lookup(name string) (*FunctionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.funcs[fnKey(name)]
	return d, ok
}

// DefineUser adds or replaces a user function. Built-in names cannot be
// shadowed.
func (r *Registry) DefineUser(uf UserFunction) error {
	key := fnKey(uf.Name)
	if key == "" || !validFuncName(key) {
		return fmt.Errorf("eval: invalid function name %q", uf.Name)
	}
	uf.Name = key
	uf.Attr = gamedb.NormalizeAttr(uf.Attr)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, builtin := r.funcs[key]; builtin {
		return fmt.Errorf("eval: function %s is built in", key)
	}
	r.user[key] = &uf
	return nil
}

// RemoveUser deletes a user function.
func (r *Registry) RemoveUser(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fnKey(name)
	_, ok := r.user[key]
	delete(r.user, key)
	return ok
}

// LookupUser finds a user function.
func (r *Registry) LookupUser(name string) (*UserFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uf, ok := r.user[fnKey(name)]
	return uf, ok
}

// Names lists every callable name, built-in and user, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs)+len(r.user))
	for k := range r.funcs {
		names = append(names, k)
	}
	for k := range r.user {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// validFuncName accepts the characters a call site can name.
func validFuncName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '_' || c == '.' || c == '-' || c == '~' || c == '@':
		default:
			return false
		}
	}
	return true
}
