package eval

import (
	"sync"
	"time"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// Limits holds the resource ceilings for one top-level command.
type Limits struct {
	Recursion   int `yaml:"function_recursion_limit"`
	Invocation  int `yaml:"function_invocation_limit"`
	CommandNest int `yaml:"command_nest_limit"`
}

// DefaultLimits returns the legacy-compatible ceilings.
func DefaultLimits() Limits {
	return Limits{Recursion: 50, Invocation: 2500, CommandNest: 50}
}

// Delivery is a message journaled for a recipient.
type Delivery struct {
	To   gamedb.DBRef
	Text markup.Text
}

// Deferred is a command journaled for the scheduler. A non-empty SemAttr
// makes it a semaphore wait on (SemObj, SemAttr).
type Deferred struct {
	Executor gamedb.DBRef
	Enactor  gamedb.DBRef
	Caller   gamedb.DBRef
	Command  string
	Args     []markup.Text
	Regs     *Registers
	Delay    time.Duration
	SemObj   gamedb.DBRef
	SemAttr  string
	Timeout  time.Duration
}

// MaxDelay caps wait delays and semaphore timeouts.
const MaxDelay = 100 * 365 * 24 * time.Hour

// Seconds converts a count of seconds to a delay in [0, MaxDelay]. NaN and
// negative counts are no delay.
func Seconds(f float64) time.Duration {
	switch {
	case !(f > 0):
		return 0
	case f >= MaxDelay.Seconds():
		return MaxDelay
	}
	return time.Duration(f * float64(time.Second))
}

// Scope is the mutable part of one top-level command: the invocation and
// command-nest counters and the journal of deferred effects. The journal is
// flushed by the owner when the command completes and dropped on abort.
type Scope struct {
	Limits Limits

	mu          sync.Mutex
	invocations int
	commands    int
	entries     []Entry
}

// Entry is one journaled effect: a Delivery, or a Deferred when that is
// set.
type Entry struct {
	Delivery Delivery
	Deferred *Deferred
}

// NewScope starts a scope with the given ceilings; zero fields take the
// defaults.
func NewScope(l Limits) *Scope {
	def := DefaultLimits()
	if l.Recursion <= 0 {
		l.Recursion = def.Recursion
	}
	if l.Invocation <= 0 {
		l.Invocation = def.Invocation
	}
	if l.CommandNest <= 0 {
		l.CommandNest = def.CommandNest
	}
	return &Scope{Limits: l}
}

// Invocations returns the number of function calls made so far.
func (s *Scope) Invocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invocations
}

func (s *Scope) invoke(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invocations++
	if s.invocations > s.Limits.Invocation {
		return &LimitError{Kind: LimitInvocation, Limit: s.Limits.Invocation, Function: name}
	}
	return nil
}

// EnterCommand counts one nested inline command. The returned func undoes
// the count.
func (s *Scope) EnterCommand() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commands >= s.Limits.CommandNest {
		return func() {}, &LimitError{Kind: LimitCommand, Limit: s.Limits.CommandNest}
	}
	s.commands++
	return func() {
		s.mu.Lock()
		s.commands--
		s.mu.Unlock()
	}, nil
}

// Deliver journals a message.
func (s *Scope) Deliver(to gamedb.DBRef, text markup.Text) {
	s.mu.Lock()
	s.entries = append(s.entries, Entry{Delivery: Delivery{To: to, Text: text}})
	s.mu.Unlock()
}

// Defer journals a command for the scheduler.
func (s *Scope) Defer(d Deferred) {
	s.mu.Lock()
	s.entries = append(s.entries, Entry{Deferred: &d})
	s.mu.Unlock()
}

// Drain empties the journal and returns its entries in the order they were
// journaled.
func (s *Scope) Drain() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries
	s.entries = nil
	return e
}

// Take empties the journal and returns the deliveries and the deferred
// commands, each in order.
func (s *Scope) Take() ([]Delivery, []Deferred) {
	var d []Delivery
	var q []Deferred
	for _, e := range s.Drain() {
		if e.Deferred != nil {
			q = append(q, *e.Deferred)
		} else {
			d = append(d, e.Delivery)
		}
	}
	return d, q
}

// Discard drops the journal.
func (s *Scope) Discard() {
	s.Drain()
}
