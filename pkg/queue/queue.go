// Package queue schedules command lists for later execution: immediately,
// after a delay, or when a semaphore on an (object, attribute) pair is
// notified. Each object has one logical FIFO queue and at most one entry in
// flight; different objects run concurrently on a bounded worker pool.
package queue

import (
	"cmp"
	"context"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
	"github.com/crystal-mush/mushcode/pkg/metrics"
)

const (
	// DefaultMaxPerObject caps the pending entries of a single object.
	DefaultMaxPerObject = 1000
	// DefaultWorkers bounds how many objects execute at once.
	DefaultWorkers = 8

	perObjectPerTick = 100
)

// Key names a semaphore.
type Key struct {
	Obj  gamedb.DBRef
	Attr string
}

// Entry is a queued command list bound to its executing object.
type Entry struct {
	ID       uuid.UUID
	Executor gamedb.DBRef
	Enactor  gamedb.DBRef
	Caller   gamedb.DBRef
	Command  string
	Args     []markup.Text
	Regs     *eval.Registers

	seq      uint64
	due      time.Time // delayed entries
	key      Key       // semaphore waits
	deadline time.Time // zero waits forever
}

// Seq returns the enqueue sequence number; zero until the entry is queued.
func (e *Entry) Seq() uint64 { return e.seq }

// FromDeferred builds an entry from a journaled command.
func FromDeferred(d eval.Deferred) *Entry {
	return &Entry{
		Executor: d.Executor,
		Enactor:  d.Enactor,
		Caller:   d.Caller,
		Command:  d.Command,
		Args:     d.Args,
		Regs:     d.Regs,
	}
}

// Executor runs one entry. Returned errors are logged.
type Executor interface {
	Execute(ctx context.Context, e *Entry) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, e *Entry) error

func (f ExecutorFunc) Execute(ctx context.Context, e *Entry) error { return f(ctx, e) }

// Options tune a Scheduler. Zero values take the defaults.
type Options struct {
	Workers      int
	MaxPerObject int
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Stats is a snapshot of the queue sizes.
type Stats struct {
	Ready   int `json:"ready"`
	Delayed int `json:"delayed"`
	Waiting int `json:"waiting"`
	Credits int `json:"credits"`
	Running int `json:"running"`
}

// Scheduler holds the queues. All methods are safe for concurrent use.
type Scheduler struct {
	exec      Executor
	metrics   *metrics.Metrics
	workers   int
	maxPerObj int
	now       func() time.Time

	mu      sync.Mutex
	seq     uint64
	ready   map[gamedb.DBRef][]*Entry // sorted by seq
	delayed []*Entry                  // sorted by due, then seq
	waiting map[Key][]*Entry          // FIFO
	credits map[Key]int
	pending map[gamedb.DBRef]int
	running map[gamedb.DBRef]bool
}

// New creates a scheduler that runs entries through exec.
func New(exec Executor, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxPerObject <= 0 {
		opts.MaxPerObject = DefaultMaxPerObject
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		exec:      exec,
		metrics:   opts.Metrics,
		workers:   opts.Workers,
		maxPerObj: opts.MaxPerObject,
		now:       opts.Now,
		ready:     make(map[gamedb.DBRef][]*Entry),
		waiting:   make(map[Key][]*Entry),
		credits:   make(map[Key]int),
		pending:   make(map[gamedb.DBRef]int),
		running:   make(map[gamedb.DBRef]bool),
	}
}

// admit assigns the entry its identity and sequence number, or reports
// false when the object is at its limit. The caller holds mu.
func (s *Scheduler) admit(e *Entry) bool {
	if s.pending[e.Executor] >= s.maxPerObj {
		log.Printf("QUEUE: dropping entry for #%d, per-object limit (%d) reached", e.Executor, s.maxPerObj)
		s.metrics.EntryDropped()
		return false
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	s.seq++
	e.seq = s.seq
	s.pending[e.Executor]++
	return true
}

// makeReady places e in its object's queue by sequence number. The caller
// holds mu.
func (s *Scheduler) makeReady(e *Entry) {
	q := s.ready[e.Executor]
	i, _ := slices.BinarySearchFunc(q, e.seq, func(x *Entry, seq uint64) int {
		return cmp.Compare(x.seq, seq)
	})
	s.ready[e.Executor] = slices.Insert(q, i, e)
}

// Enqueue queues e for immediate execution. It reports false if the entry
// was dropped.
func (s *Scheduler) Enqueue(e *Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.admit(e) {
		return false
	}
	s.makeReady(e)
	return true
}

// EnqueueDelayed queues e to run once delay has passed.
func (s *Scheduler) EnqueueDelayed(e *Entry, delay time.Duration) bool {
	if delay <= 0 {
		return s.Enqueue(e)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.admit(e) {
		return false
	}
	e.due = s.now().Add(delay)
	i, _ := slices.BinarySearchFunc(s.delayed, e, func(x, t *Entry) int {
		if c := x.due.Compare(t.due); c != 0 {
			return c
		}
		return cmp.Compare(x.seq, t.seq)
	})
	s.delayed = slices.Insert(s.delayed, i, e)
	return true
}

// Wait parks e on the semaphore key until notified. A stored notify credit
// makes it ready at once. A positive timeout makes it ready when it expires.
func (s *Scheduler) Wait(key Key, e *Entry, timeout time.Duration) bool {
	key.Attr = gamedb.NormalizeAttr(key.Attr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.admit(e) {
		return false
	}
	if s.credits[key] > 0 {
		s.useCredit(key)
		s.makeReady(e)
		return true
	}
	e.key = key
	if timeout > 0 {
		e.deadline = s.now().Add(timeout)
	}
	s.waiting[key] = append(s.waiting[key], e)
	return true
}

func (s *Scheduler) useCredit(key Key) {
	if s.credits[key]--; s.credits[key] <= 0 {
		delete(s.credits, key)
	}
}

func (s *Scheduler) release(key Key, n int) int {
	q := s.waiting[key]
	n = min(n, len(q))
	for _, e := range q[:n] {
		e.key, e.deadline = Key{}, time.Time{}
		s.makeReady(e)
	}
	if n == len(q) {
		delete(s.waiting, key)
	} else {
		s.waiting[key] = q[n:]
	}
	return n
}

// Notify releases the oldest waiter on key. With nobody waiting it stores a
// credit for the next Wait. It reports whether a waiter was released.
func (s *Scheduler) Notify(key Key) bool {
	key.Attr = gamedb.NormalizeAttr(key.Attr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release(key, 1) == 1 {
		return true
	}
	s.credits[key]++
	return false
}

// NotifyAll releases every waiter on key and returns how many there were.
func (s *Scheduler) NotifyAll(key Key) int {
	key.Attr = gamedb.NormalizeAttr(key.Attr)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.release(key, len(s.waiting[key]))
}

// Drain discards every waiter and credit on key without running them.
func (s *Scheduler) Drain(key Key) int {
	key.Attr = gamedb.NormalizeAttr(key.Attr)
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.waiting[key]
	for _, e := range q {
		s.forget(e)
	}
	delete(s.waiting, key)
	delete(s.credits, key)
	return len(q)
}

// DrainObject discards the waiters on every semaphore of obj.
func (s *Scheduler) DrainObject(obj gamedb.DBRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, q := range s.waiting {
		if key.Obj != obj {
			continue
		}
		for _, e := range q {
			s.forget(e)
		}
		removed += len(q)
		delete(s.waiting, key)
	}
	for key := range s.credits {
		if key.Obj == obj {
			delete(s.credits, key)
		}
	}
	return removed
}

func (s *Scheduler) forget(e *Entry) {
	if s.pending[e.Executor]--; s.pending[e.Executor] <= 0 {
		delete(s.pending, e.Executor)
	}
}

// Halt removes every pending entry executed by obj. An entry already in
// flight completes.
func (s *Scheduler) Halt(obj gamedb.DBRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := len(s.ready[obj])
	delete(s.ready, obj)
	mine := func(e *Entry) bool { return e.Executor == obj }
	before := len(s.delayed)
	s.delayed = slices.DeleteFunc(s.delayed, mine)
	removed += before - len(s.delayed)
	for key, q := range s.waiting {
		n := len(q)
		q = slices.DeleteFunc(q, mine)
		removed += n - len(q)
		if len(q) == 0 {
			delete(s.waiting, key)
		} else {
			s.waiting[key] = q
		}
	}
	delete(s.pending, obj)
	return removed
}

// HaltAll empties every queue and forgets all credits.
func (s *Scheduler) HaltAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, n := range s.pending {
		removed += n
	}
	clear(s.ready)
	s.delayed = nil
	clear(s.waiting)
	clear(s.credits)
	clear(s.pending)
	return removed
}

// Pending returns the number of queued entries executed by obj, not
// counting one in flight.
func (s *Scheduler) Pending(obj gamedb.DBRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[obj]
}

// Stats returns the current queue sizes.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Delayed: len(s.delayed), Running: len(s.running)}
	for _, q := range s.ready {
		st.Ready += len(q)
	}
	for _, q := range s.waiting {
		st.Waiting += len(q)
	}
	for _, n := range s.credits {
		st.Credits += n
	}
	return st
}

// Depths implements metrics.QueueStats.
func (s *Scheduler) Depths() (ready, delayed, waiting int) {
	st := s.Stats()
	return st.Ready, st.Delayed, st.Waiting
}

// Peek returns up to n ready entries of obj in execution order.
func (s *Scheduler) Peek(obj gamedb.DBRef, n int) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.ready[obj]
	return slices.Clone(q[:min(n, len(q))])
}

// promote moves due delayed entries and expired waiters to their ready
// queues. The caller holds mu.
func (s *Scheduler) promote(now time.Time) int {
	cutoff := 0
	for _, e := range s.delayed {
		if e.due.After(now) {
			break
		}
		e.due = time.Time{}
		s.makeReady(e)
		cutoff++
	}
	s.delayed = s.delayed[cutoff:]
	promoted := cutoff

	for key, q := range s.waiting {
		kept := q[:0]
		for _, e := range q {
			if !e.deadline.IsZero() && !e.deadline.After(now) {
				e.key, e.deadline = Key{}, time.Time{}
				s.makeReady(e)
				promoted++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.waiting, key)
		} else {
			s.waiting[key] = kept
		}
	}
	return promoted
}

// next pops the head of obj's ready queue, or clears its running mark when
// there is nothing left.
func (s *Scheduler) next(obj gamedb.DBRef) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.ready[obj]
	if len(q) == 0 {
		delete(s.ready, obj)
		delete(s.running, obj)
		return nil
	}
	e := q[0]
	if len(q) == 1 {
		delete(s.ready, obj)
	} else {
		s.ready[obj] = q[1:]
	}
	s.forget(e)
	return e
}
