package lock

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/metrics"
)

// DefaultCapacity is the cache size used when NewCache is given none.
const DefaultCapacity = 4096

type key struct {
	obj  gamedb.DBRef
	attr string // storage attribute, so lock type aliases share an entry
}

type entry struct {
	lock *Compiled
	uses atomic.Uint64
	seq  uint64 // insertion order, breaks ties between equally used entries
}

// Cache holds compiled locks keyed by object and lock type, evicting the
// least frequently used entry when full. It implements eval.LockChecker.
type Cache struct {
	store   gamedb.Store
	attrs   atomic.Pointer[AttrEvaluator]
	metrics *metrics.Metrics

	mu       sync.RWMutex
	capacity int
	entries  map[key]*entry
	seq      uint64
	gen      uint64 // bumped by every write, so a slow load cannot reinsert a stale lock
}

// NewCache returns an empty cache over store.
func NewCache(store gamedb.Store, capacity int, m *metrics.Metrics) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		store:    store,
		metrics:  m,
		capacity: capacity,
		entries:  make(map[key]*entry, capacity),
	}
}

// SetEvaluator installs the evaluator used by ATTR/pattern locks.
func (c *Cache) SetEvaluator(a AttrEvaluator) {
	c.attrs.Store(&a)
}

// Env returns the environment locks from this cache are evaluated in.
func (c *Cache) Env() Env {
	env := Env{Store: c.store}
	if a := c.attrs.Load(); a != nil {
		env.Attrs = *a
	}
	return env
}

// Len returns the number of cached locks.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cacheKey(obj gamedb.DBRef, lockType string) (key, error) {
	attr, err := gamedb.LockAttr(lockType)
	if err != nil {
		return key{}, err
	}
	return key{obj: obj, attr: attr}, nil
}

// Get returns the compiled lock of the given type on obj, loading and
// compiling it from the store on a miss. A stored lock that no longer
// parses is returned as a *ParseError.
func (c *Cache) Get(ctx context.Context, obj gamedb.DBRef, lockType string) (*Compiled, error) {
	k, err := cacheKey(obj, lockType)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	var hit *Compiled
	if e, ok := c.entries[k]; ok {
		e.uses.Add(1)
		hit = e.lock
	}
	gen := c.gen
	c.mu.RUnlock()
	if hit != nil {
		c.metrics.LockCache("hit")
		return hit, nil
	}
	c.metrics.LockCache("miss")

	text, err := c.store.Lock(ctx, obj, lockType)
	if err != nil {
		return nil, err
	}
	compiled, err := Compile(text)
	if err != nil {
		log.Printf("LOCK: stored %s lock on #%d does not parse: %v", k.attr, obj, err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.insert(k, compiled)
	}
	return compiled, nil
}

// insert adds or replaces an entry. The caller holds mu.
func (c *Cache) insert(k key, compiled *Compiled) {
	if e, ok := c.entries[k]; ok {
		e.lock = compiled
		e.uses.Add(1)
		return
	}
	if len(c.entries) >= c.capacity {
		c.evict()
	}
	c.seq++
	e := &entry{lock: compiled, seq: c.seq}
	e.uses.Store(1)
	c.entries[k] = e
}

// evict drops the least used entry, the oldest among ties. The caller
// holds mu.
func (c *Cache) evict() {
	var victim key
	var best *entry
	for k, e := range c.entries {
		if best == nil || e.uses.Load() < best.uses.Load() ||
			e.uses.Load() == best.uses.Load() && e.seq < best.seq {
			victim, best = k, e
		}
	}
	if best != nil {
		delete(c.entries, victim)
		c.metrics.LockCache("evict")
	}
}

// Set compiles lockString, stores it and caches the result. A lock that
// does not compile leaves both the store and the cache untouched.
func (c *Cache) Set(ctx context.Context, obj gamedb.DBRef, lockType, lockString string) error {
	k, err := cacheKey(obj, lockType)
	if err != nil {
		return err
	}
	compiled, err := Compile(lockString)
	if err != nil {
		return err
	}
	if err := c.store.SetLock(ctx, obj, lockType, compiled.Source); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.insert(k, compiled)
	return nil
}

// Invalidate drops the cached lock of the given type on obj.
func (c *Cache) Invalidate(obj gamedb.DBRef, lockType string) {
	k, err := cacheKey(obj, lockType)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	delete(c.entries, k)
}

// InvalidateObject drops every cached lock on obj.
func (c *Cache) InvalidateObject(obj gamedb.DBRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for k := range c.entries {
		if k.obj == obj {
			delete(c.entries, k)
		}
	}
}

// Pass reports whether unlocker passes the lock of the given type on
// gated. Effective wizards and objects with PASS_LOCKS always pass.
func (c *Cache) Pass(ctx context.Context, gated, unlocker gamedb.DBRef, lockType string) (bool, error) {
	if _, err := cacheKey(gated, lockType); err != nil {
		return false, err
	}
	if ok, err := (perms{c.store}).passesAll(ctx, unlocker); err != nil || ok {
		return ok, err
	}
	return c.Check(ctx, gated, unlocker, lockType)
}

// Check evaluates the lock without the privilege bypass.
func (c *Cache) Check(ctx context.Context, gated, unlocker gamedb.DBRef, lockType string) (bool, error) {
	compiled, err := c.Get(ctx, gated, lockType)
	if err != nil {
		if _, bad := err.(*ParseError); bad {
			return false, nil
		}
		return false, err
	}
	return compiled.Eval(ctx, c.Env(), gated, unlocker)
}

// Validate reports whether lockString compiles.
func (c *Cache) Validate(lockString string) error {
	_, err := Compile(lockString)
	return err
}

// SetLock is Set under the name eval.LockChecker uses.
func (c *Cache) SetLock(ctx context.Context, obj gamedb.DBRef, lockType, lockString string) error {
	return c.Set(ctx, obj, lockType, lockString)
}

// Controls reports whether who may modify what. Zone masters grant control
// through their CONTROL lock.
func (c *Cache) Controls(ctx context.Context, who, what gamedb.DBRef) (bool, error) {
	return (perms{c.store}).controls(ctx, who, what, func(ctx context.Context, zone gamedb.DBRef) (bool, error) {
		return c.zonePass(ctx, zone, who)
	})
}

// zonePass evaluates a zone master's CONTROL lock. Unlike other locks an
// unset one grants nothing.
func (c *Cache) zonePass(ctx context.Context, zone, who gamedb.DBRef) (bool, error) {
	compiled, err := c.Get(ctx, zone, "CONTROL")
	if err != nil {
		if _, bad := err.(*ParseError); bad || gamedb.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if compiled.Root == nil {
		return false, nil
	}
	return compiled.Eval(ctx, c.Env(), zone, who)
}
