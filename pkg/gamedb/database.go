package gamedb

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Database is the in-memory Store. It is also the write-through cache the
// bolt store keeps in front of its file.
type Database struct {
	mu       sync.RWMutex
	Objects  map[DBRef]*Object
	Channels map[string]*Channel
}

// NewDatabase creates an empty Database.
func NewDatabase() *Database {
	return &Database{
		Objects:  make(map[DBRef]*Object),
		Channels: make(map[string]*Channel),
	}
}

var _ Store = (*Database)(nil)

// Add inserts or replaces an object. Attribute names are normalized.
func (db *Database) Add(obj *Object) {
	norm := make(map[string]string, len(obj.Attrs))
	for k, v := range obj.Attrs {
		norm[NormalizeAttr(k)] = v
	}
	obj.Attrs = norm
	db.mu.Lock()
	db.Objects[obj.DBRef] = obj
	db.mu.Unlock()
}

// Remove deletes an object outright.
func (db *Database) Remove(ref DBRef) {
	db.mu.Lock()
	delete(db.Objects, ref)
	db.mu.Unlock()
}

// AddChannel inserts or replaces a channel.
func (db *Database) AddChannel(ch *Channel) {
	if ch.Members == nil {
		ch.Members = make(map[DBRef]bool)
	}
	db.mu.Lock()
	db.Channels[strings.ToLower(ch.Name)] = ch
	db.mu.Unlock()
}

// Refs returns every object reference in ascending order.
func (db *Database) Refs() []DBRef {
	db.mu.RLock()
	defer db.mu.RUnlock()
	refs := make([]DBRef, 0, len(db.Objects))
	for r := range db.Objects {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

// live returns the object or nil; the caller holds the lock.
func (db *Database) live(ref DBRef) *Object {
	o, ok := db.Objects[ref]
	if !ok || o.IsGoing() || o.Type == TypeGarbage {
		return nil
	}
	return o
}

func noSuch(ref DBRef) error {
	return errors.Wrapf(ErrNoSuchObject, "#%d", ref)
}

func (db *Database) Object(_ context.Context, ref DBRef) (*Object, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	o := db.live(ref)
	if o == nil {
		return nil, noSuch(ref)
	}
	return o.Clone(), nil
}

func (db *Database) Match(_ context.Context, looker DBRef, name string) (DBRef, error) {
	name = strings.TrimSpace(name)
	db.mu.RLock()
	defer db.mu.RUnlock()
	me := db.live(looker)
	switch strings.ToLower(name) {
	case "":
		return Nothing, nil
	case "me":
		if me == nil {
			return Nothing, nil
		}
		return looker, nil
	case "here":
		if me == nil || db.live(me.Location) == nil {
			return Nothing, nil
		}
		return me.Location, nil
	}
	if ref, ok := ParseRef(name); ok {
		if db.live(ref) == nil {
			return Nothing, nil
		}
		return ref, nil
	}
	if strings.HasPrefix(name, "*") {
		return db.matchPlayer(name[1:]), nil
	}
	if me == nil {
		return Nothing, nil
	}

	// Inventory first, then the looker's location, its contents and exits.
	found := Nothing
	for _, scope := range []DBRef{looker, me.Location} {
		for _, ref := range db.sortedRefs() {
			o := db.Objects[ref]
			if o.IsGoing() || o.Location != scope || !o.MatchesName(name) {
				continue
			}
			if found != Nothing && found != ref {
				return Ambiguous, nil
			}
			found = ref
		}
		if found != Nothing {
			return found, nil
		}
	}
	if loc := db.live(me.Location); loc != nil && loc.MatchesName(name) {
		return me.Location, nil
	}
	return Nothing, nil
}

func (db *Database) matchPlayer(name string) DBRef {
	for _, ref := range db.sortedRefs() {
		o := db.Objects[ref]
		if o.Type == TypePlayer && !o.IsGoing() && strings.EqualFold(o.Name, name) {
			return ref
		}
	}
	return Nothing
}

func (db *Database) sortedRefs() []DBRef {
	refs := make([]DBRef, 0, len(db.Objects))
	for r := range db.Objects {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

func (db *Database) Attr(_ context.Context, obj DBRef, path string) (string, bool, error) {
	key := NormalizeAttr(path)
	db.mu.RLock()
	defer db.mu.RUnlock()
	o := db.live(obj)
	if o == nil {
		return "", false, noSuch(obj)
	}
	for depth := 0; o != nil && depth <= MaxParentDepth; depth++ {
		if v, ok := o.Attrs[key]; ok {
			return v, true, nil
		}
		o = db.live(o.Parent)
	}
	return "", false, nil
}

func (db *Database) SetAttr(_ context.Context, obj DBRef, path, value string) error {
	key := NormalizeAttr(path)
	db.mu.Lock()
	defer db.mu.Unlock()
	o := db.live(obj)
	if o == nil {
		return noSuch(obj)
	}
	if o.Attrs == nil {
		o.Attrs = make(map[string]string)
	}
	if value == "" {
		delete(o.Attrs, key)
	} else {
		o.Attrs[key] = value
	}
	return nil
}

func (db *Database) Lock(_ context.Context, obj DBRef, lockType string) (string, error) {
	attr, err := LockAttr(lockType)
	if err != nil {
		return "", err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	o := db.live(obj)
	if o == nil {
		return "", noSuch(obj)
	}
	return o.Attrs[attr], nil
}

func (db *Database) SetLock(ctx context.Context, obj DBRef, lockType, lockString string) error {
	attr, err := LockAttr(lockType)
	if err != nil {
		return err
	}
	return db.SetAttr(ctx, obj, attr, lockString)
}

func (db *Database) Contents(_ context.Context, obj DBRef) ([]DBRef, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.live(obj) == nil {
		return nil, noSuch(obj)
	}
	var out []DBRef
	for _, ref := range db.sortedRefs() {
		o := db.Objects[ref]
		if o.Location == obj && o.Type != TypeExit && !o.IsGoing() {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (db *Database) OnChannel(_ context.Context, channel string, obj DBRef) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ch, ok := db.Channels[strings.ToLower(strings.TrimSpace(channel))]
	if !ok {
		return false, nil
	}
	return ch.Members[obj], nil
}

func (db *Database) SetFlag(_ context.Context, obj DBRef, name string, on bool) error {
	def, ok := FlagTable[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return errors.Errorf("unknown flag %q", name)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	o := db.live(obj)
	if o == nil {
		return noSuch(obj)
	}
	if on {
		o.Flags[def.Word] |= def.Bit
	} else {
		o.Flags[def.Word] &^= def.Bit
	}
	return nil
}

// Update applies fn to the live object under the write lock and returns a
// snapshot of the result. Stores layered on top of Database use it to
// persist exactly what was changed.
func (db *Database) Update(ref DBRef, fn func(*Object) error) (*Object, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	o := db.live(ref)
	if o == nil {
		return nil, noSuch(ref)
	}
	if err := fn(o); err != nil {
		return nil, err
	}
	return o.Clone(), nil
}

// Snapshot returns deep copies of every object and channel, for export.
func (db *Database) Snapshot() ([]*Object, []*Channel) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	objs := make([]*Object, 0, len(db.Objects))
	for _, ref := range db.sortedRefs() {
		objs = append(objs, db.Objects[ref].Clone())
	}
	chans := make([]*Channel, 0, len(db.Channels))
	for _, ch := range db.Channels {
		cp := *ch
		cp.Members = make(map[DBRef]bool, len(ch.Members))
		for k, v := range ch.Members {
			cp.Members[k] = v
		}
		chans = append(chans, &cp)
	}
	sort.Slice(chans, func(i, j int) bool { return chans[i].Name < chans[j].Name })
	return objs, chans
}
