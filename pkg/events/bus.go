// Package events fans evaluation output out to whoever is listening for an
// object: console sessions, loggers, tests.
package events

import (
	"context"
	"slices"
	"sync"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Bus is a per-object pub/sub bus with support for global subscribers.
// Delivery is fire-and-forget: output for an object nobody listens to is
// dropped.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[gamedb.DBRef][]Subscriber
	global      []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[gamedb.DBRef][]Subscriber),
	}
}

// Subscribe registers a subscriber for one object's events.
func (b *Bus) Subscribe(obj gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[obj] = append(b.subscribers[obj], sub)
}

// Unsubscribe removes a subscriber for one object.
func (b *Bus) Unsubscribe(obj gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := slices.DeleteFunc(slices.Clone(b.subscribers[obj]), func(s Subscriber) bool { return s == sub })
	if len(subs) == 0 {
		delete(b.subscribers, obj)
	} else {
		b.subscribers[obj] = subs
	}
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

func send(subs []Subscriber, ev Event) {
	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// Emit sends an event to ev.Player's subscribers and all global ones.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.Player]
	globals := b.global
	b.mu.RUnlock()
	send(subs, ev)
	send(globals, ev)
}

// Deliver sends text to one recipient. It implements the engine's
// delivery interface.
func (b *Bus) Deliver(_ context.Context, to gamedb.DBRef, text markup.Text) {
	b.Emit(Event{Type: EvText, Player: to, Source: gamedb.Nothing, Room: gamedb.Nothing, Text: text})
}

// EmitToRoom sends an event to everything in room except the given object
// (Nothing excludes nobody). Global subscribers see it once, with Player set
// to Nothing.
func (b *Bus) EmitToRoom(ctx context.Context, store gamedb.Store, room, except gamedb.DBRef, ev Event) error {
	refs, err := store.Contents(ctx, room)
	if err != nil {
		return err
	}
	ev.Room = room
	b.mu.RLock()
	globals := b.global
	per := make([][]Subscriber, len(refs))
	for i, ref := range refs {
		if ref != except {
			per[i] = b.subscribers[ref]
		}
	}
	b.mu.RUnlock()

	for i, ref := range refs {
		if ref == except {
			continue
		}
		one := ev
		one.Player = ref
		send(per[i], one)
	}
	ev.Player = gamedb.Nothing
	send(globals, ev)
	return nil
}

// Subscribers returns the number of subscribers for an object.
func (b *Bus) Subscribers(obj gamedb.DBRef) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[obj])
}

// Cleanup removes closed subscribers from all lists.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	closed := func(s Subscriber) bool { return s.Closed() }
	for obj, subs := range b.subscribers {
		subs = slices.DeleteFunc(slices.Clone(subs), closed)
		if len(subs) == 0 {
			delete(b.subscribers, obj)
		} else {
			b.subscribers[obj] = subs
		}
	}
	b.global = slices.DeleteFunc(slices.Clone(b.global), closed)
}
