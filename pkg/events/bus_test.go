package events

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// mockSubscriber implements Subscriber for testing.
type mockSubscriber struct {
	mu       sync.Mutex
	events   []Event
	isClosed bool
}

func (m *mockSubscriber) Receive(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockSubscriber) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isClosed
}

func (m *mockSubscriber) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

func TestBusDeliver(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	player := gamedb.DBRef(1)
	bus.Subscribe(player, sub)

	bus.Deliver(context.Background(), player, markup.New("Hello world"))
	bus.Deliver(context.Background(), 2, markup.New("not for you"))

	events := sub.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Text.Plain() != "Hello world" {
		t.Errorf("expected text %q, got %q", "Hello world", events[0].Text.Plain())
	}
	if events[0].Type != EvText || events[0].Player != player {
		t.Errorf("unexpected event %+v", events[0])
	}
}

func TestBusGlobalSubscriber(t *testing.T) {
	bus := NewBus()
	global := &Recorder{}
	bus.SubscribeGlobal(global)

	bus.Emit(Event{Type: EvHuh, Player: 5, Text: markup.New("Huh?")})
	bus.Deliver(context.Background(), 6, markup.New("hi"))

	if got := global.Lines(5); !slices.Equal(got, []string{"Huh?"}) {
		t.Errorf("global saw %v for #5", got)
	}
	if n := len(global.Take()); n != 2 {
		t.Errorf("global saw %d events, want 2", n)
	}
	if n := len(global.Events()); n != 0 {
		t.Errorf("Take left %d events", n)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{}
	other := &mockSubscriber{}
	player := gamedb.DBRef(1)

	bus.Subscribe(player, sub)
	bus.Subscribe(player, other)
	bus.Unsubscribe(player, sub)
	bus.Emit(Event{Type: EvText, Player: player, Text: markup.New("only other")})

	if len(sub.Events()) != 0 {
		t.Error("expected no events after unsubscribe")
	}
	if len(other.Events()) != 1 {
		t.Error("remaining subscriber missed the event")
	}
	bus.Unsubscribe(player, other)
	if bus.Subscribers(player) != 0 {
		t.Errorf("subscribers left: %d", bus.Subscribers(player))
	}
}

func TestBusClosedSubscriberSkipped(t *testing.T) {
	bus := NewBus()
	sub := &mockSubscriber{isClosed: true}
	bus.Subscribe(1, sub)
	bus.Emit(Event{Type: EvText, Player: 1, Text: markup.New("no delivery")})
	if len(sub.Events()) != 0 {
		t.Error("closed subscriber should not receive events")
	}
}

const room = `
objects:
  - ref: 0
    name: Room
    type: room
    owner: 1
  - ref: 1
    name: One
    type: player
    location: 0
  - ref: 2
    name: Two
    type: player
    location: 0
  - ref: 3
    name: Elsewhere
    type: player
    location: 4
  - ref: 4
    name: Other Room
    type: room
    owner: 1
`

func TestBusEmitToRoom(t *testing.T) {
	db, err := gamedb.LoadWorld(strings.NewReader(room))
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	bus := NewBus()
	subs := map[gamedb.DBRef]*mockSubscriber{1: {}, 2: {}, 3: {}}
	for ref, s := range subs {
		bus.Subscribe(ref, s)
	}
	global := &Recorder{}
	bus.SubscribeGlobal(global)

	ev := Event{Type: EvRoom, Source: 1, Text: markup.New("Hello room")}
	if err := bus.EmitToRoom(context.Background(), db, 0, gamedb.Nothing, ev); err != nil {
		t.Fatalf("EmitToRoom: %v", err)
	}
	if err := bus.EmitToRoom(context.Background(), db, 0, 1, ev); err != nil {
		t.Fatalf("EmitToRoom: %v", err)
	}
	want := map[gamedb.DBRef]int{1: 1, 2: 2, 3: 0}
	for ref, n := range want {
		got := subs[ref].Events()
		if len(got) != n {
			t.Errorf("#%d: expected %d events, got %d", ref, n, len(got))
		}
		for _, ev := range got {
			if ev.Player != ref || ev.Room != 0 {
				t.Errorf("#%d received %+v", ref, ev)
			}
		}
	}
	if n := len(global.Events()); n != 2 {
		t.Errorf("global saw %d events, want 2", n)
	}
	if err := bus.EmitToRoom(context.Background(), db, 99, gamedb.Nothing, ev); !gamedb.IsNotFound(err) {
		t.Errorf("missing room: %v", err)
	}
}

func TestBusCleanup(t *testing.T) {
	bus := NewBus()
	active := &mockSubscriber{}
	closed := &mockSubscriber{isClosed: true}
	bus.Subscribe(1, active)
	bus.Subscribe(1, closed)
	bus.Subscribe(2, &mockSubscriber{isClosed: true})
	bus.SubscribeGlobal(&mockSubscriber{isClosed: true})

	bus.Cleanup()

	if bus.Subscribers(1) != 1 {
		t.Errorf("expected 1 active subscriber, got %d", bus.Subscribers(1))
	}
	if bus.Subscribers(2) != 0 {
		t.Errorf("closed subscribers kept for #2")
	}
}

func TestEventTypeString(t *testing.T) {
	tests := map[EventType]string{
		EvText:         "text",
		EvRoom:         "room",
		EvHuh:          "huh",
		EvAbort:        "abort",
		EventType(999): "unknown",
	}
	for typ, want := range tests {
		if got := typ.String(); got != want {
			t.Errorf("EventType(%d).String() = %q, want %q", typ, got, want)
		}
	}
}
