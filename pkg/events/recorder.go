package events

import (
	"slices"
	"sync"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

// Recorder is a Subscriber that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Receive(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Closed() bool { return false }

// Events returns a copy of what has been received so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Lines returns the plain text of the events addressed to obj.
func (r *Recorder) Lines(obj gamedb.DBRef) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Player == obj {
			out = append(out, ev.Text.Plain())
		}
	}
	return out
}

// Take returns the received events and forgets them.
func (r *Recorder) Take() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.events
	r.events = nil
	return evs
}
