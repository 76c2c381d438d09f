package engine

import (
	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/events"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
	"github.com/crystal-mush/mushcode/pkg/queue"
)

// step is one journaled effect. Exactly one of op, deferred, room (when
// not Nothing) or delivery applies.
type step struct {
	kind     events.EventType
	delivery eval.Delivery
	deferred *eval.Deferred
	room     gamedb.DBRef
	op       func(*queue.Scheduler)
}

// journal orders the effects of one top-level command. Functions journal
// into the scope; commands append steps directly, after pulling in whatever
// the scope has gathered so far.
type journal struct {
	scope *eval.Scope
	steps []step
}

func (j *journal) collect() {
	for _, e := range j.scope.Drain() {
		if e.Deferred != nil {
			j.steps = append(j.steps, step{deferred: e.Deferred, room: gamedb.Nothing})
			continue
		}
		j.steps = append(j.steps, step{kind: events.EvText, delivery: e.Delivery, room: gamedb.Nothing})
	}
}

func (j *journal) notify(kind events.EventType, to gamedb.DBRef, text markup.Text) {
	j.collect()
	j.steps = append(j.steps, step{kind: kind, delivery: eval.Delivery{To: to, Text: text}, room: gamedb.Nothing})
}

func (j *journal) notifyRoom(room gamedb.DBRef, text markup.Text) {
	j.collect()
	j.steps = append(j.steps, step{kind: events.EvRoom, delivery: eval.Delivery{To: room, Text: text}, room: room})
}

func (j *journal) queue(op func(*queue.Scheduler)) {
	j.collect()
	j.steps = append(j.steps, step{op: op, room: gamedb.Nothing})
}

func (j *journal) discard() {
	j.scope.Discard()
	j.steps = nil
}
