package events

import (
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

// EventType classifies events for transport-specific encoding.
type EventType int

const (
	EvText  EventType = iota // Output addressed to one object
	EvRoom                   // Output sent to everything in a room
	EvHuh                    // Unrecognized command
	EvAbort                  // Command stopped by a resource limit
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvText:
		return "text"
	case EvRoom:
		return "room"
	case EvHuh:
		return "huh"
	case EvAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Event is a unit of output flowing through the bus. Text keeps its styles;
// transports decide whether to render them.
type Event struct {
	Type   EventType
	Player gamedb.DBRef // recipient
	Source gamedb.DBRef // who generated it
	Room   gamedb.DBRef // room context for EvRoom
	Text   markup.Text
}
