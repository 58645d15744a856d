package collab

import (
	"time"

	"devconnect/api/internal/textpatch"
)

type EventType string

const (
	EventContentChanged    EventType = "content_changed"
	EventCursorMoved       EventType = "cursor_moved"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventSessionEnded      EventType = "session_ended"
)

// Event is emitted after a session state change has been committed. UserID is
// the participant that caused it; gateways deliver the event to everyone else.
type Event struct {
	Type        EventType         `json:"type"`
	SessionID   string            `json:"sessionId"`
	UserID      string            `json:"userId"`
	ChangeID    string            `json:"changeId,omitempty"`
	Patches     []textpatch.Patch `json:"patches,omitempty"`
	Cursor      *Cursor           `json:"cursor,omitempty"`
	Participant *Participant      `json:"participant,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Broadcaster receives committed events. Publish is called while the session
// lock is held, so implementations must not block and must not call back into
// the session.
type Broadcaster interface {
	Publish(event Event)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(Event) {}
