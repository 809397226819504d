package domain

import "encoding/json"

// SessionStatus is the lifecycle state of a GenerationSession.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// GenerationSession is the short-lived record that tracks one generation
// request. Clients create the id; the server stores the record next to the
// session's event channel.
type GenerationSession struct {
	ID        string           `json:"id"`
	Key       RoutineKey       `json:"key"`
	Params    GenerationParams `json:"params"`
	Status    SessionStatus    `json:"status"`
	Error     string           `json:"error,omitempty"`
	CreatedAt int64            `json:"createdAt"`
	UpdatedAt int64            `json:"updatedAt"`
}

// EventName is the kind of a ChannelEvent.
type EventName string

const (
	EventStatus   EventName = "status"
	EventChunk    EventName = "chunk"
	EventComplete EventName = "complete"
	EventError    EventName = "error"
	EventWarning  EventName = "warning"
)

// IsTerminal reports whether e ends a session's progress stream.
func (e EventName) IsTerminal() bool { return e == EventComplete || e == EventError }

// ChannelEvent is one entry of a session's append-only event log.
// Timestamp is in unix milliseconds.
type ChannelEvent struct {
	Event     EventName       `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Notice is the payload of error and warning events.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
