package transcriber

import (
	"encoding/json"
	"fmt"
)

// FlushMessage is the text frame that asks the server to finalize whatever
// audio it still holds.
const FlushMessage = "__flush__"

type EventKind string

const (
	EventPartial EventKind = "partial"
	EventFinal   EventKind = "final"
	EventError   EventKind = "error"
	EventReady   EventKind = "ready"
)

// Event is one inbound JSON message: {"type": ..., "text": ..., "message": ...}.
type Event struct {
	Kind    EventKind `json:"type"`
	Text    string    `json:"text,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Dispatchable reports whether the client acts on this kind. Everything else,
// including the server's ready notice, is ignored.
func (e Event) Dispatchable() bool {
	switch e.Kind {
	case EventPartial, EventFinal, EventError:
		return true
	}
	return false
}

func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if ev.Kind == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return ev, nil
}
