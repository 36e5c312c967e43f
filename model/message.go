package model

import (
	"time"

	"github.com/google/uuid"
)

// HandshakePayload is the literal payload of an initiation handshake.
const HandshakePayload = "Hello There!"

// Message is a transient unit of communication between two nodes. Ownership
// passes to the receiving handler; forwarding passes it on again.
type Message struct {
	ID uuid.UUID
	// Payload is a string-encoded numeric value or HandshakePayload.
	Payload string
	// Source is the identity of the node that last sent the message.
	Source string
	SentAt time.Time
}

// NewMessage builds a message with a fresh ID.
func NewMessage(source, payload string) Message {
	return Message{
		ID:      uuid.New(),
		Payload: payload,
		Source:  source,
	}
}

// IsHandshake reports whether the message is an initiation handshake.
func (m Message) IsHandshake() bool {
	return m.Payload == HandshakePayload
}

// EventKind tags the variants of Event.
type EventKind int

const (
	// EventStart is delivered once to every node when the run begins.
	EventStart EventKind = iota
	// EventMessage carries an inbound Message.
	EventMessage
	// EventTimer is a node's own previously scheduled timer firing.
	EventTimer
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventMessage:
		return "message"
	case EventTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// TimerRef identifies a fired timer: its logical name and the scheduler ID of
// the instance that fired.
type TimerRef struct {
	Name string
	ID   string
}

// Event is the single input type of every node handler.
type Event struct {
	Kind    EventKind
	At      time.Time
	Message Message
	Timer   TimerRef
}

// Destination selects the recipient of a Send: either a fixed node or a
// uniformly random choice among candidates.
type Destination struct {
	Node  string
	AnyOf []string
}

// To addresses a single fixed node.
func To(id string) Destination { return Destination{Node: id} }

// AnyOf addresses one node drawn uniformly from ids.
func AnyOf(ids ...string) Destination { return Destination{AnyOf: ids} }
