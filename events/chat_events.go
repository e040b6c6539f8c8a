package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// MessageSentEvent is emitted after a message has been stored and dispatched.
// It carries metadata only; message text stays in the store.
type MessageSentEvent struct {
	Room       string    `json:"room"`
	Username   string    `json:"username"`
	Length     int       `json:"length"`
	Direct     bool      `json:"direct"`
	Recipients int       `json:"recipients"`
	Timestamp  time.Time `json:"timestamp"`
}

// RoomCreatedEvent is emitted when a new named room is created.
type RoomCreatedEvent struct {
	RoomName  string    `json:"room_name"`
	CreatedBy string    `json:"created_by,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the chat domain.
var (
	MessageSentV1 = helper.EventDefinition[MessageSentEvent](
		"chat",
		"MessageSent",
		"v1",
	)

	RoomCreatedV1 = helper.EventDefinition[RoomCreatedEvent](
		"chat",
		"RoomCreated",
		"v1",
	)
)
