package chat

import (
	"encoding/json"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
)

// Event names used on the realtime channel.
const (
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
	EventConnected      = "connected"
)

// Frame is the envelope of every message on the realtime channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomPayload is the data of join_room and leave_room.
type RoomPayload struct {
	Room string `json:"room"`
}

// SendMessagePayload is the data of send_message.
type SendMessagePayload struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

// ReceiveMessagePayload is the data of receive_message.
type ReceiveMessagePayload struct {
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Room      string    `json:"room"`
}

// ErrorPayload is the data of error.
type ErrorPayload struct {
	Msg string `json:"msg"`
}

// ConnectedPayload is the data of connected, sent once after the handshake.
type ConnectedPayload struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
}

// NewReceiveMessagePayload builds the broadcast payload for a stored message.
func NewReceiveMessagePayload(msg *domain.Message) ReceiveMessagePayload {
	return ReceiveMessagePayload{
		Username:  msg.Username,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
		Room:      msg.Room,
	}
}

// EncodeFrame marshals an event and its data into a frame.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
