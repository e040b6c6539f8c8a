// Package authz decides whether an identity may join or send to a room.
package authz

import (
	"errors"

	"github.com/example/realtime-chat/domain/chat"
)

// Action is the room operation being authorized.
type Action string

// Supported actions.
const (
	ActionJoin Action = "join"
	ActionSend Action = "send"
)

// ErrDenied matches every *DeniedError.
var ErrDenied = errors.New("room access denied")

// Client-facing denial messages.
const (
	msgNotAuthorized = "not authorized"
	msgJoinDMDenied  = "not authorized for this DM"
	msgSendDMDenied  = "not allowed to send in this DM"
)

// DeniedError describes a refused room operation. Its Error text is safe to
// send to the requesting session.
type DeniedError struct {
	Identity string
	Room     string
	Action   Action
	msg      string
}

func (e *DeniedError) Error() string {
	return e.msg
}

// Is reports whether target is ErrDenied.
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// Authorize applies the room rule:
//   - an empty identity is never authorized;
//   - a room outside the DM namespace is open to any identity;
//   - a DM room must read dm:<first>:<second> with first < second and the
//     identity being one of the two.
//
// Join and send share the rule and differ only in the denial message.
func Authorize(identity, room string, action Action) error {
	if identity == "" {
		return deny(identity, room, action, msgNotAuthorized)
	}
	if !chat.IsDM(room) {
		return nil
	}

	first, second, ok := chat.ParseDM(room)
	if ok && first < second && (identity == first || identity == second) {
		return nil
	}

	if action == ActionSend {
		return deny(identity, room, action, msgSendDMDenied)
	}
	return deny(identity, room, action, msgJoinDMDenied)
}

func deny(identity, room string, action Action, msg string) *DeniedError {
	return &DeniedError{Identity: identity, Room: room, Action: action, msg: msg}
}
