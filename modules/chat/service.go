package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/authz"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/example/realtime-chat/modules/ratelimit"
	"github.com/example/realtime-chat/modules/session"
	"github.com/example/realtime-chat/modules/store"
	"github.com/go-monolith/mono/pkg/types"
)

// Validation constants
const (
	MaxRoomNameLength = 200
	MaxMessageLength  = 5000
)

var (
	// ErrNotAuthenticated is returned for sessions without a bound identity.
	ErrNotAuthenticated = errors.New("not authorized")
	// ErrValidation marks malformed events. They are dropped without a reply.
	ErrValidation = errors.New("invalid event")
	// ErrRoomRequired is returned when an event names no room.
	ErrRoomRequired = fmt.Errorf("%w: room is required", ErrValidation)
	// ErrRoomNameTooLong is returned when a room name exceeds MaxRoomNameLength.
	ErrRoomNameTooLong = fmt.Errorf("%w: room name exceeds maximum length", ErrValidation)
	// ErrMessageTooLong is returned when text exceeds MaxMessageLength runes.
	ErrMessageTooLong = errors.New("message exceeds maximum length")
	// ErrMessageInvalid is returned when text is not valid UTF-8.
	ErrMessageInvalid = errors.New("message contains invalid characters")
	// ErrRateLimited is returned when the sender exceeded the send rate.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrPersistence is returned when the message could not be stored.
	ErrPersistence = errors.New("failed to save message")
)

// Notifier is told about every message that was stored and dispatched.
type Notifier interface {
	MessageSent(msg *domain.Message, recipients int)
}

// Option configures a Service.
type Option func(*Service)

// WithLimiter limits how often one identity may send.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(s *Service) {
		s.limiter = limiter
	}
}

// WithNotifier registers a Notifier.
func WithNotifier(notifier Notifier) Option {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// Service runs the realtime pipeline: it binds sessions to identities,
// authorizes room operations, stores messages and fans them out.
type Service struct {
	store    store.MessageStore
	hub      *broadcast.Hub
	registry *session.Registry
	limiter  ratelimit.Limiter
	notifier Notifier
	locks    roomLocks
	logger   types.Logger
}

// NewService creates a new chat service.
func NewService(st store.MessageStore, hub *broadcast.Hub, registry *session.Registry, logger types.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		hub:      hub,
		registry: registry,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect binds an authenticated client to its identity and makes it
// reachable by room dispatch.
func (s *Service) Connect(client *broadcast.Client) error {
	if client.Identity == "" {
		return ErrNotAuthenticated
	}
	s.registry.Register(client.ID, client.Identity)
	s.hub.Register(client)

	s.logger.Info("Session connected", "sessionID", client.ID, "username", client.Identity)
	return nil
}

// Disconnect drops the client's subscriptions and its registry entry.
func (s *Service) Disconnect(client *broadcast.Client) {
	rooms := s.hub.RoomsOf(client.ID)
	s.hub.Unregister(client.ID)
	identity, ok := s.registry.Unregister(client.ID)
	if ok {
		s.logger.Info("Session disconnected", "sessionID", client.ID, "username", identity, "rooms", rooms)
	}
}

// JoinRoom subscribes a session to room.
func (s *Service) JoinRoom(sessionID, room string) error {
	identity, ok := s.registry.Lookup(sessionID)
	if !ok {
		return ErrNotAuthenticated
	}
	if err := validateRoom(room); err != nil {
		return err
	}
	if err := authz.Authorize(identity, room, authz.ActionJoin); err != nil {
		return err
	}
	if !s.hub.Join(sessionID, room) {
		return ErrNotAuthenticated
	}

	s.logger.Debug("Joined room", "sessionID", sessionID, "username", identity, "room", room)
	return nil
}

// LeaveRoom unsubscribes a session from room. Leaving a room the session is
// not in is a no-op.
func (s *Service) LeaveRoom(sessionID, room string) error {
	identity, ok := s.registry.Lookup(sessionID)
	if !ok {
		return ErrNotAuthenticated
	}
	if err := validateRoom(room); err != nil {
		return err
	}
	s.hub.Leave(sessionID, room)

	s.logger.Debug("Left room", "sessionID", sessionID, "username", identity, "room", room)
	return nil
}

// SendMessage authorizes, stores and dispatches text to room. Blank text is a
// no-op that returns (nil, nil). When the store fails nothing is dispatched.
func (s *Service) SendMessage(ctx context.Context, sessionID, room, text string) (*domain.Message, error) {
	identity, ok := s.registry.Lookup(sessionID)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if err := validateRoom(room); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if !utf8.ValidString(text) {
		return nil, ErrMessageInvalid
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	if err := authz.Authorize(identity, room, authz.ActionSend); err != nil {
		return nil, err
	}
	if err := s.checkRate(ctx, identity); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(room)
	msg, err := s.store.Append(ctx, room, identity, text)
	if err != nil {
		unlock()
		s.logger.Error("Failed to store message", "room", room, "username", identity, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if msg == nil {
		unlock()
		return nil, nil
	}

	frame, err := EncodeFrame(EventReceiveMessage, NewReceiveMessagePayload(msg))
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	recipients := s.hub.Dispatch(room, frame)
	unlock()

	s.logger.Debug("Message dispatched", "room", room, "username", identity, "recipients", recipients)
	if s.notifier != nil {
		s.notifier.MessageSent(msg, recipients)
	}
	return msg, nil
}

func (s *Service) checkRate(ctx context.Context, identity string) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, identity)
	if err != nil {
		s.logger.Warn("Rate limiter unavailable, allowing message", "username", identity, "error", err)
		return nil
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// HandleFrame decodes one inbound frame from client and runs it. Errors go
// back to client only; malformed events are dropped silently.
func (s *Service) HandleFrame(ctx context.Context, client *broadcast.Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.sendError(client, "invalid message format")
		return
	}

	var err error
	switch frame.Event {
	case EventJoinRoom:
		var p RoomPayload
		if err = decodePayload(frame.Data, &p); err == nil {
			err = s.JoinRoom(client.ID, p.Room)
		}
	case EventLeaveRoom:
		var p RoomPayload
		if err = decodePayload(frame.Data, &p); err == nil {
			err = s.LeaveRoom(client.ID, p.Room)
		}
	case EventSendMessage:
		var p SendMessagePayload
		if err = decodePayload(frame.Data, &p); err == nil {
			_, err = s.SendMessage(ctx, client.ID, p.Room, p.Text)
		}
	default:
		s.sendError(client, fmt.Sprintf("unknown event: %s", frame.Event))
		return
	}

	if err == nil {
		return
	}
	if errors.Is(err, ErrValidation) {
		s.logger.Debug("Dropped invalid event", "sessionID", client.ID, "event", frame.Event, "error", err)
		return
	}
	s.sendError(client, ClientMessage(err))
}

// SendConnected tells client its session id.
func (s *Service) SendConnected(client *broadcast.Client) {
	frame, err := EncodeFrame(EventConnected, ConnectedPayload{SessionID: client.ID, Username: client.Identity})
	if err != nil {
		return
	}
	s.hub.Send(client.ID, frame)
}

func (s *Service) sendError(client *broadcast.Client, msg string) {
	frame, err := EncodeFrame(EventError, ErrorPayload{Msg: msg})
	if err != nil {
		return
	}
	if !s.hub.Send(client.ID, frame) {
		s.logger.Debug("Dropped error frame", "sessionID", client.ID, "msg", msg)
	}
}

// ClientMessage returns the text sent to a session for err.
func ClientMessage(err error) string {
	var denied *authz.DeniedError
	switch {
	case errors.As(err, &denied):
		return denied.Error()
	case errors.Is(err, ErrPersistence):
		return ErrPersistence.Error()
	case errors.Is(err, ErrNotAuthenticated):
		return ErrNotAuthenticated.Error()
	case errors.Is(err, ErrRateLimited):
		return ErrRateLimited.Error()
	case errors.Is(err, ErrMessageTooLong):
		return ErrMessageTooLong.Error()
	case errors.Is(err, ErrMessageInvalid):
		return ErrMessageInvalid.Error()
	default:
		return "internal error"
	}
}

func validateRoom(room string) error {
	if room == "" {
		return ErrRoomRequired
	}
	if len(room) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	return nil
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrValidation)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
