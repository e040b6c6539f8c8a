// Package store persists users, rooms and chat history.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/realtime-chat/domain/chat"
)

var (
	// ErrUserExists is returned when a username is already taken.
	ErrUserExists = errors.New("user exists")
	// ErrUserNotFound is returned when a username does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrRoomExists is returned when a room name is already taken.
	ErrRoomExists = errors.New("room exists")
)

// MessageStore is the durable, per-room ordered message log.
type MessageStore interface {
	// Append stores text in room on behalf of author and returns the stored
	// message. Text is trimmed; when nothing remains Append stores nothing
	// and returns (nil, nil).
	Append(ctx context.Context, room, author, text string) (*chat.Message, error)
	// History returns room's messages oldest first. A positive limit keeps
	// only the most recent limit messages.
	History(ctx context.Context, room string, limit int) ([]chat.Message, error)
}

// UserStore manages accounts.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*chat.User, error)
	FindUser(ctx context.Context, username string) (*chat.User, error)
	ListUsernames(ctx context.Context) ([]string, error)
}

// RoomStore manages named rooms.
type RoomStore interface {
	CreateRoom(ctx context.Context, name string) (*chat.Room, error)
	ListRoomNames(ctx context.Context) ([]string, error)
	// EnsureRooms creates the given rooms when missing.
	EnsureRooms(ctx context.Context, names []string) error
}

// Store is a complete backend.
type Store interface {
	MessageStore
	UserStore
	RoomStore
	Driver() string
	Ping(ctx context.Context) error
	Close() error
}

// Option configures a backend.
type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock overrides the time source used to stamp appended messages.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// stamp returns the server timestamp for a message appended now. Precision is
// limited to what every backend can round-trip.
func (o options) stamp() time.Time {
	return o.clock().UTC().Truncate(time.Microsecond)
}

// Open connects to the backend selected by databaseURL: postgres:// and
// postgresql:// use Postgres, anything else is a SQLite path with an optional
// sqlite:// prefix.
func Open(ctx context.Context, databaseURL string, opts ...Option) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return OpenPostgres(ctx, databaseURL, opts...)
	case databaseURL == "":
		return nil, fmt.Errorf("database url is required")
	default:
		return OpenSQLite(SQLitePath(databaseURL), opts...)
	}
}

// SQLitePath turns a database URL into a SQLite file path. sqlite:///name is
// relative, sqlite:////abs/name is absolute, and a bare path is used as is.
func SQLitePath(databaseURL string) string {
	if strings.HasPrefix(databaseURL, "sqlite:///") {
		return strings.TrimPrefix(databaseURL, "sqlite:///")
	}
	return strings.TrimPrefix(databaseURL, "sqlite://")
}

func normalizeText(text string) string {
	return strings.TrimSpace(text)
}
