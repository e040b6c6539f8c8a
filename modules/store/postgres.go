package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/example/realtime-chat/domain/chat"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(80) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		room_name VARCHAR(200) NOT NULL,
		username VARCHAR(80) NOT NULL,
		text TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages (room_name, timestamp, id)`,
}

// PostgresStore is the pgx backed Postgres implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to Postgres, verifies the connection and creates the
// schema when missing.
func OpenPostgres(ctx context.Context, databaseURL string, opts ...Option) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return &PostgresStore{pool: pool, opts: buildOptions(opts)}, nil
}

// Driver returns the backend name.
func (s *PostgresStore) Driver() string {
	return "postgres"
}

// Ping verifies the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Append stores a message.
func (s *PostgresStore) Append(ctx context.Context, room, author, text string) (*chat.Message, error) {
	text = normalizeText(text)
	if text == "" {
		return nil, nil
	}

	msg := &chat.Message{
		Room:      room,
		Username:  author,
		Text:      text,
		Timestamp: s.opts.stamp(),
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (room_name, username, text, timestamp) VALUES ($1, $2, $3, $4) RETURNING id`,
		msg.Room, msg.Username, msg.Text, msg.Timestamp,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	msg.ID = uint(id)
	return msg, nil
}

// History returns the room's messages oldest first.
func (s *PostgresStore) History(ctx context.Context, room string, limit int) ([]chat.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit <= 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT id, room_name, username, text, timestamp FROM messages
			WHERE room_name = $1 ORDER BY timestamp ASC, id ASC`, room)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, room_name, username, text, timestamp FROM messages
			WHERE room_name = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`, room, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		var (
			m  chat.Message
			id int64
		)
		if err := row.Scan(&id, &m.Room, &m.Username, &m.Text, &m.Timestamp); err != nil {
			return m, err
		}
		m.ID = uint(id)
		m.Timestamp = m.Timestamp.UTC()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	if limit > 0 {
		slices.Reverse(messages)
	}
	return messages, nil
}

// CreateUser creates an account.
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*chat.User, error) {
	user := &chat.User{Username: username, PasswordHash: passwordHash}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, created_at`,
		username, passwordHash,
	).Scan(&id, &user.CreatedAt)
	if err != nil {
		if isPgDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.ID = uint(id)
	return user, nil
}

// FindUser retrieves an account by username.
func (s *PostgresStore) FindUser(ctx context.Context, username string) (*chat.User, error) {
	var (
		user chat.User
		id   int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username,
	).Scan(&id, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	user.ID = uint(id)
	return &user, nil
}

// ListUsernames returns all usernames in ascending order.
func (s *PostgresStore) ListUsernames(ctx context.Context) ([]string, error) {
	return s.listNames(ctx, `SELECT username FROM users ORDER BY username ASC`)
}

// CreateRoom creates a named room.
func (s *PostgresStore) CreateRoom(ctx context.Context, name string) (*chat.Room, error) {
	room := &chat.Room{Name: name}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO rooms (name) VALUES ($1) RETURNING id, created_at`, name,
	).Scan(&id, &room.CreatedAt)
	if err != nil {
		if isPgDuplicateKeyError(err) {
			return nil, ErrRoomExists
		}
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	room.ID = uint(id)
	return room, nil
}

// ListRoomNames returns all room names in ascending order.
func (s *PostgresStore) ListRoomNames(ctx context.Context) ([]string, error) {
	return s.listNames(ctx, `SELECT name FROM rooms ORDER BY name ASC`)
}

// EnsureRooms creates the given rooms when missing.
func (s *PostgresStore) EnsureRooms(ctx context.Context, names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO rooms (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("failed to ensure room %q: %w", name, err)
		}
	}
	return nil
}

func (s *PostgresStore) listNames(ctx context.Context, query string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list names: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list names: %w", err)
	}
	return names, nil
}

// isPgDuplicateKeyError checks if error is a PostgreSQL unique violation.
func isPgDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
