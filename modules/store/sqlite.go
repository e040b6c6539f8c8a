package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/example/realtime-chat/domain/chat"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteStore is the GORM backed SQLite implementation of Store.
type SQLiteStore struct {
	db   *gorm.DB
	opts options
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating when needed) the SQLite database at path and
// migrates the schema.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// An in-memory database exists per connection.
	if strings.Contains(path, ":memory:") {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&chat.User{}, &chat.Room{}, &chat.Message{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db, opts: buildOptions(opts)}, nil
}

// Driver returns the backend name.
func (s *SQLiteStore) Driver() string {
	return "sqlite"
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append stores a message.
func (s *SQLiteStore) Append(ctx context.Context, room, author, text string) (*chat.Message, error) {
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
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

// History returns the room's messages oldest first.
func (s *SQLiteStore) History(ctx context.Context, room string, limit int) ([]chat.Message, error) {
	var messages []chat.Message
	query := s.db.WithContext(ctx).Where("room_name = ?", room)

	if limit <= 0 {
		if err := query.Order("timestamp ASC").Order("id ASC").Find(&messages).Error; err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		return messages, nil
	}

	if err := query.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

// CreateUser creates an account.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*chat.User, error) {
	user := &chat.User{Username: username, PasswordHash: passwordHash}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// FindUser retrieves an account by username.
func (s *SQLiteStore) FindUser(ctx context.Context, username string) (*chat.User, error) {
	var user chat.User
	if err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// ListUsernames returns all usernames in ascending order.
func (s *SQLiteStore) ListUsernames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).Model(&chat.User{}).Order("username ASC").Pluck("username", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return names, nil
}

// CreateRoom creates a named room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name string) (*chat.Room, error) {
	room := &chat.Room{Name: name}
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrRoomExists
		}
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

// ListRoomNames returns all room names in ascending order.
func (s *SQLiteStore) ListRoomNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).Model(&chat.Room{}).Order("name ASC").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return names, nil
}

// EnsureRooms creates the given rooms when missing.
func (s *SQLiteStore) EnsureRooms(ctx context.Context, names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		room := chat.Room{Name: name}
		if err := s.db.WithContext(ctx).Where(chat.Room{Name: name}).FirstOrCreate(&room).Error; err != nil {
			return fmt.Errorf("failed to ensure room %q: %w", name, err)
		}
	}
	return nil
}
