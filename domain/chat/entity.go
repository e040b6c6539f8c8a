package chat

import "time"

// User is a registered account. Username is the identity carried by credentials.
type User struct {
	ID           uint      `gorm:"primarykey" json:"-"`
	Username     string    `gorm:"size:80;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the table name for User model.
func (User) TableName() string {
	return "users"
}

// Room is a named chat room. DM rooms are never stored here.
type Room struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	Name      string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for Room model.
func (Room) TableName() string {
	return "rooms"
}

// Message is a persisted chat message. ID is the insertion order and breaks
// timestamp ties when reading history.
type Message struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	Room      string    `gorm:"column:room_name;size:200;not null;index:idx_messages_room_ts,priority:1" json:"room"`
	Username  string    `gorm:"size:80;not null" json:"username"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Timestamp time.Time `gorm:"not null;index:idx_messages_room_ts,priority:2" json:"timestamp"`
}

// TableName returns the table name for Message model.
func (Message) TableName() string {
	return "messages"
}
