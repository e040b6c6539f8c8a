package activity

import (
	"sort"
	"sync"
	"time"
)

// RoomStats tracks activity in one named room.
type RoomStats struct {
	Room         string    `json:"room"`
	Messages     int64     `json:"messages"`
	Deliveries   int64     `json:"deliveries"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

// Summary is a point-in-time view of chat activity.
type Summary struct {
	TotalMessages  int64       `json:"total_messages"`
	DirectMessages int64       `json:"direct_messages"`
	RoomsCreated   int64       `json:"rooms_created"`
	Rooms          []RoomStats `json:"rooms"`
}

// Tracker provides thread-safe storage for activity counters. DM rooms are
// only counted in aggregate so their participants are never listed.
type Tracker struct {
	mu             sync.RWMutex
	rooms          map[string]*RoomStats
	totalMessages  int64
	directMessages int64
	roomsCreated   int64
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		rooms: make(map[string]*RoomStats),
	}
}

// RecordMessage records a dispatched message.
func (t *Tracker) RecordMessage(room string, direct bool, recipients int, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalMessages++
	if direct {
		t.directMessages++
		return
	}

	stats := t.roomLocked(room)
	stats.Messages++
	stats.Deliveries += int64(recipients)
	if at.After(stats.LastActivity) {
		stats.LastActivity = at
	}
}

// RecordRoomCreated records a new named room.
func (t *Tracker) RecordRoomCreated(room string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.roomsCreated++
	stats := t.roomLocked(room)
	stats.CreatedAt = at
}

func (t *Tracker) roomLocked(room string) *RoomStats {
	stats, ok := t.rooms[room]
	if !ok {
		stats = &RoomStats{Room: room}
		t.rooms[room] = stats
	}
	return stats
}

// Room returns the stats of one room.
func (t *Tracker) Room(room string) (RoomStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats, ok := t.rooms[room]
	if !ok {
		return RoomStats{}, false
	}
	return *stats, true
}

// Summary returns every counter, rooms sorted by name.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rooms := make([]RoomStats, 0, len(t.rooms))
	for _, stats := range t.rooms {
		rooms = append(rooms, *stats)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Room < rooms[j].Room })

	return Summary{
		TotalMessages:  t.totalMessages,
		DirectMessages: t.directMessages,
		RoomsCreated:   t.roomsCreated,
		Rooms:          rooms,
	}
}
