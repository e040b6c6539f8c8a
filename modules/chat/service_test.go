package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/example/realtime-chat/modules/session"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

// memoryStore is an in-memory MessageStore with an injectable failure.
type memoryStore struct {
	mu       sync.Mutex
	messages []domain.Message
	nextID   uint
	fail     error
}

func (s *memoryStore) Append(_ context.Context, room, author, text string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	s.nextID++
	msg := domain.Message{ID: s.nextID, Room: room, Username: author, Text: text, Timestamp: time.Now().UTC()}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *memoryStore) History(_ context.Context, room string, _ int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.Room == room {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// fakeConn records written frames.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) frameList() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, 0, len(c.frames))
	for _, raw := range c.frames {
		var f Frame
		if err := json.Unmarshal(raw, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

type countingLimiter struct {
	allowed int
	err     error
	calls   int
	mu      sync.Mutex
}

func (l *countingLimiter) Allow(_ context.Context, _ string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return false, l.err
	}
	return l.calls <= l.allowed, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) MessageSent(msg *domain.Message, recipients int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, fmt.Sprintf("%s:%s:%d", msg.Room, msg.Text, recipients))
}

type testEnv struct {
	service  *Service
	store    *memoryStore
	hub      *broadcast.Hub
	registry *session.Registry
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	st := &memoryStore{}
	hub := broadcast.NewHub(&mockLogger{})
	registry := session.NewRegistry()
	return &testEnv{
		service:  NewService(st, hub, registry, &mockLogger{}, opts...),
		store:    st,
		hub:      hub,
		registry: registry,
	}
}

func (e *testEnv) connect(t *testing.T, id, identity string) (*broadcast.Client, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	client := broadcast.NewClient(id, identity, conn, 1024)
	require.NoError(t, e.service.Connect(client))
	go client.WritePump()
	t.Cleanup(func() {
		e.service.Disconnect(client)
		client.Wait()
	})
	return client, conn
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	raw, err := EncodeFrame(event, data)
	require.NoError(t, err)
	return raw
}

// settle gives write pumps time to flush queued frames.
func settle() {
	time.Sleep(30 * time.Millisecond)
}

func waitFrames(t *testing.T, conn *fakeConn, n int) []Frame {
	t.Helper()
	var frames []Frame
	require.Eventually(t, func() bool {
		frames = conn.frameList()
		return len(frames) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d frames", n)
	return frames
}

func decodeReceive(t *testing.T, f Frame) ReceiveMessagePayload {
	t.Helper()
	require.Equal(t, EventReceiveMessage, f.Event)
	var p ReceiveMessagePayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	return p
}

func decodeError(t *testing.T, f Frame) string {
	t.Helper()
	require.Equal(t, EventError, f.Event)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	return p.Msg
}

func TestService_ConnectRequiresIdentity(t *testing.T) {
	env := newTestEnv(t)
	client := broadcast.NewClient("s1", "", &fakeConn{}, 4)

	err := env.service.Connect(client)

	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, 0, env.registry.SessionCount())
	assert.Equal(t, 0, env.hub.ClientCount())
}

func TestService_NamedRoomBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, aliceConn := env.connect(t, "s-alice", "alice")
	bob, bobConn := env.connect(t, "s-bob", "bob")
	_, carolConn := env.connect(t, "s-carol", "carol")

	env.service.HandleFrame(ctx, alice, frame(t, EventJoinRoom, RoomPayload{Room: "General"}))
	env.service.HandleFrame(ctx, bob, frame(t, EventJoinRoom, RoomPayload{Room: "General"}))
	env.service.HandleFrame(ctx, alice, frame(t, EventSendMessage, SendMessagePayload{Room: "General", Text: "  hello  "}))

	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		frames := waitFrames(t, conn, 1)
		p := decodeReceive(t, frames[0])
		assert.Equal(t, "alice", p.Username)
		assert.Equal(t, "hello", p.Text)
		assert.Equal(t, "General", p.Room)
		assert.False(t, p.Timestamp.IsZero())
	}

	settle()
	assert.Empty(t, carolConn.frameList(), "non-member must not receive")

	history, err := env.store.History(ctx, "General", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Text)
}

func TestService_DMAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, aliceConn := env.connect(t, "s-alice", "alice")
	bob, bobConn := env.connect(t, "s-bob", "bob")
	carol, carolConn := env.connect(t, "s-carol", "carol")
	room := domain.CanonicalDM("bob", "alice")

	env.service.HandleFrame(ctx, alice, frame(t, EventJoinRoom, RoomPayload{Room: room}))
	env.service.HandleFrame(ctx, bob, frame(t, EventJoinRoom, RoomPayload{Room: room}))

	env.service.HandleFrame(ctx, carol, frame(t, EventJoinRoom, RoomPayload{Room: room}))
	frames := waitFrames(t, carolConn, 1)
	assert.Equal(t, "not authorized for this DM", decodeError(t, frames[0]))
	assert.Equal(t, 2, env.hub.RoomClientCount(room), "denied join must not change membership")

	env.service.HandleFrame(ctx, carol, frame(t, EventSendMessage, SendMessagePayload{Room: room, Text: "sneaky"}))
	frames = waitFrames(t, carolConn, 2)
	assert.Equal(t, "not allowed to send in this DM", decodeError(t, frames[1]))

	history, err := env.store.History(ctx, room, 0)
	require.NoError(t, err)
	assert.Empty(t, history, "denied send must not be stored")

	env.service.HandleFrame(ctx, bob, frame(t, EventSendMessage, SendMessagePayload{Room: room, Text: "hi alice"}))
	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		p := decodeReceive(t, waitFrames(t, conn, 1)[0])
		assert.Equal(t, "hi alice", p.Text)
		assert.Equal(t, room, p.Room)
	}
}

func TestService_DMDeliveredOnlyToSubscribedSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := domain.CanonicalDM("alice", "bob")
	aliceJoined, aliceJoinedConn := env.connect(t, "s-alice-1", "alice")
	_, aliceIdleConn := env.connect(t, "s-alice-2", "alice")
	bob, bobConn := env.connect(t, "s-bob", "bob")

	env.service.HandleFrame(ctx, aliceJoined, frame(t, EventJoinRoom, RoomPayload{Room: room}))
	env.service.HandleFrame(ctx, aliceJoined, frame(t, EventJoinRoom, RoomPayload{Room: room}))
	require.Equal(t, []string{"s-alice-1"}, env.hub.Subscribers(room))

	// bob is a participant but never joined: his send is stored and delivered,
	// yet none of his sessions receive it.
	env.service.HandleFrame(ctx, bob, frame(t, EventSendMessage, SendMessagePayload{Room: room, Text: "hi alice"}))

	frames := waitFrames(t, aliceJoinedConn, 1)
	assert.Equal(t, "hi alice", decodeReceive(t, frames[0]).Text)

	settle()
	assert.Len(t, aliceJoinedConn.frameList(), 1, "joined session must receive exactly once")
	assert.Empty(t, aliceIdleConn.frameList(), "unjoined session of a participant must not receive")
	assert.Empty(t, bobConn.frameList(), "sender without subscription must not receive")

	history, err := env.store.History(ctx, room, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "bob", history[0].Username)
}

func TestService_NonCanonicalDMDenied(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "s-alice", "alice")

	err := env.service.JoinRoom(alice.ID, "dm:bob:alice")
	assert.EqualError(t, err, "not authorized for this DM")

	_, err = env.service.SendMessage(context.Background(), alice.ID, "dm:bob:alice", "hi")
	assert.EqualError(t, err, "not allowed to send in this DM")
}

func TestService_ValidationIsSilent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, aliceConn := env.connect(t, "s-alice", "alice")
	env.service.HandleFrame(ctx, alice, frame(t, EventJoinRoom, RoomPayload{Room: "General"}))

	inputs := [][]byte{
		frame(t, EventSendMessage, SendMessagePayload{Room: "General", Text: "   "}),
		frame(t, EventSendMessage, SendMessagePayload{Room: "", Text: "hello"}),
		frame(t, EventJoinRoom, RoomPayload{}),
		frame(t, EventLeaveRoom, RoomPayload{}),
		[]byte(`{"event":"send_message"}`),
		[]byte(`{"event":"join_room","data":"General"}`),
	}
	for _, raw := range inputs {
		env.service.HandleFrame(ctx, alice, raw)
	}

	settle()
	assert.Empty(t, aliceConn.frameList())
	history, err := env.store.History(ctx, "General", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestService_BlankTextIsNoop(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "s-alice", "alice")

	msg, err := env.service.SendMessage(context.Background(), alice.ID, "General", "\t \n")

	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestService_InvalidFrames(t *testing.T) {
	env := newTestEnv(t)
	alice, conn := env.connect(t, "s-alice", "alice")

	env.service.HandleFrame(context.Background(), alice, []byte("not json"))
	env.service.HandleFrame(context.Background(), alice, []byte(`{"event":"typing"}`))

	frames := waitFrames(t, conn, 2)
	assert.Equal(t, "invalid message format", decodeError(t, frames[0]))
	assert.Equal(t, "unknown event: typing", decodeError(t, frames[1]))
}

func TestService_StoreFailureAbortsBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, aliceConn := env.connect(t, "s-alice", "alice")
	bob, bobConn := env.connect(t, "s-bob", "bob")
	require.NoError(t, env.service.JoinRoom(alice.ID, "General"))
	require.NoError(t, env.service.JoinRoom(bob.ID, "General"))

	env.store.setFail(errors.New("disk full"))
	env.service.HandleFrame(ctx, alice, frame(t, EventSendMessage, SendMessagePayload{Room: "General", Text: "lost"}))

	frames := waitFrames(t, aliceConn, 1)
	assert.Equal(t, "failed to save message", decodeError(t, frames[0]))
	settle()
	assert.Empty(t, bobConn.frameList(), "failed message must not be broadcast")

	_, err := env.service.SendMessage(ctx, alice.ID, "General", "again")
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestService_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.service.JoinRoom("ghost", "General"), ErrNotAuthenticated)
	assert.ErrorIs(t, env.service.LeaveRoom("ghost", "General"), ErrNotAuthenticated)
	_, err := env.service.SendMessage(ctx, "ghost", "General", "hi")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, "not authorized", ClientMessage(err))
}

func TestService_LeaveStopsDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, _ := env.connect(t, "s-alice", "alice")
	bob, bobConn := env.connect(t, "s-bob", "bob")

	require.NoError(t, env.service.JoinRoom(bob.ID, "General"))
	require.NoError(t, env.service.LeaveRoom(bob.ID, "General"))
	require.NoError(t, env.service.LeaveRoom(bob.ID, "never-joined"))

	_, err := env.service.SendMessage(ctx, alice.ID, "General", "anyone?")
	require.NoError(t, err)

	settle()
	assert.Empty(t, bobConn.frameList())
}

func TestService_DisconnectCleansUp(t *testing.T) {
	env := newTestEnv(t)
	conn := &fakeConn{}
	client := broadcast.NewClient("s1", "alice", conn, 4)
	require.NoError(t, env.service.Connect(client))
	go client.WritePump()
	require.NoError(t, env.service.JoinRoom("s1", "General"))

	env.service.Disconnect(client)
	client.Wait()

	_, ok := env.registry.Lookup("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, env.registry.IdentityCount())
	assert.Equal(t, 0, env.hub.RoomClientCount("General"))
	assert.ErrorIs(t, env.service.JoinRoom("s1", "General"), ErrNotAuthenticated)
}

func TestService_RateLimit(t *testing.T) {
	limiter := &countingLimiter{allowed: 2}
	env := newTestEnv(t, WithLimiter(limiter))
	ctx := context.Background()
	alice, conn := env.connect(t, "s-alice", "alice")

	for i := 0; i < 3; i++ {
		env.service.HandleFrame(ctx, alice, frame(t, EventSendMessage, SendMessagePayload{Room: "General", Text: fmt.Sprintf("m%d", i)}))
	}

	frames := waitFrames(t, conn, 1)
	assert.Equal(t, "rate limit exceeded", decodeError(t, frames[0]))
	history, err := env.store.History(ctx, "General", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestService_RateLimiterErrorFailsOpen(t *testing.T) {
	env := newTestEnv(t, WithLimiter(&countingLimiter{err: errors.New("redis down")}))
	alice, _ := env.connect(t, "s-alice", "alice")

	msg, err := env.service.SendMessage(context.Background(), alice.ID, "General", "still works")

	require.NoError(t, err)
	require.NotNil(t, msg)
}

func TestService_MessageLimits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, _ := env.connect(t, "s-alice", "alice")

	_, err := env.service.SendMessage(ctx, alice.ID, "General", strings.Repeat("a", MaxMessageLength+1))
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = env.service.SendMessage(ctx, alice.ID, "General", "bad \xff byte")
	assert.ErrorIs(t, err, ErrMessageInvalid)

	err = env.service.JoinRoom(alice.ID, strings.Repeat("r", MaxRoomNameLength+1))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_NotifierReceivesDispatchedMessages(t *testing.T) {
	notifier := &recordingNotifier{}
	env := newTestEnv(t, WithNotifier(notifier))
	ctx := context.Background()
	alice, _ := env.connect(t, "s-alice", "alice")
	require.NoError(t, env.service.JoinRoom(alice.ID, "General"))

	_, err := env.service.SendMessage(ctx, alice.ID, "General", "one")
	require.NoError(t, err)
	_, err = env.service.SendMessage(ctx, alice.ID, "General", " ")
	require.NoError(t, err)

	assert.Equal(t, []string{"General:one:1"}, notifier.sent)
}

func TestService_PerRoomOrderMatchesStoreOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const senders = 8
	const perSender = 25
	var listeners []*fakeConn
	var clients []*broadcast.Client
	for i := 0; i < senders; i++ {
		client, conn := env.connect(t, fmt.Sprintf("s%d", i), fmt.Sprintf("user%d", i))
		require.NoError(t, env.service.JoinRoom(client.ID, "General"))
		clients = append(clients, client)
		listeners = append(listeners, conn)
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *broadcast.Client) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				env.service.HandleFrame(ctx, c, frame(t, EventSendMessage, SendMessagePayload{Room: "General", Text: fmt.Sprintf("%s-%d", c.ID, j)}))
			}
		}(c)
	}
	wg.Wait()

	history, err := env.store.History(ctx, "General", 0)
	require.NoError(t, err)
	require.Len(t, history, senders*perSender)

	for _, conn := range listeners {
		frames := waitFrames(t, conn, senders*perSender)
		for i, f := range frames {
			assert.Equal(t, history[i].Text, decodeReceive(t, f).Text, "frame %d out of store order", i)
		}
	}
}

func TestService_SendConnectedOnlyToRegisteredSessions(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceConn := env.connect(t, "s-alice", "alice")

	env.service.SendConnected(alice)
	frames := waitFrames(t, aliceConn, 1)
	require.Equal(t, EventConnected, frames[0].Event)
	var p ConnectedPayload
	require.NoError(t, json.Unmarshal(frames[0].Data, &p))
	assert.Equal(t, ConnectedPayload{SessionID: "s-alice", Username: "alice"}, p)

	strayConn := &fakeConn{}
	stray := broadcast.NewClient("s-stray", "bob", strayConn, 4)
	go stray.WritePump()
	defer func() {
		stray.Close()
		stray.Wait()
	}()

	env.service.SendConnected(stray)
	env.service.HandleFrame(context.Background(), stray, []byte("{"))
	settle()
	assert.Empty(t, strayConn.frameList(), "unregistered session must not receive frames")
}
