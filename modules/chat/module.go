package chat

import (
	"context"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/events"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/example/realtime-chat/modules/ratelimit"
	"github.com/example/realtime-chat/modules/session"
	"github.com/example/realtime-chat/modules/store"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// sweeper is implemented by limiters that keep per-key state in memory.
type sweeper interface {
	Sweep() int
	Len() int
}

// Module hosts the realtime Service and publishes chat events.
type Module struct {
	service       *Service
	registry      *session.Registry
	limiter       ratelimit.Limiter
	sweepInterval time.Duration
	eventBus      mono.EventBus
	cancel        context.CancelFunc
	done          chan struct{}
	logger        types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ Notifier                   = (*Module)(nil)
)

// NewModule creates a new chat module. limiter may be nil.
func NewModule(st store.MessageStore, hub *broadcast.Hub, registry *session.Registry, limiter ratelimit.Limiter, sweepInterval time.Duration, logger types.Logger) *Module {
	m := &Module{
		registry:      registry,
		limiter:       limiter,
		sweepInterval: sweepInterval,
		logger:        logger,
	}

	opts := []Option{WithNotifier(m)}
	if limiter != nil {
		opts = append(opts, WithLimiter(limiter))
	}
	m.service = NewService(st, hub, registry, logger, opts...)
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return "chat"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageSentV1.ToBase(),
		events.RoomCreatedV1.ToBase(),
	}
}

// Start launches the limiter janitor when the limiter keeps state in memory.
func (m *Module) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	s, ok := m.limiter.(sweeper)
	if !ok || m.sweepInterval <= 0 {
		close(m.done)
		m.logger.Info("Chat module started")
		return nil
	}

	go m.sweepLoop(ctx, s)
	m.logger.Info("Chat module started", "limiterSweepInterval", m.sweepInterval.String())
	return nil
}

func (m *Module) sweepLoop(ctx context.Context, s sweeper) {
	defer close(m.done)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				m.logger.Debug("Swept idle rate limit buckets", "removed", removed)
			}
		}
	}
}

// Stop gracefully shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.logger.Info("Chat module stopped")
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	details := map[string]any{
		"sessions":   m.registry.SessionCount(),
		"identities": m.registry.IdentityCount(),
	}
	if s, ok := m.limiter.(sweeper); ok {
		details["rate_limited_keys"] = s.Len()
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: details,
	}
}

// Service returns the realtime service used by the transport.
func (m *Module) Service() *Service {
	return m.service
}

// MessageSent publishes MessageSentV1. Publishing is best effort: the
// message is already stored and delivered.
func (m *Module) MessageSent(msg *domain.Message, recipients int) {
	if m.eventBus == nil {
		return
	}
	event := events.MessageSentEvent{
		Room:       msg.Room,
		Username:   msg.Username,
		Length:     len(msg.Text),
		Direct:     domain.IsDM(msg.Room),
		Recipients: recipients,
		Timestamp:  msg.Timestamp,
	}
	if err := events.MessageSentV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish MessageSent event", "room", msg.Room, "error", err)
	}
}

// PublishRoomCreated publishes RoomCreatedV1.
func (m *Module) PublishRoomCreated(name, createdBy string) error {
	if m.eventBus == nil {
		return nil
	}
	return events.RoomCreatedV1.Publish(m.eventBus, events.RoomCreatedEvent{
		RoomName:  name,
		CreatedBy: createdBy,
		Timestamp: time.Now().UTC(),
	}, nil)
}
