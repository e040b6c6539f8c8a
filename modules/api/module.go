package api

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/example/realtime-chat/modules/activity"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/example/realtime-chat/modules/chat"
	"github.com/example/realtime-chat/modules/session"
	"github.com/example/realtime-chat/modules/store"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// TokenService issues and verifies credentials.
type TokenService interface {
	Issue(identity string, now time.Time) (string, error)
	Verify(credential string, now time.Time) (string, error)
	TokenTTL() time.Duration
}

// PasswordService hashes and checks passwords.
type PasswordService interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// RoomPublisher announces newly created rooms.
type RoomPublisher interface {
	PublishRoomCreated(name, createdBy string) error
}

// ActivityReader exposes aggregated chat activity.
type ActivityReader interface {
	Summary() activity.Summary
}

// Config holds the HTTP server settings.
type Config struct {
	Port               int
	CORSAllowedOrigins string
	StaticDir          string
	SessionSendBuffer  int
}

// Deps are the collaborators the API serves.
type Deps struct {
	Store     store.Store
	Tokens    TokenService
	Passwords PasswordService
	Chat      *chat.Service
	Hub       *broadcast.Hub
	Registry  *session.Registry
	Rooms     RoomPublisher
	Activity  ActivityReader
}

// APIModule is the HTTP API module with WebSocket support.
type APIModule struct {
	app      *fiber.App
	config   Config
	deps     Deps
	validate *validator.Validate
	now      func() time.Time
	logger   types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule. The Fiber app and its routes are built
// immediately; Start only begins listening.
func NewModule(config Config, deps Deps, logger types.Logger) *APIModule {
	if config.SessionSendBuffer <= 0 {
		config.SessionSendBuffer = broadcast.DefaultSendBuffer
	}
	m := &APIModule{
		config:   config,
		deps:     deps,
		validate: validator.New(),
		now:      time.Now,
		logger:   logger,
	}

	m.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		UnescapePath:          true,
		ErrorHandler:          customErrorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	m.app.Use(recover.New())
	m.app.Use(loggerMiddleware(logger))
	m.app.Use(cors.New(cors.Config{
		AllowOrigins: config.CORSAllowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	m.setupRoutes()
	return m
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// App returns the underlying Fiber app.
func (m *APIModule) App() *fiber.App {
	return m.app
}

// Start starts the HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	addr := fmt.Sprintf(":%d", m.config.Port)
	errChan := make(chan error, 1)
	go func() {
		if err := m.app.Listen(addr); err != nil {
			errChan <- err
		}
	}()

	// Give the listener a moment to fail fast on a taken port.
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("HTTP server started", "addr", addr)
	return nil
}

// Stop shuts down the HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	m.logger.Info("Shutting down HTTP server")
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Health returns the health status.
func (m *APIModule) Health(ctx context.Context) mono.HealthStatus {
	healthy := true
	message := "operational"
	if err := m.deps.Store.Ping(ctx); err != nil {
		healthy = false
		message = "database unreachable"
	}
	return mono.HealthStatus{
		Healthy: healthy,
		Message: message,
		Details: map[string]any{
			"port":              m.config.Port,
			"database":          m.deps.Store.Driver(),
			"connected_clients": m.deps.Hub.ClientCount(),
			"sessions":          m.deps.Registry.SessionCount(),
			"online_users":      m.deps.Registry.IdentityCount(),
		},
	}
}

func (m *APIModule) staticDirExists() bool {
	if m.config.StaticDir == "" {
		return false
	}
	info, err := os.Stat(m.config.StaticDir)
	return err == nil && info.IsDir()
}
