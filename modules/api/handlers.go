package api

import (
	"errors"
	"path/filepath"
	"strings"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/example/realtime-chat/modules/authz"
	"github.com/example/realtime-chat/modules/identity"
	"github.com/example/realtime-chat/modules/store"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const maxHistoryLimit = 1000

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes() {
	m.app.Get("/health", m.healthHandler)
	m.app.Get("/activity", m.activityHandler)

	m.app.Post("/signup", m.signup)
	m.app.Post("/login", m.login)
	m.app.Get("/users", m.listUsers)
	m.app.Get("/rooms", m.listRooms)
	m.app.Post("/rooms", m.createRoom)
	m.app.Get("/messages/:room", m.getMessages)
	m.app.Get("/dm_room/:other", m.requireIdentity(), m.getDMRoom)

	// WebSocket endpoint
	m.app.Use("/ws", m.upgradeMiddleware)
	m.app.Get("/ws", websocket.New(m.handleWebSocket))

	if m.staticDirExists() {
		m.app.Static("/", m.config.StaticDir)
		m.app.Get("/*", func(c *fiber.Ctx) error {
			return c.SendFile(filepath.Join(m.config.StaticDir, "index.html"))
		})
	}
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	status := m.Health(c.UserContext())
	response := HealthResponse{Status: "healthy", Details: status.Details}
	if !status.Healthy {
		response.Status = "unhealthy"
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}
	return c.JSON(response)
}

// activityHandler handles GET /activity.
func (m *APIModule) activityHandler(c *fiber.Ctx) error {
	return c.JSON(m.deps.Activity.Summary())
}

// signup handles POST /signup.
func (m *APIModule) signup(c *fiber.Ctx) error {
	var req SignupRequest
	if err := c.BodyParser(&req); err != nil || m.validate.Struct(req) != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "username and password required"})
	}

	if err := identity.CheckPassword(req.Password); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	hash, err := m.deps.Passwords.Hash(req.Password)
	if err != nil {
		m.logger.Error("Failed to hash password", "error", err)
		return fiber.ErrInternalServerError
	}

	user, err := m.deps.Store.CreateUser(c.UserContext(), req.Username, hash)
	if errors.Is(err, store.ErrUserExists) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "user exists"})
	}
	if err != nil {
		m.logger.Error("Failed to create user", "username", req.Username, "error", err)
		return fiber.ErrInternalServerError
	}

	token, err := m.deps.Tokens.Issue(user.Username, m.now())
	if err != nil {
		m.logger.Error("Failed to issue token", "username", user.Username, "error", err)
		return fiber.ErrInternalServerError
	}

	m.logger.Info("User signed up", "username", user.Username)
	return c.Status(fiber.StatusCreated).JSON(SignupResponse{
		Username: user.Username,
		Token:    token,
	})
}

// login handles POST /login.
func (m *APIModule) login(c *fiber.Ctx) error {
	invalid := func() error {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: "invalid credentials"})
	}

	var req LoginRequest
	if err := c.BodyParser(&req); err != nil || m.validate.Struct(req) != nil {
		return invalid()
	}

	user, err := m.deps.Store.FindUser(c.UserContext(), req.Username)
	if errors.Is(err, store.ErrUserNotFound) {
		return invalid()
	}
	if err != nil {
		m.logger.Error("Failed to load user", "username", req.Username, "error", err)
		return fiber.ErrInternalServerError
	}
	if !m.deps.Passwords.Verify(req.Password, user.PasswordHash) {
		return invalid()
	}

	token, err := m.deps.Tokens.Issue(user.Username, m.now())
	if err != nil {
		m.logger.Error("Failed to issue token", "username", user.Username, "error", err)
		return fiber.ErrInternalServerError
	}

	return c.JSON(LoginResponse{
		Username:    user.Username,
		AccessToken: token,
		ExpiresIn:   int64(m.deps.Tokens.TokenTTL().Seconds()),
	})
}

// listUsers handles GET /users.
func (m *APIModule) listUsers(c *fiber.Ctx) error {
	names, err := m.deps.Store.ListUsernames(c.UserContext())
	if err != nil {
		m.logger.Error("Failed to list users", "error", err)
		return fiber.ErrInternalServerError
	}
	return c.JSON(nonNil(names))
}

// listRooms handles GET /rooms.
func (m *APIModule) listRooms(c *fiber.Ctx) error {
	names, err := m.deps.Store.ListRoomNames(c.UserContext())
	if err != nil {
		m.logger.Error("Failed to list rooms", "error", err)
		return fiber.ErrInternalServerError
	}
	return c.JSON(nonNil(names))
}

// createRoom handles POST /rooms.
func (m *APIModule) createRoom(c *fiber.Ctx) error {
	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "name required"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := m.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "name required"})
	}
	if domain.IsDM(req.Name) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid room name",
			Message: "room names may not start with " + domain.DMPrefix,
		})
	}

	room, err := m.deps.Store.CreateRoom(c.UserContext(), req.Name)
	if errors.Is(err, store.ErrRoomExists) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "room exists"})
	}
	if err != nil {
		m.logger.Error("Failed to create room", "room", req.Name, "error", err)
		return fiber.ErrInternalServerError
	}

	createdBy := ""
	if who, err := m.authenticate(c); err == nil {
		createdBy = who
	}
	if err := m.deps.Rooms.PublishRoomCreated(room.Name, createdBy); err != nil {
		m.logger.Warn("Failed to publish room created event", "room", room.Name, "error", err)
	}

	return c.Status(fiber.StatusCreated).JSON(RoomResponse{Name: room.Name})
}

// getMessages handles GET /messages/:room. DM history is only served to
// the two participants.
func (m *APIModule) getMessages(c *fiber.Ctx) error {
	room := c.Params("room")
	if domain.IsDM(room) {
		who, err := m.authenticate(c)
		if err != nil {
			return unauthorized(c, err)
		}
		if err := authz.Authorize(who, room, authz.ActionJoin); err != nil {
			return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: err.Error()})
		}
	}

	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		limit = 0
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	messages, err := m.deps.Store.History(c.UserContext(), room, limit)
	if err != nil {
		m.logger.Error("Failed to load history", "room", room, "error", err)
		return fiber.ErrInternalServerError
	}

	response := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		response = append(response, MessageResponse{
			Username:  msg.Username,
			Text:      msg.Text,
			Timestamp: msg.Timestamp,
			Room:      msg.Room,
		})
	}
	return c.JSON(response)
}

// getDMRoom handles GET /dm_room/:other.
func (m *APIModule) getDMRoom(c *fiber.Ctx) error {
	me, _ := c.Locals(identityLocalsKey).(string)
	other := c.Params("other")

	if _, err := m.deps.Store.FindUser(c.UserContext(), other); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "user not found"})
		}
		m.logger.Error("Failed to load user", "username", other, "error", err)
		return fiber.ErrInternalServerError
	}

	return c.JSON(DMRoomResponse{Room: domain.CanonicalDM(me, other)})
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
