package api

import (
	"context"

	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// upgradeMiddleware admits only WebSocket upgrades carrying a valid
// credential. Rejected handshakes never create a session.
func (m *APIModule) upgradeMiddleware(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	who, err := m.authenticate(c)
	if err != nil {
		m.logger.Debug("Rejected WebSocket handshake", "reason", err.Error())
		return unauthorized(c, err)
	}
	c.Locals(identityLocalsKey, who)
	return c.Next()
}

// handleWebSocket handles WebSocket connections at /ws.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	identity, _ := c.Locals(identityLocalsKey).(string)
	client := broadcast.NewClient(uuid.NewString(), identity, c, m.config.SessionSendBuffer)

	if err := m.deps.Chat.Connect(client); err != nil {
		m.logger.Warn("Failed to bind session", "error", err)
		return
	}
	go client.WritePump()
	defer func() {
		m.deps.Chat.Disconnect(client)
		// The connection is recycled once this handler returns.
		client.Wait()
	}()

	m.deps.Chat.SendConnected(client)

	ctx := context.Background()
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("Client closed connection", "sessionID", client.ID)
			} else {
				select {
				case <-client.Done():
				default:
					m.logger.Debug("Read error", "sessionID", client.ID, "error", err)
				}
			}
			return
		}
		m.deps.Chat.HandleFrame(ctx, client, raw)
	}
}
