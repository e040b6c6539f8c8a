package api

import (
	"errors"
	"strings"
	"time"

	"github.com/example/realtime-chat/modules/identity"
	"github.com/gofiber/fiber/v2"
	"github.com/go-monolith/mono/pkg/types"
)

const (
	// identityLocalsKey stores the verified identity in the Fiber context.
	identityLocalsKey = "identity"
)

var errCredentialRequired = errors.New("token required")

// credentialFrom returns the credential presented with the request: a bearer
// Authorization header, or the token query parameter.
func credentialFrom(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}

// authenticate verifies the request credential. It returns
// errCredentialRequired when none was presented.
func (m *APIModule) authenticate(c *fiber.Ctx) (string, error) {
	credential := credentialFrom(c)
	if credential == "" {
		return "", errCredentialRequired
	}
	return m.deps.Tokens.Verify(credential, m.now())
}

// unauthorized writes the 401 response for a failed authenticate.
func unauthorized(c *fiber.Ctx, err error) error {
	if errors.Is(err, errCredentialRequired) {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: "token required"})
	}
	return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
		Error:   "invalid token",
		Message: string(identity.ReasonOf(err)),
	})
}

// requireIdentity rejects requests without a valid credential and stores the
// identity in the context.
func (m *APIModule) requireIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		who, err := m.authenticate(c)
		if err != nil {
			return unauthorized(c, err)
		}
		c.Locals(identityLocalsKey, who)
		return c.Next()
	}
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}

// loggerMiddleware returns a Fiber middleware for request logging.
func loggerMiddleware(logger types.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// WebSocket sessions outlive the request; they log on connect instead.
		if c.Get(fiber.HeaderUpgrade) == "websocket" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		logger.Debug("HTTP request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency", time.Since(start).String())
		return err
	}
}
