package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/aura/api/internal/auth"
	"github.com/aura/api/pkg/response"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	authenticator *auth.Authenticator
}

// NewAuthMiddleware creates auth middleware backed by JWKS and/or legacy HMAC verification
func NewAuthMiddleware(authenticator *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
	}
}

// Authenticate validates the JWT from the Authorization header. WebSocket
// upgrades may pass it as the token query parameter instead, since browsers
// cannot set headers on them.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, msg := BearerToken(c)
		if tokenString == "" {
			return response.Unauthorized(c, msg)
		}

		identity, err := m.authenticator.Authenticate(tokenString)
		if err != nil {
			if errors.Is(err, auth.ErrNotConfigured) {
				return response.Unauthorized(c, "Authentication not configured")
			}
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals("userId", identity.UserID)
		c.Locals("email", identity.Email)
		c.Locals("name", identity.Name)
		return c.Next()
	}
}

// BearerToken extracts the bearer token, or returns an empty token and the reason
func BearerToken(c *fiber.Ctx) (string, string) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		if websocket.IsWebSocketUpgrade(c) {
			if token := c.Query("token"); token != "" {
				return token, ""
			}
		}
		return "", "Missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", "Invalid authorization header format"
	}
	return parts[1], ""
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}

// GetUserName extracts user name from context
func GetUserName(c *fiber.Ctx) string {
	if name, ok := c.Locals("name").(string); ok {
		return name
	}
	return ""
}
