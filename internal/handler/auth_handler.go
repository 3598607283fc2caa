package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/aura/api/internal/auth"
	"github.com/aura/api/internal/middleware"
)

// AuthHandler handles ForwardAuth verification for the API gateway
type AuthHandler struct {
	authenticator *auth.Authenticator
}

// NewAuthHandler creates a new auth handler for ForwardAuth verification
func NewAuthHandler(authenticator *auth.Authenticator) *AuthHandler {
	return &AuthHandler{
		authenticator: authenticator,
	}
}

// Verify handles GET /auth/verify, called by Traefik ForwardAuth.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	tokenString, _ := middleware.BearerToken(c)
	if tokenString == "" {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	identity, err := h.authenticator.Authenticate(tokenString)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", identity.UserID)
	c.Set("X-User-Email", identity.Email)
	if identity.Name != "" {
		c.Set("X-User-Name", identity.Name)
	}
	return c.SendStatus(fiber.StatusOK)
}
