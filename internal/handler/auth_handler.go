package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/snapsell/api/internal/auth"
)

// AuthHandler answers the gateway's ForwardAuth calls
type AuthHandler struct {
	authenticator *auth.Authenticator
}

func NewAuthHandler(verifier auth.TokenVerifier, jwtSecret string) *AuthHandler {
	return &AuthHandler{authenticator: auth.NewAuthenticator(verifier, jwtSecret)}
}

// Verify handles GET /auth/verify. It returns 200 with X-User-* headers
// on success and 401 otherwise.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token, ok := auth.BearerToken(c.Get("Authorization"))
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	identity, err := h.authenticator.Authenticate(token)
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
