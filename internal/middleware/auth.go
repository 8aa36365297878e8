package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/snapsell/api/internal/auth"
	"github.com/snapsell/api/pkg/response"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	authenticator *auth.Authenticator
	allowQuery    bool
}

// NewAuthMiddleware creates auth middleware with JWKS verification and an
// optional legacy HMAC fallback.
func NewAuthMiddleware(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{authenticator: auth.NewAuthenticator(verifier, jwtSecret)}
}

// NewLegacyAuthMiddleware creates auth middleware using only HMAC signing (for testing/dev)
func NewLegacyAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return NewAuthMiddleware(nil, jwtSecret)
}

// WithQueryToken returns a copy that also accepts the token in the
// access_token query parameter. Browsers cannot set headers on WebSocket
// upgrades.
func (m *AuthMiddleware) WithQueryToken() *AuthMiddleware {
	return &AuthMiddleware{authenticator: m.authenticator, allowQuery: true}
}

// Authenticate validates the bearer token and stores the identity in locals
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := "", false
		if header := c.Get("Authorization"); header != "" {
			token, ok = auth.BearerToken(header)
			if !ok {
				return response.Unauthorized(c, "Invalid authorization header format")
			}
		} else if m.allowQuery {
			token = c.Query("access_token")
			ok = token != ""
		}
		if !ok {
			return response.Unauthorized(c, "Missing authorization header")
		}

		identity, err := m.authenticator.Authenticate(token)
		if err != nil {
			if errors.Is(err, auth.ErrNotConfigured) {
				return response.Unauthorized(c, "Authentication not configured")
			}
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, identity)
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, identity *auth.Identity) {
	c.Locals("userId", identity.UserID)
	c.Locals("email", identity.Email)
	c.Locals("name", identity.Name)
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
