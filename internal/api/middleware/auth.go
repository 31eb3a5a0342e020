package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

const (
	// APIKeyHeader carries the service key on plain HTTP calls.
	APIKeyHeader = "X-API-Key"
	// APIKeyQuery carries the key on WebSocket upgrades, where browsers
	// cannot set headers.
	APIKeyQuery = "api_key"
)

// Auth creates an authentication middleware comparing the presented key
// against the configured service key.
func Auth(apiKey string) fiber.Handler {
	want := hashAPIKey(apiKey)

	return func(c *fiber.Ctx) error {
		presented := extractAPIKey(c)
		if presented == "" {
			return domain.ErrUnauthorized
		}

		got := hashAPIKey(presented)
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			return domain.ErrUnauthorized
		}

		return c.Next()
	}
}

func extractAPIKey(c *fiber.Ctx) string {
	if key := strings.TrimSpace(c.Get(APIKeyHeader)); key != "" {
		return key
	}
	if key := extractBearerToken(c); key != "" {
		return key
	}
	return strings.TrimSpace(c.Query(APIKeyQuery))
}

// extractBearerToken extracts token from Authorization header
func extractBearerToken(c *fiber.Ctx) string {
	auth := c.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// hashAPIKey gives both sides of the comparison the same length.
func hashAPIKey(apiKey string) [sha256.Size]byte {
	return sha256.Sum256([]byte(apiKey))
}
