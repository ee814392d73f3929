package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/invoice-importer/internal/observability"
)

const requestIDLocal = "requestid"

// RequestIDMiddleware reuses the caller's X-Request-ID or assigns a new one,
// echoes it back and stores it as the correlation id on the user context.
func RequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Locals(requestIDLocal, requestID)
		c.Set(fiber.HeaderXRequestID, requestID)
		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), requestID))

		return c.Next()
	}
}

func RequestID(c *fiber.Ctx) string {
	if value, ok := c.Locals(requestIDLocal).(string); ok {
		return value
	}
	return ""
}
