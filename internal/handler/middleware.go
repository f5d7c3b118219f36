package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
)

// HeaderCorrelationID carries the correlation id between invoker and worker.
const HeaderCorrelationID = "X-Correlation-ID"

// CorrelationMiddleware stores the caller's correlation id, or the request id, or a new id,
// on the request's user context and echoes it back.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		correlationID := strings.TrimSpace(c.Get(HeaderCorrelationID))
		if correlationID == "" {
			correlationID = requestID(c)
		}

		ctx := c.UserContext()
		if correlationID != "" {
			ctx = observability.WithCorrelationID(ctx, correlationID)
		} else {
			ctx, correlationID = observability.EnsureCorrelationID(ctx)
		}

		c.SetUserContext(ctx)
		c.Set(HeaderCorrelationID, correlationID)
		return c.Next()
	}
}

func requestID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func correlationIDFrom(ctx context.Context) string {
	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	return correlationID
}
