package hosting

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RequestLogMiddleware logs every request's method/path/status/duration.
// Every request is tagged with a request id so a track's error_log rows
// can be cross-referenced against the access log.
func RequestLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("X-Request-ID", reqID)

		start := time.Now()
		err := c.Next()
		duration := time.Since(start)
		status := c.Response().StatusCode()

		if status >= 400 {
			slog.Error("http request", "request_id", reqID, "method", c.Method(), "path", c.Path(), "status", status, "duration", duration.String(), "error", err)
		} else {
			slog.Debug("http request", "request_id", reqID, "method", c.Method(), "path", c.Path(), "status", status, "duration", duration.String())
		}
		return err
	}
}
