package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/enikshay/casetools/internal/platform/auth"
	"github.com/enikshay/casetools/internal/platform/db"
)

// Logger writes one access log line per request. Handler errors are logged at
// error level; 4xx echo errors at warn.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			evt := logger.Info()
			switch {
			case err != nil && status < 500:
				evt = logger.Warn().Err(err)
			case err != nil:
				evt = logger.Error().Err(err)
			}

			ctx := c.Request().Context()
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("domain", db.DomainFromContext(ctx)).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
