package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "FinLearn/pkg/logger"
)

// RequestLogging emits one debug line per request.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	if l == nil {
		l = applogger.Nop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			l.Debug("request",
				applogger.String("method", c.Request().Method),
				applogger.String("route", c.Path()),
				applogger.String("remote", c.RealIP()),
				applogger.Int("code", c.Response().Status),
				applogger.Duration("took", time.Since(start)),
			)
			return err
		}
	}
}

// RouteLabel copies the matched echo route onto the request context for
// the net/http Metrics middleware.
func RouteLabel() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			c.SetRequest(r.WithContext(WithRoute(r.Context(), c.Path())))
			return next(c)
		}
	}
}
