package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/llamaedge/nexus-gateway/internal/observability"
)

// requestIDMiddleware honors an inbound x-request-id header (spec §6) or
// mints one, and attaches it to the request context for every downstream
// log statement via observability.WithRequestID.
func requestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get("x-request-id")
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set("x-request-id", id)
			ctx := observability.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// requestLoggerMiddleware emits one structured log line per request,
// grounded on the teacher's observability package trace-tagged logger.
func requestLoggerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger := observability.LoggerWithTrace(c.Request().Context())
			event := logger.Info()
			if err != nil {
				event = logger.Error()
			}
			event.
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Int("status", c.Response().Status).
				Dur("elapsed", time.Since(start)).
				Msg("http_request")
			return err
		}
	}
}
