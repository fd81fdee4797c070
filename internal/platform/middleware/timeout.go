package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on the request context. When the deadline
// passes before the handler returns, the caller gets a 504 and the handler's
// own context is cancelled. A lock wait or a slow query sees the cancellation
// through ctx.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return gatewayTimeout(c)
				}
				return ctx.Err()
			}
		}
	}
}

func gatewayTimeout(c echo.Context) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusGatewayTimeout, errorBody{
		Code:    "timeout",
		Message: "request processing exceeded the allowed time limit",
	})
}
