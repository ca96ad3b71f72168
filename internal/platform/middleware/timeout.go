package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/smartgw/smartgw/internal/fhir"
)

// RequestTimeout sets a context deadline on each inbound request. Upstream
// resource-service calls inherit the deadline through the request context;
// when it expires before the handler completes, the caller gets a 504 with
// an OperationOutcome body. Handlers that legitimately need longer (bulk
// operations) derive their own context.
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
				if ctx.Err() == context.DeadlineExceeded {
					return gatewayTimeoutError(c)
				}
				return ctx.Err()
			}
		}
	}
}

func gatewayTimeoutError(c echo.Context) error {
	if c.Response().Committed {
		return nil
	}
	outcome := fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeTimeout,
		"request processing exceeded the allowed time limit")
	return c.JSON(http.StatusGatewayTimeout, outcome)
}
