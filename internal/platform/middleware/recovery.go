package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/smartgw/smartgw/internal/fhir"
)

// Recovery turns a handler panic into a 500 with an OperationOutcome body,
// so even a crash produces a machine-readable FHIR error.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)

					logger.Error().
						Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")

					if !c.Response().Committed {
						outcome := fhir.NewOperationOutcome(fhir.IssueSeverityFatal,
							fhir.IssueTypeException, "internal server error")
						err = c.JSON(http.StatusInternalServerError, outcome)
					}
				}
			}()
			return next(c)
		}
	}
}
