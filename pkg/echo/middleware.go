// Package echo provides Echo-compatible middleware for tollgate payment
// gating, mirroring the gin adapter.
package echo

import (
	"github.com/labstack/echo/v4"

	tollgatehttp "github.com/tollgate-protocol/tollgate-go/http"
)

// PaymentContextKey is the echo context key for the verification context of a
// granted request.
const PaymentContextKey = "tollgate_payment"

// PaymentMiddleware wraps handlers with payment gating. On denial the
// request ends with the gate's status and body; on grant the verification
// context is available via c.Get(PaymentContextKey) and
// tollgatehttp.FromContext on the request context.
func PaymentMiddleware(gate *tollgatehttp.Gate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			decision := gate.Evaluate(
				req.Context(),
				req.URL.Path,
				req.Header.Get(tollgatehttp.OwnerHeader),
				req.Header.Get(tollgatehttp.PaymentHeader),
			)
			if !decision.Allow {
				return c.JSON(decision.Status, decision.Body)
			}
			if decision.Context != nil {
				c.Set(PaymentContextKey, decision.Context)
				c.SetRequest(req.WithContext(
					tollgatehttp.WithVerification(req.Context(), decision.Context)))
			}
			return next(c)
		}
	}
}
