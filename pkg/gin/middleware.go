// Package gin provides Gin-compatible middleware for tollgate payment
// gating. It is a thin adapter over the http package's gate: it translates
// gin.Context in and out and delegates every gating decision.
package gin

import (
	"github.com/gin-gonic/gin"

	tollgatehttp "github.com/tollgate-protocol/tollgate-go/http"
)

// PaymentContextKey is the gin context key for the verification context of a
// granted request.
const PaymentContextKey = "tollgate_payment"

// PaymentMiddleware wraps handlers with payment gating. On denial the
// handler chain is aborted with the gate's status and body; on grant the
// verification context is available both via c.Get(PaymentContextKey) and
// tollgatehttp.FromContext on the request context.
func PaymentMiddleware(gate *tollgatehttp.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := gate.Evaluate(
			c.Request.Context(),
			c.Request.URL.Path,
			c.GetHeader(tollgatehttp.OwnerHeader),
			c.GetHeader(tollgatehttp.PaymentHeader),
		)
		if !decision.Allow {
			c.AbortWithStatusJSON(decision.Status, decision.Body)
			return
		}
		if decision.Context != nil {
			c.Set(PaymentContextKey, decision.Context)
			c.Request = c.Request.WithContext(
				tollgatehttp.WithVerification(c.Request.Context(), decision.Context))
		}
		c.Next()
	}
}
