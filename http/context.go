package http

import (
	"context"

	tollgate "github.com/tollgate-protocol/tollgate-go"
)

type verificationContextKey struct{}

// WithVerification attaches a verification context to a request context.
func WithVerification(ctx context.Context, vc *tollgate.VerificationContext) context.Context {
	return context.WithValue(ctx, verificationContextKey{}, vc)
}

// FromContext retrieves the verification context attached to a granted
// request. ok is false when the request was not payment-verified (for
// example an advisory route with no proof).
func FromContext(ctx context.Context) (*tollgate.VerificationContext, bool) {
	vc, ok := ctx.Value(verificationContextKey{}).(*tollgate.VerificationContext)
	return vc, ok
}
