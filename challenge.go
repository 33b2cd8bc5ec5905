package tollgate

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// DefaultChallengeWindow is how far in the future a challenge deadline is set.
const DefaultChallengeWindow = 10 * time.Minute

// ChallengeBuilder constructs the unsigned payment terms returned to an
// unauthenticated caller. It has no side effects; output is a pure function
// of configuration and randomness.
type ChallengeBuilder struct {
	resolver PriceResolver
	domain   Domain
	token    string
	window   time.Duration
	now      func() time.Time
}

// ChallengeOption customizes a ChallengeBuilder.
type ChallengeOption func(*ChallengeBuilder)

// WithChallengeWindow overrides the deadline window.
func WithChallengeWindow(window time.Duration) ChallengeOption {
	return func(b *ChallengeBuilder) {
		b.window = window
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) ChallengeOption {
	return func(b *ChallengeBuilder) {
		b.now = now
	}
}

// NewChallengeBuilder creates a challenge builder for the given domain and
// payment token.
func NewChallengeBuilder(resolver PriceResolver, domain Domain, token string, opts ...ChallengeOption) (*ChallengeBuilder, error) {
	if resolver == nil {
		return nil, fmt.Errorf("price resolver is required")
	}
	if domain.ChainID == nil {
		return nil, fmt.Errorf("domain chain id is required")
	}
	if domain.VerifyingContract == "" {
		return nil, fmt.Errorf("domain verifying contract is required")
	}
	b := &ChallengeBuilder{
		resolver: resolver,
		domain:   domain,
		token:    token,
		window:   DefaultChallengeWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NewChallenge builds the 402 payment terms for a route. The owner field
// defaults to the zero address when the caller has not declared one; the
// caller must fill it in before signing. Each call draws a fresh random
// 256-bit nonce.
func (b *ChallengeBuilder) NewChallenge(routeID, owner string) (PaymentChallenge, error) {
	nonce, err := newNonce()
	if err != nil {
		return PaymentChallenge{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	if owner == "" {
		owner = ZeroAddress
	}

	price, recipient := b.resolver.Resolve(routeID)
	deadline := b.now().Add(b.window).Unix()

	return PaymentChallenge{
		Error:              ReasonPaymentRequired,
		Message:            "payment required to access this route",
		RouteID:            routeID,
		ChainID:            b.domain.ChainID.String(),
		SettlementContract: b.domain.VerifyingContract,
		Token:              b.token,
		Authorization: PaymentAuthorization{
			Owner:     owner,
			Recipient: recipient,
			Value:     price,
			Deadline:  strconv.FormatInt(deadline, 10),
			Nonce:     nonce,
		},
		Domain: b.domain,
		Types:  AuthorizationTypes(),
	}, nil
}

// newNonce returns 32 random bytes as a 0x-prefixed hex string.
func newNonce() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(raw[:]), nil
}
