package tollgate

import "context"

// PriceResolver maps a route identifier to its required price and recipient.
// Implementations must be pure and safe for concurrent use: the gate resolves
// at challenge time AND again at verification time, because the price may
// change between the two.
type PriceResolver interface {
	Resolve(routeID string) (price string, recipient string)
}

// SignatureVerifier checks that a payment authorization was signed by its
// owner over the canonical typed-data encoding for the given domain.
// Implementations are offline and deterministic; malformed input is a
// failed verification, never an error.
type SignatureVerifier interface {
	Verify(auth PaymentAuthorization, signature string, domain Domain) bool
}

// SettlementVerifier confirms that a claimed transaction actually settled the
// expected payment terms on-chain. Transient provider failures are reported
// as an unverified result, not returned as errors.
type SettlementVerifier interface {
	Verify(ctx context.Context, txHash string, expected PaymentAuthorization) VerifyResult
}

// ReplayGuard tracks settlement transaction hashes that have already been
// used to gain access. MarkUsed returns false if the hash was seen before.
//
// The settlement contract's own one-time-use check is the authoritative
// replay protection; this guard is an optional second line for deployments
// that want pay-once-use-once semantics enforced at the gate too.
type ReplayGuard interface {
	MarkUsed(txHash string) bool
}
