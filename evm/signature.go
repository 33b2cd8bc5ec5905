package evm

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	tollgate "github.com/tollgate-protocol/tollgate-go"
)

// SignatureLength is the expected length of an encoded signature (r, s, v).
const SignatureLength = 65

// DecodeSignature parses a hex-encoded 65-byte signature and normalizes the
// recovery id to 0/1 (accepting the Ethereum 27/28 convention).
func DecodeSignature(sigHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(raw) != SignatureLength {
		return nil, fmt.Errorf("invalid signature length: %d", len(raw))
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	if raw[64] > 1 {
		return nil, fmt.Errorf("invalid recovery id: %d", raw[64])
	}
	return raw, nil
}

// RecoverSigner recovers the address that signed the given digest.
func RecoverSigner(digest []byte, signature []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(digest, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// AuthorizationVerifier is the offline signature verifier for payment
// authorizations. It implements tollgate.SignatureVerifier.
type AuthorizationVerifier struct{}

// Verify reports whether signature is a valid signature of the canonical
// typed-data encoding of auth (with the forced spender) by auth.Owner.
// It is pure and deterministic; any malformed input yields false rather than
// an error.
func (AuthorizationVerifier) Verify(auth tollgate.PaymentAuthorization, signature string, domain tollgate.Domain) bool {
	digest, err := HashPaymentAuthorization(auth, domain)
	if err != nil {
		return false
	}
	sig, err := DecodeSignature(signature)
	if err != nil {
		return false
	}
	recovered, err := RecoverSigner(digest, sig)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered.Hex(), auth.Owner)
}
