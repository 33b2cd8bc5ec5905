// Package tollgate implements a pay-per-call gating protocol for HTTP APIs.
// A caller must present a signed, on-chain-settled payment authorization
// before a protected handler executes. The package holds the wire types and
// the chain-agnostic pieces: challenge construction, route pricing, the
// replay guard and the background verification pool. Chain-specific
// verification lives in the evm subpackage.
package tollgate

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ZeroAddress is the placeholder owner in a challenge the caller has not yet
// claimed. The caller fills in its own address before signing.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// PrimaryType is the EIP-712 primary type name for payment authorizations.
const PrimaryType = "PaymentAuthorization"

// PaymentAuthorization is the payment terms a caller signs. All numeric
// fields travel as decimal strings and the nonce as 0x-prefixed hex, matching
// the JSON wire encoding.
//
// The typed data that is actually signed additionally contains a `spender`
// field forced to the verifying contract address. It never appears here
// because it is never caller-supplied.
type PaymentAuthorization struct {
	Owner     string `json:"owner"`     // payer address (hex)
	Recipient string `json:"recipient"` // payee address (hex)
	Value     string `json:"value"`     // amount in token units as decimal string
	Deadline  string `json:"deadline"`  // unix seconds as decimal string
	Nonce     string `json:"nonce"`     // 32-byte nonce as hex string
}

// ValueBig parses the authorization value into a big integer.
func (a PaymentAuthorization) ValueBig() (*big.Int, error) {
	v, ok := new(big.Int).SetString(a.Value, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid authorization value: %s", a.Value)
	}
	return v, nil
}

// DeadlineUnix parses the authorization deadline into unix seconds.
func (a PaymentAuthorization) DeadlineUnix() (int64, error) {
	d, err := strconv.ParseInt(a.Deadline, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid authorization deadline: %s", a.Deadline)
	}
	return d, nil
}

// NonceBytes parses the authorization nonce into its 32-byte form.
func (a PaymentAuthorization) NonceBytes() ([32]byte, error) {
	var nonce [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(a.Nonce, "0x"))
	if err != nil {
		return nonce, fmt.Errorf("invalid authorization nonce: %w", err)
	}
	if len(raw) != 32 {
		return nonce, fmt.Errorf("invalid authorization nonce length: %d", len(raw))
	}
	copy(nonce[:], raw)
	return nonce, nil
}

// Domain is the EIP-712 domain separator shared by both protocol peers. Any
// mismatch between the signing and verification sides invalidates recovery.
type Domain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField describes one field of an EIP-712 type.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// AuthorizationTypes returns the EIP-712 type descriptor for
// PaymentAuthorization. It is served inside the challenge so callers can sign
// without hardcoding the schema.
func AuthorizationTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		PrimaryType: {
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "recipient", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}

// Proof is what a caller submits to regain access: the signed authorization
// plus settlement evidence. TxHash is mandatory for any discipline that
// performs on-chain verification. ChainID, when present, must match the
// gate's configured chain.
type Proof struct {
	Authorization   PaymentAuthorization `json:"authorization"`
	Signature       string               `json:"signature"`                 // 65-byte hex signature over the typed data
	PermitSignature string               `json:"permitSignature,omitempty"` // token permit signature, if one was needed
	TxHash          string               `json:"txHash,omitempty"`          // settlement transaction hash
	ChainID         string               `json:"chainId,omitempty"`
}

// PaymentChallenge is the body of a 402 response: the unsigned payment terms
// plus everything a caller needs to sign and settle them.
type PaymentChallenge struct {
	Error              string                      `json:"error"`
	Message            string                      `json:"message"`
	RouteID            string                      `json:"routeId"`
	ChainID            string                      `json:"chainId"`
	SettlementContract string                      `json:"settlementContract"`
	Token              string                      `json:"token"`
	Authorization      PaymentAuthorization        `json:"authorization"`
	Domain             Domain                      `json:"domain"`
	Types              map[string][]TypedDataField `json:"types"`
}

// VerifyResult is the outcome of settlement verification. Failures are data,
// not errors: transient provider trouble degrades to Verified=false with
// ReasonProviderError so the gating decision stays deterministic.
type VerifyResult struct {
	Verified      bool                   `json:"verified"`
	Confirmations uint64                 `json:"confirmations"`
	Reason        string                 `json:"reason,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// VerificationContext is attached to a granted request for the protected
// handler's use. It lives for the duration of the request and is never
// persisted.
type VerificationContext struct {
	Owner         string
	Value         string
	Authorization PaymentAuthorization
	TxHash        string
	Async         bool
	Pending       *PendingVerification // non-nil only under the async discipline
}
