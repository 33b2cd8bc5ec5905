// Package http provides the HTTP surface of the tollgate protocol: the
// gating middleware, proof header validation and the request context plumbing
// for granted requests.
package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"

	tollgate "github.com/tollgate-protocol/tollgate-go"
)

// PaymentHeader carries the base64-encoded proof on gated requests.
const PaymentHeader = "X-PAYMENT"

// OwnerHeader optionally declares the caller's address so the challenge comes
// back with the owner field pre-filled.
const OwnerHeader = "X-PAYMENT-OWNER"

// Base64 regex pattern - requires at least one character
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// proofSchemaJSON is the wire schema for a submitted proof. Anything that
// fails it is a schema error (400), before any parameter or signature checks.
const proofSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["authorization", "signature"],
	"properties": {
		"authorization": {
			"type": "object",
			"required": ["owner", "recipient", "value", "deadline", "nonce"],
			"properties": {
				"owner": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"recipient": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
				"value": {"type": "string", "pattern": "^[0-9]+$"},
				"deadline": {"type": "string", "pattern": "^[0-9]+$"},
				"nonce": {"type": "string", "pattern": "^0x[0-9a-fA-F]{64}$"}
			}
		},
		"signature": {"type": "string", "pattern": "^(0x)?[0-9a-fA-F]{130}$"},
		"permitSignature": {"type": "string", "pattern": "^(0x)?[0-9a-fA-F]{130}$"},
		"txHash": {"type": "string", "pattern": "^0x[0-9a-fA-F]{64}$"},
		"chainId": {"type": "string", "pattern": "^[0-9]+$"}
	}
}`

var proofSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(proofSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid proof schema: %v", err))
	}
	proofSchema = schema
}

// ValidateAndDecodeProofHeader validates and decodes a payment proof header.
// It checks base64 format, JSON structure and the proof schema, and returns
// the decoded Proof if valid.
func ValidateAndDecodeProofHeader(paymentHeader string) (*tollgate.Proof, error) {
	if paymentHeader == "" {
		return nil, fmt.Errorf("payment header is empty")
	}
	if !base64Regex.MatchString(paymentHeader) {
		return nil, fmt.Errorf("invalid payment header format: not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(paymentHeader)
	if err != nil {
		return nil, fmt.Errorf("invalid payment header format: base64 decoding failed - %v", err)
	}

	result, err := proofSchema.Validate(gojsonschema.NewBytesLoader(decoded))
	if err != nil {
		return nil, fmt.Errorf("invalid payment header format: not valid JSON - %v", err)
	}
	if !result.Valid() {
		// Report the first violation; one reason is enough to rebuild the proof.
		return nil, fmt.Errorf("invalid proof: %s", result.Errors()[0].String())
	}

	var proof tollgate.Proof
	if err := json.Unmarshal(decoded, &proof); err != nil {
		return nil, fmt.Errorf("failed to decode proof: %v", err)
	}
	return &proof, nil
}

// EncodeProofHeader encodes a proof into the X-PAYMENT header value.
func EncodeProofHeader(proof tollgate.Proof) (string, error) {
	raw, err := json.Marshal(proof)
	if err != nil {
		return "", fmt.Errorf("failed to encode proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
