// Package evm provides the EVM-specific half of the tollgate protocol:
// EIP-712 digest construction, offline signature verification and on-chain
// settlement verification against the settlement contract.
package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	tollgate "github.com/tollgate-protocol/tollgate-go"
)

// HashTypedData hashes EIP-712 typed data according to the specification.
// The digest is keccak256("\x19\x01" + domainSeparator + structHash) and is
// what gets signed or recovered against.
func HashTypedData(
	domain tollgate.Domain,
	types map[string][]tollgate.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// HashPaymentAuthorization computes the EIP-712 digest a caller must sign for
// a payment authorization. The `spender` field is always the domain's
// verifying contract; it is never taken from caller input, so a signature
// cannot be redirected to a different contract.
func HashPaymentAuthorization(auth tollgate.PaymentAuthorization, domain tollgate.Domain) ([]byte, error) {
	value, err := auth.ValueBig()
	if err != nil {
		return nil, err
	}
	deadline, err := auth.DeadlineUnix()
	if err != nil {
		return nil, err
	}
	nonce, err := auth.NonceBytes()
	if err != nil {
		return nil, err
	}

	message := map[string]interface{}{
		"owner":     common.HexToAddress(auth.Owner).Hex(),
		"spender":   common.HexToAddress(domain.VerifyingContract).Hex(),
		"recipient": common.HexToAddress(auth.Recipient).Hex(),
		"value":     value,
		"deadline":  new(big.Int).SetInt64(deadline),
		"nonce":     nonce[:],
	}

	return HashTypedData(domain, tollgate.AuthorizationTypes(), tollgate.PrimaryType, message)
}
