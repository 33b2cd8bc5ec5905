// Package evm provides an ECDSA private-key signer for the client side of
// the tollgate protocol: typed-data digests, token permits and settlement
// transactions.
package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs with a single secp256k1 private key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps an existing private key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// NewSignerFromHex creates a signer from a hex-encoded private key, with or
// without the 0x prefix.
func NewSignerFromHex(privateKeyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSigner(key), nil
}

// Address returns the signer's Ethereum address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignDigest signs a 32-byte digest and returns the 65-byte signature with
// the recovery id in the Ethereum 27/28 convention.
func (s *Signer) SignDigest(digest []byte) ([]byte, error) {
	signature, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	signature[64] += 27
	return signature, nil
}

// SignTx signs a transaction for the given chain.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}
