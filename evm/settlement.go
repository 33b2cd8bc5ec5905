package evm

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	tollgate "github.com/tollgate-protocol/tollgate-go"
)

// SettlementVerifier confirms that a claimed transaction settled the exact
// expected payment terms. It implements tollgate.SettlementVerifier.
//
// Verification is a short-circuiting pipeline: receipt presence,
// confirmation depth, execution status, contract target, then the primary
// event-log match and finally the call-data fallback. Provider errors at any
// step degrade to an unverified result so a transient RPC hiccup reads as
// "not yet verified", not a crash.
type SettlementVerifier struct {
	chain            ChainClient
	contract         common.Address
	chainID          *big.Int
	minConfirmations uint64
}

// NewSettlementVerifier creates a verifier for the given settlement contract.
// minConfirmations trades settlement latency against reorg safety; set it per
// deployment risk tolerance. A value of 0 is treated as 1.
func NewSettlementVerifier(chain ChainClient, contract string, chainID *big.Int, minConfirmations uint64) *SettlementVerifier {
	if minConfirmations == 0 {
		minConfirmations = 1
	}
	return &SettlementVerifier{
		chain:            chain,
		contract:         common.HexToAddress(contract),
		chainID:          chainID,
		minConfirmations: minConfirmations,
	}
}

// Verify checks that txHash settled the expected authorization. The result
// is idempotent with respect to re-checks: a transaction short on
// confirmations verifies once the chain head has advanced far enough.
func (v *SettlementVerifier) Verify(ctx context.Context, txHash string, expected tollgate.PaymentAuthorization) tollgate.VerifyResult {
	expectedValue, err := expected.ValueBig()
	if err != nil {
		return fail(tollgate.ReasonParameterMismatch, map[string]interface{}{"field": "value"})
	}
	expectedDeadline, err := expected.DeadlineUnix()
	if err != nil {
		return fail(tollgate.ReasonParameterMismatch, map[string]interface{}{"field": "deadline"})
	}
	expectedNonce, err := expected.NonceBytes()
	if err != nil {
		return fail(tollgate.ReasonParameterMismatch, map[string]interface{}{"field": "nonce"})
	}

	hash := common.HexToHash(txHash)

	receipt, err := v.chain.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return fail(tollgate.ReasonTransactionNotFound, nil)
	}
	if err != nil {
		return providerFailure(err)
	}

	head, err := v.chain.BlockNumber(ctx)
	if err != nil {
		return providerFailure(err)
	}
	blockNumber := receipt.BlockNumber.Uint64()
	if head < blockNumber {
		// Receipt ahead of our view of the head; treat as unconfirmed.
		return tollgate.VerifyResult{
			Reason: tollgate.ReasonInsufficientConfirmations,
			Details: map[string]interface{}{
				"have": uint64(0),
				"need": v.minConfirmations,
			},
		}
	}
	confirmations := head - blockNumber + 1
	if confirmations < v.minConfirmations {
		return tollgate.VerifyResult{
			Confirmations: confirmations,
			Reason:        tollgate.ReasonInsufficientConfirmations,
			Details: map[string]interface{}{
				"have": confirmations,
				"need": v.minConfirmations,
			},
		}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return tollgate.VerifyResult{Confirmations: confirmations, Reason: tollgate.ReasonTransactionFailed}
	}

	// Receipts do not carry the target address, so fetch the transaction once
	// here; the fallback path reuses it.
	tx, _, err := v.chain.TransactionByHash(ctx, hash)
	if err != nil {
		return providerFailure(err)
	}
	if tx.To() == nil || *tx.To() != v.contract {
		return tollgate.VerifyResult{Confirmations: confirmations, Reason: tollgate.ReasonWrongContract}
	}

	// Primary path: a decodable PaymentSettled event with matching terms.
	for _, log := range receipt.Logs {
		if log.Address != v.contract {
			continue
		}
		event, ok := DecodeSettledEvent(log)
		if !ok {
			continue
		}
		if v.eventMatches(event, expected, expectedValue, expectedNonce) {
			return tollgate.VerifyResult{Verified: true, Confirmations: confirmations}
		}
	}

	// Fallback path: decode the call data against the known settlement
	// functions and bind the sender to the owner. The sender check defends
	// against a third party submitting someone else's authorization in a way
	// that would look valid from call data alone.
	call, err := DecodeSettleCalldata(tx.Data())
	if err != nil {
		return tollgate.VerifyResult{Confirmations: confirmations, Reason: tollgate.ReasonCalldataUnparseable}
	}
	sender, err := types.Sender(types.LatestSignerForChainID(v.chainID), tx)
	if err != nil {
		return providerFailure(err)
	}
	if v.callMatches(call, sender, expected, expectedValue, expectedDeadline, expectedNonce) {
		return tollgate.VerifyResult{Verified: true, Confirmations: confirmations}
	}

	return tollgate.VerifyResult{Confirmations: confirmations, Reason: tollgate.ReasonNoMatchingSettlementEvent}
}

// eventMatches checks a settled event against the expected terms. The
// contract may emit either the net or the gross amount, so the value matches
// when value == expected or value+fee == expected.
func (v *SettlementVerifier) eventMatches(event SettledEvent, expected tollgate.PaymentAuthorization, expectedValue *big.Int, expectedNonce [32]byte) bool {
	if event.Owner != common.HexToAddress(expected.Owner) {
		return false
	}
	if event.Recipient != common.HexToAddress(expected.Recipient) {
		return false
	}
	if event.Nonce != expectedNonce {
		return false
	}
	if event.Value.Cmp(expectedValue) == 0 {
		return true
	}
	gross := new(big.Int).Add(event.Value, event.Fee)
	return gross.Cmp(expectedValue) == 0
}

// callMatches requires every authorization field to match exactly and the
// transaction sender to equal the owner.
func (v *SettlementVerifier) callMatches(call SettleCall, sender common.Address, expected tollgate.PaymentAuthorization, expectedValue *big.Int, expectedDeadline int64, expectedNonce [32]byte) bool {
	if call.Owner != common.HexToAddress(expected.Owner) {
		return false
	}
	if call.Recipient != common.HexToAddress(expected.Recipient) {
		return false
	}
	if call.Value.Cmp(expectedValue) != 0 {
		return false
	}
	if call.Deadline.Cmp(new(big.Int).SetInt64(expectedDeadline)) != 0 {
		return false
	}
	if call.Nonce != expectedNonce {
		return false
	}
	return sender == common.HexToAddress(expected.Owner)
}

func fail(reason string, details map[string]interface{}) tollgate.VerifyResult {
	return tollgate.VerifyResult{Reason: reason, Details: details}
}

func providerFailure(err error) tollgate.VerifyResult {
	return tollgate.VerifyResult{
		Reason:  tollgate.ReasonProviderError,
		Details: map[string]interface{}{"error": err.Error()},
	}
}
