package evm

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	tollgate "github.com/tollgate-protocol/tollgate-go"
)

// Function and event names on the settlement contract.
const (
	FunctionSettle           = "settle"
	FunctionSettleWithPermit = "settleWithPermit"
	EventPaymentSettled      = "PaymentSettled"
)

// settlementABIJSON is the known surface of the settlement contract. The
// decoders below form a closed set keyed by event topic and function
// selector; anything outside it is unparseable by definition.
const settlementABIJSON = `[
	{
		"type": "function",
		"name": "settle",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "recipient", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "settleWithPermit",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "recipient", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"},
			{"name": "permitV", "type": "uint8"},
			{"name": "permitR", "type": "bytes32"},
			{"name": "permitS", "type": "bytes32"}
		],
		"outputs": []
	},
	{
		"type": "event",
		"name": "PaymentSettled",
		"anonymous": false,
		"inputs": [
			{"name": "owner", "type": "address", "indexed": true},
			{"name": "recipient", "type": "address", "indexed": true},
			{"name": "nonce", "type": "bytes32", "indexed": false},
			{"name": "value", "type": "uint256", "indexed": false},
			{"name": "fee", "type": "uint256", "indexed": false}
		]
	}
]`

var (
	settlementABI    abi.ABI
	paymentSettledID common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(settlementABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid settlement ABI: %v", err))
	}
	settlementABI = parsed
	paymentSettledID = settlementABI.Events[EventPaymentSettled].ID
}

// SettledEvent is a decoded PaymentSettled log. Value may be the net or the
// gross amount depending on the contract version; Fee covers the difference.
type SettledEvent struct {
	Owner     common.Address
	Recipient common.Address
	Nonce     [32]byte
	Value     *big.Int
	Fee       *big.Int
}

// DecodeSettledEvent decodes a log as a PaymentSettled event. ok is false
// when the log is some other event or malformed.
func DecodeSettledEvent(log *types.Log) (SettledEvent, bool) {
	if len(log.Topics) != 3 || log.Topics[0] != paymentSettledID {
		return SettledEvent{}, false
	}
	values, err := settlementABI.Unpack(EventPaymentSettled, log.Data)
	if err != nil || len(values) != 3 {
		return SettledEvent{}, false
	}
	nonce, ok := values[0].([32]byte)
	if !ok {
		return SettledEvent{}, false
	}
	value, ok := values[1].(*big.Int)
	if !ok {
		return SettledEvent{}, false
	}
	fee, ok := values[2].(*big.Int)
	if !ok {
		return SettledEvent{}, false
	}
	return SettledEvent{
		Owner:     common.BytesToAddress(log.Topics[1].Bytes()),
		Recipient: common.BytesToAddress(log.Topics[2].Bytes()),
		Nonce:     nonce,
		Value:     value,
		Fee:       fee,
	}, true
}

// SettleCall is the payment struct extracted from settlement call data.
type SettleCall struct {
	Owner      common.Address
	Recipient  common.Address
	Value      *big.Int
	Deadline   *big.Int
	Nonce      [32]byte
	WithPermit bool
}

// DecodeSettleCalldata decodes transaction call data against the known
// settlement function signatures. It fails when the selector matches neither
// settle nor settleWithPermit, or when the arguments do not unpack.
func DecodeSettleCalldata(data []byte) (SettleCall, error) {
	if len(data) < 4 {
		return SettleCall{}, fmt.Errorf("call data too short: %d bytes", len(data))
	}

	var (
		method     abi.Method
		withPermit bool
	)
	switch {
	case bytes.Equal(data[:4], settlementABI.Methods[FunctionSettle].ID):
		method = settlementABI.Methods[FunctionSettle]
	case bytes.Equal(data[:4], settlementABI.Methods[FunctionSettleWithPermit].ID):
		method = settlementABI.Methods[FunctionSettleWithPermit]
		withPermit = true
	default:
		return SettleCall{}, fmt.Errorf("unknown function selector: 0x%x", data[:4])
	}

	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return SettleCall{}, fmt.Errorf("failed to unpack %s call data: %w", method.Name, err)
	}
	if len(values) < 5 {
		return SettleCall{}, fmt.Errorf("unexpected argument count in %s call data: %d", method.Name, len(values))
	}

	owner, ok := values[0].(common.Address)
	if !ok {
		return SettleCall{}, fmt.Errorf("unexpected owner type in call data")
	}
	recipient, ok := values[1].(common.Address)
	if !ok {
		return SettleCall{}, fmt.Errorf("unexpected recipient type in call data")
	}
	value, ok := values[2].(*big.Int)
	if !ok {
		return SettleCall{}, fmt.Errorf("unexpected value type in call data")
	}
	deadline, ok := values[3].(*big.Int)
	if !ok {
		return SettleCall{}, fmt.Errorf("unexpected deadline type in call data")
	}
	nonce, ok := values[4].([32]byte)
	if !ok {
		return SettleCall{}, fmt.Errorf("unexpected nonce type in call data")
	}

	return SettleCall{
		Owner:      owner,
		Recipient:  recipient,
		Value:      value,
		Deadline:   deadline,
		Nonce:      nonce,
		WithPermit: withPermit,
	}, nil
}

// PackSettle encodes a settle call for the settlement contract.
func PackSettle(auth tollgate.PaymentAuthorization, signature []byte) ([]byte, error) {
	owner, recipient, value, deadline, nonce, err := settleArgs(auth)
	if err != nil {
		return nil, err
	}
	v, r, s, err := splitSignature(signature)
	if err != nil {
		return nil, err
	}
	return settlementABI.Pack(FunctionSettle, owner, recipient, value, deadline, nonce, v, r, s)
}

// PackSettleWithPermit encodes a settleWithPermit call carrying an additional
// token permit signature.
func PackSettleWithPermit(auth tollgate.PaymentAuthorization, signature, permitSignature []byte) ([]byte, error) {
	owner, recipient, value, deadline, nonce, err := settleArgs(auth)
	if err != nil {
		return nil, err
	}
	v, r, s, err := splitSignature(signature)
	if err != nil {
		return nil, err
	}
	pv, pr, ps, err := splitSignature(permitSignature)
	if err != nil {
		return nil, err
	}
	return settlementABI.Pack(FunctionSettleWithPermit, owner, recipient, value, deadline, nonce, v, r, s, pv, pr, ps)
}

func settleArgs(auth tollgate.PaymentAuthorization) (common.Address, common.Address, *big.Int, *big.Int, [32]byte, error) {
	value, err := auth.ValueBig()
	if err != nil {
		return common.Address{}, common.Address{}, nil, nil, [32]byte{}, err
	}
	deadline, err := auth.DeadlineUnix()
	if err != nil {
		return common.Address{}, common.Address{}, nil, nil, [32]byte{}, err
	}
	nonce, err := auth.NonceBytes()
	if err != nil {
		return common.Address{}, common.Address{}, nil, nil, [32]byte{}, err
	}
	return common.HexToAddress(auth.Owner), common.HexToAddress(auth.Recipient),
		value, new(big.Int).SetInt64(deadline), nonce, nil
}

// splitSignature breaks a 65-byte signature into the contract's (v, r, s)
// argument form, with v in the 27/28 convention.
func splitSignature(signature []byte) (uint8, [32]byte, [32]byte, error) {
	if len(signature) != SignatureLength {
		return 0, [32]byte{}, [32]byte{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	var r, s [32]byte
	copy(r[:], signature[0:32])
	copy(s[:], signature[32:64])
	v := signature[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}
