// Package client implements the caller side of the tollgate protocol: it
// answers a 402 challenge by signing the payment authorization, arranging the
// token allowance, submitting the settlement transaction and retrying the
// original call with proof.
package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	tollgate "github.com/tollgate-protocol/tollgate-go"
	"github.com/tollgate-protocol/tollgate-go/evm"
	tollgatehttp "github.com/tollgate-protocol/tollgate-go/http"
)

// ChainBackend is the client's view of the chain. *ethclient.Client
// satisfies it directly.
type ChainBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Signer provides the key operations the orchestrator needs.
type Signer interface {
	Address() common.Address
	SignDigest(digest []byte) ([]byte, error)
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// erc20ABIJSON covers the token views the orchestrator reads: the current
// allowance granted to the settlement contract and the permit nonce.
const erc20ABIJSON = `[
	{
		"type": "function",
		"name": "allowance",
		"stateMutability": "view",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "nonces",
		"stateMutability": "view",
		"inputs": [{"name": "owner", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid erc20 ABI: %v", err))
	}
	erc20ABI = parsed
}

// Config configures a Client.
type Config struct {
	Backend ChainBackend
	Signer  Signer

	// HTTPClient performs the gated requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// TokenName and TokenVersion are the payment token's EIP-712 domain
	// parameters, needed when a permit has to be signed.
	TokenName    string
	TokenVersion string

	// GasLimit for settlement transactions. Defaults to 200000.
	GasLimit uint64

	// WaitInterval is the receipt polling period. Defaults to 2s.
	WaitInterval time.Duration

	// MinConfirmations to wait for before building the proof under the
	// synchronous discipline. Defaults to 1.
	MinConfirmations uint64

	// Async skips the confirmation wait: the proof carries the transaction
	// hash right after submission and the server verifies in the background.
	Async bool
}

// Client is the protocol peer for the gating server.
type Client struct {
	cfg Config
}

// New validates the configuration and creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("chain backend is required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 200000
	}
	if cfg.WaitInterval == 0 {
		cfg.WaitInterval = 2 * time.Second
	}
	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = 1
	}
	return &Client{cfg: cfg}, nil
}

// Do performs a request with automatic payment handling: on a 402 response
// it settles the challenge and retries the original call once with the proof
// attached. Each 402 round uses the fresh challenge (and fresh nonce) from
// that response; nonces are never reused across attempts.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.cfg.HTTPClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	challenge, err := ParseChallenge(resp)
	if err != nil {
		return nil, err
	}

	proof, err := c.Settle(ctx, challenge)
	if err != nil {
		return nil, err
	}
	header, err := tollgatehttp.EncodeProofHeader(*proof)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		retry.Body = body
	}
	retry.Header.Set(tollgatehttp.PaymentHeader, header)
	return c.cfg.HTTPClient.Do(retry)
}

// ParseChallenge decodes the payment challenge from a 402 response and
// drains the body.
func ParseChallenge(resp *http.Response) (tollgate.PaymentChallenge, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tollgate.PaymentChallenge{}, fmt.Errorf("failed to read challenge body: %w", err)
	}
	var challenge tollgate.PaymentChallenge
	if err := json.Unmarshal(body, &challenge); err != nil {
		return tollgate.PaymentChallenge{}, fmt.Errorf("failed to decode challenge: %w", err)
	}
	if challenge.Domain.ChainID == nil || challenge.SettlementContract == "" {
		return tollgate.PaymentChallenge{}, fmt.Errorf("challenge is missing domain information")
	}
	return challenge, nil
}

// Settle runs the full settlement flow for one challenge: sign the
// authorization, top up the allowance with a permit if needed, submit the
// settlement call and, unless configured async, wait for confirmation.
func (c *Client) Settle(ctx context.Context, challenge tollgate.PaymentChallenge) (*tollgate.Proof, error) {
	auth := challenge.Authorization
	if auth.Owner == "" || strings.EqualFold(auth.Owner, tollgate.ZeroAddress) {
		auth.Owner = c.cfg.Signer.Address().Hex()
	}

	digest, err := evm.HashPaymentAuthorization(auth, challenge.Domain)
	if err != nil {
		return nil, fmt.Errorf("failed to hash authorization: %w", err)
	}
	signature, err := c.cfg.Signer.SignDigest(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}

	value, err := auth.ValueBig()
	if err != nil {
		return nil, err
	}

	allowance, err := c.Allowance(ctx, challenge.Token, challenge.SettlementContract)
	if err != nil {
		return nil, err
	}

	var permitSignature []byte
	if allowance.Cmp(value) < 0 {
		permitSignature, err = c.signPermit(ctx, challenge, auth, value)
		if err != nil {
			return nil, err
		}
	}

	var data []byte
	if permitSignature != nil {
		data, err = evm.PackSettleWithPermit(auth, signature, permitSignature)
	} else {
		data, err = evm.PackSettle(auth, signature)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode settlement call: %w", err)
	}

	txHash, err := c.sendSettlement(ctx, challenge, data)
	if err != nil {
		return nil, err
	}

	if !c.cfg.Async {
		if err := c.WaitForSettlement(ctx, txHash, c.cfg.MinConfirmations); err != nil {
			return nil, err
		}
	}

	proof := &tollgate.Proof{
		Authorization: auth,
		Signature:     "0x" + hex.EncodeToString(signature),
		TxHash:        txHash,
		ChainID:       challenge.ChainID,
	}
	if permitSignature != nil {
		proof.PermitSignature = "0x" + hex.EncodeToString(permitSignature)
	}
	return proof, nil
}

// Allowance reads the token allowance currently granted to the settlement
// contract by the signer.
func (c *Client) Allowance(ctx context.Context, token, settlementContract string) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", c.cfg.Signer.Address(), common.HexToAddress(settlementContract))
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %w", err)
	}
	out, err := c.callToken(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowance: %w", err)
	}
	values, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("failed to decode allowance result: %v", err)
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance result type")
	}
	return allowance, nil
}

// signPermit signs an EIP-2612 permit authorizing the settlement contract to
// spend exactly the payment's value, expiring with the payment deadline.
func (c *Client) signPermit(ctx context.Context, challenge tollgate.PaymentChallenge, auth tollgate.PaymentAuthorization, value *big.Int) ([]byte, error) {
	nonceData, err := erc20ABI.Pack("nonces", c.cfg.Signer.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to pack nonces call: %w", err)
	}
	out, err := c.callToken(ctx, challenge.Token, nonceData)
	if err != nil {
		return nil, fmt.Errorf("failed to read permit nonce: %w", err)
	}
	values, err := erc20ABI.Unpack("nonces", out)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("failed to decode permit nonce: %v", err)
	}
	permitNonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected permit nonce type")
	}

	deadline, err := auth.DeadlineUnix()
	if err != nil {
		return nil, err
	}

	domain := tollgate.Domain{
		Name:              c.cfg.TokenName,
		Version:           c.cfg.TokenVersion,
		ChainID:           challenge.Domain.ChainID,
		VerifyingContract: challenge.Token,
	}
	permitTypes := map[string][]tollgate.TypedDataField{
		"Permit": {
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	}
	message := map[string]interface{}{
		"owner":    c.cfg.Signer.Address().Hex(),
		"spender":  common.HexToAddress(challenge.SettlementContract).Hex(),
		"value":    value,
		"nonce":    permitNonce,
		"deadline": new(big.Int).SetInt64(deadline),
	}

	digest, err := evm.HashTypedData(domain, permitTypes, "Permit", message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash permit: %w", err)
	}
	return c.cfg.Signer.SignDigest(digest)
}

// sendSettlement builds, signs and submits the settlement transaction.
func (c *Client) sendSettlement(ctx context.Context, challenge tollgate.PaymentChallenge, data []byte) (string, error) {
	from := c.cfg.Signer.Address()
	nonce, err := c.cfg.Backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to fetch account nonce: %w", err)
	}
	gasPrice, err := c.cfg.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}

	to := common.HexToAddress(challenge.SettlementContract)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      c.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := c.cfg.Signer.SignTx(tx, challenge.Domain.ChainID)
	if err != nil {
		return "", err
	}
	if err := c.cfg.Backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to submit settlement: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// WaitForSettlement polls for the settlement receipt until it has the
// requested confirmation depth, the transaction reverts, or ctx expires.
func (c *Client) WaitForSettlement(ctx context.Context, txHash string, minConfirmations uint64) error {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(c.cfg.WaitInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.cfg.Backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("settlement transaction reverted: %s", txHash)
			}
			head, err := c.cfg.Backend.BlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch chain head: %w", err)
			}
			block := receipt.BlockNumber.Uint64()
			if head >= block && head-block+1 >= minConfirmations {
				return nil
			}
		case errors.Is(err, ethereum.NotFound):
			// Not mined yet, keep polling.
		default:
			return fmt.Errorf("failed to fetch settlement receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) callToken(ctx context.Context, token string, data []byte) ([]byte, error) {
	addr := common.HexToAddress(token)
	return c.cfg.Backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
}
