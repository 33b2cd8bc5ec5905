package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainClient is the verifier's view of the chain: receipt lookup, raw
// transaction fetch and head height. It is injected at construction so there
// is no hidden global handle; *ethclient.Client satisfies it directly.
type ChainClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (tx *types.Transaction, isPending bool, err error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Dial connects to a JSON-RPC endpoint and returns a ChainClient. Construct
// once at process start and pass by reference into the verifier.
func Dial(ctx context.Context, rpcURL string) (ChainClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}
	return client, nil
}
