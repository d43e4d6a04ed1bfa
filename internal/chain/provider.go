// Package chain runs one polling listener per active chain: it computes the
// reorg-safe block window, fetches logs for the chain's configured contracts
// and events, and publishes them to the fusion processor.
package chain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Provider is the narrow RPC surface the listener needs; an interface so
// tests can substitute a fake without dialing a real node.
type Provider interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FinalizedBlockNumber(ctx context.Context) (uint64, bool)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// ethProvider adapts ethclient.Client to Provider.
type ethProvider struct {
	client *ethclient.Client
}

// Dial connects to the chain's RPC endpoint.
func Dial(rpcURL string) (Provider, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return &ethProvider{client: client}, nil
}

func (p *ethProvider) BlockNumber(ctx context.Context) (uint64, error) {
	return p.client.BlockNumber(ctx)
}

// FinalizedBlockNumber returns the chain's finalized block number, and false
// if it could not be determined (no finalized tag support, RPC error, or an
// empty response) -- callers fall back to latest-minus-reorg-buffer.
func (p *ethProvider) FinalizedBlockNumber(ctx context.Context) (uint64, bool) {
	var head *types.Header
	err := p.client.Client().CallContext(ctx, &head, "eth_getBlockByNumber", rpc.FinalizedBlockNumber, false)
	if err != nil || head == nil {
		return 0, false
	}
	return head.Number.Uint64(), true
}

func (p *ethProvider) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return p.client.FilterLogs(ctx, q)
}

// buildFilter constructs the single log filter for a chain's configured
// contracts and event signatures (union, per spec.md §4.1) over [from, to].
func buildFilter(addresses []common.Address, topics []common.Hash, from, to uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
		Topics:    [][]common.Hash{topics},
	}
}
