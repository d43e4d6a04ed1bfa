package chain

import (
	"context"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paymaster-labs/pm-indexer/internal/config"
	"github.com/paymaster-labs/pm-indexer/internal/decoder"
	"github.com/paymaster-labs/pm-indexer/internal/metrics"
)

// Cursor is the subset of the cache the listener needs to persist and
// resume its per-chain sync progress.
type Cursor interface {
	GetLastSyncedBlock(ctx context.Context, chainID uint64) (uint64, bool, error)
	SetLastSyncedBlock(ctx context.Context, chainID uint64, block uint64) error
}

// ChainLog pairs a decoded log with the chain it came from, the unit the
// fusion processor's channel carries.
type ChainLog struct {
	ChainID uint64
	Log     decoder.Log
}

// Listener runs one chain's polling loop.
type Listener struct {
	chainID  uint64
	cfg      config.ChainConfig
	provider Provider
	cursor   Cursor
	out      chan<- ChainLog
	metrics  *metrics.Metrics
}

// New builds a listener for one active chain.
func New(cfg config.ChainConfig, provider Provider, cursor Cursor, out chan<- ChainLog) *Listener {
	return &Listener{
		chainID:  cfg.ChainID,
		cfg:      cfg,
		provider: provider,
		cursor:   cursor,
		out:      out,
	}
}

// SetMetrics attaches the indexer's Prometheus collectors. Safe to leave
// unset -- a nil metrics field is a no-op.
func (l *Listener) SetMetrics(m *metrics.Metrics) {
	l.metrics = m
}

// Run polls forever at block_time*polling_blocks intervals until ctx is
// cancelled. It does not itself retry on panic -- the supervisor does.
func (l *Listener) Run(ctx context.Context) {
	interval := time.Duration(l.cfg.BlockTime) * time.Duration(l.cfg.PollingBlocks) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		l.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce executes a single polling pass: window selection, log fetch,
// emission, and cursor advancement, per spec.md §4.1.
func (l *Listener) pollOnce(ctx context.Context) {
	to, err := l.selectToBlock(ctx)
	if err != nil {
		log.Printf("chain[%d]: failed to select window: %v", l.chainID, err)
		return
	}

	from, err := l.selectFromBlock(ctx, to)
	if err != nil {
		log.Printf("chain[%d]: failed to read cursor: %v", l.chainID, err)
		return
	}
	if from > to {
		return
	}

	addresses, topics := l.filterTerms()
	start := time.Now()
	logs, err := l.provider.FilterLogs(ctx, buildFilter(addresses, topics, from, to))
	if l.metrics != nil {
		l.metrics.ObservePollingPass(l.chainID, time.Since(start).Seconds())
	}
	if err != nil {
		log.Printf("chain[%d]: get_logs(%d,%d) failed: %v", l.chainID, from, to, err)
		return
	}
	if l.metrics != nil {
		l.metrics.RecordChainLogsFetched(l.chainID, len(logs))
	}

	var maxSeen uint64
	var sawLog bool
	for _, raw := range logs {
		if !sawLog || raw.BlockNumber > maxSeen {
			maxSeen = raw.BlockNumber
		}
		sawLog = true
		select {
		case l.out <- ChainLog{ChainID: l.chainID, Log: decoder.FromEthLog(l.chainID, raw)}:
		case <-ctx.Done():
			return
		}
	}

	if !sawLog {
		maxSeen = to
	}
	if err := l.cursor.SetLastSyncedBlock(ctx, l.chainID, maxSeen); err != nil {
		log.Printf("chain[%d]: failed to advance cursor to %d: %v", l.chainID, maxSeen, err)
	}
}

func (l *Listener) selectToBlock(ctx context.Context) (uint64, error) {
	latest, err := l.provider.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if l.cfg.UseFinalized {
		if finalized, ok := l.provider.FinalizedBlockNumber(ctx); ok {
			return finalized, nil
		}
	}
	if latest < l.cfg.ReorgBuffer {
		return 0, nil
	}
	return latest - l.cfg.ReorgBuffer, nil
}

func (l *Listener) selectFromBlock(ctx context.Context, to uint64) (uint64, error) {
	cursor, ok, err := l.cursor.GetLastSyncedBlock(ctx, l.chainID)
	if err != nil {
		return 0, err
	}
	if ok {
		return cursor + 1, nil
	}
	if to < l.cfg.PollingBlocks {
		return 0, nil
	}
	return to - l.cfg.PollingBlocks, nil
}

func (l *Listener) filterTerms() ([]common.Address, []common.Hash) {
	var addresses []common.Address
	var topics []common.Hash
	for _, c := range l.cfg.Contracts {
		addresses = append(addresses, common.HexToAddress(c.Address))
		for _, e := range c.Events {
			topics = append(topics, common.HexToHash(e.Signature))
		}
	}
	return addresses, topics
}
