// Package merge implements the deferred merge of partial UserOpPolicyData
// tuples keyed by user-op hash, and the atomic usage-counter update that
// fires once a tuple is complete.
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"strconv"
	"sync"

	"github.com/paymaster-labs/pm-indexer/internal/metrics"
	"github.com/paymaster-labs/pm-indexer/internal/model"
)

// Cache is the subset of the Redis client the coordinator needs; an
// interface so tests can substitute an in-memory fake.
type Cache interface {
	GetPending(ctx context.Context, userOpHash string) (string, error)
	SetPending(ctx context.Context, userOpHash, serialized string) error
	DeletePending(ctx context.Context, userOpHash string) error
	ApplyUsageIncrement(ctx context.Context, prefix string, gas uint64, usdSpent float64) error
}

const stripes = 256

// Coordinator serializes concurrent updates to the same user-op hash with a
// striped mutex so the read-modify-write against the cache is linearizable
// per key without needing a distributed lock.
type Coordinator struct {
	cache   Cache
	locks   [stripes]sync.Mutex
	metrics *metrics.Metrics
}

func New(cache Cache) *Coordinator {
	return &Coordinator{cache: cache}
}

// SetMetrics attaches the indexer's Prometheus collectors. Safe to leave
// unset -- a nil metrics field is a no-op.
func (c *Coordinator) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

func (c *Coordinator) stripeFor(userOpHash string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userOpHash))
	return &c.locks[h.Sum32()%stripes]
}

// UpdatePolicy merges partial into the pending entry for userOpHash. If the
// merged tuple is complete it applies usage-counter increments for every
// enabled scope and deletes the pending key; otherwise it writes the merged
// tuple back with the standard TTL. Each scope's ops/gas/usd increments are
// one atomic pipeline; the increments of different scopes are separate
// pipelines and are not applied as one unit.
func (c *Coordinator) UpdatePolicy(ctx context.Context, userOpHash string, partial model.PolicyData) error {
	hash := model.CanonicalizeHash(userOpHash)
	lock := c.stripeFor(hash)
	lock.Lock()
	defer lock.Unlock()

	existingJSON, err := c.cache.GetPending(ctx, hash)
	if err != nil {
		return fmt.Errorf("merge: read pending %s: %w", hash, err)
	}

	var existing model.PolicyData
	if existingJSON != "" {
		if err := json.Unmarshal([]byte(existingJSON), &existing); err != nil {
			log.Printf("merge: corrupt pending entry for %s, discarding: %v", hash, err)
			existing = model.PolicyData{}
		}
	}

	merged := existing.Merge(partial)

	if merged.Complete() {
		if err := c.applyCompletion(ctx, hash, merged); err != nil {
			return err
		}
		return c.cache.DeletePending(ctx, hash)
	}

	serialized, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("merge: serialize pending %s: %w", hash, err)
	}
	return c.cache.SetPending(ctx, hash, string(serialized))
}

func (c *Coordinator) applyCompletion(ctx context.Context, hash string, data model.PolicyData) error {
	usdSpent, ok := model.CalculateUSDSpent(*data.ActualGasCost, *data.NativeUSDPrice)
	if !ok {
		log.Printf("merge: failed to parse gas cost/price for %s, treating usd spent as 0", hash)
		usdSpent = 0
	}
	usdSpent, _ = strconv.ParseFloat(model.FormatUSD6(usdSpent), 64)
	gas := model.ParseGasValue(*data.ActualGasUsed)

	for _, scope := range data.EnabledLimits {
		var prefix string
		switch scope {
		case "GLOBAL":
			prefix = fmt.Sprintf("global:%s", *data.PolicyID)
		case "USER":
			if data.Sender == nil {
				log.Printf("merge: USER scope enabled for %s but no sender recorded, skipping", hash)
				continue
			}
			prefix = fmt.Sprintf("user:%s:%s", *data.PolicyID, *data.Sender)
		default:
			log.Printf("merge: unknown scope %q for %s, skipping", scope, hash)
			continue
		}

		if err := c.cache.ApplyUsageIncrement(ctx, prefix, gas, usdSpent); err != nil {
			return fmt.Errorf("merge: apply usage increment for %s (%s): %w", hash, prefix, err)
		}
		if c.metrics != nil {
			c.metrics.RecordPolicyMerge(scope)
		}
	}
	return nil
}
