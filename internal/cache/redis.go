// Package cache wraps Redis for the three pieces of durable, cheap state
// the indexer needs outside Postgres: per-chain sync cursors, the
// pending-merge buffer for partial policy data, and the usage counters.
package cache

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client with the handful of operations the
// indexer's cursor store, merge coordinator and usage counters need.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client from a URL and verifies connectivity.
func NewClient(redisURL string) (*Client, error) {
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

func parseRedisURL(redisURL string) (*redis.Options, error) {
	u, err := url.Parse(redisURL)
	if err != nil {
		return nil, err
	}
	opts := &redis.Options{Addr: u.Host}
	if u.User != nil {
		opts.Username = u.User.Username()
		if password, ok := u.User.Password(); ok {
			opts.Password = password
		}
	}
	return opts, nil
}

// Ping checks Redis reachability.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

const pendingKeyPrefix = "userop:pending:"
const cursorKeyPrefix = "sync_block:"
const pendingTTL = 30 * time.Minute

func pendingKey(userOpHash string) string {
	return pendingKeyPrefix + userOpHash
}

func cursorKey(chainID uint64) string {
	return fmt.Sprintf("%s%d", cursorKeyPrefix, chainID)
}

// GetPending returns the raw JSON for a pending policy merge, or "" if absent.
func (c *Client) GetPending(ctx context.Context, userOpHash string) (string, error) {
	v, err := c.rdb.Get(ctx, pendingKey(userOpHash)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// SetPending writes the merged partial policy data back with the standard TTL.
func (c *Client) SetPending(ctx context.Context, userOpHash, serialized string) error {
	return c.rdb.Set(ctx, pendingKey(userOpHash), serialized, pendingTTL).Err()
}

// DeletePending removes the pending key once a merge has completed.
func (c *Client) DeletePending(ctx context.Context, userOpHash string) error {
	return c.rdb.Del(ctx, pendingKey(userOpHash)).Err()
}

// GetLastSyncedBlock returns the chain's cursor, and false if it has never been set.
func (c *Client) GetLastSyncedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	v, err := c.rdb.Get(ctx, cursorKey(chainID)).Uint64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// SetLastSyncedBlock advances the chain's cursor.
func (c *Client) SetLastSyncedBlock(ctx context.Context, chainID uint64, block uint64) error {
	return c.rdb.Set(ctx, cursorKey(chainID), block, 0).Err()
}

// ApplyUsageIncrement atomically increments the ops/gas/usd counters for one
// scope prefix ("global:<policyID>" or "user:<policyID>:<sender>") in a
// single pipeline, matching the original source's per-scope Redis pipeline.
func (c *Client) ApplyUsageIncrement(ctx context.Context, prefix string, gas uint64, usdSpent float64) error {
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, prefix+":ops")
	pipe.IncrBy(ctx, prefix+":gas", int64(gas))
	pipe.IncrByFloat(ctx, prefix+":usd", usdSpent)
	_, err := pipe.Exec(ctx)
	return err
}
