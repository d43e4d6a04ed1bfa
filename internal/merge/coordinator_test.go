package merge

import (
	"context"
	"sync"
	"testing"

	"github.com/paymaster-labs/pm-indexer/internal/model"
)

type fakeCache struct {
	mu       sync.Mutex
	pending  map[string]string
	counters map[string][3]float64 // ops, gas, usd
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		pending:  make(map[string]string),
		counters: make(map[string][3]float64),
	}
}

func (f *fakeCache) GetPending(ctx context.Context, hash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[hash], nil
}

func (f *fakeCache) SetPending(ctx context.Context, hash, serialized string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[hash] = serialized
	return nil
}

func (f *fakeCache) DeletePending(ctx context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, hash)
	return nil
}

func (f *fakeCache) ApplyUsageIncrement(ctx context.Context, prefix string, gas uint64, usd float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.counters[prefix]
	c[0]++
	c[1] += float64(gas)
	c[2] += usd
	f.counters[prefix] = c
	return nil
}

func strPtr(s string) *string { return &s }

func TestUpdatePolicyCompletionAppliesCounters(t *testing.T) {
	cache := newFakeCache()
	coord := New(cache)
	ctx := context.Background()
	hash := "0xABC"

	// Policy context arrives first, via the bus.
	err := coord.UpdatePolicy(ctx, hash, model.PolicyData{
		PolicyID:       strPtr("P1"),
		NativeUSDPrice: strPtr("2.0"),
		Sender:         strPtr("0xS"),
		EnabledLimits:  []string{"GLOBAL", "USER"},
	})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}

	if _, ok := cache.counters["global:P1"]; ok {
		t.Fatalf("counters applied before completion")
	}

	// Cost data arrives from the chain listener.
	err = coord.UpdatePolicy(ctx, hash, model.PolicyData{
		ActualGasCost: strPtr("1000000000000000000"),
		ActualGasUsed: strPtr("21000"),
	})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}

	global, ok := cache.counters["global:P1"]
	if !ok {
		t.Fatalf("global counters not applied")
	}
	if global[0] != 1 || global[1] != 21000 || global[2] != 2.0 {
		t.Errorf("global counters = %+v, want ops=1 gas=21000 usd=2.0", global)
	}

	user, ok := cache.counters["user:P1:0xS"]
	if !ok || user[0] != 1 || user[1] != 21000 || user[2] != 2.0 {
		t.Errorf("user counters = %+v, want ops=1 gas=21000 usd=2.0", user)
	}

	if v, _ := cache.GetPending(ctx, model.CanonicalizeHash(hash)); v != "" {
		t.Errorf("pending key not deleted, got %q", v)
	}
}

func TestUpdatePolicyHexGasCost(t *testing.T) {
	cache := newFakeCache()
	coord := New(cache)
	ctx := context.Background()
	hash := "0xdef"

	_ = coord.UpdatePolicy(ctx, hash, model.PolicyData{
		PolicyID:       strPtr("P2"),
		NativeUSDPrice: strPtr("1.0"),
		EnabledLimits:  []string{"GLOBAL"},
	})
	_ = coord.UpdatePolicy(ctx, hash, model.PolicyData{
		ActualGasCost: strPtr("0x3e8"),
		ActualGasUsed: strPtr("0x64"),
	})

	global := cache.counters["global:P2"]
	if global[1] != 100 {
		t.Errorf("gas = %v, want 100 (0x64)", global[1])
	}
}

func TestUpdatePolicyConcurrentLinearizable(t *testing.T) {
	cache := newFakeCache()
	coord := New(cache)
	ctx := context.Background()
	hash := "0xrace"

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = coord.UpdatePolicy(ctx, hash, model.PolicyData{
			PolicyID:       strPtr("P3"),
			NativeUSDPrice: strPtr("1.0"),
			EnabledLimits:  []string{"GLOBAL"},
		})
	}()
	go func() {
		defer wg.Done()
		_ = coord.UpdatePolicy(ctx, hash, model.PolicyData{
			ActualGasCost: strPtr("1000000000000000000"),
			ActualGasUsed: strPtr("1000"),
		})
	}()
	wg.Wait()

	// Regardless of interleaving, the pending key must end up either
	// fully merged-and-pending or completed-and-deleted -- never lost.
	pendingVal, _ := cache.GetPending(ctx, model.CanonicalizeHash(hash))
	global := cache.counters["global:P3"]
	completed := global[0] == 1
	if pendingVal == "" && !completed {
		t.Fatalf("update lost: no pending entry and no counters applied")
	}
}

func TestUpdatePolicyUserScopeRequiresSender(t *testing.T) {
	cache := newFakeCache()
	coord := New(cache)
	ctx := context.Background()
	hash := "0xuser-no-sender"

	_ = coord.UpdatePolicy(ctx, hash, model.PolicyData{
		PolicyID:       strPtr("P4"),
		NativeUSDPrice: strPtr("1.0"),
		ActualGasCost:  strPtr("1000"),
		ActualGasUsed:  strPtr("10"),
		EnabledLimits:  []string{"USER"},
	})

	// Without a sender, USER-scoped data is never "complete".
	v, _ := cache.GetPending(ctx, model.CanonicalizeHash(hash))
	if v == "" {
		t.Fatalf("expected pending entry to remain without sender")
	}
}
