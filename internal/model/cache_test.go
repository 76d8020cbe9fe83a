package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/felixgeelhaar/chorus/internal/media"
)

func cachedEmb(owner string) *media.Embedding {
	return &media.Embedding{OwnerID: owner, Vector: []float32{0.1, 0.2}}
}

func TestCacheHitReturnsSameInstance(t *testing.T) {
	c, err := NewEmbeddingCache(4)
	if err != nil {
		t.Fatalf("NewEmbeddingCache failed: %v", err)
	}

	calls := 0
	compute := func() (*media.Embedding, error) {
		calls++
		return cachedEmb("k1"), nil
	}

	first, err := c.GetOrCompute(context.Background(), "k1", compute)
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	second, err := c.GetOrCompute(context.Background(), "k1", compute)
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected 1 compute call, got %d", calls)
	}
	if first != second {
		t.Error("cache hit should return the same embedding instance")
	}
}

func TestCacheFIFOEviction(t *testing.T) {
	c, _ := NewEmbeddingCache(2)
	ctx := context.Background()

	for _, k := range []string{"K1", "K2", "K3"} {
		key := k
		if _, err := c.GetOrCompute(ctx, key, func() (*media.Embedding, error) {
			return cachedEmb(key), nil
		}); err != nil {
			t.Fatalf("GetOrCompute(%s) failed: %v", key, err)
		}
	}

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get("K1"); ok {
		t.Error("K1 should have been evicted (oldest-inserted)")
	}
	for _, k := range []string{"K2", "K3"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestCacheFIFONotRecency(t *testing.T) {
	c, _ := NewEmbeddingCache(2)
	ctx := context.Background()

	insert := func(k string) {
		c.GetOrCompute(ctx, k, func() (*media.Embedding, error) { return cachedEmb(k), nil })
	}

	insert("K1")
	insert("K2")
	// Touch K1 repeatedly: FIFO eviction must still remove it first.
	for i := 0; i < 5; i++ {
		insert("K1")
	}
	insert("K3")

	if _, ok := c.Get("K1"); ok {
		t.Error("FIFO eviction must remove the oldest-inserted entry regardless of use")
	}
	if _, ok := c.Get("K2"); !ok {
		t.Error("K2 should survive")
	}
}

func TestCacheBoundUnderArbitrarySequence(t *testing.T) {
	c, _ := NewEmbeddingCache(3)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("key-%d", i%7)
		c.GetOrCompute(ctx, k, func() (*media.Embedding, error) { return cachedEmb(k), nil })
		if c.Len() > 3 {
			t.Fatalf("cache exceeded capacity: %d", c.Len())
		}
	}
}

func TestCacheComputeFailureDoesNotPopulate(t *testing.T) {
	c, _ := NewEmbeddingCache(2)
	ctx := context.Background()

	boom := errors.New("decode failed")
	_, err := c.GetOrCompute(ctx, "bad", func() (*media.Embedding, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("failed compute must not populate the cache")
	}

	// A later successful compute for the same key works.
	if _, err := c.GetOrCompute(ctx, "bad", func() (*media.Embedding, error) {
		return cachedEmb("bad"), nil
	}); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestCacheFailureLeavesExistingEntry(t *testing.T) {
	c, _ := NewEmbeddingCache(2)
	ctx := context.Background()

	want := cachedEmb("k")
	c.GetOrCompute(ctx, "k", func() (*media.Embedding, error) { return want, nil })

	// A hit never re-runs compute, so the failing function is not called.
	got, err := c.GetOrCompute(ctx, "k", func() (*media.Embedding, error) {
		return nil, errors.New("should not run")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("existing entry should be returned unchanged")
	}
}

func TestCacheCoalescing(t *testing.T) {
	c, _ := NewEmbeddingCache(4)
	ctx := context.Background()

	var computes atomic.Int32
	gate := make(chan struct{})

	const waiters = 16
	var wg sync.WaitGroup
	results := make([]*media.Embedding, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := c.GetOrCompute(ctx, "shared", func() (*media.Embedding, error) {
				computes.Add(1)
				<-gate
				return cachedEmb("shared"), nil
			})
			if err != nil {
				t.Errorf("waiter %d failed: %v", i, err)
				return
			}
			results[i] = e
		}(i)
	}

	close(gate)
	wg.Wait()

	if n := computes.Load(); n != 1 {
		t.Errorf("expected exactly 1 computation, got %d", n)
	}
	for i := 1; i < waiters; i++ {
		if results[i] != results[0] {
			t.Fatal("all waiters should receive the same embedding instance")
		}
	}
}

func TestCacheWaiterCancellation(t *testing.T) {
	c, _ := NewEmbeddingCache(4)

	gate := make(chan struct{})
	started := make(chan struct{})

	go func() {
		c.GetOrCompute(context.Background(), "slow", func() (*media.Embedding, error) {
			close(started)
			<-gate
			return cachedEmb("slow"), nil
		})
	}()

	<-started
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetOrCompute(ctx, "slow", func() (*media.Embedding, error) {
		t.Error("second compute should have been coalesced")
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	// The shared computation still completes and populates the cache.
	close(gate)
	e, err := c.GetOrCompute(context.Background(), "slow", func() (*media.Embedding, error) {
		return nil, errors.New("should be a hit")
	})
	if err != nil {
		t.Fatalf("expected cache hit after computation finished: %v", err)
	}
	if e.OwnerID != "slow" {
		t.Errorf("unexpected entry %q", e.OwnerID)
	}
}

func TestCacheClear(t *testing.T) {
	c, _ := NewEmbeddingCache(4)
	ctx := context.Background()

	e, _ := c.GetOrCompute(ctx, "k", func() (*media.Embedding, error) { return cachedEmb("k"), nil })
	c.Clear()

	if c.Len() != 0 {
		t.Error("Clear should empty the cache")
	}
	// The embedding itself remains valid for anyone still holding it.
	if e.OwnerID != "k" {
		t.Error("cleared cache must not invalidate outstanding embeddings")
	}
}

func TestCacheInvalidCapacity(t *testing.T) {
	if _, err := NewEmbeddingCache(0); !errors.Is(err, media.ErrInvalidCapacity) {
		t.Errorf("expected ErrInvalidCapacity, got %v", err)
	}
}

func TestCacheKeysInsertionOrder(t *testing.T) {
	c, _ := NewEmbeddingCache(3)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		c.GetOrCompute(ctx, k, func() (*media.Embedding, error) { return cachedEmb(k), nil })
	}
	keys := c.Keys()
	want := []string{"a", "b", "c"}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], keys[i])
		}
	}
}
