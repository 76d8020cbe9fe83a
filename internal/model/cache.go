package model

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/chorus/internal/media"
)

// EmbeddingCache memoizes the media-to-embedding computation for one
// modality. Lookup and insertion are keyed by the reference's cache key;
// eviction is strictly insertion-order (FIFO), so a frequently reused entry
// can still be evicted once enough newer entries arrive. Concurrent requests
// for the same key are coalesced: only one computation runs, and every
// waiter receives its result.
type EmbeddingCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*media.Embedding
	order    []string
	flight   singleflight.Group
}

// NewEmbeddingCache creates a cache bounded at capacity entries.
func NewEmbeddingCache(capacity int) (*EmbeddingCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("embedding cache: %w (got %d)", media.ErrInvalidCapacity, capacity)
	}
	return &EmbeddingCache{
		capacity: capacity,
		entries:  make(map[string]*media.Embedding),
	}, nil
}

// GetOrCompute returns the cached embedding for key, or runs compute to
// produce it. A failed compute never populates the cache and leaves any
// previously cached entry for the key untouched. If the caller's context is
// cancelled while waiting, the shared computation keeps running for other
// waiters; cache state is never corrupted by cancellation.
func (c *EmbeddingCache) GetOrCompute(ctx context.Context, key string, compute func() (*media.Embedding, error)) (*media.Embedding, error) {
	if e, ok := c.Get(key); ok {
		return e, nil
	}

	ch := c.flight.DoChan(key, func() (any, error) {
		// A concurrent caller may have finished the same computation
		// between our miss and this flight starting.
		if e, ok := c.Get(key); ok {
			return e, nil
		}
		e, err := compute()
		if err != nil {
			return nil, err
		}
		c.insert(key, e)
		return e, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*media.Embedding), nil
	}
}

// Get returns the cached embedding for key without side effects.
func (c *EmbeddingCache) Get(key string) (*media.Embedding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *EmbeddingCache) insert(key string, e *media.Embedding) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		// Second write wins; insertion order is unchanged.
		c.entries[key] = e
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = e
	c.order = append(c.order, key)
}

// Len returns the number of cached entries.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the cached keys in insertion order.
func (c *EmbeddingCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Clear empties the cache. Embeddings already admitted into a context
// window elsewhere stay valid; only the cache's own retention is dropped.
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*media.Embedding)
	c.order = nil
}
