package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/roach88/causality/internal/compiler"
	"github.com/roach88/causality/internal/ir"
)

// CachedStore serves blob reads from a bigcache in front of another
// BlobStore. Objects are immutable, so entries never need invalidation;
// they only age out.
type CachedStore struct {
	next  compiler.BlobStore
	cache *bigcache.BigCache
}

// NewCachedStore wraps next with a read cache of at most maxMB megabytes.
func NewCachedStore(next compiler.BlobStore, maxMB int) (*CachedStore, error) {
	cfg := bigcache.DefaultConfig(time.Hour)
	cfg.Shards = 64
	cfg.HardMaxCacheSize = maxMB
	cfg.Verbose = false
	cache, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create read cache: %w", err)
	}
	return &CachedStore{next: next, cache: cache}, nil
}

// GetBlob implements compiler.BlobStore.
func (c *CachedStore) GetBlob(ctx context.Context, id ir.ContentID) ([]byte, error) {
	key := id.Hex()
	if data, err := c.cache.Get(key); err == nil {
		return data, nil
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	data, err := c.next.GetBlob(ctx, id)
	if err != nil {
		return nil, err
	}
	// A full cache only costs a later miss.
	_ = c.cache.Set(key, data)
	return data, nil
}

// PutBlob implements compiler.BlobStore. The write goes to the backing
// store only. The first write under an id wins there, so the cache is
// filled from GetBlob misses and never from the caller's bytes.
func (c *CachedStore) PutBlob(ctx context.Context, id ir.ContentID, data []byte) error {
	return c.next.PutBlob(ctx, id, data)
}

// Stats returns the cache's hit and miss counters.
func (c *CachedStore) Stats() bigcache.Stats { return c.cache.Stats() }

// Close releases the cache. The backing store is not closed.
func (c *CachedStore) Close() error { return c.cache.Close() }
