package compiler

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/causality/internal/ir"
)

// ErrBlobNotFound is returned by a BlobStore for a missing key.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore persists artifacts by content id.
type BlobStore interface {
	GetBlob(ctx context.Context, id ir.ContentID) ([]byte, error)
	PutBlob(ctx context.Context, id ir.ContentID, data []byte) error
}

// CacheStats counts cache activity since creation.
type CacheStats struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Compilations uint64 `json:"compilations"`
	Entries      int    `json:"entries"`
	Evictions    uint64 `json:"evictions"`
}

// DefaultCacheCapacity bounds the number of cached artifacts.
const DefaultCacheCapacity = 1024

// ArtifactCache maps artifact ids to artifacts, evicting the least
// recently used entry past its capacity. Concurrent Compile calls for the
// same source share one compilation.
type ArtifactCache struct {
	mu       sync.Mutex
	entries  map[ir.ContentID]*list.Element
	lru      *list.List
	sources  map[ir.ContentID]ir.ContentID
	capacity int
	stats    CacheStats

	group  singleflight.Group
	blobs  BlobStore
	logger *zap.Logger
}

// CacheOption configures an ArtifactCache.
type CacheOption func(*ArtifactCache)

// WithCapacity bounds the number of in-memory entries. Zero or negative
// means DefaultCacheCapacity.
func WithCapacity(n int) CacheOption {
	return func(c *ArtifactCache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithBlobStore persists every inserted artifact and loads misses from s.
func WithBlobStore(s BlobStore) CacheOption {
	return func(c *ArtifactCache) { c.blobs = s }
}

// WithLogger sets the cache logger.
func WithLogger(l *zap.Logger) CacheOption {
	return func(c *ArtifactCache) { c.logger = l }
}

// NewArtifactCache creates an empty cache.
func NewArtifactCache(opts ...CacheOption) *ArtifactCache {
	c := &ArtifactCache{
		entries:  map[ir.ContentID]*list.Element{},
		lru:      list.New(),
		sources:  map[ir.ContentID]ir.ContentID{},
		capacity: DefaultCacheCapacity,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Insert stores a. The artifact id must match its content.
func (c *ArtifactCache) Insert(ctx context.Context, a *Artifact) error {
	if !ir.Verify(a, a.ID) {
		return fmt.Errorf("insert artifact %s: id does not match content", a.ID.Short())
	}
	if c.blobs != nil {
		data, err := a.Bytes()
		if err != nil {
			return fmt.Errorf("encode artifact: %w", err)
		}
		if err := c.blobs.PutBlob(ctx, a.ID, data); err != nil {
			return fmt.Errorf("persist artifact %s: %w", a.ID.Short(), err)
		}
		src := SourceID(a.Source)
		if err := c.blobs.PutBlob(ctx, src, a.ID[:]); err != nil {
			return fmt.Errorf("persist source index %s: %w", src.Short(), err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(a)
	return nil
}

func (c *ArtifactCache) put(a *Artifact) {
	c.sources[SourceID(a.Source)] = a.ID
	if el, ok := c.entries[a.ID]; ok {
		c.lru.MoveToFront(el)
		return
	}
	c.entries[a.ID] = c.lru.PushFront(a)
	for c.lru.Len() > c.capacity {
		old := c.lru.Back()
		victim := c.lru.Remove(old).(*Artifact)
		delete(c.entries, victim.ID)
		delete(c.sources, SourceID(victim.Source))
		c.stats.Evictions++
		c.logger.Debug("evicted artifact", zap.String("artifact", victim.ID.Short()))
	}
}

// Contains reports whether id is cached in memory.
func (c *ArtifactCache) Contains(id ir.ContentID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Get returns the artifact with the given id, loading it from the blob
// store when it is not in memory.
func (c *ArtifactCache) Get(ctx context.Context, id ir.ContentID) (*Artifact, bool, error) {
	c.mu.Lock()
	if el, ok := c.entries[id]; ok {
		c.lru.MoveToFront(el)
		c.stats.Hits++
		c.mu.Unlock()
		return el.Value.(*Artifact), true, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	a, err := c.load(ctx, id)
	if err != nil || a == nil {
		return nil, false, err
	}
	c.mu.Lock()
	c.put(a)
	c.mu.Unlock()
	return a, true, nil
}

// load reads and re-verifies a persisted artifact.
func (c *ArtifactCache) load(ctx context.Context, id ir.ContentID) (*Artifact, error) {
	if c.blobs == nil {
		return nil, nil
	}
	data, err := c.blobs.GetBlob(ctx, id)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", id.Short(), err)
	}
	a, err := DecodeArtifact(data)
	if err != nil {
		return nil, err
	}
	if a.ID != id {
		return nil, fmt.Errorf("load artifact %s: stored content hashes to %s", id.Short(), a.ID.Short())
	}
	return a, nil
}

// Compile returns the cached artifact for src or compiles it. Concurrent
// callers with the same source wait for one compilation and all observe
// its result. Failed compilations are not cached.
func (c *ArtifactCache) Compile(ctx context.Context, src string) (*Artifact, error) {
	key := SourceID(src)
	if a, ok, err := c.bySource(ctx, key); err != nil || ok {
		return a, err
	}
	v, err, shared := c.group.Do(key.Hex(), func() (any, error) {
		if a, ok, err := c.bySource(ctx, key); err != nil || ok {
			return a, err
		}
		a, err := Compile(src)
		c.mu.Lock()
		c.stats.Compilations++
		c.mu.Unlock()
		if err != nil {
			c.logger.Debug("compile failed", zap.String("source", key.Short()), zap.Error(err))
			return nil, err
		}
		if err := c.Insert(ctx, a); err != nil {
			return nil, err
		}
		c.logger.Debug("compiled artifact",
			zap.String("source", key.Short()),
			zap.String("artifact", a.ID.Short()),
			zap.Int("instructions", a.Program.InstructionCount()))
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("shared compilation", zap.String("source", key.Short()))
	}
	return v.(*Artifact), nil
}

func (c *ArtifactCache) bySource(ctx context.Context, key ir.ContentID) (*Artifact, bool, error) {
	c.mu.Lock()
	id, ok := c.sources[key]
	c.mu.Unlock()
	if ok {
		return c.Get(ctx, id)
	}
	if c.blobs == nil {
		return nil, false, nil
	}
	raw, err := c.blobs.GetBlob(ctx, key)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load source index %s: %w", key.Short(), err)
	}
	if len(raw) != ir.IDSize {
		return nil, false, fmt.Errorf("source index %s is corrupt", key.Short())
	}
	return c.Get(ctx, ir.ContentID(raw))
}

// Stats returns a snapshot of the counters.
func (c *ArtifactCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	return s
}

// Len returns the number of in-memory entries.
func (c *ArtifactCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CompileAll compiles sources concurrently through the cache and returns
// the artifacts in input order. The first error cancels the rest.
func (c *ArtifactCache) CompileAll(ctx context.Context, sources []string) ([]*Artifact, error) {
	out := make([]*Artifact, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			a, err := c.Compile(ctx, src)
			if err != nil {
				return fmt.Errorf("source %d: %w", i, err)
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type cacheCollector struct {
	cache        *ArtifactCache
	hits         *prometheus.Desc
	misses       *prometheus.Desc
	compilations *prometheus.Desc
	entries      *prometheus.Desc
	evictions    *prometheus.Desc
}

// Collector exposes the cache counters as Prometheus metrics.
func (c *ArtifactCache) Collector() prometheus.Collector {
	return &cacheCollector{
		cache:        c,
		hits:         prometheus.NewDesc("causality_artifact_cache_hits_total", "Artifact cache hits", nil, nil),
		misses:       prometheus.NewDesc("causality_artifact_cache_misses_total", "Artifact cache misses", nil, nil),
		compilations: prometheus.NewDesc("causality_artifact_compilations_total", "Compilations run by the cache", nil, nil),
		entries:      prometheus.NewDesc("causality_artifact_cache_entries", "Artifacts held in memory", nil, nil),
		evictions:    prometheus.NewDesc("causality_artifact_cache_evictions_total", "Artifacts evicted past capacity", nil, nil),
	}
}

func (cc *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cc.hits
	ch <- cc.misses
	ch <- cc.compilations
	ch <- cc.entries
	ch <- cc.evictions
}

func (cc *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := cc.cache.Stats()
	ch <- prometheus.MustNewConstMetric(cc.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(cc.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(cc.compilations, prometheus.CounterValue, float64(s.Compilations))
	ch <- prometheus.MustNewConstMetric(cc.entries, prometheus.GaugeValue, float64(s.Entries))
	ch <- prometheus.MustNewConstMetric(cc.evictions, prometheus.CounterValue, float64(s.Evictions))
}
