package compiler

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causality/internal/ir"
)

type memBlobs struct {
	mu   sync.Mutex
	data map[ir.ContentID][]byte
	puts int
}

func newMemBlobs() *memBlobs { return &memBlobs{data: map[ir.ContentID][]byte{}} }

func (m *memBlobs) GetBlob(_ context.Context, id ir.ContentID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[id]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *memBlobs) PutBlob(_ context.Context, id ir.ContentID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = append([]byte(nil), data...)
	m.puts++
	return nil
}

func TestArtifactCache_CompileOnce(t *testing.T) {
	ctx := context.Background()
	c := NewArtifactCache()

	a, err := c.Compile(ctx, "(pure 42)")
	require.NoError(t, err)
	b, err := c.Compile(ctx, "(pure 42)")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.True(t, c.Contains(a.ID))
	s := c.Stats()
	assert.Equal(t, uint64(1), s.Compilations)
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, 1, s.Entries)
}

func TestArtifactCache_ConcurrentCompile(t *testing.T) {
	ctx := context.Background()
	c := NewArtifactCache()

	const n = 16
	ids := make([]ir.ContentID, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := c.Compile(ctx, "(causal-chain (a (perform s)) (b (perform s)))")
			if assert.NoError(t, err) {
				ids[i] = a.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, uint64(1), c.Stats().Compilations)
	assert.Equal(t, 1, c.Len())
}

func TestArtifactCache_FailuresNotCached(t *testing.T) {
	ctx := context.Background()
	c := NewArtifactCache()

	for range 2 {
		a, err := c.Compile(ctx, "(pure x)")
		assert.Nil(t, a)
		assert.True(t, IsUnbound(err))
	}
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(2), c.Stats().Compilations)
}

func TestArtifactCache_Evicts(t *testing.T) {
	ctx := context.Background()
	c := NewArtifactCache(WithCapacity(2))

	first, err := c.Compile(ctx, "(pure 1)")
	require.NoError(t, err)
	_, err = c.Compile(ctx, "(pure 2)")
	require.NoError(t, err)
	_, err = c.Compile(ctx, "(pure 3)")
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Contains(first.ID))
	assert.Equal(t, uint64(1), c.Stats().Evictions)

	again, err := c.Compile(ctx, "(pure 1)")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, uint64(4), c.Stats().Compilations)
}

func TestArtifactCache_InsertVerifiesID(t *testing.T) {
	a, err := Compile("(pure 1)")
	require.NoError(t, err)

	forged := *a
	forged.ID[0] ^= 0xff
	c := NewArtifactCache()
	assert.Error(t, c.Insert(context.Background(), &forged))
	assert.Equal(t, 0, c.Len())

	require.NoError(t, c.Insert(context.Background(), a))
	got, ok, err := c.Get(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestArtifactCache_BlobStore(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()

	warm := NewArtifactCache(WithBlobStore(blobs))
	a, err := warm.Compile(ctx, "(let r (alloc int 42) (consume r))")
	require.NoError(t, err)
	assert.Equal(t, 2, blobs.puts)

	cold := NewArtifactCache(WithBlobStore(blobs))
	b, err := cold.Compile(ctx, "(let r (alloc int 42) (consume r))")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, uint64(0), cold.Stats().Compilations)

	missing, ok, err := cold.Get(ctx, ir.SumBytes(ir.DomainArtifact, []byte("nothing")))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, missing)
}

func TestArtifactCache_BlobStoreRejectsTampering(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	a, err := NewArtifactCache(WithBlobStore(blobs)).Compile(ctx, "(pure 5)")
	require.NoError(t, err)

	other, err := Compile("(pure 6)")
	require.NoError(t, err)
	data, err := other.Bytes()
	require.NoError(t, err)
	blobs.data[a.ID] = data

	_, _, err = NewArtifactCache(WithBlobStore(blobs)).Get(ctx, a.ID)
	assert.Error(t, err)
}

func TestArtifactCache_CompileAll(t *testing.T) {
	ctx := context.Background()
	c := NewArtifactCache()
	srcs := make([]string, 6)
	for i := range srcs {
		srcs[i] = fmt.Sprintf("(pure %d)", i%3)
	}

	out, err := c.CompileAll(ctx, srcs)
	require.NoError(t, err)
	require.Len(t, out, len(srcs))
	for i, a := range out {
		assert.Equal(t, srcs[i], a.Source)
	}
	assert.Equal(t, out[0].ID, out[3].ID)
	assert.Equal(t, 3, c.Len())

	_, err = c.CompileAll(ctx, []string{"(pure 1)", "(pure y)"})
	assert.True(t, IsUnbound(err))
}

func TestArtifactCache_Collector(t *testing.T) {
	ctx := context.Background()
	c := NewArtifactCache()
	_, err := c.Compile(ctx, "(pure 1)")
	require.NoError(t, err)
	_, err = c.Compile(ctx, "(pure 1)")
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c.Collector()))
	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		m := mf.GetMetric()[0]
		if m.GetCounter() != nil {
			values[mf.GetName()] = m.GetCounter().GetValue()
		} else {
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, 1.0, values["causality_artifact_cache_hits_total"])
	assert.Equal(t, 1.0, values["causality_artifact_compilations_total"])
	assert.Equal(t, 1.0, values["causality_artifact_cache_entries"])
	assert.Len(t, values, 5)
}
