package store

import (
	"bytes"
	"context"
	"sync"

	"github.com/roach88/causality/internal/compiler"
	"github.com/roach88/causality/internal/ir"
)

// MemoryStore is a map-backed BlobStore for tests and one-shot commands.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[ir.ContentID][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: map[ir.ContentID][]byte{}}
}

// GetBlob implements compiler.BlobStore.
func (m *MemoryStore) GetBlob(_ context.Context, id ir.ContentID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[id]
	if !ok {
		return nil, compiler.ErrBlobNotFound
	}
	return bytes.Clone(data), nil
}

// PutBlob implements compiler.BlobStore.
func (m *MemoryStore) PutBlob(_ context.Context, id ir.ContentID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[id]; !ok {
		m.blobs[id] = bytes.Clone(data)
	}
	return nil
}

// Len counts stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
