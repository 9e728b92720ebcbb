package store

import (
	"context"
	"sync"

	"buildcache/internal/core"
)

// MemoryStore keeps records and blobs in process memory. Used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*core.CacheRecord
	blobs   map[string][]byte

	// FailGet and FailPut inject backend errors when set.
	FailGet error
	FailPut error
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*core.CacheRecord),
		blobs:   make(map[string][]byte),
	}
}

func memoryLocation(key core.ProjectKey, sum core.Checksum) string {
	return "memory://" + key.GroupID + "/" + key.ArtifactID + "/" + key.Version + "/" + sum.String()
}

// Get implements Backend.
func (m *MemoryStore) Get(ctx context.Context, key core.ProjectKey, sum core.Checksum) (*core.CacheRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailGet != nil {
		return nil, m.FailGet
	}
	rec, ok := m.records[lockKey(key, sum)]
	if !ok {
		return nil, nil
	}
	out := rec.Clone()
	out.StorageLocation = memoryLocation(key, sum)
	return out, nil
}

// Put implements Backend.
func (m *MemoryStore) Put(ctx context.Context, rec *core.CacheRecord, blobs core.Blobs) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return "", m.FailPut
	}
	for d, data := range blobs {
		m.blobs[d] = append([]byte(nil), data...)
	}
	m.records[lockKey(rec.Project, rec.Checksum)] = rec.Clone()
	return memoryLocation(rec.Project, rec.Checksum), nil
}

// Blob implements Backend.
func (m *MemoryStore) Blob(ctx context.Context, _ core.ProjectKey, _ core.Checksum, digest string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[digest]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

// DeleteBlob drops a blob, simulating a damaged cache.
func (m *MemoryStore) DeleteBlob(digest string) {
	m.mu.Lock()
	delete(m.blobs, digest)
	m.mu.Unlock()
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close implements Backend.
func (m *MemoryStore) Close() error { return nil }
