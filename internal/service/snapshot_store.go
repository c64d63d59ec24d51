package service

import (
	"context"
	"sync"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

// SnapshotStore persists opaque wizard snapshots keyed by (namespace, owner).
// Load returns appErrors.ErrSnapshotNotFound when nothing is stored.
type SnapshotStore interface {
	Load(ctx context.Context, key models.SnapshotKey) ([]byte, error)
	Save(ctx context.Context, key models.SnapshotKey, blob []byte) error
	Delete(ctx context.Context, key models.SnapshotKey) error
}

// MemorySnapshotStore keeps snapshots in process memory.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	blobs map[models.SnapshotKey][]byte
}

// NewMemorySnapshotStore constructs an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{blobs: make(map[models.SnapshotKey][]byte)}
}

// Load implements SnapshotStore.
func (m *MemorySnapshotStore) Load(ctx context.Context, key models.SnapshotKey) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[key]
	if !ok {
		return nil, appErrors.ErrSnapshotNotFound
	}
	return append([]byte(nil), blob...), nil
}

// Save implements SnapshotStore.
func (m *MemorySnapshotStore) Save(ctx context.Context, key models.SnapshotKey, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), blob...)
	return nil
}

// Delete implements SnapshotStore.
func (m *MemorySnapshotStore) Delete(ctx context.Context, key models.SnapshotKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Has reports whether a snapshot exists for the key.
func (m *MemorySnapshotStore) Has(key models.SnapshotKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok
}
