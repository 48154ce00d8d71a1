package contentindex

import (
	"context"
	"sync"

	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// MemoryIndex is an in-process Index.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[objectid.Location]objectid.ContentHash
	closed  bool
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[objectid.Location]objectid.ContentHash)}
}

// Lookup returns the hash published at loc.
func (m *MemoryIndex) Lookup(_ context.Context, loc objectid.Location) (objectid.ContentHash, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return objectid.Empty, false, ErrIndexClosed
	}
	h, ok := m.entries[loc]
	return h, ok, nil
}

// Exists reports whether anything is published at loc.
func (m *MemoryIndex) Exists(ctx context.Context, loc objectid.Location) (bool, error) {
	_, ok, err := m.Lookup(ctx, loc)
	return ok, err
}

// Search returns every entry matching pred.
func (m *MemoryIndex) Search(_ context.Context, pred Predicate) (map[objectid.Location]objectid.ContentHash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrIndexClosed
	}
	out := make(map[objectid.Location]objectid.ContentHash)
	for loc, h := range m.entries {
		if pred == nil || pred(loc, h) {
			out[loc] = h
		}
	}
	return out, nil
}

// Put publishes hash at loc.
func (m *MemoryIndex) Put(_ context.Context, loc objectid.Location, hash objectid.ContentHash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrIndexClosed
	}
	m.entries[loc] = hash
	return nil
}

// WaitPendingOperations returns immediately; MemoryIndex writes are synchronous.
func (m *MemoryIndex) WaitPendingOperations(context.Context) error { return nil }

// Snapshot returns every entry.
func (m *MemoryIndex) Snapshot(ctx context.Context) (map[objectid.Location]objectid.ContentHash, error) {
	return m.Search(ctx, nil)
}

// Close is a no-op.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
