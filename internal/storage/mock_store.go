package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// MockStore is an in-memory implementation of ObjectStore for tests and dry runs.
type MockStore struct {
	mu      sync.RWMutex
	objects map[objectid.ContentHash]*Object
	refs    map[string]objectid.ContentHash
	calls   MockCalls
}

// MockCalls tracks method invocations for test verification.
type MockCalls struct {
	Put    int
	Get    int
	Exists int
	Delete int
	List   int
	SetRef int
	GetRef int
}

// NewMockStore creates a new in-memory object store.
func NewMockStore() *MockStore {
	return &MockStore{
		objects: make(map[objectid.ContentHash]*Object),
		refs:    make(map[string]objectid.ContentHash),
	}
}

// Put stores an object and returns its content hash.
func (m *MockStore) Put(_ context.Context, obj *Object) (objectid.ContentHash, error) {
	hash, err := contentHash(obj)
	if err != nil {
		return objectid.Empty, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Put++

	if existing, ok := m.objects[hash]; ok {
		existing.Metadata.RefCount++
		existing.Metadata.LastAccessed = time.Now()
		return hash, nil
	}

	now := time.Now()
	stored := &Object{
		Hash: hash,
		Type: obj.Type,
		Size: int64(len(obj.Data)),
		Data: append([]byte(nil), obj.Data...),
		Metadata: Metadata{
			CreatedAt:    now,
			LastAccessed: now,
			RefCount:     1,
			Custom:       make(map[string]string),
		},
	}
	for k, v := range obj.Metadata.Custom {
		stored.Metadata.Custom[k] = v
	}
	m.objects[hash] = stored
	return hash, nil
}

// Get returns a copy of the stored object.
func (m *MockStore) Get(_ context.Context, hash objectid.ContentHash) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Get++

	obj, ok := m.objects[hash]
	if !ok {
		return nil, ErrNotFound{Hash: hash}
	}
	obj.Metadata.LastAccessed = time.Now()

	result := &Object{
		Hash: obj.Hash,
		Type: obj.Type,
		Size: obj.Size,
		Data: append([]byte(nil), obj.Data...),
		Metadata: Metadata{
			CreatedAt:    obj.Metadata.CreatedAt,
			LastAccessed: obj.Metadata.LastAccessed,
			RefCount:     obj.Metadata.RefCount,
			Custom:       make(map[string]string, len(obj.Metadata.Custom)),
		},
	}
	for k, v := range obj.Metadata.Custom {
		result.Metadata.Custom[k] = v
	}
	return result, nil
}

// Exists reports whether hash is stored.
func (m *MockStore) Exists(_ context.Context, hash objectid.ContentHash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Exists++

	_, ok := m.objects[hash]
	return ok, nil
}

// Delete removes hash; deleting a missing object is an error.
func (m *MockStore) Delete(_ context.Context, hash objectid.ContentHash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Delete++

	if _, ok := m.objects[hash]; !ok {
		return ErrNotFound{Hash: hash}
	}
	delete(m.objects, hash)
	return nil
}

// List returns the hashes of every object of objectType.
func (m *MockStore) List(_ context.Context, objectType ObjectType) ([]objectid.ContentHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.List++

	var hashes []objectid.ContentHash
	for hash, obj := range m.objects {
		if objectType == "" || obj.Type == objectType {
			hashes = append(hashes, hash)
		}
	}
	return hashes, nil
}

// SetRef points name at hash.
func (m *MockStore) SetRef(_ context.Context, name string, hash objectid.ContentHash) error {
	if !validRefName(name) {
		return fmt.Errorf("invalid ref name %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.SetRef++
	m.refs[name] = hash
	return nil
}

// GetRef resolves name.
func (m *MockStore) GetRef(_ context.Context, name string) (objectid.ContentHash, bool, error) {
	if !validRefName(name) {
		return objectid.Empty, false, fmt.Errorf("invalid ref name %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.GetRef++
	h, ok := m.refs[name]
	return h, ok, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// GetCalls returns the number of times each method was called.
func (m *MockStore) GetCalls() MockCalls {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// Reset clears all stored objects, refs and call counts.
func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = make(map[objectid.ContentHash]*Object)
	m.refs = make(map[string]objectid.ContentHash)
	m.calls = MockCalls{}
}

// Size returns the number of stored objects.
func (m *MockStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// String summarizes the store contents for test failures.
func (m *MockStore) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("MockStore{objects: %d, refs: %d, calls: %+v}", len(m.objects), len(m.refs), m.calls)
}
