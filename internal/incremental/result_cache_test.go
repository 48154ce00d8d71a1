package incremental

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
	"git.home.luguber.info/inful/assetbuild/internal/storage"
)

func storedResult(t *testing.T, store storage.ObjectStore, data string) (*command.Result, objectid.Location) {
	t.Helper()
	hash, err := store.Put(context.Background(), &storage.Object{Type: storage.ObjectTypeArtifact, Data: []byte(data)})
	require.NoError(t, err)
	out := objectid.Content("out/" + data)
	res := command.NewResult()
	res.AddInputDependency(objectid.File("/src/"+data), objectid.HashBytes([]byte("src-"+data)))
	res.AddOutput(out, hash)
	res.AddTag(out, "css")
	return res, out
}

func TestResultCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMockStore()
	cache := NewResultCache(store)
	key := objectid.HashBytes([]byte("key"))

	_, ok := cache.Lookup(ctx, key)
	assert.False(t, ok)

	res, _ := storedResult(t, store, "a.css")
	require.NoError(t, cache.Store(ctx, key, res))

	got, ok := cache.Lookup(ctx, key)
	require.True(t, ok)
	assert.Equal(t, res.OutputObjects, got.OutputObjects)
	assert.Equal(t, res.InputDependencyVersions, got.InputDependencyVersions)
	assert.Equal(t, res.Tags, got.Tags)
}

func TestResultCacheIgnoresEmptyKey(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMockStore()
	cache := NewResultCache(store)
	res, _ := storedResult(t, store, "a")

	require.NoError(t, cache.Store(ctx, objectid.Empty, res))
	_, ok := cache.Lookup(ctx, objectid.Empty)
	assert.False(t, ok)
	assert.Equal(t, 0, store.GetCalls().SetRef)
}

func TestResultCacheMissWhenOutputEvicted(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMockStore()
	cache := NewResultCache(store)
	key := objectid.HashBytes([]byte("key"))

	res, out := storedResult(t, store, "b.js")
	require.NoError(t, cache.Store(ctx, key, res))
	require.NoError(t, store.Delete(ctx, res.OutputObjects[out]))

	_, ok := cache.Lookup(ctx, key)
	assert.False(t, ok)
}

func TestResultCacheValidatesInputs(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMockStore()
	key := objectid.HashBytes([]byte("key"))
	res, _ := storedResult(t, store, "c.md")

	current := map[objectid.Location]objectid.ContentHash{}
	for loc, h := range res.InputDependencyVersions {
		current[loc] = h
	}
	cache := NewResultCache(store).WithInputResolver(func(_ context.Context, loc objectid.Location) (objectid.ContentHash, bool, error) {
		h, ok := current[loc]
		return h, ok, nil
	})
	require.NoError(t, cache.Store(ctx, key, res))

	_, ok := cache.Lookup(ctx, key)
	assert.True(t, ok, "inputs unchanged")

	for loc := range current {
		current[loc] = objectid.HashBytes([]byte("edited"))
	}
	_, ok = cache.Lookup(ctx, key)
	assert.False(t, ok, "input changed since the result was stored")
}

func TestResultCacheDiscardsCorruptResult(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMockStore()
	cache := NewResultCache(store)
	key := objectid.HashBytes([]byte("key"))

	hash, err := store.Put(ctx, &storage.Object{Type: storage.ObjectTypeCommandResult, Data: []byte("{not json")})
	require.NoError(t, err)
	require.NoError(t, store.SetRef(ctx, RefName(key), hash))

	_, ok := cache.Lookup(ctx, key)
	assert.False(t, ok)
}

func TestLiveObjects(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMockStore()
	cache := NewResultCache(store)

	res, out := storedResult(t, store, "kept")
	require.NoError(t, cache.Store(ctx, objectid.HashBytes([]byte("k")), res))
	orphan, err := store.Put(ctx, &storage.Object{Type: storage.ObjectTypeArtifact, Data: []byte("orphan")})
	require.NoError(t, err)
	indexed, err := store.Put(ctx, &storage.Object{Type: storage.ObjectTypeArtifact, Data: []byte("indexed")})
	require.NoError(t, err)

	live, err := LiveObjects(ctx, store, map[objectid.Location]objectid.ContentHash{objectid.Content("i"): indexed})
	require.NoError(t, err)
	assert.True(t, live[res.OutputObjects[out]])
	assert.True(t, live[indexed])
	assert.False(t, live[orphan])
	assert.Len(t, live, 3, "output, indexed object and the result itself")
}
