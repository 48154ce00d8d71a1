package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

func stores(t *testing.T) map[string]ObjectStore {
	t.Helper()
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return map[string]ObjectStore{
		"fs":   fs,
		"mock": NewMockStore(),
	}
}

func TestStorePutAndGet(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			data := []byte("compiled stylesheet")
			hash, err := store.Put(ctx, &Object{
				Type:     ObjectTypeArtifact,
				Data:     data,
				Metadata: Metadata{Custom: map[string]string{"command": "copy"}},
			})
			require.NoError(t, err)
			assert.Equal(t, objectid.HashBytes(data), hash)

			got, err := store.Get(ctx, hash)
			require.NoError(t, err)
			assert.Equal(t, data, got.Data)
			assert.Equal(t, ObjectTypeArtifact, got.Type)
			assert.Equal(t, int64(len(data)), got.Size)
			assert.Equal(t, "copy", got.Metadata.Custom["command"])
		})
	}
}

func TestStorePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			obj := &Object{Type: ObjectTypeArtifact, Data: []byte("same")}
			first, err := store.Put(ctx, obj)
			require.NoError(t, err)
			second, err := store.Put(ctx, obj)
			require.NoError(t, err)
			assert.Equal(t, first, second)

			got, err := store.Get(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, 2, got.Metadata.RefCount)

			all, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestStoreRejectsHashMismatch(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Put(ctx, &Object{Hash: objectid.HashBytes([]byte("other")), Data: []byte("data")})
			var mismatch ErrHashMismatch
			require.ErrorAs(t, err, &mismatch)
		})
	}
}

func TestStoreExistsDeleteNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			missing := objectid.HashBytes([]byte("missing"))
			exists, err := store.Exists(ctx, missing)
			require.NoError(t, err)
			assert.False(t, exists)

			_, err = store.Get(ctx, missing)
			assert.True(t, IsNotFound(err))
			assert.True(t, IsNotFound(store.Delete(ctx, missing)))

			hash, err := store.Put(ctx, &Object{Data: []byte("x")})
			require.NoError(t, err)
			exists, err = store.Exists(ctx, hash)
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, store.Delete(ctx, hash))
			exists, err = store.Exists(ctx, hash)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestStoreListByType(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			artifact, err := store.Put(ctx, &Object{Type: ObjectTypeArtifact, Data: []byte("a")})
			require.NoError(t, err)
			result, err := store.Put(ctx, &Object{Type: ObjectTypeCommandResult, Data: []byte("{}")})
			require.NoError(t, err)

			artifacts, err := store.List(ctx, ObjectTypeArtifact)
			require.NoError(t, err)
			assert.Equal(t, []objectid.ContentHash{artifact}, artifacts)

			results, err := store.List(ctx, ObjectTypeCommandResult)
			require.NoError(t, err)
			assert.Equal(t, []objectid.ContentHash{result}, results)

			all, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.ElementsMatch(t, []objectid.ContentHash{artifact, result}, all)
		})
	}
}

func TestStoreRefs(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.GetRef(ctx, "results/abc")
			require.NoError(t, err)
			assert.False(t, ok)

			first := objectid.HashBytes([]byte("1"))
			second := objectid.HashBytes([]byte("2"))
			require.NoError(t, store.SetRef(ctx, "results/abc", first))
			require.NoError(t, store.SetRef(ctx, "results/abc", second))

			got, ok, err := store.GetRef(ctx, "results/abc")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, second, got)
		})
	}
}

func TestInvalidRefNames(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, ref := range []string{"", "/abs", "../escape", "a//b", "a/./b", `a\b`} {
				assert.Error(t, store.SetRef(ctx, ref, objectid.HashBytes(nil)), ref)
				_, _, err := store.GetRef(ctx, ref)
				assert.Error(t, err, ref)
			}
		})
	}
}

func TestFSStoreLayoutAndGC(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	keep, err := store.Put(ctx, &Object{Data: []byte("keep")})
	require.NoError(t, err)
	drop, err := store.Put(ctx, &Object{Data: []byte("drop")})
	require.NoError(t, err)

	_, err = os.Stat(store.objectPath(keep))
	require.NoError(t, err)

	removed, err := store.GC(ctx, func(h objectid.ContentHash) bool { return h == keep })
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	exists, err := store.Exists(ctx, drop)
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = store.Exists(ctx, keep)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFSStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFSStore(dir)
	require.NoError(t, err)
	hash, err := store.Put(ctx, &Object{Type: ObjectTypeArtifact, Data: []byte("persist")})
	require.NoError(t, err)
	require.NoError(t, store.SetRef(ctx, "results/k", hash))

	reopened, err := NewFSStore(dir)
	require.NoError(t, err)
	got, ok, err := reopened.GetRef(ctx, "results/k")
	require.NoError(t, err)
	require.True(t, ok)
	obj, err := reopened.Get(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, []byte("persist"), obj.Data)
}

func TestMockStoreCalls(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()
	hash, err := store.Put(ctx, &Object{Data: []byte("a")})
	require.NoError(t, err)
	_, err = store.Get(ctx, hash)
	require.NoError(t, err)
	_, err = store.Exists(ctx, hash)
	require.NoError(t, err)

	calls := store.GetCalls()
	assert.Equal(t, 1, calls.Put)
	assert.Equal(t, 1, calls.Get)
	assert.Equal(t, 1, calls.Exists)
	assert.Equal(t, 1, store.Size())

	store.Reset()
	assert.Equal(t, 0, store.Size())
	assert.Equal(t, MockCalls{}, store.GetCalls())
}

func TestNewS3StoreValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
	}{
		{"missing endpoint", S3Config{AccessKey: "a", SecretKey: "s", Bucket: "b"}},
		{"missing credentials", S3Config{Endpoint: "localhost:9000", Bucket: "b"}},
		{"missing bucket", S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3Store(tt.cfg)
			assert.Error(t, err)
		})
	}

	store, err := NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "assets", Prefix: "/cache/"})
	require.NoError(t, err)
	assert.Equal(t, "cache/objects/"+objectid.HashBytes(nil).String(), store.objectKey(objectid.HashBytes(nil)))
}
