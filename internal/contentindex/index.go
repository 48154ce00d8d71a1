// Package contentindex maps object locations to the content hash currently published
// for them. Builds read it through a transaction and publish to it after a successful run.
package contentindex

import (
	"context"

	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// Predicate selects index entries in Search.
type Predicate func(loc objectid.Location, hash objectid.ContentHash) bool

// Index is the persistent location -> hash map.
type Index interface {
	Lookup(ctx context.Context, loc objectid.Location) (objectid.ContentHash, bool, error)
	Exists(ctx context.Context, loc objectid.Location) (bool, error)
	Search(ctx context.Context, pred Predicate) (map[objectid.Location]objectid.ContentHash, error)
	// Put publishes hash for loc. Writes may complete asynchronously.
	Put(ctx context.Context, loc objectid.Location, hash objectid.ContentHash) error
	// WaitPendingOperations blocks until every accepted Put is durable.
	WaitPendingOperations(ctx context.Context) error
	// Snapshot returns every entry, including pending writes.
	Snapshot(ctx context.Context) (map[objectid.Location]objectid.ContentHash, error)
	Close() error
}
