// Package transaction implements the per-build object overlay. Lookups fall through
// three tiers: hashes set during this build, outputs merged by registered steps, and
// the published content index.
package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/assetbuild/internal/contentindex"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// OutputSource exposes outputs merged during the build. Implementations lock themselves.
type OutputSource interface {
	TryGetOutput(loc objectid.Location) (objectid.ContentHash, bool)
}

// Transaction is safe for concurrent use.
type Transaction struct {
	index  contentindex.Index
	logger *slog.Logger

	mu      sync.RWMutex
	overlay map[objectid.Location]objectid.ContentHash

	sourcesMu sync.RWMutex
	sources   []OutputSource
}

// New returns a transaction reading through to index. A nil index ends lookups at tier 2.
func New(index contentindex.Index) *Transaction {
	return &Transaction{
		index:   index,
		logger:  slog.Default(),
		overlay: make(map[objectid.Location]objectid.ContentHash),
	}
}

// WithLogger sets the logger.
func (t *Transaction) WithLogger(logger *slog.Logger) *Transaction {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// AddOutputSource registers src for tier 2 lookups. Sources are consulted newest first.
func (t *Transaction) AddOutputSource(src OutputSource) {
	if src == nil {
		return
	}
	t.sourcesMu.Lock()
	t.sources = append(t.sources, src)
	t.sourcesMu.Unlock()
}

// Set records hash for loc in the overlay.
func (t *Transaction) Set(loc objectid.Location, hash objectid.ContentHash) {
	t.mu.Lock()
	t.overlay[loc] = hash
	t.mu.Unlock()
}

// TryGet resolves loc. ok is false when no tier knows the location.
func (t *Transaction) TryGet(ctx context.Context, loc objectid.Location) (objectid.ContentHash, bool, error) {
	t.mu.RLock()
	h, ok := t.overlay[loc]
	t.mu.RUnlock()
	if ok {
		return h, true, nil
	}

	t.sourcesMu.RLock()
	sources := append([]OutputSource(nil), t.sources...)
	t.sourcesMu.RUnlock()
	for i := len(sources) - 1; i >= 0; i-- {
		if h, ok := sources[i].TryGetOutput(loc); ok {
			return h, true, nil
		}
	}

	if t.index == nil {
		return objectid.Empty, false, nil
	}
	h, ok, err := t.index.Lookup(ctx, loc)
	if err != nil {
		t.logger.Warn("Content index lookup failed", logfields.Location(loc.String()), logfields.Error(err))
		return objectid.Empty, false, fmt.Errorf("lookup %s: %w", loc, err)
	}
	return h, ok, nil
}

// Snapshot copies the overlay.
func (t *Transaction) Snapshot() map[objectid.Location]objectid.ContentHash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[objectid.Location]objectid.ContentHash, len(t.overlay))
	for loc, h := range t.overlay {
		out[loc] = h
	}
	return out
}

// Len reports the number of overlay entries.
func (t *Transaction) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.overlay)
}

// Publish writes the overlay to the index and waits for the writes to land.
func (t *Transaction) Publish(ctx context.Context) (int, error) {
	if t.index == nil {
		return 0, nil
	}
	snap := t.Snapshot()
	for _, loc := range objectid.SortedLocations(snap) {
		if err := t.index.Put(ctx, loc, snap[loc]); err != nil {
			return 0, fmt.Errorf("publish %s: %w", loc, err)
		}
	}
	if err := t.index.WaitPendingOperations(ctx); err != nil {
		return 0, err
	}
	return len(snap), nil
}
