// Package incremental skips commands whose cache key already produced a result
// whose outputs are still available.
package incremental

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
	"git.home.luguber.info/inful/assetbuild/internal/storage"
)

const refPrefix = "results/"

// InputResolver returns the current hash of loc. ok is false when loc is unknown.
type InputResolver func(ctx context.Context, loc objectid.Location) (hash objectid.ContentHash, ok bool, err error)

// ResultCache maps cache keys to stored command results.
type ResultCache struct {
	store   storage.ObjectStore
	resolve InputResolver
	logger  *slog.Logger
}

// NewResultCache creates a result cache backed by store.
func NewResultCache(store storage.ObjectStore) *ResultCache {
	return &ResultCache{
		store:  store,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (c *ResultCache) WithLogger(logger *slog.Logger) *ResultCache {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithInputResolver makes Lookup reject results whose recorded input dependencies
// no longer resolve to the recorded hashes.
func (c *ResultCache) WithInputResolver(resolve InputResolver) *ResultCache {
	c.resolve = resolve
	return c
}

// RefName is the object store ref holding the result for key.
func RefName(key objectid.ContentHash) string {
	return refPrefix + key.String()
}

// Lookup returns the result stored for key if it is still usable. Lookup failures are
// logged and reported as misses.
func (c *ResultCache) Lookup(ctx context.Context, key objectid.ContentHash) (*command.Result, bool) {
	if key.IsEmpty() {
		return nil, false
	}
	log := c.logger.With(logfields.CacheKey(key.Short()))

	ref, ok, err := c.store.GetRef(ctx, RefName(key))
	if err != nil {
		log.Warn("Failed to read result ref", logfields.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	obj, err := c.store.Get(ctx, ref)
	if err != nil {
		if storage.IsNotFound(err) {
			log.Debug("Result object missing")
		} else {
			log.Warn("Failed to load cached result", logfields.Error(err))
		}
		return nil, false
	}

	result := command.NewResult()
	if err := json.Unmarshal(obj.Data, result); err != nil {
		log.Warn("Discarding unreadable cached result", logfields.Error(err))
		return nil, false
	}

	if !c.outputsAvailable(ctx, log, result) || !c.inputsCurrent(ctx, log, result) {
		return nil, false
	}
	return result, true
}

// Store persists result under key. Empty keys are ignored.
func (c *ResultCache) Store(ctx context.Context, key objectid.ContentHash, result *command.Result) error {
	if key.IsEmpty() || result == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	hash, err := c.store.Put(ctx, &storage.Object{
		Type: storage.ObjectTypeCommandResult,
		Data: data,
		Metadata: storage.Metadata{
			Custom: map[string]string{"cache_key": key.String()},
		},
	})
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	if err := c.store.SetRef(ctx, RefName(key), hash); err != nil {
		return fmt.Errorf("set result ref: %w", err)
	}
	c.logger.Debug("Cached command result", logfields.CacheKey(key.Short()), logfields.Hash(hash.Short()))
	return nil
}

func (c *ResultCache) outputsAvailable(ctx context.Context, log *slog.Logger, result *command.Result) bool {
	for _, loc := range result.SortedOutputs() {
		hash := result.OutputObjects[loc]
		exists, err := c.store.Exists(ctx, hash)
		if err != nil {
			log.Warn("Failed to check cached output", logfields.Location(loc.String()), logfields.Error(err))
			return false
		}
		if !exists {
			log.Debug("Cached output evicted", logfields.Location(loc.String()))
			return false
		}
	}
	return true
}

func (c *ResultCache) inputsCurrent(ctx context.Context, log *slog.Logger, result *command.Result) bool {
	if c.resolve == nil {
		return true
	}
	for _, loc := range result.SortedInputDependencies() {
		want := result.InputDependencyVersions[loc]
		got, ok, err := c.resolve(ctx, loc)
		if err != nil {
			log.Warn("Failed to resolve cached input", logfields.Location(loc.String()), logfields.Error(err))
			return false
		}
		if !ok || got != want {
			log.Debug("Cached input changed", logfields.Location(loc.String()))
			return false
		}
	}
	return true
}
