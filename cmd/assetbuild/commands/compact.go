package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/config"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/incremental"
	"git.home.luguber.info/inful/assetbuild/internal/objectid"
)

// CompactCmd implements the 'compact' command.
type CompactCmd struct {
	GC bool `help:"Also delete stored objects no cached result or published location refers to"`
}

// Run compacts local state once.
func (c *CompactCmd) Run(root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openRuntime(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			slog.Warn("Failed to close build resources", "error", cerr)
		}
	}()

	stats, err := rt.maintain(ctx, c.GC)
	if err != nil {
		return err
	}
	fmt.Printf("file versions: %d entries (compacted: %t)\n", stats.versions, stats.compacted)
	if cfg.Events.IsEnabled() {
		fmt.Printf("events pruned: %d\n", stats.prunedEvents)
	}
	if c.GC {
		fmt.Printf("objects collected: %d\n", stats.collected)
	}
	return nil
}

type maintenanceStats struct {
	versions     int
	compacted    bool
	prunedEvents int64
	collected    int
}

// garbageCollector is implemented by stores that can delete unreachable objects.
type garbageCollector interface {
	GC(ctx context.Context, keep func(objectid.ContentHash) bool) (int, error)
}

// maintain compacts the file version store, prunes expired events and optionally
// collects unreachable objects.
func (rt *runtime) maintain(ctx context.Context, gc bool) (maintenanceStats, error) {
	var stats maintenanceStats
	stats.compacted = rt.versions.Compact()
	stats.versions = rt.versions.Len()

	if rt.events != nil {
		cutoff := time.Now().Add(-config.Duration(rt.cfg.Events.Retention))
		n, err := rt.events.Prune(ctx, cutoff)
		if err != nil {
			return stats, err
		}
		stats.prunedEvents = n
	}

	if !gc {
		rt.logger.Info("Maintenance finished",
			slog.Int("file_versions", stats.versions),
			slog.Int64("pruned_events", stats.prunedEvents))
		return stats, nil
	}

	collector, ok := rt.store.(garbageCollector)
	if !ok {
		return stats, errors.ValidationError("object store does not support garbage collection").
			WithContext("type", rt.cfg.Storage.Type).
			Build()
	}
	published, err := rt.index.Snapshot(ctx)
	if err != nil {
		return stats, err
	}
	live, err := incremental.LiveObjects(ctx, rt.store, published)
	if err != nil {
		return stats, errors.WrapError(err, errors.CategoryCache, "failed to compute live objects").Build()
	}
	n, err := collector.GC(ctx, func(h objectid.ContentHash) bool { return live[h] })
	if err != nil {
		return stats, errors.WrapError(err, errors.CategoryFileSystem, "garbage collection failed").Build()
	}
	stats.collected = n
	rt.logger.Info("Maintenance finished",
		slog.Int("file_versions", stats.versions),
		slog.Int64("pruned_events", stats.prunedEvents),
		slog.Int("collected_objects", n),
		slog.Int("live_objects", len(live)))
	return stats, nil
}
