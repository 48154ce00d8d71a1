package commands

import (
	"context"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/assetbuild/internal/config"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/metrics"
	"git.home.luguber.info/inful/assetbuild/internal/watch"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Plan string `short:"p" help:"Build plan (defaults to the configured plan)"`
}

// Run builds once, then rebuilds whenever sources change.
func (w *WatchCmd) Run(root *CLI) error {
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

	bld, err := rt.builder(metrics.NoopRecorder{})
	if err != nil {
		return err
	}

	// The plan is reloaded for every build so edits to it take effect.
	rebuild := func(ctx context.Context, trigger string) {
		p, err := rt.loadPlan(w.Plan)
		if err != nil {
			slog.Error("Failed to load build plan", logfields.Error(err))
			return
		}
		tree, err := p.Build(rt.registry)
		if err != nil {
			slog.Error("Failed to build step tree", logfields.Error(err))
			return
		}
		report, err := bld.Run(ctx, tree, trigger)
		if report != nil {
			writeReportText(os.Stdout, report)
		}
		if err != nil && ctx.Err() == nil {
			slog.Error("Build failed", logfields.Error(err))
		}
	}

	rebuild(ctx, "watch")

	watcher, err := watch.New(cfg.SourceDir, config.Duration(cfg.Watch.Debounce))
	if err != nil {
		return err
	}
	watcher.WithLogger(slog.Default()).
		WithIgnore(cfg.Watch.Ignore...).
		WithSkipDir(cfg.StateDir)

	return watcher.Run(ctx, func(ctx context.Context, changed []string) {
		slog.Info("Rebuilding", slog.Int("changed", len(changed)))
		rebuild(ctx, "watch")
	})
}
