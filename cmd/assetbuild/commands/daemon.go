package commands

import (
	"context"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/assetbuild/internal/builder"
	"git.home.luguber.info/inful/assetbuild/internal/config"
	"git.home.luguber.info/inful/assetbuild/internal/daemon"
	"git.home.luguber.info/inful/assetbuild/internal/eventstore"
	"git.home.luguber.info/inful/assetbuild/internal/metrics"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	Plan     string `short:"p" help:"Build plan (defaults to the configured plan)"`
	HTTPAddr string `name:"http-addr" help:"Status server address (defaults to the configured address)"`
	GC       bool   `help:"Collect unreachable objects during maintenance"`
}

// Run builds on a schedule and serves the HTTP API until interrupted.
func (d *DaemonCmd) Run(root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if d.HTTPAddr != "" {
		cfg.Daemon.HTTPAddr = d.HTTPAddr
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger := slog.Default()
	rt, err := openRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			logger.Warn("Failed to close build resources", "error", cerr)
		}
	}()

	reg := prom.NewRegistry()
	bld, err := rt.builder(metrics.NewPrometheusRecorder(reg))
	if err != nil {
		return err
	}

	var history *eventstore.BuildHistoryProjection
	if rt.events != nil {
		history = eventstore.NewBuildHistoryProjection(rt.events, cfg.Daemon.HistorySize)
		if err := history.Rebuild(ctx); err != nil {
			logger.Warn("Failed to rebuild build history", "error", err)
		}
		bld.WithEventListener(history.Apply)
	}

	build := func(ctx context.Context, trigger string) (*builder.Report, error) {
		p, err := rt.loadPlan(d.Plan)
		if err != nil {
			return nil, err
		}
		tree, err := p.Build(rt.registry)
		if err != nil {
			return nil, err
		}
		return bld.Run(ctx, tree, trigger)
	}

	dm := daemon.New(build).
		WithLogger(logger).
		WithInterval(config.Duration(cfg.Daemon.Interval)).
		WithMaintenance(func(ctx context.Context) error {
			_, err := rt.maintain(ctx, d.GC)
			return err
		}, config.Duration(cfg.Daemon.CompactInterval)).
		WithHistory(history).
		WithRegistry(reg).
		WithHTTPAddr(cfg.Daemon.HTTPAddr)
	return dm.Run(ctx)
}
