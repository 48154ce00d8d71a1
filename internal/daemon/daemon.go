// Package daemon runs builds on a schedule and serves build status over HTTP.
package daemon

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/assetbuild/internal/builder"
	"git.home.luguber.info/inful/assetbuild/internal/eventstore"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
)

// BuildFunc runs one build.
type BuildFunc func(ctx context.Context, trigger string) (*builder.Report, error)

// MaintenanceFunc performs housekeeping between builds.
type MaintenanceFunc func(ctx context.Context) error

// ErrBuildRunning is returned when a build is requested while another one runs.
var ErrBuildRunning = errors.RuntimeError("a build is already running").Build()

// Daemon owns the periodic build loop.
type Daemon struct {
	build           BuildFunc
	maintain        MaintenanceFunc
	interval        time.Duration
	compactInterval time.Duration
	addr            string
	history         *eventstore.BuildHistoryProjection
	registry        *prom.Registry
	logger          *slog.Logger

	// buildMu serializes builds and maintenance.
	buildMu sync.Mutex

	mu        sync.RWMutex
	runCtx    context.Context
	startTime time.Time
	last      *builder.Report
	lastErr   error
	running   bool
}

// New creates a daemon that calls build.
func New(build BuildFunc) *Daemon {
	return &Daemon{
		build:    build,
		interval: 10 * time.Minute,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (d *Daemon) WithLogger(logger *slog.Logger) *Daemon {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// WithInterval sets the rebuild period. Zero disables periodic builds.
func (d *Daemon) WithInterval(interval time.Duration) *Daemon {
	d.interval = interval
	return d
}

// WithMaintenance schedules fn every interval.
func (d *Daemon) WithMaintenance(fn MaintenanceFunc, interval time.Duration) *Daemon {
	d.maintain = fn
	d.compactInterval = interval
	return d
}

// WithHistory serves build history from the projection.
func (d *Daemon) WithHistory(p *eventstore.BuildHistoryProjection) *Daemon {
	d.history = p
	return d
}

// WithRegistry exposes the registry on /metrics.
func (d *Daemon) WithRegistry(reg *prom.Registry) *Daemon {
	d.registry = reg
	return d
}

// WithHTTPAddr enables the status server. An empty address disables it.
func (d *Daemon) WithHTTPAddr(addr string) *Daemon {
	d.addr = addr
	return d
}

// Run builds once, then keeps building on schedule until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	d.runCtx = ctx
	d.startTime = time.Now()
	d.mu.Unlock()

	var srv *http.Server
	if d.addr != "" {
		ln, err := net.Listen("tcp", d.addr)
		if err != nil {
			return errors.WrapError(err, errors.CategoryNetwork, "failed to bind status server").
				WithContext("addr", d.addr).
				Build()
		}
		srv = &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				d.logger.Error("Status server stopped", logfields.Error(err))
			}
		}()
		d.logger.Info("Status server listening", slog.String("addr", ln.Addr().String()))
	}

	sched, err := d.schedule(ctx)
	if err != nil {
		return err
	}
	sched.Start()
	d.logger.Info("Daemon started",
		slog.Duration("interval", d.interval),
		slog.Duration("compact_interval", d.compactInterval))

	d.runScheduled(ctx, "startup")

	<-ctx.Done()
	d.logger.Info("Daemon stopping")

	var errs []error
	if err := sched.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// TriggerBuild runs a build now unless one is already running.
func (d *Daemon) TriggerBuild(ctx context.Context, trigger string) (*builder.Report, error) {
	if !d.buildMu.TryLock() {
		return nil, ErrBuildRunning
	}
	defer d.buildMu.Unlock()

	d.setRunning(true)
	report, err := d.build(ctx, trigger)
	d.mu.Lock()
	d.running = false
	if report != nil {
		d.last = report
	}
	d.lastErr = err
	d.mu.Unlock()
	return report, err
}

func (d *Daemon) runScheduled(ctx context.Context, trigger string) {
	report, err := d.TriggerBuild(ctx, trigger)
	switch {
	case stderrors.Is(err, ErrBuildRunning):
		d.logger.Info("Skipping build, previous build still running", slog.String("trigger", trigger))
	case err != nil:
		d.logger.Error("Scheduled build failed", slog.String("trigger", trigger), logfields.Error(err))
	case report != nil:
		d.logger.Info("Scheduled build finished",
			logfields.BuildID(report.BuildID),
			slog.String("status", report.Status.String()),
			logfields.DurationMS(float64(report.Duration().Milliseconds())))
	}
}

func (d *Daemon) runMaintenance(ctx context.Context) {
	d.buildMu.Lock()
	defer d.buildMu.Unlock()
	if err := d.maintain(ctx); err != nil {
		d.logger.Error("Maintenance failed", logfields.Error(err))
	}
}

func (d *Daemon) schedule(ctx context.Context) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryRuntime, "failed to create scheduler").Build()
	}
	if d.interval > 0 {
		_, err = s.NewJob(
			gocron.DurationJob(d.interval),
			gocron.NewTask(func() { d.runScheduled(ctx, "schedule") }),
			gocron.WithName("periodic-build"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, errors.WrapError(err, errors.CategoryRuntime, "failed to schedule periodic build").Build()
		}
	}
	if d.maintain != nil && d.compactInterval > 0 {
		_, err = s.NewJob(
			gocron.DurationJob(d.compactInterval),
			gocron.NewTask(func() { d.runMaintenance(ctx) }),
			gocron.WithName("maintenance"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, errors.WrapError(err, errors.CategoryRuntime, "failed to schedule maintenance").Build()
		}
	}
	return s, nil
}

// baseContext returns the context of Run, or Background before Run starts.
func (d *Daemon) baseContext() context.Context {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.runCtx == nil {
		return context.Background()
	}
	return d.runCtx
}

func (d *Daemon) setRunning(running bool) {
	d.mu.Lock()
	d.running = running
	d.mu.Unlock()
}
