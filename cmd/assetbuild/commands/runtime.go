package commands

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/assetbuild/internal/assetcmd"
	"git.home.luguber.info/inful/assetbuild/internal/builder"
	"git.home.luguber.info/inful/assetbuild/internal/buildstep"
	"git.home.luguber.info/inful/assetbuild/internal/command"
	"git.home.luguber.info/inful/assetbuild/internal/config"
	"git.home.luguber.info/inful/assetbuild/internal/contentindex"
	"git.home.luguber.info/inful/assetbuild/internal/eventstore"
	"git.home.luguber.info/inful/assetbuild/internal/fileversion"
	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuild/internal/logfields"
	"git.home.luguber.info/inful/assetbuild/internal/metrics"
	"git.home.luguber.info/inful/assetbuild/internal/plan"
	"git.home.luguber.info/inful/assetbuild/internal/remote"
	"git.home.luguber.info/inful/assetbuild/internal/storage"
)

// runtime holds the collaborators of a build process opened from configuration.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.ObjectStore
	index    contentindex.Index
	versions *fileversion.Store
	events   eventstore.Store
	nc       *nats.Conn
	registry *assetcmd.Registry
	closers  []func() error
}

func openRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, registry: assetcmd.DefaultRegistry()}
	if err := rt.open(); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) open() error {
	cfg := rt.cfg
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to create state directory").
			WithContext("path", cfg.StateDir).
			Build()
	}

	store, err := openStore(cfg.Storage, rt.logger)
	if err != nil {
		return err
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	index, err := openIndex(cfg.Index, rt.logger)
	if err != nil {
		return err
	}
	rt.index = index
	rt.closers = append(rt.closers, index.Close)

	versions, err := fileversion.Open(cfg.Build.FileVersions)
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to open file version store").
			WithContext("path", cfg.Build.FileVersions).
			Build()
	}
	rt.versions = versions.WithLogger(rt.logger)
	rt.closers = append(rt.closers, versions.Close)

	if cfg.Events.IsEnabled() {
		events, err := eventstore.NewSQLiteStore(cfg.Events.Path)
		if err != nil {
			return errors.WrapError(err, errors.CategoryEventStore, "failed to open event store").
				WithContext("path", cfg.Events.Path).
				Build()
		}
		rt.events = events
		rt.closers = append(rt.closers, events.Close)
	}

	if cfg.Remote.Enabled {
		nc, err := connectNATS(cfg.Remote.URL, "assetbuild-builder", rt.logger)
		if err != nil {
			return err
		}
		rt.nc = nc
		rt.closers = append(rt.closers, func() error {
			nc.Close()
			return nil
		})
	}
	return nil
}

// Close releases everything opened, newest first.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return stderrors.Join(errs...)
}

// builder returns a builder configured from the runtime.
func (rt *runtime) builder(recorder metrics.Recorder) (*builder.Builder, error) {
	root, err := builder.AbsRoot(rt.cfg.SourceDir)
	if err != nil {
		return nil, err
	}
	b := builder.New(root, rt.store, rt.index, rt.versions).
		WithLogger(rt.logger).
		WithParallelism(rt.cfg.Build.Parallelism).
		WithResultCache(rt.cfg.Build.ResultCacheEnabled()).
		WithRecorder(recorder)
	if rt.events != nil {
		b.WithEventStore(rt.events)
	}
	if rt.nc != nil {
		rc := rt.cfg.Remote
		b.WithRemote(func(objects command.ObjectAccess) buildstep.RemoteExecutor {
			return remote.NewExecutor(rt.nc, objects).
				WithSubject(rc.Subject).
				WithRegistry(rt.registry).
				WithTimeout(config.Duration(rc.Timeout)).
				WithPolicy(rc.Retry.Policy()).
				WithLogger(rt.logger)
		})
	}
	return b, nil
}

// loadPlan reads the build plan; planPath overrides the configured one.
func (rt *runtime) loadPlan(planPath string) (*plan.Plan, error) {
	if planPath == "" {
		planPath = rt.cfg.Plan
	}
	p, err := plan.Load(planPath)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(rt.registry); err != nil {
		return nil, err
	}
	return p, nil
}

func openStore(cfg config.StorageConfig, logger *slog.Logger) (storage.ObjectStore, error) {
	switch cfg.Type {
	case config.StorageMemory:
		return storage.NewMockStore(), nil
	case config.StorageS3:
		store, err := storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, errors.WrapError(err, errors.CategoryConfig, "failed to configure s3 storage").Build()
		}
		return store, nil
	default:
		store, err := storage.NewFSStore(cfg.Path)
		if err != nil {
			return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to open object store").
				WithContext("path", cfg.Path).
				Build()
		}
		return store.WithLogger(logger), nil
	}
}

func openIndex(cfg config.IndexConfig, logger *slog.Logger) (contentindex.Index, error) {
	if cfg.Type == config.IndexMemory {
		return contentindex.NewMemoryIndex(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to create index directory").Build()
	}
	index, err := contentindex.NewSQLiteIndex(cfg.Path)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to open content index").
			WithContext("path", cfg.Path).
			Build()
	}
	return index.WithLogger(logger), nil
}

func connectNATS(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryNetwork, "failed to connect to NATS").
			WithContext("url", url).
			Build()
	}
	return nc, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// serveHTTP serves handler on addr until ctx is done.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("HTTP server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server stopped", logfields.Error(err))
	}
}
