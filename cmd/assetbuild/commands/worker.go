package commands

import (
	"log/slog"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/assetbuild/internal/assetcmd"
	"git.home.luguber.info/inful/assetbuild/internal/metrics"
	"git.home.luguber.info/inful/assetbuild/internal/remote"
)

// WorkerCmd implements the 'worker' command.
type WorkerCmd struct {
	Name        string `help:"Worker name reported to builders" default:"assetbuild-worker"`
	Concurrency int    `help:"Commands executed in parallel (defaults to the configured remote concurrency)"`
	HTTPAddr    string `name:"http-addr" help:"Serve /metrics and /healthz on this address"`
}

// Run serves remote execution requests until interrupted.
func (w *WorkerCmd) Run(root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger := slog.Default()
	nc, err := connectNATS(cfg.Remote.URL, w.Name, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = cfg.Remote.Concurrency
	}

	reg := prom.NewRegistry()
	worker := remote.NewWorker().
		WithName(w.Name).
		WithSubject(cfg.Remote.Subject, cfg.Remote.Queue).
		WithConcurrency(concurrency).
		WithRegistry(assetcmd.DefaultRegistry()).
		WithRecorder(metrics.NewPrometheusRecorder(reg)).
		WithLogger(logger)

	if w.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.HTTPHandler(reg))
		mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, _ *http.Request) {
			rw.WriteHeader(http.StatusOK)
		})
		go serveHTTP(ctx, w.HTTPAddr, mux, logger)
	}
	return worker.Serve(ctx, nc)
}
