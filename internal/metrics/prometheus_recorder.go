package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	commandDuration *prom.HistogramVec
	stepResults     *prom.CounterVec
	cacheLookups    *prom.CounterVec
	races           *prom.CounterVec
	remote          *prom.CounterVec
	inFlight        prom.Gauge
	buildDuration   prom.Histogram
	buildOutcome    *prom.CounterVec
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		commandDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "assetbuild",
			Name:      "command_duration_seconds",
			Help:      "Duration of locally executed commands",
			Buckets:   prom.DefBuckets,
		}, []string{"command"}),
		stepResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetbuild",
			Name:      "step_results_total",
			Help:      "Step result counts by step kind and outcome",
		}, []string{"kind", "result"}),
		cacheLookups: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetbuild",
			Name:      "result_cache_lookups_total",
			Help:      "Result cache lookups by hit or miss",
		}, []string{"result"}),
		races: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetbuild",
			Name:      "io_races_total",
			Help:      "Detected I/O races and merge conflicts by kind",
		}, []string{"kind"}),
		remote: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetbuild",
			Name:      "remote_executions_total",
			Help:      "Remote execution attempts by outcome",
		}, []string{"outcome"}),
		inFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: "assetbuild",
			Name:      "commands_in_flight",
			Help:      "Commands currently registered as executing",
		}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "assetbuild",
			Name:      "build_duration_seconds",
			Help:      "Total build duration",
			Buckets:   prom.DefBuckets,
		}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetbuild",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"}),
	}
	reg.MustRegister(pr.commandDuration, pr.stepResults, pr.cacheLookups, pr.races,
		pr.remote, pr.inFlight, pr.buildDuration, pr.buildOutcome)
	return pr
}

// ObserveCommandDuration records a local command run.
func (p *PrometheusRecorder) ObserveCommandDuration(command string, d time.Duration) {
	if p == nil {
		return
	}
	p.commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// IncStepResult counts a completed step by kind and result.
func (p *PrometheusRecorder) IncStepResult(kind string, result ResultLabel) {
	if p == nil {
		return
	}
	p.stepResults.WithLabelValues(kind, string(result)).Inc()
}

// IncCacheLookup counts a result cache hit or miss.
func (p *PrometheusRecorder) IncCacheLookup(hit bool) {
	if p == nil {
		return
	}
	res := "miss"
	if hit {
		res = "hit"
	}
	p.cacheLookups.WithLabelValues(res).Inc()
}

// IncRace counts a detected I/O race by kind.
func (p *PrometheusRecorder) IncRace(kind string) {
	if p == nil {
		return
	}
	p.races.WithLabelValues(kind).Inc()
}

// IncRemoteExecution counts a remote execution attempt by outcome.
func (p *PrometheusRecorder) IncRemoteExecution(outcome string) {
	if p == nil {
		return
	}
	p.remote.WithLabelValues(outcome).Inc()
}

// SetInFlightCommands sets the number of commands currently running.
func (p *PrometheusRecorder) SetInFlightCommands(n int) {
	if p == nil {
		return
	}
	p.inFlight.Set(float64(n))
}

// ObserveBuildDuration records the wall time of a build.
func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

// IncBuildOutcome counts a finished build by outcome.
func (p *PrometheusRecorder) IncBuildOutcome(outcome BuildOutcomeLabel) {
	if p == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}
