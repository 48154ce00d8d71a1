// Package metrics records build engine metrics.
//
// Components receive a Recorder and default to NoopRecorder, so no nil checks are
// needed at call sites:
//
//	bc := buildstep.NewBuilderContext(store)
//	bc.Metrics = metrics.NewPrometheusRecorder(registry)
//
// PrometheusRecorder registers its collectors on the supplied registry and
// HTTPHandler serves that registry, which the daemon command mounts on /metrics.
package metrics
