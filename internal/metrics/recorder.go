package metrics

import "time"

// ResultLabel enumerates step result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// BuildOutcomeLabel enumerates final build outcomes.
type BuildOutcomeLabel string

const (
	BuildOutcomeSuccess  BuildOutcomeLabel = "success"
	BuildOutcomeFailed   BuildOutcomeLabel = "failed"
	BuildOutcomeCanceled BuildOutcomeLabel = "canceled"
)

// Recorder defines observability hooks for steps, commands and builds.
type Recorder interface {
	ObserveCommandDuration(command string, d time.Duration)
	IncStepResult(kind string, result ResultLabel)
	IncCacheLookup(hit bool)
	IncRace(kind string)
	IncRemoteExecution(outcome string) // outcome: handled|fallback|failed
	SetInFlightCommands(n int)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome BuildOutcomeLabel)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

// Recorder implementation.
func (NoopRecorder) ObserveCommandDuration(string, time.Duration) {}
func (NoopRecorder) IncStepResult(string, ResultLabel)            {}
func (NoopRecorder) IncCacheLookup(bool)                          {}
func (NoopRecorder) IncRace(string)                               {}
func (NoopRecorder) IncRemoteExecution(string)                    {}
func (NoopRecorder) SetInFlightCommands(int)                      {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)           {}
func (NoopRecorder) IncBuildOutcome(BuildOutcomeLabel)            {}
