package metrics

import (
	"sync"
	"time"
)

// testRecorder counts calls; used to check Recorder stays implementable outside Prometheus.
type testRecorder struct {
	mu            sync.Mutex
	commands      map[string]int
	stepResults   map[string]map[ResultLabel]int
	cacheHits     int
	cacheMisses   int
	races         map[string]int
	buildOutcomes map[BuildOutcomeLabel]int
}

var _ Recorder = (*testRecorder)(nil)
var _ Recorder = NoopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)

func newTestRecorder() *testRecorder {
	return &testRecorder{
		commands:      map[string]int{},
		stepResults:   map[string]map[ResultLabel]int{},
		races:         map[string]int{},
		buildOutcomes: map[BuildOutcomeLabel]int{},
	}
}

func (t *testRecorder) ObserveCommandDuration(command string, _ time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands[command]++
}

func (t *testRecorder) IncStepResult(kind string, result ResultLabel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.stepResults[kind]
	if !ok {
		m = map[ResultLabel]int{}
		t.stepResults[kind] = m
	}
	m[result]++
}

func (t *testRecorder) IncCacheLookup(hit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if hit {
		t.cacheHits++
		return
	}
	t.cacheMisses++
}

func (t *testRecorder) IncRace(kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.races[kind]++
}

func (t *testRecorder) IncRemoteExecution(string)            {}
func (t *testRecorder) SetInFlightCommands(int)              {}
func (t *testRecorder) ObserveBuildDuration(_ time.Duration) {}

func (t *testRecorder) IncBuildOutcome(outcome BuildOutcomeLabel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buildOutcomes[outcome]++
}
