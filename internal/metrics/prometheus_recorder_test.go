package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveCommandDuration("copy /src/a.txt", 150*time.Millisecond)
	pr.IncStepResult("command", ResultSuccess)
	pr.IncCacheLookup(true)
	pr.IncCacheLookup(false)
	pr.IncRace("conflicting_output")
	pr.IncRemoteExecution("fallback")
	pr.SetInFlightCommands(3)
	pr.ObserveBuildDuration(500 * time.Millisecond)
	pr.IncBuildOutcome(BuildOutcomeSuccess)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 8)
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncCacheLookup(true)
	pr.IncBuildOutcome(BuildOutcomeFailed)
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncRace("duplicated_input")

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "assetbuild_io_races_total"))
}

func TestTestRecorderCounts(t *testing.T) {
	r := newTestRecorder()
	r.IncStepResult("list", ResultFailed)
	r.IncCacheLookup(false)
	r.IncBuildOutcome(BuildOutcomeCanceled)
	assert.Equal(t, 1, r.stepResults["list"][ResultFailed])
	assert.Equal(t, 1, r.cacheMisses)
	assert.Equal(t, 1, r.buildOutcomes[BuildOutcomeCanceled])
}
