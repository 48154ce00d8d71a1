package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	buildStatusRunning = "running"
)

// BuildSummary is a read model of one build run.
type BuildSummary struct {
	BuildID      string        `json:"build_id"`
	Trigger      string        `json:"trigger,omitempty"`
	Status       string        `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Steps        int           `json:"steps"`
	FailedSteps  int           `json:"failed_steps"`
	CacheHits    int           `json:"cache_hits"`
	RemoteSteps  int           `json:"remote_steps"`
	Races        int           `json:"races"`
	Outputs      int           `json:"outputs"`
	Published    int           `json:"published"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// BuildHistoryProjection keeps a bounded in-memory history rebuilt from the store.
type BuildHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	builds   map[string]*BuildSummary
	history  []*BuildSummary // completed builds, newest first
	maxSize  int
	lastSync time.Time
}

// NewBuildHistoryProjection creates a new projection backed by the given store.
func NewBuildHistoryProjection(store Store, maxHistorySize int) *BuildHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &BuildHistoryProjection{
		store:   store,
		builds:  make(map[string]*BuildSummary),
		history: make([]*BuildSummary, 0, maxHistorySize),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from every stored event.
func (p *BuildHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProjectionRebuildFailed, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.builds = make(map[string]*BuildSummary)
	p.history = make([]*BuildSummary, 0, p.maxSize)
	for _, event := range events {
		p.applyEventLocked(event)
	}
	sort.SliceStable(p.history, func(i, j int) bool {
		return p.history[i].StartedAt.After(p.history[j].StartedAt)
	})
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneBuildsLocked()
	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event as it is emitted.
func (p *BuildHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *BuildHistoryProjection) applyEventLocked(event Event) {
	buildID := event.BuildID()
	if buildID == "" {
		return
	}

	summary, exists := p.builds[buildID]
	if !exists {
		summary = &BuildSummary{
			BuildID:   buildID,
			Status:    buildStatusRunning,
			StartedAt: event.Timestamp(),
		}
		p.builds[buildID] = summary
	}

	switch event.Type() {
	case TypeBuildStarted:
		summary.StartedAt = event.Timestamp()
		summary.Status = buildStatusRunning
		var data BuildStartedData
		if err := json.Unmarshal(event.Payload(), &data); err == nil {
			summary.Trigger = data.Trigger
		}

	case TypeStepCompleted:
		var data StepCompletedData
		if err := json.Unmarshal(event.Payload(), &data); err != nil {
			return
		}
		summary.Steps++
		if data.Status != "successful" {
			summary.FailedSteps++
		}
		if data.FromCache {
			summary.CacheHits++
		}
		if data.Remote {
			summary.RemoteSteps++
		}

	case TypeRaceDetected:
		summary.Races++

	case TypeBuildCompleted:
		at := event.Timestamp()
		summary.CompletedAt = &at
		summary.Duration = at.Sub(summary.StartedAt)
		var data BuildCompletedData
		if err := json.Unmarshal(event.Payload(), &data); err == nil {
			summary.Status = data.Status
			summary.Outputs = data.Outputs
			summary.Published = data.Published
			summary.ErrorMessage = data.Error
		}
		p.addToHistoryLocked(summary)
	}
}

func (p *BuildHistoryProjection) addToHistoryLocked(summary *BuildSummary) {
	for _, h := range p.history {
		if h.BuildID == summary.BuildID {
			return
		}
	}
	p.history = append([]*BuildSummary{summary}, p.history...)
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneBuildsLocked()
}

// pruneBuildsLocked drops completed builds that fell out of the history.
func (p *BuildHistoryProjection) pruneBuildsLocked() {
	keep := make(map[string]struct{}, len(p.history))
	for _, h := range p.history {
		keep[h.BuildID] = struct{}{}
	}
	for id, summary := range p.builds {
		if summary.Status == buildStatusRunning {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(p.builds, id)
		}
	}
}

// GetHistory returns completed builds, newest first.
func (p *BuildHistoryProjection) GetHistory() []BuildSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]BuildSummary, len(p.history))
	for i, h := range p.history {
		out[i] = *h
	}
	return out
}

// GetBuild returns a copy of the summary for buildID.
func (p *BuildHistoryProjection) GetBuild(buildID string) (BuildSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	summary, ok := p.builds[buildID]
	if !ok {
		return BuildSummary{}, false
	}
	return *summary, true
}

// GetActiveBuild returns a running build, if any.
func (p *BuildHistoryProjection) GetActiveBuild() (BuildSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, summary := range p.builds {
		if summary.Status == buildStatusRunning {
			return *summary, true
		}
	}
	return BuildSummary{}, false
}

// LastSyncTime returns when the projection was last rebuilt.
func (p *BuildHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
