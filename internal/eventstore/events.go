// Package eventstore journals build runs: what started, which steps finished how, the
// races detected and the final outcome.
package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/foundation/errors"
)

// Event types.
const (
	TypeBuildStarted   = "build_started"
	TypeStepCompleted  = "step_completed"
	TypeRaceDetected   = "race_detected"
	TypeBuildCompleted = "build_completed"
)

// BuildStartedData describes a build run.
type BuildStartedData struct {
	Root        string `json:"root"`
	Trigger     string `json:"trigger"` // "cli", "watch", "startup", "schedule", "http"
	Parallelism int    `json:"parallelism"`
	Remote      bool   `json:"remote"`
}

// StepCompletedData describes a finished step.
type StepCompletedData struct {
	Step       string `json:"step"`
	Kind       string `json:"kind"` // "command", "list", "func"
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	CacheKey   string `json:"cache_key,omitempty"`
	FromCache  bool   `json:"from_cache,omitempty"`
	Remote     bool   `json:"remote,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RaceDetectedData describes a read/write or write/write conflict.
type RaceDetectedData struct {
	Kind     string `json:"kind"`
	Location string `json:"location"`
	Command  string `json:"command"`
	Other    string `json:"other,omitempty"`
}

// BuildCompletedData describes the outcome of a run.
type BuildCompletedData struct {
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Steps      int    `json:"steps"`
	Outputs    int    `json:"outputs"`
	Published  int    `json:"published"`
	Error      string `json:"error,omitempty"`
}

// BuildStarted is emitted when a build begins.
type BuildStarted struct {
	BaseEvent
	Data BuildStartedData
}

// StepCompleted is emitted once per completed step.
type StepCompleted struct {
	BaseEvent
	Data StepCompletedData
}

// RaceDetected is emitted for every reported race or merge conflict.
type RaceDetected struct {
	BaseEvent
	Data RaceDetectedData
}

// BuildCompleted is emitted when a build ends, successfully or not.
type BuildCompleted struct {
	BaseEvent
	Data BuildCompletedData
}

// NewBuildStarted encodes data as a build.started event.
func NewBuildStarted(buildID string, data BuildStartedData) (*BuildStarted, error) {
	base, err := newBase(buildID, TypeBuildStarted, data)
	if err != nil {
		return nil, err
	}
	return &BuildStarted{BaseEvent: base, Data: data}, nil
}

// NewStepCompleted encodes data as a step.completed event tagged with the step title.
func NewStepCompleted(buildID string, data StepCompletedData) (*StepCompleted, error) {
	base, err := newBase(buildID, TypeStepCompleted, data)
	if err != nil {
		return nil, err
	}
	base.EventMetadata = map[string]string{"step": data.Step}
	return &StepCompleted{BaseEvent: base, Data: data}, nil
}

// NewRaceDetected encodes data as a race.detected event.
func NewRaceDetected(buildID string, data RaceDetectedData) (*RaceDetected, error) {
	base, err := newBase(buildID, TypeRaceDetected, data)
	if err != nil {
		return nil, err
	}
	return &RaceDetected{BaseEvent: base, Data: data}, nil
}

// NewBuildCompleted encodes data as a build.completed event.
func NewBuildCompleted(buildID string, data BuildCompletedData) (*BuildCompleted, error) {
	base, err := newBase(buildID, TypeBuildCompleted, data)
	if err != nil {
		return nil, err
	}
	return &BuildCompleted{BaseEvent: base, Data: data}, nil
}

func newBase(buildID, eventType string, data any) (BaseEvent, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return BaseEvent{}, errors.EventStoreError("failed to marshal event payload").
			WithCause(err).
			WithContext("build_id", buildID).
			WithContext("event_type", eventType).
			Build()
	}
	return BaseEvent{
		EventBuildID:   buildID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}, nil
}
