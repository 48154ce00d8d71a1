// Package buildstep implements the schedulable nodes of a build: command steps that
// wrap a single command and list steps that run children concurrently and merge what
// they read and wrote.
package buildstep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/command"
)

// State is the lifecycle position of a step.
type State int

const (
	StateScheduled State = iota
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case StateScheduled:
		return to == StateRunning || to == StateCompleted
	case StateRunning:
		return to == StateCompleted
	default:
		return false
	}
}

// ExecuteContext is the scheduler a step hands its children to.
type ExecuteContext interface {
	// Schedule queues step for execution and returns immediately. Every scheduled step
	// must eventually complete, as Cancelled if the build is cancelled before it runs.
	Schedule(step Step)
	Logger() *slog.Logger
	// ReportFatal records a build-fatal error such as a race or merge conflict.
	ReportFatal(err error)
}

// Step is a node of the build graph.
type Step interface {
	Title() string
	State() State
	Status() command.ResultStatus
	Priority() int
	Parent() *ListStep
	// Execute runs the step to completion and returns its final status.
	Execute(ctx context.Context, ec ExecuteContext, bc *BuilderContext) command.ResultStatus
	// Done is closed once the step has completed.
	Done() <-chan struct{}
	Err() error

	base() *stepBase
}

type stepBase struct {
	title    string
	priority int

	mu       sync.Mutex
	state    State
	status   command.ResultStatus
	err      error
	parent   *ListStep
	started  time.Time
	finished time.Time
	done     chan struct{}
}

func (b *stepBase) init(title string) {
	b.title = title
	b.done = make(chan struct{})
}

func (b *stepBase) base() *stepBase { return b }

// Step accessors.
func (b *stepBase) Title() string         { return b.title }
func (b *stepBase) Priority() int         { return b.priority }
func (b *stepBase) Done() <-chan struct{} { return b.done }

func (b *stepBase) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *stepBase) Status() command.ResultStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *stepBase) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *stepBase) Parent() *ListStep {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parent
}

// Duration returns how long the step ran, zero until it completed.
func (b *stepBase) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started.IsZero() || b.finished.IsZero() {
		return 0
	}
	return b.finished.Sub(b.started)
}

func (b *stepBase) setParent(p *ListStep) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.parent != nil && b.parent != p {
		return fmt.Errorf("step %q already belongs to %q", b.title, b.parent.Title())
	}
	b.parent = p
	return nil
}

func (b *stepBase) transition(to State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transitionLocked(to)
}

func (b *stepBase) transitionLocked(to State) error {
	if !isAllowedTransition(b.state, to) {
		return fmt.Errorf("invalid transition for step %q: %s -> %s", b.title, b.state, to)
	}
	b.state = to
	switch to {
	case StateRunning:
		b.started = time.Now()
	case StateCompleted:
		b.finished = time.Now()
	}
	return nil
}

// begin moves a scheduled step to running.
func (b *stepBase) begin() error {
	return b.transition(StateRunning)
}

// complete records the terminal status and releases waiters. Completing twice is an
// error and leaves the first status in place.
func (b *stepBase) complete(status command.ResultStatus, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if terr := b.transitionLocked(StateCompleted); terr != nil {
		return terr
	}
	b.status = status
	b.err = err
	close(b.done)
	return nil
}

// MarkCancelled completes a step that was scheduled but never executed.
func MarkCancelled(step Step) {
	_ = step.base().complete(command.Cancelled, nil)
}

// ComputeResultStatus aggregates child statuses: any cancelled child cancels the parent,
// otherwise any unsuccessful child fails it. No children is a success.
func ComputeResultStatus(steps []Step) command.ResultStatus {
	status := command.Successful
	for _, s := range steps {
		switch s.Status() {
		case command.Cancelled:
			return command.Cancelled
		case command.Successful:
		default:
			status = command.Failed
		}
	}
	return status
}
