package builder

import (
	"context"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/assetbuild/internal/buildstep"
)

// scheduler runs each scheduled step on its own goroutine. Command steps take a slot
// from the priority semaphore; list and func steps never hold one while waiting.
type scheduler struct {
	ctx    context.Context
	bc     *buildstep.BuilderContext
	logger *slog.Logger
	sem    *prioritySemaphore
	onDone func(buildstep.Step)

	wg    sync.WaitGroup
	mu    sync.Mutex
	fatal []error
}

func newScheduler(ctx context.Context, bc *buildstep.BuilderContext, logger *slog.Logger, parallelism int, onDone func(buildstep.Step)) *scheduler {
	if onDone == nil {
		onDone = func(buildstep.Step) {}
	}
	return &scheduler{
		ctx:    ctx,
		bc:     bc,
		logger: logger,
		sem:    newPrioritySemaphore(parallelism),
		onDone: onDone,
	}
}

func (s *scheduler) Schedule(step buildstep.Step) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(step)
		s.onDone(step)
	}()
}

func (s *scheduler) run(step buildstep.Step) {
	if _, ok := step.(*buildstep.CommandStep); !ok {
		step.Execute(s.ctx, s, s.bc)
		return
	}
	if err := s.sem.Acquire(s.ctx, step.Priority()); err != nil {
		buildstep.MarkCancelled(step)
		return
	}
	defer s.sem.Release()
	if s.ctx.Err() != nil {
		buildstep.MarkCancelled(step)
		return
	}
	step.Execute(s.ctx, s, s.bc)
}

func (s *scheduler) Logger() *slog.Logger { return s.logger }

func (s *scheduler) ReportFatal(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatal = append(s.fatal, err)
}

// Fatal returns the errors reported so far.
func (s *scheduler) Fatal() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.fatal...)
}

// Wait blocks until every scheduled goroutine has returned.
func (s *scheduler) Wait() { s.wg.Wait() }
