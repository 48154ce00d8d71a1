package builder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *prioritySemaphore) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

func TestPrioritySemaphoreOrdersWaiters(t *testing.T) {
	sem := newPrioritySemaphore(1)
	require.NoError(t, sem.Acquire(t.Context(), 0))

	var (
		mu    sync.Mutex
		order []string
		wg    sync.WaitGroup
	)
	enqueue := func(name string, priority, queuedBefore int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !assert.NoError(t, sem.Acquire(context.Background(), priority)) {
				return
			}
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			sem.Release()
		}()
		require.Eventually(t, func() bool { return sem.queued() == queuedBefore+1 }, time.Second, time.Millisecond)
	}
	enqueue("low", 1, 0)
	enqueue("high-1", 5, 1)
	enqueue("high-2", 5, 2)
	enqueue("mid", 3, 3)

	sem.Release()
	wg.Wait()
	assert.Equal(t, []string{"high-1", "high-2", "mid", "low"}, order)
	assert.Zero(t, sem.inUse)
}

func TestPrioritySemaphoreCancelledWaiterLeavesQueue(t *testing.T) {
	sem := newPrioritySemaphore(1)
	require.NoError(t, sem.Acquire(t.Context(), 0))

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- sem.Acquire(ctx, 0) }()
	require.Eventually(t, func() bool { return sem.queued() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.Zero(t, sem.queued())

	sem.Release()
	require.NoError(t, sem.Acquire(t.Context(), 0))
	sem.Release()
}
