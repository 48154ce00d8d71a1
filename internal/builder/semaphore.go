package builder

import (
	"container/heap"
	"context"
	"sync"
)

// prioritySemaphore bounds concurrent commands. Waiters with a higher priority are
// admitted first, equal priorities in arrival order.
type prioritySemaphore struct {
	mu      sync.Mutex
	slots   int
	inUse   int
	seq     uint64
	waiters waitQueue
}

type waiter struct {
	priority int
	seq      uint64
	ready    chan struct{}
	index    int
}

func newPrioritySemaphore(slots int) *prioritySemaphore {
	if slots < 1 {
		slots = 1
	}
	return &prioritySemaphore{slots: slots}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *prioritySemaphore) Acquire(ctx context.Context, priority int) error {
	s.mu.Lock()
	if s.inUse < s.slots && s.waiters.Len() == 0 {
		s.inUse++
		s.mu.Unlock()
		return nil
	}
	w := &waiter{priority: priority, seq: s.seq, ready: make(chan struct{})}
	s.seq++
	heap.Push(&s.waiters, w)
	s.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		defer s.mu.Unlock()
		select {
		case <-w.ready:
			// Granted while cancelling; hand the slot on.
			s.releaseLocked()
		default:
			heap.Remove(&s.waiters, w.index)
		}
		return ctx.Err()
	}
}

// Release returns a slot acquired by Acquire.
func (s *prioritySemaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *prioritySemaphore) releaseLocked() {
	if s.waiters.Len() > 0 {
		w := heap.Pop(&s.waiters).(*waiter)
		close(w.ready)
		return
	}
	s.inUse--
}

type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waitQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	w.index = -1
	return w
}
