// Package lane implements the prioritized execution slots shared by
// interactive replies, scheduled tasks, and maintenance jobs (§4.3).
package lane

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Lane ranks callers competing for the same pool of agent-execution
// permits. Lower values run first absent starvation or the
// consecutive-interactive override.
type Lane int

const (
	Interactive Lane = iota
	Scheduled
	Maintenance
)

func (l Lane) String() string {
	switch l {
	case Interactive:
		return "interactive"
	case Scheduled:
		return "scheduled"
	case Maintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

type waiter struct {
	lane       Lane
	enqueuedAt time.Time
	ready      chan struct{}
	index      int
}

// waiterHeap orders waiters by lane priority, then FIFO within a
// lane. Starvation and consecutive-interactive overrides are applied
// as a linear scan at dispatch time rather than folded into Less,
// since both depend on wall-clock state that changes between pushes.
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }
func (h waiterHeap) Less(i, j int) bool {
	if h[i].lane != h[j].lane {
		return h[i].lane < h[j].lane
	}
	return h[i].enqueuedAt.Before(h[j].enqueuedAt)
}
func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *waiterHeap) Push(x interface{}) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}
func (h *waiterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// Semaphore is a lane-aware, starvation-resistant limiter: at most
// Permits callers run at once; Interactive requests normally run
// first, but a waiter of any lane that has waited StarvationMs is
// promoted ahead of the queue, and after MaxConsecutiveInteractive
// back-to-back interactive grants the next dispatch is forced to a
// non-interactive waiter if one is present (§4.3, §8 invariants 3-4).
type Semaphore struct {
	mu                        sync.Mutex
	permits                   int
	inUse                     int
	queue                     waiterHeap
	starvation                time.Duration
	maxConsecutiveInteractive int
	consecutiveInteractive    int
}

// New builds a Semaphore. permits must be >= 1.
func New(permits int, starvation time.Duration, maxConsecutiveInteractive int) *Semaphore {
	if permits < 1 {
		permits = 1
	}
	if maxConsecutiveInteractive < 1 {
		maxConsecutiveInteractive = 1
	}
	s := &Semaphore{permits: permits, starvation: starvation, maxConsecutiveInteractive: maxConsecutiveInteractive}
	heap.Init(&s.queue)
	return s
}

// Acquire blocks until a permit is available for lane or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context, l Lane) error {
	s.mu.Lock()
	if s.inUse < s.permits && s.queue.Len() == 0 {
		s.inUse++
		s.recordGrantLocked(l)
		s.mu.Unlock()
		return nil
	}
	w := &waiter{lane: l, enqueuedAt: time.Now(), ready: make(chan struct{})}
	heap.Push(&s.queue, w)
	s.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		if w.index >= 0 {
			heap.Remove(&s.queue, w.index)
			s.mu.Unlock()
			return ctx.Err()
		}
		s.mu.Unlock()
		// Already dispatched concurrently with cancellation: the permit
		// was granted, so honor it rather than leaking one.
		<-w.ready
		s.Release()
		return ctx.Err()
	}
}

// Release returns a permit and dispatches the next eligible waiter.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUse--
	s.dispatchLocked()
}

func (s *Semaphore) dispatchLocked() {
	for s.inUse < s.permits && s.queue.Len() > 0 {
		w := s.pickNextLocked()
		s.inUse++
		s.recordGrantLocked(w.lane)
		close(w.ready)
	}
}

func (s *Semaphore) pickNextLocked() *waiter {
	now := time.Now()

	if s.starvation > 0 {
		for i, w := range s.queue {
			if now.Sub(w.enqueuedAt) >= s.starvation {
				return heap.Remove(&s.queue, i).(*waiter)
			}
		}
	}

	if s.consecutiveInteractive >= s.maxConsecutiveInteractive {
		for i, w := range s.queue {
			if w.lane != Interactive {
				s.consecutiveInteractive = 0
				return heap.Remove(&s.queue, i).(*waiter)
			}
		}
	}

	return heap.Pop(&s.queue).(*waiter)
}

func (s *Semaphore) recordGrantLocked(l Lane) {
	if l == Interactive {
		s.consecutiveInteractive++
	} else {
		s.consecutiveInteractive = 0
	}
}

// InUse reports the number of permits currently held, for metrics.
func (s *Semaphore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// Waiting reports the number of queued callers, for metrics.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}
