// Package barrier provides the start-barrier and two-phase shutdown
// primitives shared by the Drainers, the Stats Aggregator, and the
// Coordinator.
package barrier

import "sync/atomic"

// Start is a one-shot gate: every waiter blocks until Release is called
// exactly once. It replaces the original design's flag+mutex+condvar triple
// with a closed channel, which Go's memory model guarantees happens-before
// every receive — no separate lock is needed to observe the release.
type Start struct {
	done    chan struct{}
	release func()
}

// NewStart creates an unreleased start barrier.
func NewStart() *Start {
	done := make(chan struct{})
	var once int32
	return &Start{
		done: done,
		release: func() {
			if atomic.CompareAndSwapInt32(&once, 0, 1) {
				close(done)
			}
		},
	}
}

// Wait blocks until Release has been called.
func (b *Start) Wait() {
	<-b.done
}

// Done returns a channel that is closed when the barrier releases, for use
// in select statements alongside other shutdown signals.
func (b *Start) Done() <-chan struct{} {
	return b.done
}

// Release opens the barrier. Safe to call more than once; only the first
// call has an effect, matching the "flag transitions 0->1 exactly once"
// invariant.
func (b *Start) Release() {
	b.release()
}

// Shutdown holds the two independent shutdown flags. CloseStats is set
// first (typically by signal handling) and observed by the Stats
// Aggregator; CloseWorkers is set only by the Coordinator, only after the
// Stats Aggregator has returned, and is observed by the Drainers. This
// ordering is load-bearing: if workers stopped first, the Aggregator's
// final stats read would see a moment of inflated drops accumulated during
// the join window.
type Shutdown struct {
	closeStats   atomic.Bool
	closeWorkers atomic.Bool
}

// SetCloseStats signals the Stats Aggregator to exit after its current tick.
func (s *Shutdown) SetCloseStats() {
	s.closeStats.Store(true)
}

// CloseStats reports whether the Stats Aggregator should exit.
func (s *Shutdown) CloseStats() bool {
	return s.closeStats.Load()
}

// SetCloseWorkers signals the Drainers to exit after their current block.
// Must only be called by the Coordinator after the Stats Aggregator has
// already returned.
func (s *Shutdown) SetCloseWorkers() {
	s.closeWorkers.Store(true)
}

// CloseWorkers reports whether the Drainers should exit.
func (s *Shutdown) CloseWorkers() bool {
	return s.closeWorkers.Load()
}
