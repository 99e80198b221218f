// Package capture implements the Ring Drainer: the per-worker hot loop
// that walks a provisioned ring in strict kernel-producer order, recovers
// from the kernel's undocumented block-ordering freeze, and hands each
// block to the Frame Dispatcher.
package capture

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/hardaker/mercury/internal/barrier"
	"github.com/hardaker/mercury/internal/fanout"
	"github.com/hardaker/mercury/internal/frame"
	"github.com/hardaker/mercury/internal/stats"
)

// PstreakThreshold is the number of consecutive unproductive poll wakes
// that indicate the kernel has frozen its queue on a block the Drainer is
// not currently watching. Three is rare enough to never trigger under
// correct operation and quick enough to re-sync within a few poll
// timeouts; see §4.4 / §9 for the rationale.
const PstreakThreshold = 3

// pollTimeoutMillis is how long a single poll(2) call waits for POLLIN on the
// socket before returning a timeout.
const pollTimeoutMillis = 1000

// Drainer owns one worker's ring-draining goroutine.
type Drainer struct {
	workerID int
	ring     Ring
	handler  frame.Handler
	counters *stats.Counters
	barrier  *barrier.Start
	shutdown *barrier.Shutdown
	log      *zap.SugaredLogger

	// cursorResets counts this Drainer's own freeze-recovery cursor
	// advances (§4.4/§9 pstreak heuristic). It is distinct from
	// Counters.SocketFreezes, which the Stats Aggregator alone writes
	// from the kernel's own tpacket_stats_v3 tp_freeze_q_cnt deltas
	// (internal/stats/aggregator.go); this is a Drainer-local diagnostic,
	// not a contribution to that shared field.
	cursorResets atomic.Uint64
}

// NewDrainer builds a Drainer for one worker's provisioned socket.
func NewDrainer(workerID int, sock *fanout.Socket, handler frame.Handler, counters *stats.Counters, b *barrier.Start, sd *barrier.Shutdown, log *zap.SugaredLogger) *Drainer {
	return newDrainer(workerID, newSocketRing(sock), handler, counters, b, sd, log)
}

// newDrainer builds a Drainer over any Ring, production or fake; tests in
// this package use it directly to drive Run() against a synthetic ring.
func newDrainer(workerID int, ring Ring, handler frame.Handler, counters *stats.Counters, b *barrier.Start, sd *barrier.Shutdown, log *zap.SugaredLogger) *Drainer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Drainer{
		workerID: workerID,
		ring:     ring,
		handler:  handler,
		counters: counters,
		barrier:  b,
		shutdown: sd,
		log:      log.With("worker", workerID),
	}
}

// Run blocks on the start barrier, discards startup noise, then drains the
// ring until Shutdown.CloseWorkers is observed. It always returns nil:
// every error condition inside the loop is either recoverable (logged,
// loop continues) or resolved by the freeze-recovery heuristic.
func (d *Drainer) Run(ctx context.Context) error {
	d.barrier.Wait()

	d.resetStartupNoise()

	blocks := d.ring.Blocks()
	blockCount := len(blocks)

	pollFds := []unix.PollFd{{
		Fd:     int32(d.ring.FD()),
		Events: unix.POLLIN | unix.POLLERR,
	}}

	cb := 0
	pstreak := 0

	for !d.shutdown.CloseWorkers() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		block := blocks[cb]
		if !block.IsUserOwned() {
			pollFds[0].Revents = 0
			n, err := unix.Poll(pollFds, pollTimeoutMillis)
			switch {
			case err != nil:
				// Recoverable, often EINTR.
				d.log.Debugw("poll returned error", zap.Error(err))
			case n > 0:
				// Data was claimed available, but not at cb: one step
				// closer to suspecting a frozen queue.
				pstreak++
			default:
				// Timeout: idle traffic, not desync. Do not advance
				// pstreak.
			}

			if pstreak > PstreakThreshold-1 {
				d.log.Warnw("poll reported readiness without progress; advancing cursor to find the stuck block",
					zap.Int("streak", pstreak), zap.Int("cursor", cb))
				d.cursorResets.Add(1)
				cb = (cb + 1) % blockCount
			}
			continue
		}

		pstreak = 0
		d.dispatchBlock(block)
		block.MarkKernelOwned()
		cb = (cb + 1) % blockCount
	}

	return nil
}

// CursorResets returns the number of times this Drainer's freeze-recovery
// heuristic has advanced the cursor off a block it suspected the kernel
// had frozen. It is a local diagnostic, independent of the kernel-reported
// Counters.SocketFreezes tally.
func (d *Drainer) CursorResets() uint64 {
	return d.cursorResets.Load()
}

// resetStartupNoise discards any blocks the kernel filled while this
// worker was waiting on the start barrier. Those frames are never
// dispatched: counting them would attribute startup latency to
// steady-state drops, and the kernel's own counters are queried and
// discarded immediately before and after so the reset itself does not
// pollute Stats either.
func (d *Drainer) resetStartupNoise() {
	d.ring.DiscardStats()
	for _, block := range d.ring.Blocks() {
		if block.IsUserOwned() {
			block.MarkKernelOwned()
		}
	}
	d.ring.DiscardStats()
}
