package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/hardaker/mercury/internal/barrier"
)

// SocketStatter is implemented by a provisioned capture socket. It queries
// and clears the kernel's per-socket counters (getsockopt(PACKET_STATISTICS)
// under the hood); the kernel clears the counter on every read, so the
// Aggregator must be the only reader.
type SocketStatter interface {
	SocketStats() (packets, drops, freezes uint64, err error)
}

// Aggregator is the background goroutine described in §4.6: it waits on the
// same start barrier as the Drainers, then once a second folds each
// socket's kernel-reported deltas into the shared Counters and logs a
// one-line summary, until Shutdown.CloseStats is observed.
type Aggregator struct {
	counters  *Counters
	sockets   []SocketStatter
	barrier   *barrier.Start
	shutdown  *barrier.Shutdown
	log       *zap.SugaredLogger
	tickEvery time.Duration
}

// New builds an Aggregator over the given per-worker sockets.
func New(counters *Counters, sockets []SocketStatter, b *barrier.Start, sd *barrier.Shutdown, log *zap.SugaredLogger) *Aggregator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Aggregator{
		counters:  counters,
		sockets:   sockets,
		barrier:   b,
		shutdown:  sd,
		log:       log,
		tickEvery: time.Second,
	}
}

// Run blocks on the start barrier, discards the bootstrap snapshot, then
// loops once a second until CloseStats is set. It always returns nil: a
// failing per-socket query is logged and that socket's delta is skipped
// for the tick, never treated as fatal.
func (a *Aggregator) Run(ctx context.Context) error {
	a.barrier.Wait()

	prev := a.counters.Snapshot()

	ticker := time.NewTicker(a.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		a.collectOnce(ctx)

		cur := a.counters.Snapshot()
		delta := Delta(prev, cur)
		prev = cur

		a.log.Infow("capture stats",
			zap.Uint64("received_packets", delta.ReceivedPackets),
			zap.Uint64("received_bytes", delta.ReceivedBytes),
			zap.Uint64("socket_packets", delta.SocketPackets),
			zap.Uint64("socket_drops", delta.SocketDrops),
			zap.Uint64("socket_freezes", delta.SocketFreezes),
		)

		if a.shutdown.CloseStats() {
			return nil
		}
	}
}

// collectOnce queries every socket's kernel counters once, retrying a
// transient failure a single time with a short backoff before giving up on
// that socket for this tick. Sockets that still fail are combined into one
// multi-error and logged as a single warning line.
func (a *Aggregator) collectOnce(ctx context.Context) {
	var errs *multierror.Error

	for idx, sock := range a.sockets {
		packets, drops, freezes, err := a.queryWithRetry(ctx, sock)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("socket %d: %w", idx, err))
			continue
		}
		a.counters.AddSocket(packets, drops, freezes)
	}

	if errs.ErrorOrNil() != nil {
		a.log.Warnw("per-socket stats query failed for one or more sockets this tick", zap.Error(errs))
	}
}

func (a *Aggregator) queryWithRetry(ctx context.Context, sock SocketStatter) (packets, drops, freezes uint64, err error) {
	op := func() (struct{}, error) {
		p, d, f, qerr := sock.SocketStats()
		if qerr != nil {
			return struct{}{}, qerr
		}
		packets, drops, freezes = p, d, f
		return struct{}{}, nil
	}

	// A single short retry: a socket that is merely slow to answer
	// getsockopt is worth one more try, but a socket that is gone is
	// gone, so this is not an open-ended retry loop.
	_, err = backoff.Retry(ctx, op,
		backoff.WithMaxTries(2),
		backoff.WithBackOff(backoff.NewConstantBackOff(10*time.Millisecond)),
	)
	return packets, drops, freezes, err
}
