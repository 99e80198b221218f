package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hardaker/mercury/internal/barrier"
)

type fakeSocket struct {
	mu             sync.Mutex
	packets, drops, freezes uint64
	failNext       bool
}

func (f *fakeSocket) SocketStats() (uint64, uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return 0, 0, 0, errors.New("transient getsockopt failure")
	}
	p, d, fr := f.packets, f.drops, f.freezes
	f.packets, f.drops, f.freezes = 0, 0, 0 // kernel clears counters on read
	return p, d, fr, nil
}

func TestAggregator_FoldsSocketDeltasAndExitsOnCloseStats(t *testing.T) {
	counters := &Counters{}
	sock := &fakeSocket{packets: 5, drops: 1, freezes: 0}
	b := barrier.NewStart()
	sd := &barrier.Shutdown{}

	agg := New(counters, []SocketStatter{sock}, b, sd, zaptest.NewLogger(t).Sugar())
	agg.tickEvery = 5 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- agg.Run(context.Background()) }()

	b.Release()

	// Let a couple of ticks happen, then request shutdown.
	time.Sleep(30 * time.Millisecond)
	sd.SetCloseStats()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("aggregator did not exit after CloseStats was set")
	}

	snap := counters.Snapshot()
	assert.Equal(t, uint64(5), snap.SocketPackets)
	assert.Equal(t, uint64(1), snap.SocketDrops)
}

func TestAggregator_RetriesTransientSocketFailureWithinTick(t *testing.T) {
	counters := &Counters{}
	sock := &fakeSocket{packets: 3, failNext: true}
	b := barrier.NewStart()
	b.Release()
	sd := &barrier.Shutdown{}

	agg := New(counters, []SocketStatter{sock}, b, sd, zaptest.NewLogger(t).Sugar())
	agg.tickEvery = 5 * time.Millisecond

	go agg.Run(context.Background())
	time.Sleep(40 * time.Millisecond)
	sd.SetCloseStats()
	time.Sleep(20 * time.Millisecond)

	// The first tick's first query fails and consumes failNext; the single
	// retry within that same tick succeeds and folds the packets in.
	snap := counters.Snapshot()
	assert.Equal(t, uint64(3), snap.SocketPackets)
}
