package capture

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hardaker/mercury/internal/fanout"
	"github.com/hardaker/mercury/internal/frame"
	"github.com/hardaker/mercury/internal/stats"
)

type recordingHandler struct {
	mu    sync.Mutex
	infos []frame.Info
	l2s   [][]byte
	panic bool
}

func (h *recordingHandler) HandleFrame(info frame.Info, l2 []byte) {
	if h.panic {
		panic("synthetic handler panic")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.infos = append(h.infos, info)
	cp := make([]byte, len(l2))
	copy(cp, l2)
	h.l2s = append(h.l2s, cp)
}

func newTestDrainer(t *testing.T, handler frame.Handler) (*Drainer, *stats.Counters) {
	t.Helper()
	counters := &stats.Counters{}
	d := &Drainer{
		workerID: 0,
		handler:  handler,
		counters: counters,
		log:      zaptest.NewLogger(t).Sugar(),
	}
	return d, counters
}

func TestDispatchOne_InvokesHandlerAndSurvivesPanic(t *testing.T) {
	h := &recordingHandler{panic: true}
	d, _ := newTestDrainer(t, h)

	assert.NotPanics(t, func() {
		d.dispatchOne(fanout.Record{Info: frame.Info{CapLen: 4}, L2: []byte{1, 2, 3, 4}})
	})
}

func TestDispatchOne_PassesInfoAndBytesThrough(t *testing.T) {
	h := &recordingHandler{}
	d, _ := newTestDrainer(t, h)

	d.dispatchOne(fanout.Record{
		Info: frame.Info{TvSec: 42, CapLen: 3, Len: 3},
		L2:   []byte{0xAA, 0xBB, 0xCC},
	})

	require.Len(t, h.infos, 1)
	assert.Equal(t, int64(42), h.infos[0].TvSec)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, h.l2s[0])
}
