package capture

import (
	"github.com/hardaker/mercury/internal/fanout"
)

// dispatchBlock walks every frame in a user-owned block and hands it to
// the worker's frame.Handler, then folds the block's packet and byte
// counts into Stats once, after the last frame. A
// handler panic is recovered per-frame so one malformed or unexpected
// frame cannot take down the worker or strand the block with the kernel;
// the block is still fully walked and returned normally by the caller.
func (d *Drainer) dispatchBlock(block RingBlock) {
	records := block.Records()

	var packets, bytes uint64
	for _, rec := range records {
		d.dispatchOne(rec)
		packets++
		bytes += uint64(rec.Info.CapLen)
	}

	if packets > 0 {
		d.counters.AddReceived(packets, bytes)
	}
}

func (d *Drainer) dispatchOne(rec fanout.Record) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorw("frame handler panicked; frame dropped", "panic", r)
		}
	}()
	d.handler.HandleFrame(rec.Info, rec.L2)
}
