// Package ringsizer turns a memory budget into legal TPACKET_V3 ring
// parameters. It is a pure function of its inputs and does no I/O itself.
package ringsizer

import (
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"
)

// Limits bounds the search for legal ring parameters. Defaults mirror the
// constants the original capture engine shipped with.
type Limits struct {
	// RingLimit is the largest per-socket ring size the kernel will
	// accept via setsockopt(PACKET_RX_RING, ...). setsockopt takes the
	// size as a 32-bit field, so this is capped at 2^32-1.
	RingLimit datasize.ByteSize
	// FrameSize is the minimum addressable unit within a block.
	FrameSize datasize.ByteSize
	// DefaultBlockSize is the starting point before any halving.
	DefaultBlockSize datasize.ByteSize
	// MinBlockSize bounds how far DefaultBlockSize may be halved.
	MinBlockSize datasize.ByteSize
	// TargetBlocks is the block count the halving loop tries to reach.
	TargetBlocks uint32
	// MinBlocks is the hard floor; fewer than this is a fatal config.
	MinBlocks uint32
	// RetireTimeout is how long the kernel holds a partially full block
	// before handing it to userspace anyway.
	RetireTimeout time.Duration
}

// DefaultLimits returns the constants the original engine used.
func DefaultLimits() Limits {
	return Limits{
		RingLimit:        datasize.ByteSize(0xFFFFFFFF),
		FrameSize:        2 * datasize.KB,
		DefaultBlockSize: 4 * datasize.MB,
		MinBlockSize:     64 * datasize.KB,
		TargetBlocks:     64,
		MinBlocks:        8,
		RetireTimeout:    100 * time.Millisecond,
	}
}

// Params is an immutable descriptor of one worker's ring.
type Params struct {
	BlockSize     datasize.ByteSize
	FrameSize     datasize.ByteSize
	BlockCount    uint32
	FrameCount    uint32
	RetireTimeout time.Duration
}

// TotalSize is the bytes the kernel will allocate for this ring.
func (p Params) TotalSize() datasize.ByteSize {
	return p.BlockSize * datasize.ByteSize(p.BlockCount)
}

// Compute implements the §4.1 sizing algorithm: given a total memory budget
// shared across n sockets, it picks a block size and block count that
// satisfy the kernel's alignment rules while favoring more, smaller blocks
// over fewer, larger ones (block count is the resilience knob for the
// freeze-on-head-blocked behavior in the Drainer).
func Compute(totalBudget datasize.ByteSize, n int, limits Limits, log *zap.SugaredLogger) (Params, error) {
	if n <= 0 {
		return Params{}, fmt.Errorf("ringsizer: worker count must be positive, got %d", n)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	perThread := totalBudget / datasize.ByteSize(n)
	if perThread > limits.RingLimit {
		log.Warnw("per-worker ring budget exceeds kernel limit, capping",
			zap.Stringer("requested", perThread),
			zap.Stringer("limit", limits.RingLimit),
		)
		perThread = limits.RingLimit
	}

	blockSize := limits.DefaultBlockSize
	for blockSize/2 >= limits.MinBlockSize && uint32(perThread/blockSize) < limits.TargetBlocks {
		blockSize /= 2
	}

	blockCount := uint32(perThread / blockSize)
	if blockCount < limits.MinBlocks {
		return Params{}, fmt.Errorf(
			"ringsizer: only able to allocate %d blocks per worker (minimum %d); increase the memory budget or worker count",
			blockCount, limits.MinBlocks,
		)
	}

	if blockSize%limits.FrameSize != 0 {
		return Params{}, fmt.Errorf(
			"ringsizer: computed block size %s is not a multiple of frame size %s",
			blockSize, limits.FrameSize,
		)
	}

	actual := blockSize * datasize.ByteSize(blockCount) * datasize.ByteSize(n)
	if actual < totalBudget {
		log.Infow("actual ring memory is less than requested due to rounding",
			zap.Stringer("requested", totalBudget),
			zap.Stringer("actual", actual),
		)
	}

	frameCount := uint32(blockSize * datasize.ByteSize(blockCount) / limits.FrameSize)

	return Params{
		BlockSize:     blockSize,
		FrameSize:     limits.FrameSize,
		BlockCount:    blockCount,
		FrameCount:    frameCount,
		RetireTimeout: limits.RetireTimeout,
	}, nil
}

// BudgetFromFraction computes a memory budget from a fraction of physical
// memory, clamping the fraction to [0,1] with a sane default when out of
// range (mirroring mercury's ring_limits_init sanity check).
func BudgetFromFraction(physMemBytes uint64, fraction float64) datasize.ByteSize {
	const defaultFraction = 0.01
	if fraction < 0 || fraction > 1 {
		fraction = defaultFraction
	}
	return datasize.ByteSize(float64(physMemBytes) * fraction)
}
