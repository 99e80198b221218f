// Package stats holds the process-wide capture counters and the
// background aggregator that reconciles them with kernel-reported,
// per-socket statistics once a second.
package stats

import "sync/atomic"

// Counters is the process-wide counter block. ReceivedPackets and
// ReceivedBytes are written by many Drainer goroutines via atomic add and
// read by the Aggregator with atomic loads for rate display only (a little
// skew between the fields there is fine). The socket_* fields are written exclusively by the
// Aggregator, which clears the kernel's own counters on every read, so no
// lock is needed for them either.
type Counters struct {
	ReceivedPackets atomic.Uint64
	ReceivedBytes   atomic.Uint64
	SocketPackets   atomic.Uint64
	SocketDrops     atomic.Uint64
	SocketFreezes   atomic.Uint64
}

// AddReceived is called by the Frame Dispatcher at block boundaries.
func (c *Counters) AddReceived(packets, bytes uint64) {
	c.ReceivedPackets.Add(packets)
	c.ReceivedBytes.Add(bytes)
}

// AddSocket is called by the Aggregator with one tick's kernel-reported
// deltas for a single socket.
func (c *Counters) AddSocket(packets, drops, freezes uint64) {
	c.SocketPackets.Add(packets)
	c.SocketDrops.Add(drops)
	c.SocketFreezes.Add(freezes)
}

// Snapshot is a point-in-time copy of all counters, used to compute
// per-second deltas without holding any lock across the sleep.
type Snapshot struct {
	ReceivedPackets uint64
	ReceivedBytes   uint64
	SocketPackets   uint64
	SocketDrops     uint64
	SocketFreezes   uint64
}

// Snapshot reads every counter once.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		ReceivedPackets: c.ReceivedPackets.Load(),
		ReceivedBytes:   c.ReceivedBytes.Load(),
		SocketPackets:   c.SocketPackets.Load(),
		SocketDrops:     c.SocketDrops.Load(),
		SocketFreezes:   c.SocketFreezes.Load(),
	}
}

// Delta returns b-a, field by field.
func Delta(a, b Snapshot) Snapshot {
	return Snapshot{
		ReceivedPackets: b.ReceivedPackets - a.ReceivedPackets,
		ReceivedBytes:   b.ReceivedBytes - a.ReceivedBytes,
		SocketPackets:   b.SocketPackets - a.SocketPackets,
		SocketDrops:     b.SocketDrops - a.SocketDrops,
		SocketFreezes:   b.SocketFreezes - a.SocketFreezes,
	}
}
