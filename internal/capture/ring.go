package capture

import "github.com/hardaker/mercury/internal/fanout"

// Ring is the Drainer's view of one provisioned capture socket: its
// poll(2)-able file descriptor, kernel-stats harvesting, and ordered block
// index. socketRing adapts the real *fanout.Socket to this interface; a
// test fake can satisfy it directly to drive Run() against a synthetic
// ring without a real kernel socket.
type Ring interface {
	FD() int
	DiscardStats()
	Blocks() []RingBlock
}

// RingBlock is the Drainer's view of one ring block: the ownership bits
// and the frame records available while it is user-owned. *fanout.Block
// already implements this.
type RingBlock interface {
	IsUserOwned() bool
	MarkKernelOwned()
	Records() []fanout.Record
}

// socketRing adapts a *fanout.Socket, whose Blocks() returns concrete
// *fanout.Block values, to the Ring/RingBlock interfaces the Drainer's
// hot loop is written against.
type socketRing struct {
	sock *fanout.Socket
}

func newSocketRing(sock *fanout.Socket) *socketRing {
	return &socketRing{sock: sock}
}

func (s *socketRing) FD() int       { return s.sock.FD() }
func (s *socketRing) DiscardStats() { s.sock.DiscardStats() }

func (s *socketRing) Blocks() []RingBlock {
	blocks := s.sock.Blocks()
	out := make([]RingBlock, len(blocks))
	for i, b := range blocks {
		out[i] = b
	}
	return out
}
