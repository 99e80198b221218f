// Package fanout provisions one AF_PACKET/TPACKET_V3 capture socket per
// worker: it opens the socket, enables the v3 ring protocol, binds
// promiscuously to an interface, installs and mmaps the RX ring, and joins
// the shared fanout group so the kernel load-balances flows across
// workers by hash.
package fanout

import (
	"fmt"
	"net"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/hardaker/mercury/internal/ringsizer"
)

// Socket is one provisioned, mmap'd capture socket and its block index.
// A Socket is exclusively owned by the Worker that provisioned it; nothing
// else may touch its fd or mapping concurrently except through the methods
// below, which are themselves only safe for the single owning goroutine
// (SocketStats is the one exception: it is called by the Stats Aggregator
// goroutine, and only ever reads kernel state via getsockopt, so it is
// safe to call from a different goroutine than the Drainer).
type Socket struct {
	fd      int
	ifName  string
	ifIndex int
	params  ringsizer.Params
	mapping []byte
	blocks  []*Block
}

// htons converts a 16-bit value from host to network byte order, needed
// for the ETH_P_ALL protocol argument to socket(2) and the sll_protocol
// field of sockaddr_ll, both of which the kernel expects in network order.
func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

// FanoutID derives the fanout group argument for an interface: the low 16
// bits identify the group (derived from the process id, perturbed by the
// interface index so that workers on different interfaces do not share a
// group), and the high 16 bits select the hash-based load-balancing
// policy.
func FanoutID(ifIndex int) int32 {
	group := (int32(os.Getpid()) & 0xFFFF) ^ int32(ifIndex&0xFFFF)
	return group | (unix.PACKET_FANOUT_HASH << 16)
}

// Provision creates and fully configures one capture socket bound to
// ifName/ifIndex, per §4.3. Any failure after socket creation closes the
// socket and unwinds earlier allocations for this call before returning.
func Provision(ifName string, ifIndex int, params ringsizer.Params, fanoutArg int32) (sock *Socket, err error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("fanout: socket(AF_PACKET): %w", err)
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
		}
	}()

	if err = unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_VERSION, unix.TPACKET_V3); err != nil {
		return nil, fmt.Errorf("fanout: set TPACKET_V3 on %s: %w", ifName, err)
	}

	if err = addPromiscMembership(fd, ifIndex); err != nil {
		return nil, fmt.Errorf("fanout: enable promiscuous mode on %s: %w", ifName, err)
	}

	req := tpacketReq3{
		blockSize:    uint32(params.BlockSize),
		blockNr:      params.BlockCount,
		frameSize:    uint32(params.FrameSize),
		frameNr:      params.FrameCount,
		retireBlkTov: uint32(params.RetireTimeout.Milliseconds()),
	}
	if err = setsockoptRaw(fd, unix.SOL_PACKET, unix.PACKET_RX_RING, unsafe.Pointer(&req), unsafe.Sizeof(req)); err != nil {
		return nil, fmt.Errorf("fanout: install RX ring on %s (%d blocks of %s): %w", ifName, params.BlockCount, params.BlockSize, err)
	}

	size := int(params.BlockSize) * int(params.BlockCount)
	mapping, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_LOCKED)
	if err != nil {
		return nil, fmt.Errorf("fanout: mmap RX ring on %s: %w", ifName, err)
	}
	defer func() {
		if err != nil {
			unix.Munmap(mapping)
		}
	}()

	blocks := make([]*Block, params.BlockCount)
	for i := range blocks {
		start := i * int(params.BlockSize)
		end := start + int(params.BlockSize)
		blocks[i] = newBlock(mapping[start:end])
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifIndex,
	}
	if err = unix.Bind(fd, addr); err != nil {
		return nil, fmt.Errorf("fanout: bind to %s: %w", ifName, err)
	}

	if verr := verifyInterfaceName(ifIndex, ifName); verr != nil {
		err = verr
		return nil, err
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_FANOUT, int(fanoutArg)); err != nil {
		return nil, fmt.Errorf("fanout: join fanout group on %s: %w", ifName, err)
	}

	return &Socket{
		fd:      fd,
		ifName:  ifName,
		ifIndex: ifIndex,
		params:  params,
		mapping: mapping,
		blocks:  blocks,
	}, nil
}

// verifyInterfaceName confirms the kernel still reports ifName for ifIndex
// right after bind, matching the original engine's defensive check against
// a renamed or reused interface index.
func verifyInterfaceName(ifIndex int, ifName string) error {
	got, err := net.InterfaceByIndex(ifIndex)
	if err != nil {
		return fmt.Errorf("fanout: could not re-resolve interface index %d: %w", ifIndex, err)
	}
	if got.Name != ifName {
		return fmt.Errorf("fanout: interface name %q does not match requested %q for index %d", got.Name, ifName, ifIndex)
	}
	return nil
}

// addPromiscMembership issues PACKET_ADD_MEMBERSHIP with PACKET_MR_PROMISC,
// the packet_mreq control struct that has no typed setsockopt wrapper in
// x/sys/unix.
func addPromiscMembership(fd, ifIndex int) error {
	mreq := packetMreq{
		ifindex: int32(ifIndex),
		mrType:  unix.PACKET_MR_PROMISC,
	}
	return setsockoptRaw(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, unsafe.Pointer(&mreq), unsafe.Sizeof(mreq))
}

// setsockoptRaw issues setsockopt(2) with an arbitrary control struct,
// bypassing the typed helpers x/sys/unix provides only for simple scalar
// options.
func setsockoptRaw(fd, level, name int, value unsafe.Pointer, size uintptr) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_SETSOCKOPT,
		uintptr(fd),
		uintptr(level),
		uintptr(name),
		uintptr(value),
		size,
		0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// getsockoptRaw issues getsockopt(2) with an arbitrary control struct.
func getsockoptRaw(fd, level, name int, value unsafe.Pointer, size uintptr) error {
	sizeCopy := size
	_, _, errno := unix.Syscall6(
		unix.SYS_GETSOCKOPT,
		uintptr(fd),
		uintptr(level),
		uintptr(name),
		uintptr(value),
		uintptr(unsafe.Pointer(&sizeCopy)),
		0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// IfName returns the interface this socket is bound to.
func (s *Socket) IfName() string { return s.ifName }

// Blocks returns the socket's block index, in ring order.
func (s *Socket) Blocks() []*Block { return s.blocks }

// FD exposes the raw file descriptor for use with poll(2).
func (s *Socket) FD() int { return s.fd }

// SocketStats implements stats.SocketStatter: it queries and clears the
// kernel's per-socket counters.
func (s *Socket) SocketStats() (packets, drops, freezes uint64, err error) {
	var st tpacketStatsV3
	size := unsafe.Sizeof(st)
	if err := getsockoptRaw(s.fd, unix.SOL_PACKET, unix.PACKET_STATISTICS, unsafe.Pointer(&st), size); err != nil {
		return 0, 0, 0, fmt.Errorf("fanout: getsockopt(PACKET_STATISTICS) on %s: %w", s.ifName, err)
	}
	return uint64(st.packets), uint64(st.drops), uint64(st.freezeQCnt), nil
}

// DiscardStats queries and discards the kernel's per-socket counters
// without folding them into Stats, used by the Drainer to flush bogus
// pre-start accounting (§4.4).
func (s *Socket) DiscardStats() {
	_, _, _, _ = s.SocketStats()
}

// Close unmaps the ring and closes the socket. Safe to call once; the
// Coordinator calls this only after every Drainer has returned.
func (s *Socket) Close() error {
	var err error
	if s.mapping != nil {
		if merr := unix.Munmap(s.mapping); merr != nil {
			err = fmt.Errorf("fanout: munmap %s: %w", s.ifName, merr)
		}
		s.mapping = nil
	}
	if cerr := unix.Close(s.fd); cerr != nil && err == nil {
		err = fmt.Errorf("fanout: close socket for %s: %w", s.ifName, cerr)
	}
	return err
}
