package fanout

// The structs below mirror the Linux kernel's TPACKET_V3 ABI
// (linux/if_packet.h). golang.org/x/sys/unix exposes the scalar
// PACKET_* socket option constants but, like the original C source and
// the well-known gopacket/afpacket package, does not provide typed
// wrappers for the ring-control structures themselves — those have to be
// hand-mirrored field-for-field and passed across the setsockopt/mmap
// boundary via unsafe.Pointer. Every field here is a fixed-width integer
// with natural alignment equal to its size, so the Go layout matches the
// C layout on every architecture this module targets (amd64, arm64)
// without needing explicit padding.

// tpacketReq3 is struct tpacket_req3.
type tpacketReq3 struct {
	blockSize      uint32
	blockNr        uint32
	frameSize      uint32
	frameNr        uint32
	retireBlkTov   uint32
	sizeofPriv     uint32
	featureReqWord uint32
}

// tpacketBDTS is struct tpacket_bd_ts.
type tpacketBDTS struct {
	sec        uint32
	usecOrNsec uint32
}

// tpacketHdrV1 is struct tpacket_hdr_v1 (the only member of the
// tpacket_bd_header_u union this module uses).
type tpacketHdrV1 struct {
	blockStatus      uint32
	numPkts          uint32
	offsetToFirstPkt uint32
	blkLen           uint32
	seqNum           uint64
	tsFirstPkt       tpacketBDTS
	tsLastPkt        tpacketBDTS
}

// tpacketBlockDesc is struct tpacket_block_desc.
type tpacketBlockDesc struct {
	version      uint32
	offsetToPriv uint32
	hdr          tpacketHdrV1
}

// tpacket3Hdr is struct tpacket3_hdr, the per-frame record header inside a
// USER-owned block.
type tpacket3Hdr struct {
	nextOffset uint32
	sec        uint32
	nsec       uint32
	snaplen    uint32
	len        uint32
	status     uint32
	mac        uint16
	net        uint16
	vlanTci    uint16
	vlanTpid   uint16
	padding    [4]uint8
}

// packetMreq is struct packet_mreq, used for PACKET_ADD_MEMBERSHIP.
type packetMreq struct {
	ifindex int32
	mrType  uint16
	alen    uint16
	address [8]uint8
}

// tpacketStatsV3 is struct tpacket_stats_v3, read via
// getsockopt(PACKET_STATISTICS). The kernel resets these counters to zero
// on every read.
type tpacketStatsV3 struct {
	packets    uint32
	drops      uint32
	freezeQCnt uint32
}

// Block ownership bits. The kernel only ever sets/clears the USER bit at
// the block-status level; the richer per-frame status bits (TP_STATUS_COPY,
// TP_STATUS_LOSING, ...) are not meaningful here.
const (
	tpStatusKernel uint32 = 0
	tpStatusUser   uint32 = 1 << 0
)
