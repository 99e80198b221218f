package fanout

import (
	"unsafe"

	"github.com/hardaker/mercury/internal/frame"
)

// Block is a user-space view over one ring block: a window into the
// socket's single mmap'd region, plus the block-descriptor header the
// kernel writes at its start. Ownership of the bytes alternates between
// kernel and userspace via the status bits in that header; Block never
// copies the backing storage.
type Block struct {
	raw []byte
}

func newBlock(raw []byte) *Block {
	return &Block{raw: raw}
}

func (b *Block) desc() *tpacketBlockDesc {
	return (*tpacketBlockDesc)(unsafe.Pointer(&b.raw[0]))
}

// IsUserOwned reports whether the kernel has handed this block to
// userspace (TP_STATUS_USER set).
func (b *Block) IsUserOwned() bool {
	return b.desc().hdr.blockStatus&tpStatusUser != 0
}

// MarkKernelOwned returns the block to the kernel. This must happen
// exactly once per block the Drainer ever observes as user-owned, and only
// after every frame in it has been dispatched.
func (b *Block) MarkKernelOwned() {
	b.desc().hdr.blockStatus = tpStatusKernel
}

// Record is one parsed frame within a user-owned block: the handler-facing
// metadata plus a slice of the block's own backing array for the L2 bytes.
// The slice is only valid until the block is returned to the kernel.
type Record struct {
	Info frame.Info
	L2   []byte
}

// Records parses every tpacket3_hdr record in this block, walking the
// next_offset chain the kernel lays down; it does not allocate per-record
// beyond the returned slice headers. Must only be called while the block
// is user-owned.
func (b *Block) Records() []Record {
	desc := b.desc()
	numPkts := int(desc.hdr.numPkts)
	if numPkts == 0 {
		return nil
	}

	records := make([]Record, 0, numPkts)

	off := desc.hdr.offsetToFirstPkt
	for i := 0; i < numPkts; i++ {
		hdr := (*tpacket3Hdr)(unsafe.Pointer(&b.raw[off]))

		macOff := off + uint32(hdr.mac)
		caplen := hdr.snaplen

		records = append(records, Record{
			Info: frame.Info{
				TvSec:  int64(hdr.sec),
				TvNsec: int64(hdr.nsec),
				CapLen: caplen,
				Len:    hdr.len,
			},
			L2: b.raw[macOff : macOff+caplen : macOff+caplen],
		})

		off += hdr.nextOffset
	}

	return records
}
