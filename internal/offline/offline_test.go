package offline

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hardaker/mercury/internal/frame"
)

// writeClassicPcap hand-writes a minimal classic-format file so the reader
// can be tested without depending on the writer under test.
func writeClassicPcap(t *testing.T, path string, order binary.ByteOrder, records [][]byte) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	global := make([]byte, globalHeaderSize)
	order.PutUint32(global[0:4], magicNative)
	order.PutUint16(global[4:6], 2)
	order.PutUint16(global[6:8], 4)
	order.PutUint32(global[16:20], 65535)
	order.PutUint32(global[20:24], 1)
	_, err = f.Write(global)
	require.NoError(t, err)

	for i, payload := range records {
		hdr := make([]byte, packetHeaderSize)
		order.PutUint32(hdr[0:4], uint32(1700000000+i))
		order.PutUint32(hdr[4:8], uint32(i*10))
		order.PutUint32(hdr[8:12], uint32(len(payload)))
		order.PutUint32(hdr[12:16], uint32(len(payload)))
		_, err = f.Write(hdr)
		require.NoError(t, err)
		_, err = f.Write(payload)
		require.NoError(t, err)
	}
}

func TestOpen_DetectsNativeByteOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "native.pcap")
	writeClassicPcap(t, path, binary.LittleEndian, [][]byte{{1, 2, 3}})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint32(65535), r.Header().SnapLen)
}

func TestOpen_DetectsSwappedByteOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapped.pcap")
	writeClassicPcap(t, path, binary.BigEndian, [][]byte{{9, 9}})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint32(65535), r.Header().SnapLen)

	info, data, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, data)
	assert.Equal(t, uint32(2), info.CapLen)
}

func TestOpen_RejectsPcapNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ng.pcapng")
	raw := make([]byte, globalHeaderSize)
	binary.LittleEndian.PutUint32(raw[0:4], magicPcapNG)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestOpen_RejectsGarbageMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pcap")
	require.NoError(t, os.WriteFile(path, make([]byte, globalHeaderSize), 0o644))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestReadPacket_TruncatesOversizedRecordButSkipsRemainder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.pcap")
	big := make([]byte, BufLen+100)
	for i := range big {
		big[i] = byte(i)
	}
	writeClassicPcap(t, path, binary.LittleEndian, [][]byte{big, {0xAB}})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	info, data, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, uint32(BufLen), info.CapLen)
	assert.Equal(t, uint32(BufLen+100), info.Len)
	assert.Len(t, data, BufLen)
	assert.Equal(t, big[:BufLen], data)

	// The next record must be reached correctly: the oversized remainder
	// was consumed, not left in the stream.
	info2, data2, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB}, data2)
	assert.Equal(t, uint32(1), info2.CapLen)
}

// TestReadPacket_TruncationReportsInclLenNotOrigLen makes the incl_len vs
// orig_len distinction load-bearing: writeClassicPcap always sets the two
// file header fields equal, which let an earlier version of ReadPacket
// wrongly surface orig_len on the truncated path without any test
// noticing. Here the wire length (orig_len) is deliberately larger than
// the oversized incl_len that triggers truncation, so Info.Len must come
// from the saved incl_len to pass.
func TestReadPacket_TruncationReportsInclLenNotOrigLen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "origlen.pcap")

	const inclLen = BufLen + 100
	const origLen = BufLen + 500 // wire length, independent of incl_len

	f, err := os.Create(path)
	require.NoError(t, err)

	global := make([]byte, globalHeaderSize)
	binary.LittleEndian.PutUint32(global[0:4], magicNative)
	binary.LittleEndian.PutUint32(global[16:20], 65535)
	_, err = f.Write(global)
	require.NoError(t, err)

	hdr := make([]byte, packetHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], 1700000000)
	binary.LittleEndian.PutUint32(hdr[4:8], 0)
	binary.LittleEndian.PutUint32(hdr[8:12], inclLen)
	binary.LittleEndian.PutUint32(hdr[12:16], origLen)
	_, err = f.Write(hdr)
	require.NoError(t, err)

	payload := make([]byte, inclLen)
	_, err = f.Write(payload)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	info, data, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, uint32(BufLen), info.CapLen)
	assert.Equal(t, uint32(inclLen), info.Len, "truncated record's Len must be the pre-truncation incl_len, not orig_len")
	assert.Len(t, data, BufLen)
}

func TestReadPacket_ReturnsErrNoMoreDataAtEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.pcap")
	writeClassicPcap(t, path, binary.LittleEndian, [][]byte{{1}})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.ReadPacket()
	require.NoError(t, err)

	_, _, err = r.ReadPacket()
	assert.ErrorIs(t, err, ErrNoMoreData)
}

func TestRewind_ReturnsToFirstRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewind.pcap")
	writeClassicPcap(t, path, binary.LittleEndian, [][]byte{{1}, {2}})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.ReadPacket()
	require.NoError(t, err)
	_, _, err = r.ReadPacket()
	require.NoError(t, err)

	require.NoError(t, r.Rewind())

	info, data, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, data)
	assert.Equal(t, int64(1700000000), info.TvSec)
}

type collectingHandler struct {
	frames [][]byte
}

func (h *collectingHandler) HandleFrame(info frame.Info, l2 []byte) {
	cp := make([]byte, len(l2))
	copy(cp, l2)
	h.frames = append(h.frames, cp)
}

func TestDispatch_LoopsAcrossMultiplePasses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.pcap")
	writeClassicPcap(t, path, binary.LittleEndian, [][]byte{{1}, {2}})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	h := &collectingHandler{}
	packets, bytes, err := Dispatch(r, h, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), packets)
	assert.Equal(t, uint64(6), bytes)
	assert.Len(t, h.frames, 6)
}

func TestWriter_RoundTripsThroughReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.pcap")

	w, err := Create(path)
	require.NoError(t, err)

	require.NoError(t, w.WritePacket(frame.Info{TvSec: 1700000000, CapLen: 3, Len: 3}, []byte{1, 2, 3}))
	require.NoError(t, w.WritePacket(frame.Info{TvSec: 1700000001, CapLen: 2, Len: 2}, []byte{9, 8}))
	require.NoError(t, w.Close())

	assert.Equal(t, uint64(2), w.PacketsWritten())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, data1, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data1)

	_, data2, err := r.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8}, data2)

	_, _, err = r.ReadPacket()
	assert.ErrorIs(t, err, ErrNoMoreData)
}
