package decode

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hardaker/mercury/internal/frame"
)

func buildUDPFrame(t *testing.T) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("hi"))))

	return buf.Bytes()
}

func TestHandler_DecodesUDPFrameWithoutError(t *testing.T) {
	h := NewHandler(0, "test", zaptest.NewLogger(t).Sugar())

	raw := buildUDPFrame(t)
	h.HandleFrame(frame.Info{CapLen: uint32(len(raw)), Len: uint32(len(raw))}, raw)

	summary := h.summarize(frame.Info{CapLen: uint32(len(raw)), Len: uint32(len(raw))})
	require.Contains(t, summary, "udp 10.0.0.1:5000 -> 10.0.0.2:53")
}

func buildUDPv6Frame(t *testing.T) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP("2001:db8::1"),
		DstIP:      net.ParseIP("2001:db8::2"),
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("hi"))))

	return buf.Bytes()
}

// A freshly built handler that has never decoded IPv4 traffic carries a
// zeroed h.ip4 struct; summarize must take the addresses of an IPv6 frame
// from the IPv6 layer, never from h.ip4, so the summary shows the real
// IPv6 endpoints.
func TestHandler_DecodesIPv6FrameWithoutStaleIPv4Addresses(t *testing.T) {
	h := NewHandler(0, "test", zaptest.NewLogger(t).Sugar())

	raw := buildUDPv6Frame(t)
	h.HandleFrame(frame.Info{CapLen: uint32(len(raw)), Len: uint32(len(raw))}, raw)

	summary := h.summarize(frame.Info{CapLen: uint32(len(raw)), Len: uint32(len(raw))})
	require.Contains(t, summary, "udp 2001:db8::1:5000 -> 2001:db8::2:53")
	require.NotContains(t, summary, "0.0.0.0")
}

func TestHandler_TruncatedFrameDoesNotPanic(t *testing.T) {
	h := NewHandler(0, "test", zaptest.NewLogger(t).Sugar())
	require.NotPanics(t, func() {
		h.HandleFrame(frame.Info{CapLen: 3, Len: 3}, []byte{0x01, 0x02, 0x03})
	})
}

func TestFactory_NewHandlerReturnsFrameHandler(t *testing.T) {
	f := Factory{Log: zaptest.NewLogger(t).Sugar()}
	handler, err := f.NewHandler(3, "fileset-a")
	require.NoError(t, err)
	require.NotNil(t, handler)
}
