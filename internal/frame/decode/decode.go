// Package decode provides a bundled reference frame.Handler that decodes
// just enough of each frame to log a one-line summary. It is not the
// fingerprinting/extraction pipeline the original capture engine feeds —
// real consumers supply their own frame.Handler — but it demonstrates the
// handler contract end to end and is useful on its own for smoke-testing a
// capture run.
package decode

import (
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"go.uber.org/zap"

	"github.com/hardaker/mercury/internal/frame"
)

// Handler logs a one-line summary of each frame's Ethernet/IP/transport
// headers. It is safe for concurrent use by multiple workers provided each
// holds its own Handler, which is how Factory hands them out.
type Handler struct {
	workerID  int
	filesetID string
	log       *zap.SugaredLogger

	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	decoded []gopacket.LayerType
}

// NewHandler builds a decoding Handler for one worker. It implements
// frame.Factory's signature directly via Factory below.
func NewHandler(workerID int, filesetID string, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	h := &Handler{
		workerID:  workerID,
		filesetID: filesetID,
		log:       log.With("worker", workerID, "fileset", filesetID),
	}
	h.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&h.eth, &h.ip4, &h.ip6, &h.tcp, &h.udp,
	)
	// Frames this handler cannot fully decode (unknown ethertypes, short
	// captures) are still summarized as far as parsing got; do not treat
	// an unsupported next layer as fatal.
	h.parser.IgnoreUnsupported = true
	return h
}

// HandleFrame implements frame.Handler.
func (h *Handler) HandleFrame(info frame.Info, l2 []byte) {
	var err error
	h.decoded, err = decodeInto(h.parser, l2, h.decoded)
	if err != nil {
		h.log.Debugw("frame decode error", zap.Error(err), zap.Uint32("caplen", info.CapLen))
		return
	}

	h.log.Infow("frame", "summary", h.summarize(info))
}

func decodeInto(parser *gopacket.DecodingLayerParser, l2 []byte, decoded []gopacket.LayerType) ([]gopacket.LayerType, error) {
	if err := parser.DecodeLayers(l2, &decoded); err != nil {
		return decoded, err
	}
	return decoded, nil
}

func (h *Handler) summarize(info frame.Info) string {
	var srcIP, dstIP fmt.Stringer
	for _, lt := range h.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			srcIP, dstIP = h.ip4.SrcIP, h.ip4.DstIP
		case layers.LayerTypeIPv6:
			srcIP, dstIP = h.ip6.SrcIP, h.ip6.DstIP
		}
	}

	var transport string
	if srcIP != nil {
		for _, lt := range h.decoded {
			switch lt {
			case layers.LayerTypeTCP:
				transport = fmt.Sprintf("tcp %s:%d -> %s:%d", srcIP, h.tcp.SrcPort, dstIP, h.tcp.DstPort)
			case layers.LayerTypeUDP:
				transport = fmt.Sprintf("udp %s:%d -> %s:%d", srcIP, h.udp.SrcPort, dstIP, h.udp.DstPort)
			}
		}
	}
	if transport == "" {
		transport = fmt.Sprintf("caplen=%d len=%d", info.CapLen, info.Len)
	}
	return transport
}

// Factory implements frame.Factory, handing out one decoding Handler per
// worker.
type Factory struct {
	Log *zap.SugaredLogger
}

// NewHandler implements frame.Factory.
func (f Factory) NewHandler(workerID int, filesetID string) (frame.Handler, error) {
	return NewHandler(workerID, filesetID, f.Log), nil
}
