package network

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"
)

// frame is the decoded view of one captured frame. Payload slices alias the
// frame data and the decoder's layers; they are valid until the next decode.
type frame struct {
	isIP     bool
	src, dst net.IP
	isTCP    bool
	isUDP    bool
	srcPort  uint16
	dstPort  uint16
	payload  []byte
}

// frameDecoder decodes link, network and transport layers with preallocated
// layers. Application layers are dissected separately from the payload.
type frameDecoder struct {
	eth     layers.Ethernet
	sll     layers.LinuxSLL
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	hbh     layers.IPv6HopByHop
	dst6    layers.IPv6Destination
	tcp     layers.TCP
	udp     layers.UDP
	payload gopacket.Payload

	defrag *ip4defrag.IPv4Defragmenter

	// raw IP captures pick the parser from the version nibble
	parser  *gopacket.DecodingLayerParser
	parser6 *gopacket.DecodingLayerParser
	raw     bool

	decoded []gopacket.LayerType
}

func newFrameDecoder(link layers.LinkType) (*frameDecoder, error) {
	d := &frameDecoder{defrag: ip4defrag.NewIPv4Defragmenter()}
	decoding := []gopacket.DecodingLayer{
		&d.eth, &d.sll, &d.dot1q,
		&d.ip4, &d.ip6, &d.hbh, &d.dst6,
		&d.tcp, &d.udp, &d.payload,
	}

	var first gopacket.LayerType
	switch link {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeLinuxSLL:
		first = layers.LayerTypeLinuxSLL
	case layers.LinkTypeRaw:
		first = layers.LayerTypeIPv4
		d.raw = true
		d.parser6 = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv6, decoding...)
		d.parser6.IgnoreUnsupported = true
	default:
		return nil, fmt.Errorf("no decoder for link type %s", link)
	}

	d.parser = gopacket.NewDecodingLayerParser(first, decoding...)
	d.parser.IgnoreUnsupported = true
	return d, nil
}

// decode fills f from data. Any structural error rejects the whole frame.
// IPv4 fragments are held back until the datagram is complete; the frame
// that completes it carries the reassembled transport layer.
func (d *frameDecoder) decode(data []byte, ts time.Time, f *frame) error {
	*f = frame{}
	d.decoded = d.decoded[:0]

	parser := d.parser
	if d.raw && len(data) > 0 && data[0]>>4 == 6 {
		parser = d.parser6
	}
	if err := parser.DecodeLayers(data, &d.decoded); err != nil {
		return err
	}

	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			f.isIP, f.src, f.dst = true, d.ip4.SrcIP, d.ip4.DstIP
			if isFragment(&d.ip4) {
				return d.reassemble(ts, f)
			}
		case layers.LayerTypeIPv6:
			f.isIP, f.src, f.dst = true, d.ip6.SrcIP, d.ip6.DstIP
		case layers.LayerTypeTCP:
			f.isTCP, f.isUDP = true, false
			f.srcPort, f.dstPort = uint16(d.tcp.SrcPort), uint16(d.tcp.DstPort)
			f.payload = d.tcp.Payload
		case layers.LayerTypeUDP:
			f.isUDP, f.isTCP = true, false
			f.srcPort, f.dstPort = uint16(d.udp.SrcPort), uint16(d.udp.DstPort)
			f.payload = d.udp.Payload
		}
	}
	return nil
}

func isFragment(ip *layers.IPv4) bool {
	return ip.Flags&layers.IPv4MoreFragments != 0 || ip.FragOffset != 0
}

// reassemble feeds the current IPv4 fragment to the defragmenter and, once
// the datagram is complete, decodes its transport header.
func (d *frameDecoder) reassemble(ts time.Time, f *frame) error {
	// The defragmenter keeps the fragment, so it must not alias d.ip4.
	frag := d.ip4
	whole, err := d.defrag.DefragIPv4WithTimestamp(&frag, ts)
	if err != nil {
		return err
	}
	if whole == nil {
		return nil
	}

	switch whole.Protocol {
	case layers.IPProtocolTCP:
		if err := d.tcp.DecodeFromBytes(whole.Payload, gopacket.NilDecodeFeedback); err != nil {
			return err
		}
		f.isTCP = true
		f.srcPort, f.dstPort = uint16(d.tcp.SrcPort), uint16(d.tcp.DstPort)
		f.payload = d.tcp.Payload
	case layers.IPProtocolUDP:
		if err := d.udp.DecodeFromBytes(whole.Payload, gopacket.NilDecodeFeedback); err != nil {
			return err
		}
		f.isUDP = true
		f.srcPort, f.dstPort = uint16(d.udp.SrcPort), uint16(d.udp.DstPort)
		f.payload = d.udp.Payload
	}
	return nil
}
