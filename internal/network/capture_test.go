package network

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"
)

var (
	clientMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	serverMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
)

// captureBuilder assembles an Ethernet pcap file in memory.
type captureBuilder struct {
	t      *testing.T
	frames [][]byte
}

func newCapture(t *testing.T) *captureBuilder {
	t.Helper()
	return &captureBuilder{t: t}
}

func (b *captureBuilder) serialize(ls ...gopacket.SerializableLayer) []byte {
	b.t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	require.NoError(b.t, gopacket.SerializeLayers(buf, opts, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

func (b *captureBuilder) network(src, dst string, proto layers.IPProtocol) (*layers.Ethernet, gopacket.SerializableLayer) {
	srcIP, dstIP := net.ParseIP(src), net.ParseIP(dst)
	if v4 := srcIP.To4(); v4 != nil {
		return &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeIPv4},
			&layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: proto, SrcIP: v4, DstIP: dstIP.To4()}
	}
	return &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeIPv6},
		&layers.IPv6{Version: 6, HopLimit: 64, NextHeader: proto, SrcIP: srcIP, DstIP: dstIP}
}

func (b *captureBuilder) tcp(src, dst string, sport, dport uint16, payload []byte) *captureBuilder {
	eth, ip := b.network(src, dst, layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), Seq: 1, PSH: true, ACK: true, Window: 8192}
	b.frames = append(b.frames, b.serialize(eth, ip, tcp, gopacket.Payload(payload)))
	return b
}

func (b *captureBuilder) udp(src, dst string, sport, dport uint16, payload []byte) *captureBuilder {
	eth, ip := b.network(src, dst, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	b.frames = append(b.frames, b.serialize(eth, ip, udp, gopacket.Payload(payload)))
	return b
}

// vlanUDP sends a UDP datagram in an 802.1Q tagged IPv4 frame.
func (b *captureBuilder) vlanUDP(src, dst string, vlan, sport, dport uint16, payload []byte) *captureBuilder {
	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeDot1Q}
	tag := &layers.Dot1Q{VLANIdentifier: vlan, Type: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.ParseIP(src).To4(), DstIP: net.ParseIP(dst).To4()}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	b.frames = append(b.frames, b.serialize(eth, tag, ip, udp, gopacket.Payload(payload)))
	return b
}

// hopByHopUDP sends an IPv6 UDP datagram behind a hop-by-hop options header
// holding a single PadN option.
func (b *captureBuilder) hopByHopUDP(src, dst string, sport, dport uint16, payload []byte) *captureBuilder {
	datagram := b.serialize(&layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}, gopacket.Payload(payload))
	ext := []byte{byte(layers.IPProtocolUDP), 0, 1, 4, 0, 0, 0, 0}

	eth, ip := b.network(src, dst, layers.IPProtocolIPv6HopByHop)
	b.frames = append(b.frames, b.serialize(eth, ip, gopacket.Payload(append(ext, datagram...))))
	return b
}

// udpFragments splits one UDP datagram into two IPv4 fragments at split
// bytes into the transport layer. split must be a multiple of 8.
func (b *captureBuilder) udpFragments(src, dst string, sport, dport uint16, payload []byte, split int) *captureBuilder {
	b.t.Helper()
	datagram := b.serialize(&layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}, gopacket.Payload(payload))
	require.Zero(b.t, split%8)
	require.Less(b.t, split, len(datagram))

	chunks := []struct {
		data   []byte
		flags  layers.IPv4Flag
		offset uint16
	}{
		{datagram[:split], layers.IPv4MoreFragments, 0},
		{datagram[split:], 0, uint16(split / 8)},
	}
	for _, c := range chunks {
		eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeIPv4}
		ip := &layers.IPv4{
			Version: 4, IHL: 5, TTL: 64, Id: 0x4242, Protocol: layers.IPProtocolUDP,
			Flags: c.flags, FragOffset: c.offset,
			SrcIP: net.ParseIP(src).To4(), DstIP: net.ParseIP(dst).To4(),
		}
		b.frames = append(b.frames, b.serialize(eth, ip, gopacket.Payload(c.data)))
	}
	return b
}

func (b *captureBuilder) raw(frame []byte) *captureBuilder {
	b.frames = append(b.frames, frame)
	return b
}

// write stores the capture in a temporary file and returns its path.
func (b *captureBuilder) write() string {
	b.t.Helper()
	path := filepath.Join(b.t.TempDir(), "dump.pcap")
	f, err := os.Create(path)
	require.NoError(b.t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(b.t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, data := range b.frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(b.t, w.WritePacket(ci, data))
	}
	return path
}

func dnsResponse(t *testing.T, name string, qtype layers.DNSType, rcode layers.DNSResponseCode, answers ...layers.DNSResourceRecord) []byte {
	t.Helper()
	msg := &layers.DNS{
		ID:           0x1234,
		QR:           true,
		OpCode:       layers.DNSOpCodeQuery,
		RD:           true,
		RA:           true,
		ResponseCode: rcode,
		Questions: []layers.DNSQuestion{{
			Name:  []byte(name),
			Type:  qtype,
			Class: layers.DNSClassIN,
		}},
		Answers: answers,
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, msg.SerializeTo(buf, gopacket.SerializeOptions{FixLengths: true}))
	return append([]byte(nil), buf.Bytes()...)
}

func aRecord(name, ip string) layers.DNSResourceRecord {
	return layers.DNSResourceRecord{
		Name:  []byte(name),
		Type:  layers.DNSTypeA,
		Class: layers.DNSClassIN,
		TTL:   300,
		IP:    net.ParseIP(ip).To4(),
	}
}
