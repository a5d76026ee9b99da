package network

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/sandtrace/internal/core"
)

// packetSource is satisfied by both pcapgo readers.
type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

const pcapngMagic = 0x0a0d0d0a

// pcapMagics covers micro- and nanosecond captures in both byte orders.
var pcapMagics = map[uint32]struct{}{
	0xa1b2c3d4: {}, 0xd4c3b2a1: {},
	0xa1b23c4d: {}, 0x4d3cb2a1: {},
}

// captureFile is an opened, validated capture.
type captureFile struct {
	f   *os.File
	src packetSource
}

// openCapture checks the preconditions of an analysis run and opens the
// capture. Every failure wraps core.ErrCaptureUnavailable.
func openCapture(path string) (*captureFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCaptureUnavailable, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", core.ErrCaptureUnavailable, path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is empty", core.ErrCaptureUnavailable, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCaptureUnavailable, err)
	}

	src, err := newPacketSource(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", core.ErrCaptureUnavailable, path, err)
	}
	return &captureFile{f: f, src: src}, nil
}

func (c *captureFile) Close() error {
	return c.f.Close()
}

// newPacketSource picks the pcap or pcapng reader from the file magic.
func newPacketSource(r *bufio.Reader) (packetSource, error) {
	head, err := r.Peek(4)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("capture header truncated")
		}
		return nil, err
	}

	magic := binary.BigEndian.Uint32(head)
	if magic == pcapngMagic {
		ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		return ng, nil
	}
	if _, ok := pcapMagics[magic]; !ok {
		return nil, fmt.Errorf("unrecognized capture format (magic 0x%08x)", magic)
	}
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	return pr, nil
}
