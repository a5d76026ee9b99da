package netlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"firestige.xyz/sandtrace/internal/core"
	"firestige.xyz/sandtrace/internal/log"
	"firestige.xyz/sandtrace/internal/metrics"
	"firestige.xyz/sandtrace/internal/signature"
	"firestige.xyz/sandtrace/internal/textutil"
)

// DefaultMaxStringLength bounds a single string argument.
const DefaultMaxStringLength = 1 << 20

// Config tunes the decoder.
type Config struct {
	// MaxStringLength is the largest captured length accepted for a string
	// argument. Zero means DefaultMaxStringLength.
	MaxStringLength uint32
}

// Stats counts what a decoder has seen.
type Stats struct {
	Messages   uint64
	Processes  uint64
	Threads    uint64
	Calls      uint64
	DecodeGaps uint64
}

// Decoder pulls framed messages from a byte source. It is not safe for
// concurrent use; run one decoder per stream.
type Decoder struct {
	r       io.Reader
	table   *signature.Table
	maxLen  uint32
	scratch [HeaderLen]byte
	logger  log.Logger

	stats Stats
}

// NewDecoder returns a decoder reading from r. When r reports how many bytes
// remain (bytes.Reader, bytes.Buffer, io.LimitedReader) length fields are
// also checked against that count.
func NewDecoder(r io.Reader, table *signature.Table, cfg Config) *Decoder {
	maxLen := cfg.MaxStringLength
	if maxLen == 0 {
		maxLen = DefaultMaxStringLength
	}
	return &Decoder{
		r:      r,
		table:  table,
		maxLen: maxLen,
		logger: log.GetLogger(),
	}
}

// Stats returns a snapshot of the decoder's counters.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// ReadNextMessage decodes one message. It returns core.ErrEndOfStream when the
// source closes on a message boundary and core.ErrTruncatedStream when it
// closes mid-message. After any error the stream position is undefined.
func (d *Decoder) ReadNextMessage() (Event, error) {
	hdr, err := d.readHeader()
	if err != nil {
		return nil, err
	}
	d.stats.Messages++

	switch hdr.APIIndex {
	case signature.IndexProcess:
		ev, err := d.readProcess(hdr)
		if err != nil {
			return nil, err
		}
		d.stats.Processes++
		return ev, nil

	case signature.IndexThread:
		pid, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		d.stats.Threads++
		return ThreadEvent{Header: hdr, PID: pid}, nil

	default:
		sig, ok := d.table.Lookup(hdr.APIIndex)
		if !ok {
			return nil, fmt.Errorf("%w: %d", core.ErrUnknownAPIIndex, hdr.APIIndex)
		}
		ev, err := d.readCall(hdr, sig)
		if err != nil {
			return nil, err
		}
		d.stats.Calls++
		return ev, nil
	}
}

func (d *Decoder) readHeader() (Header, error) {
	buf := d.scratch[:HeaderLen]
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, core.ErrEndOfStream
		}
		return Header{}, readError(err)
	}
	return Header{
		APIIndex:    buf[0],
		Status:      buf[1],
		ReturnValue: binary.LittleEndian.Uint32(buf[2:6]),
		ThreadID:    binary.LittleEndian.Uint32(buf[6:10]),
		TimeOffset:  binary.LittleEndian.Uint32(buf[10:14]),
	}, nil
}

func (d *Decoder) readProcess(hdr Header) (ProcessEvent, error) {
	ts, err := d.readString()
	if err != nil {
		return ProcessEvent{}, err
	}
	pid, err := d.readUint32()
	if err != nil {
		return ProcessEvent{}, err
	}
	ppid, err := d.readUint32()
	if err != nil {
		return ProcessEvent{}, err
	}
	path, err := d.readString()
	if err != nil {
		return ProcessEvent{}, err
	}

	ev := ProcessEvent{
		Header:       hdr,
		RawTimestamp: ts.String(),
		PID:          pid,
		ParentPID:    ppid,
		ModulePath:   path.String(),
		ProcessName:  textutil.WindowsBase(path.String()),
	}
	if t, err := textutil.ParseMonitorTime(ts.String()); err == nil {
		ev.Timestamp = t
	} else {
		d.logger.WithError(err).WithField("pid", pid).Debug("keeping raw process timestamp")
	}
	return ev, nil
}

func (d *Decoder) readCall(hdr Header, sig signature.Signature) (CallEvent, error) {
	ev := CallEvent{
		Header:     hdr,
		APIName:    sig.Name,
		ModuleName: sig.Module,
		Arguments:  make([]Argument, 0, len(sig.Args)),
	}

	for _, spec := range sig.Args {
		v, ok, err := d.readValue(spec.Format)
		if err != nil {
			return CallEvent{}, fmt.Errorf("%s.%s: %w", sig.Name, spec.Name, err)
		}
		if !ok {
			// Nothing is consumed for an unknown code. If the monitor did
			// write bytes for it, the rest of this message is misaligned.
			d.stats.DecodeGaps++
			metrics.NetlogDecodeGapsTotal.Inc()
			d.logger.WithFields(map[string]interface{}{
				"api":      sig.Name,
				"argument": spec.Name,
				"format":   string(spec.Format),
			}).Warn("no decoder for format code, argument omitted")
			continue
		}
		ev.Arguments = append(ev.Arguments, Argument{Name: spec.Name, Value: v})
	}
	return ev, nil
}

// readValue decodes one argument. ok is false when format has no decoder.
func (d *Decoder) readValue(format byte) (v Value, ok bool, err error) {
	switch format {
	case 's', 'S', 'u', 'U', 'o', 'O':
		s, err := d.readString()
		return s, err == nil, err
	case 'b', 'B':
		size, err := d.readBuffer()
		return size, err == nil, err
	case 'i', 'l', 'L':
		n, err := d.readUint32()
		return Int32(n), err == nil, err
	case 'p', 'P':
		n, err := d.readUint32()
		return Pointer(fmt.Sprintf("0x%08x", n)), err == nil, err
	case 'r', 'R':
		n, err := d.readUint16()
		return RegistryType(n), err == nil, err
	default:
		// 'a' and 'A' (lists) land here as well.
		return nil, false, nil
	}
}

func (d *Decoder) readString() (StringValue, error) {
	length, maxLength, err := d.readLengths()
	if err != nil {
		return StringValue{}, err
	}
	if err := d.checkLength(length); err != nil {
		return StringValue{}, err
	}

	// Copy incrementally so the allocation tracks the bytes that actually
	// arrive, not the declared length.
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, d.r, int64(length)); err != nil {
		return StringValue{}, readError(err)
	}
	return StringValue{Data: buf.Bytes(), Truncated: maxLength > length}, nil
}

// readBuffer reads the two length words of a buffer argument. The payload is
// not on the wire, only the declared maximum length is reported.
func (d *Decoder) readBuffer() (BufferSize, error) {
	_, maxLength, err := d.readLengths()
	if err != nil {
		return 0, err
	}
	return BufferSize(maxLength), nil
}

func (d *Decoder) readLengths() (length, maxLength uint32, err error) {
	buf := d.scratch[:8]
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return 0, 0, readError(err)
	}
	return binary.LittleEndian.Uint32(buf[0:4]), binary.LittleEndian.Uint32(buf[4:8]), nil
}

func (d *Decoder) readUint32() (uint32, error) {
	buf := d.scratch[:4]
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return 0, readError(err)
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (d *Decoder) readUint16() (uint16, error) {
	buf := d.scratch[:2]
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return 0, readError(err)
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// checkLength validates an untrusted length field before any payload read.
func (d *Decoder) checkLength(length uint32) error {
	if length > d.maxLen {
		return fmt.Errorf("%w: string length %d above limit %d", core.ErrLengthExceeded, length, d.maxLen)
	}
	if remaining, ok := d.remaining(); ok && int64(length) > remaining {
		return fmt.Errorf("%w: string length %d with %d bytes left", core.ErrLengthExceeded, length, remaining)
	}
	return nil
}

func (d *Decoder) remaining() (int64, bool) {
	switch r := d.r.(type) {
	case interface{ Len() int }:
		return int64(r.Len()), true
	case *io.LimitedReader:
		return r.N, true
	default:
		return 0, false
	}
}

// readError maps a failed read inside a message.
func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return core.ErrTruncatedStream
	}
	return fmt.Errorf("netlog: read: %w", err)
}
