package netlog

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sandtrace/internal/core"
	"firestige.xyz/sandtrace/internal/signature"
)

func testTable(t *testing.T) *signature.Table {
	t.Helper()
	table, err := signature.New([]signature.Signature{
		{
			Index: 2, Name: "NtCreateFile", Module: "ntdll",
			Args: []signature.ArgSpec{
				{Format: 'p', Name: "FileHandle"},
				{Format: 'L', Name: "DesiredAccess"},
				{Format: 'u', Name: "FileName"},
			},
		},
		{
			Index: 3, Name: "NtWriteFile", Module: "ntdll",
			Args: []signature.ArgSpec{
				{Format: 'b', Name: "Buffer"},
				{Format: 'i', Name: "Length"},
			},
		},
		{
			Index: 4, Name: "RegSetValueExA", Module: "advapi32",
			Args: []signature.ArgSpec{
				{Format: 'p', Name: "Handle"},
				{Format: 'A', Name: "Values"},
				{Format: 'r', Name: "Type"},
			},
		},
		{Index: 5, Name: "GetTickCount", Module: "kernel32"},
	})
	require.NoError(t, err)
	return table
}

// unsized hides Len so the decoder cannot see how many bytes remain.
type unsized struct {
	io.Reader
}

func TestReadProcessEvent(t *testing.T) {
	var w wire
	w.process("2015-01-01 00:00:00", 100, 4, `C:\a\b\evil.exe`)

	d := NewDecoder(bytes.NewReader(w.Bytes()), testTable(t), Config{})
	ev, err := d.ReadNextMessage()
	require.NoError(t, err)

	proc, ok := ev.(ProcessEvent)
	require.True(t, ok, "expected ProcessEvent, got %T", ev)
	assert.Equal(t, uint32(100), proc.PID)
	assert.Equal(t, uint32(4), proc.ParentPID)
	assert.Equal(t, "evil.exe", proc.ProcessName)
	assert.Equal(t, `C:\a\b\evil.exe`, proc.ModulePath)
	assert.Equal(t, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), proc.Timestamp)
	assert.Equal(t, uint32(1000), proc.Header.ThreadID)
	assert.Equal(t, "process", ev.Kind())

	_, err = d.ReadNextMessage()
	assert.ErrorIs(t, err, core.ErrEndOfStream)
}

func TestReadProcessEventKeepsMalformedTimestamp(t *testing.T) {
	var w wire
	w.process("not a time", 1, 0, `evil.exe`)

	ev, err := NewDecoder(bytes.NewReader(w.Bytes()), nil, Config{}).ReadNextMessage()
	require.NoError(t, err)

	proc := ev.(ProcessEvent)
	assert.True(t, proc.Timestamp.IsZero())
	assert.Equal(t, "not a time", proc.RawTimestamp)
}

func TestReadThreadEvent(t *testing.T) {
	var w wire
	w.header(1, 1, 0, 2222, 10).u32(100)

	ev, err := NewDecoder(bytes.NewReader(w.Bytes()), nil, Config{}).ReadNextMessage()
	require.NoError(t, err)
	assert.Equal(t, ThreadEvent{
		Header: Header{APIIndex: 1, Status: 1, ThreadID: 2222, TimeOffset: 10},
		PID:    100,
	}, ev)
}

func TestReadCallEvent(t *testing.T) {
	var w wire
	w.header(2, 1, 0xc0000034, 7, 99).
		u32(0x1a4).
		u32(0x80000000).
		str(`C:\out.txt`, 10)

	ev, err := NewDecoder(bytes.NewReader(w.Bytes()), testTable(t), Config{}).ReadNextMessage()
	require.NoError(t, err)

	call, ok := ev.(CallEvent)
	require.True(t, ok)
	assert.Equal(t, "NtCreateFile", call.APIName)
	assert.Equal(t, "ntdll", call.ModuleName)
	assert.Equal(t, uint32(0xc0000034), call.Header.ReturnValue)
	assert.Equal(t, []Argument{
		{Name: "FileHandle", Value: Pointer("0x000001a4")},
		{Name: "DesiredAccess", Value: Int32(0x80000000)},
		{Name: "FileName", Value: StringValue{Data: []byte(`C:\out.txt`)}},
	}, call.Arguments)
}

func TestCallWithoutArguments(t *testing.T) {
	var w wire
	w.header(5, 1, 1234, 7, 99)

	ev, err := NewDecoder(bytes.NewReader(w.Bytes()), testTable(t), Config{}).ReadNextMessage()
	require.NoError(t, err)
	assert.Empty(t, ev.(CallEvent).Arguments)
}

func TestStringTruncation(t *testing.T) {
	tests := []struct {
		name      string
		declared  uint32
		truncated bool
		rendered  string
	}{
		{name: "declared above captured", declared: 64, truncated: true, rendered: `C:\out.txt` + TruncationMarker},
		{name: "declared equal to captured", declared: 10, truncated: false, rendered: `C:\out.txt`},
		{name: "declared below captured", declared: 2, truncated: false, rendered: `C:\out.txt`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w wire
			w.header(2, 1, 0, 7, 0).u32(1).u32(2).str(`C:\out.txt`, tt.declared)

			ev, err := NewDecoder(bytes.NewReader(w.Bytes()), testTable(t), Config{}).ReadNextMessage()
			require.NoError(t, err)

			s := ev.(CallEvent).Arguments[2].Value.(StringValue)
			assert.Equal(t, tt.truncated, s.Truncated)
			assert.Equal(t, tt.rendered, s.String())
		})
	}
}

func TestBufferConsumesNoPayload(t *testing.T) {
	var w wire
	// captured 16, declared 4096, then the next argument directly
	w.header(3, 1, 0, 7, 0).u32(16).u32(4096).u32(42)

	r := bytes.NewReader(w.Bytes())
	ev, err := NewDecoder(r, testTable(t), Config{}).ReadNextMessage()
	require.NoError(t, err)

	assert.Equal(t, []Argument{
		{Name: "Buffer", Value: BufferSize(4096)},
		{Name: "Length", Value: Int32(42)},
	}, ev.(CallEvent).Arguments)
	assert.Zero(t, r.Len())
}

func TestDecodeGapOmitsArgument(t *testing.T) {
	var w wire
	// 'A' consumes nothing, so the registry type follows the pointer.
	w.header(4, 1, 0, 7, 0).u32(0xdeadbeef).u16(1)

	d := NewDecoder(bytes.NewReader(w.Bytes()), testTable(t), Config{})
	ev, err := d.ReadNextMessage()
	require.NoError(t, err)

	assert.Equal(t, []Argument{
		{Name: "Handle", Value: Pointer("0xdeadbeef")},
		{Name: "Type", Value: RegistryType(1)},
	}, ev.(CallEvent).Arguments)
	assert.Equal(t, uint64(1), d.Stats().DecodeGaps)
}

func TestUnknownAPIIndex(t *testing.T) {
	var w wire
	w.header(200, 1, 0, 7, 0).u32(1).u32(2)

	r := bytes.NewReader(w.Bytes())
	_, err := NewDecoder(r, testTable(t), Config{}).ReadNextMessage()
	assert.ErrorIs(t, err, core.ErrUnknownAPIIndex)
	assert.Contains(t, err.Error(), "200")
	assert.Equal(t, 8, r.Len(), "argument bytes must stay unread")
}

func TestStringLengthExceedsRemaining(t *testing.T) {
	var w wire
	w.header(2, 1, 0, 7, 0).u32(1).u32(2).u32(100).u32(100)
	w.WriteString("short")

	_, err := NewDecoder(bytes.NewReader(w.Bytes()), testTable(t), Config{}).ReadNextMessage()
	assert.ErrorIs(t, err, core.ErrLengthExceeded)
}

func TestStringLengthExceedsLimit(t *testing.T) {
	var w wire
	w.header(2, 1, 0, 7, 0).u32(1).u32(2).str("0123456789abcdef", 16)

	d := NewDecoder(unsized{bytes.NewReader(w.Bytes())}, testTable(t), Config{MaxStringLength: 8})
	_, err := d.ReadNextMessage()
	assert.ErrorIs(t, err, core.ErrLengthExceeded)
}

func TestStringLengthCheckedAgainstLimitedReader(t *testing.T) {
	var w wire
	w.header(2, 1, 0, 7, 0).u32(1).u32(2).u32(1000).u32(1000)
	w.WriteString("abc")

	lr := &io.LimitedReader{R: unsized{bytes.NewReader(w.Bytes())}, N: int64(w.Len())}
	_, err := NewDecoder(lr, testTable(t), Config{}).ReadNextMessage()
	assert.ErrorIs(t, err, core.ErrLengthExceeded)
}

func TestTruncatedStringOnUnsizedReader(t *testing.T) {
	var w wire
	w.header(2, 1, 0, 7, 0).u32(1).u32(2).u32(100).u32(100)
	w.WriteString("abc")

	_, err := NewDecoder(unsized{bytes.NewReader(w.Bytes())}, testTable(t), Config{}).ReadNextMessage()
	assert.ErrorIs(t, err, core.ErrTruncatedStream)
}

func TestEndOfStreamAndTruncatedHeader(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader(nil), nil, Config{}).ReadNextMessage()
	assert.ErrorIs(t, err, core.ErrEndOfStream)

	_, err = NewDecoder(bytes.NewReader([]byte{2, 1, 0, 0}), nil, Config{}).ReadNextMessage()
	assert.ErrorIs(t, err, core.ErrTruncatedStream)
}

func TestTruncatedArguments(t *testing.T) {
	var w wire
	w.header(1, 1, 0, 7, 0).u16(3)

	_, err := NewDecoder(bytes.NewReader(w.Bytes()), nil, Config{}).ReadNextMessage()
	assert.ErrorIs(t, err, core.ErrTruncatedStream)
}

func TestMarshal(t *testing.T) {
	ev := CallEvent{
		Header:     Header{APIIndex: 2},
		APIName:    "NtCreateFile",
		ModuleName: "ntdll",
		Arguments: []Argument{
			{Name: "FileName", Value: StringValue{Data: []byte("a.txt"), Truncated: true}},
			{Name: "FileHandle", Value: Pointer("0x00000010")},
		},
	}

	data, err := Marshal("10.0.0.5:49152", ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"kind": "call",
		"source": "10.0.0.5:49152",
		"event": {
			"header": {"api_index": 2, "status": 0, "return_value": 0, "thread_id": 0, "time_offset": 0},
			"api": "NtCreateFile",
			"module": "ntdll",
			"arguments": [
				{"name": "FileName", "value": "a.txt... (truncated)"},
				{"name": "FileHandle", "value": "0x00000010"}
			]
		}
	}`, string(data))
}

func TestStringValueJSON(t *testing.T) {
	data, err := StringValue{Data: []byte("café")}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"café"`, string(data))

	data, err = StringValue{Data: []byte{'k', 0xff, 'e'}, Truncated: true}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"k\\xffe... (truncated)"`, string(data))
}
