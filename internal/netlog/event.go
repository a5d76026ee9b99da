// Package netlog decodes the binary event protocol emitted by the in-guest
// monitor: one framed message per process start, thread start or hooked call.
package netlog

import (
	"encoding/json"
	"fmt"
	"time"

	"firestige.xyz/sandtrace/internal/textutil"
)

// HeaderLen is the size of the fixed framing prefix of every message.
const HeaderLen = 14

// Header is the fixed prefix of every message.
type Header struct {
	APIIndex    uint8  `json:"api_index"`
	Status      uint8  `json:"status"`
	ReturnValue uint32 `json:"return_value"`
	ThreadID    uint32 `json:"thread_id"`
	TimeOffset  uint32 `json:"time_offset"`
}

// Event is one decoded message.
type Event interface {
	EventHeader() Header
	Kind() string
}

// ProcessEvent announces a new monitored process.
type ProcessEvent struct {
	Header       Header    `json:"header"`
	Timestamp    time.Time `json:"timestamp"`
	RawTimestamp string    `json:"raw_timestamp"`
	PID          uint32    `json:"pid"`
	ParentPID    uint32    `json:"parent_pid"`
	ModulePath   string    `json:"module_path"`
	ProcessName  string    `json:"process_name"`
}

// ThreadEvent announces a new thread in a monitored process.
type ThreadEvent struct {
	Header Header `json:"header"`
	PID    uint32 `json:"pid"`
}

// CallEvent is a hooked api call. Arguments may be fewer than the signature
// declares when a format code has no decoder.
type CallEvent struct {
	Header     Header     `json:"header"`
	APIName    string     `json:"api"`
	ModuleName string     `json:"module"`
	Arguments  []Argument `json:"arguments"`
}

func (e ProcessEvent) EventHeader() Header { return e.Header }
func (e ThreadEvent) EventHeader() Header  { return e.Header }
func (e CallEvent) EventHeader() Header    { return e.Header }

func (ProcessEvent) Kind() string { return "process" }
func (ThreadEvent) Kind() string  { return "thread" }
func (CallEvent) Kind() string    { return "call" }

// Argument is a named decoded value.
type Argument struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Value is one of StringValue, BufferSize, Int32, Pointer or RegistryType.
type Value interface {
	fmt.Stringer
	value()
}

// TruncationMarker is appended to strings whose declared length exceeds the
// captured bytes.
const TruncationMarker = "... (truncated)"

// StringValue holds the captured bytes of a string argument.
type StringValue struct {
	Data      []byte
	Truncated bool
}

func (v StringValue) String() string {
	if v.Truncated {
		return string(v.Data) + TruncationMarker
	}
	return string(v.Data)
}

// MarshalJSON escapes captures that are not valid UTF-8 instead of letting
// the encoder substitute U+FFFD.
func (v StringValue) MarshalJSON() ([]byte, error) {
	s := textutil.Text(v.Data)
	if v.Truncated {
		s += TruncationMarker
	}
	return json.Marshal(s)
}

// BufferSize is the declared length of a buffer argument; the payload itself
// is never sent.
type BufferSize uint32

func (v BufferSize) String() string { return fmt.Sprintf("%d", uint32(v)) }

// Int32 is a 32-bit integer argument.
type Int32 uint32

func (v Int32) String() string { return fmt.Sprintf("%d", uint32(v)) }

// Pointer is a pointer argument rendered as 0x followed by 8 hex digits.
type Pointer string

func (v Pointer) String() string { return string(v) }

// RegistryType is the value type code of a registry argument. The value
// itself is not decoded.
type RegistryType uint16

func (v RegistryType) String() string { return fmt.Sprintf("%d", uint16(v)) }

func (StringValue) value()  {}
func (BufferSize) value()   {}
func (Int32) value()        {}
func (Pointer) value()      {}
func (RegistryType) value() {}
