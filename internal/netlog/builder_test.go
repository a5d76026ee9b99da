package netlog

import (
	"bytes"
	"encoding/binary"
)

// wire assembles messages in the monitor's wire format.
type wire struct {
	bytes.Buffer
}

func (w *wire) header(apiIndex, status uint8, ret, tid, offset uint32) *wire {
	w.WriteByte(apiIndex)
	w.WriteByte(status)
	return w.u32(ret).u32(tid).u32(offset)
}

func (w *wire) u16(v uint16) *wire {
	binary.Write(&w.Buffer, binary.LittleEndian, v)
	return w
}

func (w *wire) u32(v uint32) *wire {
	binary.Write(&w.Buffer, binary.LittleEndian, v)
	return w
}

// str writes a string argument whose declared maximum is max.
func (w *wire) str(s string, max uint32) *wire {
	w.u32(uint32(len(s))).u32(max)
	w.WriteString(s)
	return w
}

// process writes a complete process message.
func (w *wire) process(ts string, pid, ppid uint32, path string) *wire {
	w.header(0, 1, 0, 1000, 5)
	w.str(ts, uint32(len(ts)))
	w.u32(pid).u32(ppid)
	return w.str(path, uint32(len(path)))
}
