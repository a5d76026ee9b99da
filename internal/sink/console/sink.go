// Package console writes decoded netlog events as JSON lines.
package console

import (
	"io"
	"sync"

	"firestige.xyz/sandtrace/internal/netlog"
)

// Sink writes one JSON object per event. It is safe for concurrent use, so
// a single Sink may be shared by every connection of a server.
type Sink struct {
	mu     *sync.Mutex
	w      io.Writer
	source string
}

func NewSink(w io.Writer) *Sink {
	return &Sink{mu: &sync.Mutex{}, w: w}
}

// WithSource returns a sink sharing s's writer that tags events with source.
func (s *Sink) WithSource(source string) *Sink {
	return &Sink{mu: s.mu, w: s.w, source: source}
}

func (s *Sink) OnProcess(ev netlog.ProcessEvent) error { return s.write(ev) }
func (s *Sink) OnThread(ev netlog.ThreadEvent) error   { return s.write(ev) }
func (s *Sink) OnCall(ev netlog.CallEvent) error       { return s.write(ev) }

func (s *Sink) write(ev netlog.Event) error {
	data, err := netlog.Marshal(s.source, ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(data)
	return err
}
