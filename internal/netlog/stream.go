package netlog

import (
	"errors"
	"fmt"
	"io"

	"firestige.xyz/sandtrace/internal/core"
	"firestige.xyz/sandtrace/internal/log"
	"firestige.xyz/sandtrace/internal/metrics"
	"firestige.xyz/sandtrace/internal/signature"
)

// Stream pumps one byte source through a Decoder into a Sink.
type Stream struct {
	decoder *Decoder
	sink    Sink
	logger  log.Logger

	// SkipUnknownAPI keeps the stream alive after an unknown api index.
	// The stream position is not trustworthy afterwards, so this is only
	// useful for diagnostics.
	SkipUnknownAPI bool
}

// NewStream returns a stream decoding r with table and delivering to sink.
func NewStream(r io.Reader, table *signature.Table, cfg Config, sink Sink) *Stream {
	return &Stream{
		decoder: NewDecoder(r, table, cfg),
		sink:    sink,
		logger:  log.GetLogger(),
	}
}

// WithLogger replaces the stream's logger.
func (s *Stream) WithLogger(l log.Logger) *Stream {
	s.logger = l
	s.decoder.logger = l
	return s
}

// Run decodes until the source ends. A clean end of stream returns nil;
// truncation, bounds violations, unknown api indices and sink failures are
// returned.
func (s *Stream) Run() error {
	for {
		ev, err := s.decoder.ReadNextMessage()
		switch {
		case err == nil:
		case errors.Is(err, core.ErrEndOfStream):
			st := s.decoder.Stats()
			s.logger.WithFields(map[string]interface{}{
				"messages":    st.Messages,
				"calls":       st.Calls,
				"decode_gaps": st.DecodeGaps,
			}).Debug("event stream closed")
			return nil
		case errors.Is(err, core.ErrUnknownAPIIndex) && s.SkipUnknownAPI:
			s.logger.WithError(err).Warn("skipping message with unknown api index")
			continue
		default:
			return err
		}

		metrics.NetlogMessagesTotal.WithLabelValues(ev.Kind()).Inc()
		if err := Dispatch(s.sink, ev); err != nil {
			return fmt.Errorf("netlog: sink rejected %s event: %w", ev.Kind(), err)
		}
	}
}

// Stats returns the underlying decoder's counters.
func (s *Stream) Stats() Stats {
	return s.decoder.Stats()
}
