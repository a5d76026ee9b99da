package netlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"firestige.xyz/sandtrace/internal/log"
	"firestige.xyz/sandtrace/internal/metrics"
	"firestige.xyz/sandtrace/internal/signature"
)

// SinkFactory returns the sink for a newly accepted guest connection and a
// function releasing it when the stream ends.
type SinkFactory func(remote net.Addr) (Sink, func(), error)

// Server accepts guest connections and runs one Stream per connection.
// Streams share only the read-only signature table.
type Server struct {
	listener net.Listener
	table    *signature.Table
	cfg      Config
	newSink  SinkFactory
	logger   log.Logger

	// SkipUnknownAPI is passed on to every connection's Stream.
	SkipUnknownAPI bool

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
	stopped bool
}

// NewServer wraps an already bound listener.
func NewServer(l net.Listener, table *signature.Table, cfg Config, newSink SinkFactory) *Server {
	return &Server{
		listener: l,
		table:    table,
		cfg:      cfg,
		newSink:  newSink,
		logger:   log.GetLogger(),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then closes the listener
// and every open connection and waits for the streams to finish.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.WithField("addr", s.listener.Addr().String()).Info("result server started")

	errCh := make(chan error, 1)
	go func() { errCh <- s.acceptLoop() }()

	var err error
	select {
	case <-ctx.Done():
		s.logger.WithField("reason", ctx.Err()).Info("result server stopping")
	case err = <-errCh:
	}

	s.stop()
	return err
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("netlog: accept: %w", err)
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	logger := s.logger.WithField("guest", conn.RemoteAddr().String())

	sink, release, err := s.newSink(conn.RemoteAddr())
	if err != nil {
		logger.WithError(err).Error("failed to create sink for guest")
		return
	}
	if release != nil {
		defer release()
	}

	metrics.NetlogActiveStreams.Inc()
	defer metrics.NetlogActiveStreams.Dec()

	stream := NewStream(bufio.NewReader(conn), s.table, s.cfg, sink).WithLogger(logger)
	stream.SkipUnknownAPI = s.SkipUnknownAPI
	if err := stream.Run(); err != nil {
		metrics.NetlogStreamsTotal.WithLabelValues(metrics.StreamAborted).Inc()
		logger.WithError(err).Warn("event stream aborted")
		return
	}
	metrics.NetlogStreamsTotal.WithLabelValues(metrics.StreamCompleted).Inc()
	logger.WithField("messages", stream.Stats().Messages).Info("event stream finished")
}

func (s *Server) stop() {
	s.mu.Lock()
	s.stopped = true
	s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
