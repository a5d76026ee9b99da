// Package nats publishes decoded netlog events to NATS subjects.
package nats

import (
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"firestige.xyz/sandtrace/internal/log"
	"firestige.xyz/sandtrace/internal/netlog"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "sandtrace.events"

// Config selects the server and subject namespace.
type Config struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Enabled       bool   `mapstructure:"enabled"`
}

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Sink publishes every event as JSON to <prefix>.<kind>.
type Sink struct {
	pub    Publisher
	prefix string
	source string
	logger log.Logger
}

// Connect dials the configured server.
func Connect(cfg Config) (*Sink, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("sandtrace"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	log.GetLogger().WithField("url", url).Info("connected to nats")
	return NewSink(nc, cfg.SubjectPrefix), nil
}

func NewSink(pub Publisher, prefix string) *Sink {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Sink{pub: pub, prefix: prefix, logger: log.GetLogger()}
}

// WithSource returns a sink on the same connection that tags events with
// source.
func (s *Sink) WithSource(source string) *Sink {
	return &Sink{pub: s.pub, prefix: s.prefix, source: source, logger: s.logger}
}

// Subject returns the subject events of the given kind go to.
func (s *Sink) Subject(kind string) string {
	return s.prefix + "." + kind
}

func (s *Sink) OnProcess(ev netlog.ProcessEvent) error { return s.publish(ev) }
func (s *Sink) OnThread(ev netlog.ThreadEvent) error   { return s.publish(ev) }
func (s *Sink) OnCall(ev netlog.CallEvent) error       { return s.publish(ev) }

func (s *Sink) publish(ev netlog.Event) error {
	data, err := netlog.Marshal(s.source, ev)
	if err != nil {
		return err
	}
	subject := s.Subject(ev.Kind())
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection, flushing pending messages.
func (s *Sink) Close() error {
	if err := s.pub.Drain(); err != nil {
		return err
	}
	s.logger.Info("nats connection drained")
	return nil
}
