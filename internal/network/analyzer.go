package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"firestige.xyz/sandtrace/internal/core"
	"firestige.xyz/sandtrace/internal/log"
	"firestige.xyz/sandtrace/internal/metrics"
)

const (
	DefaultSMTPPort       = 25
	DefaultDNSPort        = 53
	DefaultResolveTimeout = 10 * time.Second
)

// Config tunes an Analyzer.
type Config struct {
	// ResolveDNS enables resolving queried domains from the analysis host.
	ResolveDNS bool
	// ResolveTimeout bounds each lookup. Zero means DefaultResolveTimeout.
	ResolveTimeout time.Duration
	SMTPPort       uint16
	DNSPort        uint16
}

// Analyzer turns a capture file into a Result.
type Analyzer struct {
	cfg      Config
	resolver Resolver
	logger   log.Logger
}

// NewAnalyzer returns an analyzer. resolver may be nil when resolution is
// disabled.
func NewAnalyzer(cfg Config, resolver Resolver) *Analyzer {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = DefaultSMTPPort
	}
	if cfg.DNSPort == 0 {
		cfg.DNSPort = DefaultDNSPort
	}
	return &Analyzer{cfg: cfg, resolver: resolver, logger: log.GetLogger()}
}

// Run analyzes the capture at path. If the capture is missing, empty or in
// an unknown format the error wraps core.ErrCaptureUnavailable and no result
// is returned. Malformed frames and records inside a valid capture are
// skipped.
func (a *Analyzer) Run(ctx context.Context, path string) (*Result, error) {
	logger := a.logger.WithField("capture", path)

	capture, err := openCapture(path)
	if err != nil {
		logger.WithError(err).Warn("capture analysis unavailable")
		return nil, err
	}
	defer capture.Close()

	dec, err := newFrameDecoder(capture.src.LinkType())
	if err != nil {
		err = fmt.Errorf("%w: %v", core.ErrCaptureUnavailable, err)
		logger.WithError(err).Warn("capture analysis unavailable")
		return nil, err
	}

	start := time.Now()
	p := a.newPass(logger)
	var f frame
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, ci, err := capture.src.ReadPacketData()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.WithError(err).Warn("capture ended with unreadable record")
			}
			break
		}
		p.frames++

		if err := dec.decode(data, ci.Timestamp, &f); err != nil {
			p.skipped++
			metrics.NetworkFramesTotal.WithLabelValues(metrics.FrameSkipped).Inc()
			logger.WithError(err).WithField("frame", p.frames).Debug("skipping malformed frame")
			continue
		}
		metrics.NetworkFramesTotal.WithLabelValues(metrics.FrameDecoded).Inc()
		p.process(ctx, &f)
	}

	res := p.result()
	observe(res, time.Since(start))
	logger.WithFields(map[string]interface{}{
		"frames":  p.frames,
		"skipped": p.skipped,
		"hosts":   len(res.Hosts),
		"http":    len(res.HTTP),
		"dns":     len(res.DNS),
		"smtp":    len(res.SMTP),
	}).Info("capture analyzed")
	return res, nil
}

// pass holds the mutable state of a single run.
type pass struct {
	cfg     Config
	logger  log.Logger
	hosts   *hostSet
	domains *domainSet
	smtp    *smtpFlows
	tcp     []Connection
	udp     []Connection
	http    []HTTPRequest
	dns     []DNSQuery

	frames  int
	skipped int
}

func (a *Analyzer) newPass(logger log.Logger) *pass {
	return &pass{
		cfg:    a.cfg,
		logger: logger,
		hosts:  newHostSet(),
		domains: &domainSet{
			seen:     make(map[string]struct{}),
			resolver: a.resolver,
			enabled:  a.cfg.ResolveDNS,
			timeout:  a.cfg.ResolveTimeout,
			logger:   logger,
		},
		smtp: newSMTPFlows(),
		tcp:  []Connection{},
		udp:  []Connection{},
		http: []HTTPRequest{},
		dns:  []DNSQuery{},
	}
}

func (p *pass) process(ctx context.Context, f *frame) {
	if !f.isIP {
		return
	}

	src, dst := f.src.String(), f.dst.String()
	p.hosts.add(src)
	p.hosts.add(dst)

	if len(f.payload) == 0 || (!f.isTCP && !f.isUDP) {
		return
	}

	conn := Connection{Src: src, Dst: dst, SrcPort: f.srcPort, DstPort: f.dstPort}
	if f.isTCP {
		conn.Protocol = "tcp"
		p.dissectTCP(conn, f.payload)
		p.tcp = append(p.tcp, conn)
		return
	}
	conn.Protocol = "udp"
	p.dissectUDP(ctx, conn, f.payload)
	p.udp = append(p.udp, conn)
}

func (p *pass) dissectTCP(conn Connection, payload []byte) {
	if req, err := parseHTTPRequest(payload, conn.DstPort); err == nil {
		p.http = append(p.http, req)
	} else if !errors.Is(err, core.ErrNotHTTPRequest) || looksLikeHTTP(payload) {
		p.logger.WithError(err).WithField("dst", conn.Dst).Debug("dropping http request")
	}

	if conn.DstPort == p.cfg.SMTPPort {
		p.smtp.append(conn.Dst, payload)
	}
}

func (p *pass) dissectUDP(ctx context.Context, conn Connection, payload []byte) {
	if conn.DstPort != p.cfg.DNSPort {
		return
	}

	q, ok, err := parseDNS(payload)
	if err != nil {
		p.logger.WithError(err).WithField("dst", conn.Dst).Debug("dropping dns message")
		return
	}
	if !ok {
		return
	}
	p.domains.add(ctx, q.Request)
	p.dns = append(p.dns, q)
}

func (p *pass) result() *Result {
	return &Result{
		Hosts:   p.hosts.list(),
		Domains: p.domains.list(),
		TCP:     p.tcp,
		UDP:     p.udp,
		HTTP:    p.http,
		DNS:     p.dns,
		SMTP:    p.smtp.sessions(),
	}
}

func observe(res *Result, elapsed time.Duration) {
	metrics.NetworkAnalysisSeconds.Observe(elapsed.Seconds())
	for section, n := range map[string]int{
		"hosts":   len(res.Hosts),
		"domains": len(res.Domains),
		"tcp":     len(res.TCP),
		"udp":     len(res.UDP),
		"http":    len(res.HTTP),
		"dns":     len(res.DNS),
		"smtp":    len(res.SMTP),
	} {
		metrics.NetworkRecordsTotal.WithLabelValues(section).Add(float64(n))
	}
}
