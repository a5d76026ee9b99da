package network

import (
	"bytes"
	"context"
	"regexp"
	"time"

	"firestige.xyz/sandtrace/internal/log"
	"firestige.xyz/sandtrace/internal/textutil"
)

// hostSet keeps addresses in first-seen order.
type hostSet struct {
	seen  map[string]struct{}
	order []string
}

func newHostSet() *hostSet {
	return &hostSet{seen: make(map[string]struct{})}
}

func (s *hostSet) add(host string) {
	if _, ok := s.seen[host]; ok {
		return
	}
	s.seen[host] = struct{}{}
	s.order = append(s.order, host)
}

func (s *hostSet) list() []string {
	return append([]string{}, s.order...)
}

// Names matching these never reach the resolver.
var resolveExclusions = []*regexp.Regexp{
	regexp.MustCompile(`.*\.windows\.com$`),
	regexp.MustCompile(`.*\.in-addr\.arpa$`),
}

func excludedFromResolution(domain string) bool {
	for _, re := range resolveExclusions {
		if re.MatchString(domain) {
			return true
		}
	}
	return false
}

// domainSet keeps queried names in first-seen order. Each name is resolved
// at most once, when it is first added.
type domainSet struct {
	seen     map[string]struct{}
	order    []Domain
	resolver Resolver
	enabled  bool
	timeout  time.Duration
	logger   log.Logger
}

func (s *domainSet) add(ctx context.Context, domain string) {
	if _, ok := s.seen[domain]; ok {
		return
	}
	s.seen[domain] = struct{}{}
	s.order = append(s.order, Domain{Domain: domain, IP: s.resolve(ctx, domain)})
}

func (s *domainSet) resolve(ctx context.Context, domain string) string {
	if !s.enabled || s.resolver == nil || excludedFromResolution(domain) {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ip, err := s.resolver.Resolve(ctx, domain)
	if err != nil {
		s.logger.WithError(err).WithField("domain", domain).Debug("domain resolution failed")
		return ""
	}
	return ip
}

func (s *domainSet) list() []Domain {
	return append([]Domain{}, s.order...)
}

var smtpGreetings = [][]byte{[]byte("EHLO"), []byte("HELO")}

// smtpFlows concatenates client payloads per destination in arrival order.
type smtpFlows struct {
	buffers map[string]*bytes.Buffer
	order   []string
}

func newSMTPFlows() *smtpFlows {
	return &smtpFlows{buffers: make(map[string]*bytes.Buffer)}
}

func (f *smtpFlows) append(dst string, payload []byte) {
	buf, ok := f.buffers[dst]
	if !ok {
		buf = &bytes.Buffer{}
		f.buffers[dst] = buf
		f.order = append(f.order, dst)
	}
	buf.Write(payload)
}

// sessions returns one session per destination whose stream opens with a
// greeting. It runs once, after every frame has been consumed.
func (f *smtpFlows) sessions() []SMTPSession {
	out := []SMTPSession{}
	for _, dst := range f.order {
		data := f.buffers[dst].Bytes()
		for _, greeting := range smtpGreetings {
			if bytes.HasPrefix(data, greeting) {
				out = append(out, SMTPSession{Dst: dst, Raw: textutil.Text(data)})
				break
			}
		}
	}
	return out
}
