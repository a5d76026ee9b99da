// Package network reconstructs application-level behavior (hosts, domains,
// TCP/UDP flows, HTTP requests, DNS queries, SMTP sessions) from a packet
// capture taken while a sample ran.
package network

// Result is the aggregate of one analysis run. Field names are consumed by
// the reporting layer.
type Result struct {
	Hosts   []string      `json:"hosts"`
	Domains []Domain      `json:"domains"`
	TCP     []Connection  `json:"tcp"`
	UDP     []Connection  `json:"udp"`
	HTTP    []HTTPRequest `json:"http"`
	DNS     []DNSQuery    `json:"dns"`
	SMTP    []SMTPSession `json:"smtp"`
}

// Domain is a queried name with its best-effort resolved address.
type Domain struct {
	Domain string `json:"domain"`
	IP     string `json:"ip"`
}

// Connection is one TCP or UDP packet carrying payload. Connections are
// recorded per packet and never merged.
type Connection struct {
	Src      string `json:"src"`
	Dst      string `json:"dst"`
	SrcPort  uint16 `json:"sport"`
	DstPort  uint16 `json:"dport"`
	Protocol string `json:"protocol"`
}

// HTTPRequest is a request dissected from a single TCP segment. All strings
// are sanitized to printable ASCII.
type HTTPRequest struct {
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
	Data      string `json:"data"`
	URI       string `json:"uri"`
	Body      string `json:"body"`
	Path      string `json:"path"`
	UserAgent string `json:"user-agent,omitempty"`
	Version   string `json:"version"`
	Method    string `json:"method"`
}

// DNSQuery is the first question of a NOERROR DNS message and its answers.
type DNSQuery struct {
	Request string      `json:"request"`
	Type    string      `json:"type"`
	Answers []DNSAnswer `json:"answers"`
}

// DNSAnswer is one rendered resource record.
type DNSAnswer struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// SMTPSession is the client-to-server byte stream sent to one destination.
type SMTPSession struct {
	Dst string `json:"dst"`
	Raw string `json:"raw"`
}
