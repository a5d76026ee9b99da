package network

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/sandtrace/internal/core"
)

// dnsTypeTags are the record types reported, keyed by wire type.
var dnsTypeTags = map[layers.DNSType]string{
	layers.DNSTypeA:     "A",
	layers.DNSTypeAAAA:  "AAAA",
	layers.DNSTypeCNAME: "CNAME",
	layers.DNSTypeMX:    "MX",
	layers.DNSTypePTR:   "PTR",
	layers.DNSTypeNS:    "NS",
	layers.DNSTypeSOA:   "SOA",
	layers.DNSTypeHINFO: "HINFO",
	layers.DNSTypeTXT:   "TXT",
	layers.DNSTypeSRV:   "SRV",
}

// parseDNS dissects a DNS message. ok is false for messages that decode but
// carry a non-zero response code; those produce no record.
func parseDNS(payload []byte) (q DNSQuery, ok bool, err error) {
	var msg layers.DNS
	if err := msg.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return DNSQuery{}, false, fmt.Errorf("%w: %v", core.ErrNotDNSMessage, err)
	}
	if msg.ResponseCode != layers.DNSResponseCodeNoErr {
		return DNSQuery{}, false, nil
	}
	if len(msg.Questions) == 0 {
		return DNSQuery{}, false, fmt.Errorf("%w: no question", core.ErrNotDNSMessage)
	}

	question := msg.Questions[0]
	q = DNSQuery{
		Request: string(question.Name),
		Type:    dnsTypeTags[question.Type],
		Answers: []DNSAnswer{},
	}

	for i := range msg.Answers {
		if ans, ok := renderAnswer(&msg.Answers[i]); ok {
			q.Answers = append(q.Answers, ans)
		}
	}
	return q, true, nil
}

// renderAnswer renders the record data of the reported types. SRV records
// are tagged but their data is not rendered.
func renderAnswer(rr *layers.DNSResourceRecord) (DNSAnswer, bool) {
	tag, ok := dnsTypeTags[rr.Type]
	if !ok {
		return DNSAnswer{}, false
	}

	ans := DNSAnswer{Type: tag}
	switch rr.Type {
	case layers.DNSTypeA, layers.DNSTypeAAAA:
		if rr.IP != nil {
			ans.Data = rr.IP.String()
		}
	case layers.DNSTypeCNAME:
		ans.Data = string(rr.CNAME)
	case layers.DNSTypeMX:
		ans.Data = string(rr.MX.Name)
	case layers.DNSTypePTR:
		ans.Data = string(rr.PTR)
	case layers.DNSTypeNS:
		ans.Data = string(rr.NS)
	case layers.DNSTypeSOA:
		ans.Data = strings.Join([]string{
			string(rr.SOA.MName),
			string(rr.SOA.RName),
			strconv.FormatUint(uint64(rr.SOA.Serial), 10),
			strconv.FormatUint(uint64(rr.SOA.Refresh), 10),
			strconv.FormatUint(uint64(rr.SOA.Retry), 10),
			strconv.FormatUint(uint64(rr.SOA.Expire), 10),
			strconv.FormatUint(uint64(rr.SOA.Minimum), 10),
		}, ",")
	case layers.DNSTypeHINFO, layers.DNSTypeTXT:
		parts := make([]string, len(rr.TXTs))
		for i, txt := range rr.TXTs {
			parts[i] = string(txt)
		}
		ans.Data = strings.Join(parts, " ")
	}
	return ans, true
}
