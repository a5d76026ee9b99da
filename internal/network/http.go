package network

import (
	"bytes"
	"fmt"
	"io"
	"net/http/httputil"
	"strconv"
	"strings"

	"firestige.xyz/sandtrace/internal/core"
	"firestige.xyz/sandtrace/internal/textutil"
)

// Request methods accepted as HTTP, including WebDAV and friends seen in
// malware traffic. Anything else is not treated as HTTP.
var httpMethods = map[string]struct{}{
	"GET": {}, "PUT": {}, "ICY": {}, "COPY": {}, "HEAD": {}, "LOCK": {}, "MOVE": {},
	"POLL": {}, "POST": {}, "BCOPY": {}, "BMOVE": {}, "MKCOL": {}, "TRACE": {},
	"LABEL": {}, "MERGE": {}, "DELETE": {}, "SEARCH": {}, "UNLOCK": {}, "REPORT": {},
	"UPDATE": {}, "NOTIFY": {}, "BDELETE": {}, "CONNECT": {}, "OPTIONS": {},
	"CHECKIN": {}, "PROPFIND": {}, "CHECKOUT": {}, "CCM_POST": {}, "SUBSCRIBE": {},
	"PROPPATCH": {}, "BPROPFIND": {}, "BPROPPATCH": {}, "UNCHECKOUT": {},
	"MKACTIVITY": {}, "MKWORKSPACE": {}, "UNSUBSCRIBE": {}, "RPC_CONNECT": {},
	"VERSION-CONTROL": {}, "BASELINE-CONTROL": {},
}

// looksLikeHTTP is a cheap pre-check on the request line's method.
func looksLikeHTTP(payload []byte) bool {
	line := payload
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return false
	}
	_, ok := httpMethods[string(fields[0])]
	return ok
}

// lineReader hands out the lines of a segment, newline included. The last
// line may lack one.
type lineReader struct {
	rest []byte
}

func (r *lineReader) readLine() []byte {
	if i := bytes.IndexByte(r.rest, '\n'); i >= 0 {
		line := r.rest[:i+1]
		r.rest = r.rest[i+1:]
		return line
	}
	line := r.rest
	r.rest = nil
	return line
}

// parseHTTPRequest dissects a request contained in one segment. Header values
// are taken as raw bytes, whatever they contain; only a header name holding
// whitespace rejects the request. The body is taken from chunked encoding or
// Content-Length when present, otherwise it is the rest of the segment. A
// body shorter than announced fails the parse.
func parseHTTPRequest(payload []byte, dport uint16) (HTTPRequest, error) {
	r := &lineReader{rest: payload}

	fields := bytes.Fields(r.readLine())
	if len(fields) < 2 {
		return HTTPRequest{}, fmt.Errorf("%w: malformed request line", core.ErrNotHTTPRequest)
	}
	method := string(fields[0])
	if _, ok := httpMethods[method]; !ok {
		return HTTPRequest{}, core.ErrNotHTTPRequest
	}
	version := "0.9"
	if len(fields) > 2 {
		proto := fields[2]
		if !bytes.HasPrefix(proto, []byte("HTTP")) {
			return HTTPRequest{}, fmt.Errorf("%w: protocol %q", core.ErrNotHTTPRequest, proto)
		}
		version = string(proto[min(len("HTTP/"), len(proto)):])
	}
	uri := fields[1]

	headers, err := readHeaders(r)
	if err != nil {
		return HTTPRequest{}, err
	}

	body, err := readBody(headers, r.rest)
	if err != nil {
		return HTTPRequest{}, err
	}

	host := headers["host"]
	uriPath := string(uri)
	if uriPath[0] != '/' {
		uriPath = "/" + uriPath
	}

	entry := HTTPRequest{
		Host:    textutil.Printable(host),
		Port:    dport,
		Data:    textutil.Printable(payload),
		URI:     textutil.PrintableString("http://" + string(host) + uriPath),
		Body:    textutil.Printable(body),
		Path:    textutil.Printable(uri),
		Version: textutil.PrintableString(version),
		Method:  method,
	}
	if ua, ok := headers["user-agent"]; ok {
		entry.UserAgent = textutil.Printable(ua)
	}
	return entry, nil
}

// readHeaders reads header lines up to the first empty line or the end of
// the segment. Names are lower-cased; the first occurrence of a name wins.
func readHeaders(r *lineReader) (map[string][]byte, error) {
	headers := make(map[string][]byte)
	for {
		line := bytes.TrimSpace(r.readLine())
		if len(line) == 0 {
			return headers, nil
		}

		name, value, found := bytes.Cut(line, []byte(":"))
		if len(bytes.Fields(name)) != 1 {
			return nil, fmt.Errorf("%w: invalid header %q", core.ErrNotHTTPRequest, line)
		}
		if !found {
			value = nil
		}

		key := strings.ToLower(string(name))
		if _, dup := headers[key]; !dup {
			headers[key] = bytes.TrimLeft(value, " \t\r\n\v\f")
		}
	}
}

func readBody(headers map[string][]byte, rest []byte) ([]byte, error) {
	if strings.EqualFold(string(headers["transfer-encoding"]), "chunked") {
		body, err := io.ReadAll(httputil.NewChunkedReader(bytes.NewReader(rest)))
		if err != nil {
			return nil, fmt.Errorf("%w: chunked body: %v", core.ErrNotHTTPRequest, err)
		}
		return body, nil
	}

	cl, ok := headers["content-length"]
	if !ok {
		return rest, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(cl)))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: content-length %q", core.ErrNotHTTPRequest, cl)
	}
	if n > len(rest) {
		return nil, fmt.Errorf("%w: body has %d of %d bytes", core.ErrNotHTTPRequest, len(rest), n)
	}
	return rest[:n], nil
}
