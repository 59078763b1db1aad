package message

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/badu/httpd/header"
	"github.com/badu/httpd/httperr"
)

// Method is one of the enumerated HTTP methods the data model recognizes
// (spec §3). Unlike net/http, there is no open string method: anything else
// is rejected as Malformed (400).
type Method string

const (
	MethodGET     Method = "GET"
	MethodHEAD    Method = "HEAD"
	MethodPOST    Method = "POST"
	MethodPUT     Method = "PUT"
	MethodDELETE  Method = "DELETE"
	MethodOPTIONS Method = "OPTIONS"
	MethodPATCH   Method = "PATCH"
	MethodCONNECT Method = "CONNECT"
	MethodTRACE   Method = "TRACE"
)

func validMethod(s string) (Method, bool) {
	switch Method(s) {
	case MethodGET, MethodHEAD, MethodPOST, MethodPUT, MethodDELETE, MethodOPTIONS, MethodPATCH, MethodCONNECT, MethodTRACE:
		return Method(s), true
	}
	return "", false
}

// bodyAllowedForMethod reports whether a request of this method carries a
// body under normal use; GET/HEAD/DELETE requests with a body are unusual
// but not rejected here, following the teacher's permissive stance (only
// framing conflicts are rejected, not presence-of-body-on-GET).
func bodyAllowedForMethod(m Method) bool {
	return m != MethodHEAD
}

// These bound the request head (spec §4.1, §6: "Configurable: ... maximum
// header bytes"). They are package variables rather than constants so the
// cmd/httpd bootstrap can override them at startup, before Server.Run (the router
// itself is frozen the same way — configuration happens single-threaded
// before any connection is accepted, never concurrently with parsing).
var (
	// MaxRequestLineLength bounds the request line (spec default: 8 KiB).
	MaxRequestLineLength = 8 * 1024
	// MaxHeaderLineLength bounds any single header line.
	MaxHeaderLineLength = 8 * 1024
	// MaxHeaderCount bounds the number of headers (spec default: 100).
	MaxHeaderCount = 100
)

// Request is the server-side view of a parsed HTTP/1.1 request: method,
// verbatim target, protocol version, ordered headers, and a body that is
// either materialized bytes or a streaming reader (spec §3).
type Request struct {
	Method     Method
	Target     string // origin-form, percent-encoded, preserved verbatim
	ProtoMajor int
	ProtoMinor int
	Header     *header.Header
	Body       *Body
	Host       string
	RemoteAddr string

	// Close reports whether the connection should close after this
	// request's response is written, derived from the Connection header
	// and protocol version (spec §4.5 keep-alive policy).
	Close bool

	// ExpectContinue reports whether the client sent "Expect:
	// 100-continue" and is waiting on an interim 100 response before it
	// sends the body.
	ExpectContinue bool

	// Trailer holds trailer fields read after a chunked body completes.
	// Populated only once Body has been fully drained.
	Trailer *header.Header
}

// ReadRequest parses a request head from br and determines body framing, as
// described by spec §4.1's three phases. MaxRequestLineLength,
// MaxHeaderLineLength and MaxHeaderCount bound the request line and header
// section; a chunked body reader shares br so trailers populate req.Trailer
// once drained.
func ReadRequest(br *bufio.Reader) (*Request, error) {
	method, target, major, minor, err := readRequestLine(br)
	if err != nil {
		return nil, err
	}

	h, err := readHeaders(br)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Method:     method,
		Target:     target,
		ProtoMajor: major,
		ProtoMinor: minor,
		Header:     h,
	}

	req.Host = h.Get(header.Host)
	if major == 1 && minor == 1 && req.Host == "" {
		return nil, httperr.Malformed("missing required Host header on HTTP/1.1 request")
	}

	req.Close = determineClose(h, major, minor)
	req.ExpectContinue = strings.EqualFold(h.Get(header.Expect), "100-continue")

	body, err := determineBodyFraming(br, h, method)
	if err != nil {
		return nil, err
	}
	req.Body = body
	// For a chunked body this is the same *header.Header the chunked reader
	// mutates in place once it reaches the terminating 0-size chunk (spec
	// §3 trailer data model); for any other framing it stays nil.
	req.Trailer = body.Trailer()

	return req, nil
}

// readRequestLine reads and parses the request line (phase 1): method
// (token), target (verbatim up to the first space), and version.
func readRequestLine(br *bufio.Reader) (method Method, target string, major, minor int, err error) {
	line, err := readLineLimited(br, MaxRequestLineLength)
	if err != nil {
		return "", "", 0, 0, err
	}
	if len(line) == 0 {
		return "", "", 0, 0, httperr.Malformed("empty request line")
	}

	sp1 := indexByte(line, ' ')
	if sp1 < 0 {
		return "", "", 0, 0, httperr.Malformed("malformed request line: missing method/target separator")
	}
	methodStr := line[:sp1]
	rest := line[sp1+1:]

	sp2 := indexByte(rest, ' ')
	if sp2 < 0 {
		return "", "", 0, 0, httperr.Malformed("malformed request line: missing target/version separator")
	}
	targetStr := rest[:sp2]
	versionStr := rest[sp2+1:]

	m, ok := validMethod(methodStr)
	if !ok {
		return "", "", 0, 0, httperr.Malformed("unrecognized method token")
	}
	if targetStr == "" {
		return "", "", 0, 0, httperr.Malformed("empty request target")
	}

	major, minor, ok = parseHTTPVersion(versionStr)
	if !ok {
		return "", "", 0, 0, httperr.Unsupported(505, "unsupported HTTP version")
	}
	if major != 1 {
		return "", "", 0, 0, httperr.Unsupported(505, "unsupported HTTP major version")
	}

	return m, targetStr, major, minor, nil
}

func parseHTTPVersion(s string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(s, prefix) {
		return 0, 0, false
	}
	s = s[len(prefix):]
	dot := indexByte(s, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(s[:dot])
	min, err2 := strconv.Atoi(s[dot+1:])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return maj, min, true
}

// readHeaders reads header lines (phase 2) until an empty CRLF line,
// enforcing the header-count and per-line size caps, folding leading and
// trailing OWS from values, and rejecting obsolete line folding (a
// continuation line starting with SP or HTAB).
func readHeaders(br *bufio.Reader) (*header.Header, error) {
	h := header.New()
	count := 0
	for {
		peek, err := br.Peek(1)
		if err != nil {
			return nil, httperr.IO(err)
		}
		if peek[0] == ' ' || peek[0] == '\t' {
			return nil, httperr.Malformed("obsolete line folding is not supported")
		}

		line, err := readLineLimited(br, MaxHeaderLineLength)
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			return h, nil
		}
		if count >= MaxHeaderCount {
			return nil, httperr.TooLarge(431, "too many header fields")
		}
		count++

		name, value, ok := splitHeaderLine([]byte(line))
		if !ok {
			return nil, httperr.Malformed("malformed header field")
		}
		h.Add(name, value)
	}
}

// splitHeaderLine splits a raw "Name: value" line (already stripped of its
// trailing CRLF) into a validated name and OWS-trimmed value.
func splitHeaderLine(line []byte) (name, value string, ok bool) {
	colon := -1
	for i, b := range line {
		if b == ':' {
			colon = i
			break
		}
	}
	if colon <= 0 {
		return "", "", false
	}
	n := string(line[:colon])
	if !header.ValidFieldName(n) {
		return "", "", false
	}
	v := header.TrimOWS(string(line[colon+1:]))
	if !header.ValidFieldValue(v) {
		return "", "", false
	}
	return n, v, true
}

// readLineLimited reads one CRLF-terminated line, stripped of the
// terminator, rejecting lines longer than limit or missing the CRLF.
func readLineLimited(br *bufio.Reader, limit int) (string, error) {
	line, err := br.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			return "", httperr.TooLarge(431, "header or request line too long")
		}
		return "", httperr.IO(err)
	}
	if len(line) > limit {
		return "", httperr.TooLarge(431, "header or request line too long")
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return "", httperr.Malformed("line not terminated by CRLF")
	}
	return string(line[:len(line)-2]), nil
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// determineClose derives the keep-alive disposition from the Connection
// header and protocol version (spec §4.5): HTTP/1.1 defaults to keep-alive
// unless "Connection: close"; HTTP/1.0 defaults to close unless
// "Connection: keep-alive".
func determineClose(h *header.Header, major, minor int) bool {
	conn := strings.ToLower(h.Get(header.Connection))
	tokens := strings.Split(conn, ",")
	has := func(tok string) bool {
		for _, t := range tokens {
			if strings.TrimSpace(t) == tok {
				return true
			}
		}
		return false
	}
	if minor == 0 && major == 1 {
		return !has("keep-alive")
	}
	return has("close")
}

// determineBodyFraming implements phase 3: chunked, Content-Length, or
// empty, rejecting ambiguous or conflicting framing as Malformed.
func determineBodyFraming(br *bufio.Reader, h *header.Header, method Method) (*Body, error) {
	te := h.Values(header.TransferEncoding)
	cl := h.Values(header.ContentLength)

	chunked := false
	for _, v := range te {
		for _, coding := range strings.Split(v, ",") {
			coding = strings.TrimSpace(strings.ToLower(coding))
			if coding == "" {
				continue
			}
			if coding != "chunked" {
				return nil, httperr.Unsupported(501, "unsupported transfer-encoding: "+coding)
			}
			chunked = true
		}
	}

	if chunked && len(cl) > 0 {
		return nil, httperr.Malformed("both Transfer-Encoding and Content-Length present")
	}

	if chunked {
		cr := newChunkedReader(br)
		return StreamingBody(cr, nil, -1), nil
	}

	if len(cl) > 0 {
		n, err := parseContentLength(cl)
		if err != nil {
			return nil, err
		}
		return StreamingBody(newLimitedBodyReader(br, n), nil, n), nil
	}

	if !bodyAllowedForMethod(method) {
		return EmptyBody(), nil
	}
	return EmptyBody(), nil
}

// parseContentLength validates that every Content-Length header present
// agrees on a single non-negative value (spec §4.1: "multiple Content-Length
// values disagree" is Malformed).
func parseContentLength(values []string) (int64, error) {
	var n int64 = -1
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			v, err := strconv.ParseInt(part, 10, 64)
			if err != nil || v < 0 {
				return 0, httperr.Malformed("invalid Content-Length value")
			}
			if n == -1 {
				n = v
			} else if n != v {
				return 0, httperr.Malformed("conflicting Content-Length values")
			}
		}
	}
	return n, nil
}
