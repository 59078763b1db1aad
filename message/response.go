package message

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/badu/httpd/header"
)

// Response is the server-side view of an outgoing HTTP/1.1 response: status,
// ordered headers, and a body that is either a known-length byte sequence or
// a chunked stream (spec §3).
type Response struct {
	Status int
	Header *header.Header

	// Body, if non-nil, supplies the response body. Its Len() determines
	// framing: a non-negative length emits Content-Length; -1 emits
	// chunked transfer encoding.
	Body *Body
}

// NewResponse constructs a Response with a fresh header set and the given
// status and buffered body.
func NewResponse(status int, body []byte) *Response {
	return &Response{Status: status, Header: header.New(), Body: BufferedBody(body)}
}

// reasonPhrases maps well-known status codes to their canonical reason
// phrase (spec §3: "a canonical reason phrase").
var reasonPhrases = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	409: "Conflict",
	413: "Payload Too Large",
	414: "URI Too Long",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	505: "HTTP Version Not Supported",
}

// ReasonPhrase returns the canonical reason phrase for code, or a generic
// placeholder if code is not one of the well-known statuses.
func ReasonPhrase(code int) string {
	if p, ok := reasonPhrases[code]; ok {
		return p
	}
	switch {
	case code >= 100 && code < 200:
		return "Informational"
	case code >= 200 && code < 300:
		return "Success"
	case code >= 300 && code < 400:
		return "Redirection"
	case code >= 400 && code < 500:
		return "Client Error"
	default:
		return "Server Error"
	}
}

// bodyAllowedForStatus reports whether a response of this status may carry a
// body, mirroring the teacher's bodyAllowedForStatus in types_server.go.
func bodyAllowedForStatus(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == 204, status == 304:
		return false
	}
	return true
}

// WriteResponse serializes resp onto w: status line, headers in insertion
// order (synthesizing Content-Length or Transfer-Encoding and Date if the
// caller omitted them), the terminating blank line, then the body. For a
// HEAD request or a status code that forbids a body, the body is described
// by its headers but never written.
//
// The codec never buffers an unbounded response body: a chunked body is
// streamed through a chunkedWriter a write at a time.
func WriteResponse(w io.Writer, resp *Response, method Method) error {
	if resp.Header == nil {
		resp.Header = header.New()
	}

	suppressBody := method == MethodHEAD || !bodyAllowedForStatus(resp.Status)

	chunked := resp.Body.Len() < 0
	if bodyAllowedForStatus(resp.Status) {
		if chunked {
			if !resp.Header.Has(header.TransferEncoding) {
				resp.Header.Set(header.TransferEncoding, "chunked")
			}
			resp.Header.Del(header.ContentLength)
		} else if !resp.Header.Has(header.ContentLength) {
			resp.Header.Set(header.ContentLength, strconv.FormatInt(resp.Body.Len(), 10))
		}
	} else {
		resp.Header.Del(header.ContentLength)
		resp.Header.Del(header.TransferEncoding)
	}

	if !resp.Header.Has(header.Date) {
		resp.Header.Set(header.Date, time.Now().UTC().Format(http11TimeFormat))
	}

	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", resp.Status, ReasonPhrase(resp.Status)); err != nil {
		return err
	}
	if err := resp.Header.WriteTo(w, nil); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}

	if suppressBody || resp.Body == nil {
		return nil
	}

	if chunked {
		cw := newChunkedWriter(w)
		if _, err := io.Copy(cw, resp.Body); err != nil {
			return err
		}
		return cw.Close()
	}

	_, err := io.Copy(w, resp.Body)
	return err
}

// http11TimeFormat is RFC 7231's IMF-fixdate, the format net/http and the
// teacher package use for the Date header.
const http11TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// WriteContinue writes the interim "100 Continue" status line required
// before reading a body when the request carried "Expect: 100-continue"
// (spec §6), grounded on the teacher's sendExpectationFailed/
// expectContinueReader handling in conn.go.
func WriteContinue(w io.Writer) error {
	_, err := io.WriteString(w, "HTTP/1.1 100 Continue\r\n\r\n")
	return err
}
