// Package message implements the HTTP/1.1 codec: parsing a request head and
// body off a buffered reader, and serializing a response head and body onto
// a writer, in the shapes described by the data model (spec §3) and the
// codec component design (spec §4.1).
//
// The parser is written against an io.Reader that blocks for more data
// rather than returning a partial result: the connection driver wraps the
// raw socket in a bufio.Reader only after the poller has reported
// read-readiness, and every subsequent Read blocks (bounded by the phase
// deadline the driver already applied to the socket) until either enough
// bytes have arrived or the deadline fires as an I/O error. That is the same
// strategy the teacher package (github.com/badu/http, a file-split fork of
// net/http) uses in conn.go's readRequest: there is no separate "need more
// input" return value, because bufio.Reader already supplies that by
// blocking.
package message

import (
	"bytes"
	"io"

	"github.com/badu/httpd/header"
	"github.com/badu/httpd/httperr"
)

// DefaultMaxBodyBuffer bounds how large a request body may be for the
// connection driver to materialize it rather than hand the handler a
// streaming reader
// (spec §4.5: "materialized bytes (below a threshold, default 64 KiB) or a
// streaming reader").
const DefaultMaxBodyBuffer = 64 * 1024

// Body is the request/response body abstraction: either fully buffered
// bytes, empty, or a streaming reader over Content-Length or chunked
// framing. It always implements io.ReadCloser; Close releases any
// underlying connection resources without necessarily draining the body.
type Body struct {
	r      io.Reader
	closer io.Closer
	len    int64 // -1 if unknown (chunked / streaming without a declared length)
}

// EmptyBody returns a Body with no bytes.
func EmptyBody() *Body {
	return &Body{r: bytes.NewReader(nil), len: 0}
}

// BufferedBody returns a Body backed by already-read bytes.
func BufferedBody(b []byte) *Body {
	return &Body{r: bytes.NewReader(b), len: int64(len(b))}
}

// StreamingBody returns a Body backed by r, whose total length is len (-1 if
// unknown, as with chunked transfer encoding). closer is invoked by Close,
// and may be nil.
func StreamingBody(r io.Reader, closer io.Closer, length int64) *Body {
	return &Body{r: r, closer: closer, len: length}
}

// Len reports the body's known length, or -1 if it is not known in advance
// (chunked framing).
func (b *Body) Len() int64 {
	if b == nil {
		return 0
	}
	return b.len
}

func (b *Body) Read(p []byte) (int, error) {
	if b == nil || b.r == nil {
		return 0, io.EOF
	}
	return b.r.Read(p)
}

func (b *Body) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// trailerSource is implemented by the chunked reader: the same *header.Header
// it returns is mutated in place as trailer fields are read off the wire, so
// a caller that captured it before the body was drained still sees it filled
// in afterward.
type trailerSource interface {
	Trailer() *header.Header
}

// Trailer returns the header that will hold trailer fields once this body
// has been fully drained (populated in place as the underlying chunked
// reader consumes the terminating 0-size chunk), or nil if the body's
// framing carries no trailer (Content-Length or buffered bodies).
func (b *Body) Trailer() *header.Header {
	if b == nil || b.r == nil {
		return nil
	}
	if t, ok := b.r.(trailerSource); ok {
		return t.Trailer()
	}
	return nil
}

// Materialize reads all of b into memory, up to limit bytes. If the body
// exceeds limit, it returns a TooLarge error (413) and the reader is left
// partially drained; callers must close the connection in that case rather
// than reuse it.
func Materialize(b *Body, limit int64) ([]byte, error) {
	lr := &io.LimitedReader{R: b, N: limit + 1}
	buf, err := io.ReadAll(lr)
	if err != nil {
		return nil, httperr.IO(err)
	}
	if int64(len(buf)) > limit {
		return nil, httperr.TooLarge(413, "request body exceeds maximum buffer size")
	}
	return buf, nil
}

// limitedBodyReader caps the number of bytes read from a Content-Length
// body at exactly the declared length, so a handler reading past the
// declared length observes io.EOF rather than bytes belonging to the next
// pipelined request on the same connection. Mirrors the teacher's
// maxBytesReader, simplified: server-side request bodies never need the
// "too large" sentinel error maxBytesReader uses for responses.
type limitedBodyReader struct {
	r         io.Reader
	remaining int64
}

func newLimitedBodyReader(r io.Reader, n int64) *limitedBodyReader {
	return &limitedBodyReader{r: r, remaining: n}
}

func (l *limitedBodyReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}
