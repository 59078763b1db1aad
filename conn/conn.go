// Package conn implements the per-connection state machine (spec §4.5):
// read a request head, stream its body to the handler, dispatch via the
// router, write the response, then either keep the connection alive for
// another request or close it.
//
// Grounded on the teacher package's (github.com/badu/http) conn.go
// conn.serve loop: a persistent bufio.Reader/Writer pair kept across
// requests on the same socket, per-phase deadlines applied directly to the
// net.Conn, and a deferred recover() isolating one connection's handler
// panic from the rest of the server. It diverges from conn.serve in one
// structural way: conn.serve loops internally, blocking the goroutine for
// the whole connection lifetime, while this driver exposes one
// request/response cycle at a time (ServeOnce) so the server facade can
// return the goroutine to the worker pool between requests and let the
// poller's one-shot readiness drive the next read (spec §4.5's KeepAlive
// state: "re-arm for next request" is the server's job, not this package's).
package conn

import (
	"bufio"
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/badu/httpd/header"
	"github.com/badu/httpd/httperr"
	"github.com/badu/httpd/message"
	"github.com/badu/httpd/router"
	"github.com/badu/httpd/timeout"
)

// Logger is the minimal diagnostics capability this package needs, kept
// generic for the same reason pool.Logger is (see pool package): no core
// component imports a concrete logging library directly.
type Logger interface {
	Printf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// Disposition reports what the driver thinks should happen to the
// connection after a ServeOnce call returns.
type Disposition int

const (
	// DispositionKeepAlive means the connection should be re-armed with
	// the poller for the next request (spec §4.5 KeepAlive state).
	DispositionKeepAlive Disposition = iota
	// DispositionClose means the connection should be closed.
	DispositionClose
)

// Config bundles the per-connection parameters the driver needs that don't
// change across requests on the same connection.
type Config struct {
	Timeouts      timeout.Policy
	Router        *router.Router
	MaxBodyBuffer int64 // spec §4.5 default: 64 KiB
	Logger        Logger
}

// Conn drives one accepted socket through repeated request/response cycles.
// It owns the persistent bufio.Reader/Writer pair so buffered bytes (a
// pipelined second request arriving with the first) survive across
// ServeOnce calls.
type Conn struct {
	ID         uint64
	nc         net.Conn
	br         *bufio.Reader
	bw         *bufio.Writer
	remoteAddr string
	cfg        Config
}

// New wraps an accepted, already-non-blocking-configured socket for driving.
func New(id uint64, nc net.Conn, cfg Config) *Conn {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.MaxBodyBuffer <= 0 {
		cfg.MaxBodyBuffer = message.DefaultMaxBodyBuffer
	}
	return &Conn{
		ID:         id,
		nc:         nc,
		br:         bufio.NewReaderSize(nc, readBufferSize()),
		bw:         bufio.NewWriter(nc),
		remoteAddr: nc.RemoteAddr().String(),
		cfg:        cfg,
	}
}

// readBufferSize sizes the connection's bufio.Reader large enough to hold
// the longest line message.ReadRequest is configured to accept in one
// ReadSlice call. bufio.Reader.ReadSlice reports bufio.ErrBufferFull the
// instant a line outgrows the reader's own buffer, regardless of the
// caller's separate length check against MaxRequestLineLength/
// MaxHeaderLineLength — so the buffer must be at least that large, or a
// valid request line/header within the configured limit is rejected 431
// before that limit is ever consulted.
func readBufferSize() int {
	limit := message.MaxRequestLineLength
	if message.MaxHeaderLineLength > limit {
		limit = message.MaxHeaderLineLength
	}
	return limit + 512
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// ServeOnce runs exactly one AwaitRead -> AwaitBody -> Dispatch -> Writing
// cycle (spec §4.5's state table), returning the disposition the server
// facade should act on: re-arm the poller for another request, or close.
func (c *Conn) ServeOnce() Disposition {
	if d := c.cfg.Timeouts.Duration(timeout.PhaseReadRequestHead); d != 0 {
		c.nc.SetReadDeadline(time.Now().Add(d))
	} else {
		c.nc.SetReadDeadline(time.Time{})
	}

	req, err := message.ReadRequest(c.br)
	if err != nil {
		herr, ok := err.(*httperr.Error)
		if !ok {
			herr = httperr.IO(err)
		}
		return c.handleReadError(herr)
	}

	req.RemoteAddr = c.remoteAddr

	handler, findErr := c.cfg.Router.Find(req.Method, req.Target)

	if findErr == nil && req.ExpectContinue {
		if d := c.cfg.Timeouts.Duration(timeout.PhaseWriteResponse); d != 0 {
			c.nc.SetWriteDeadline(time.Now().Add(d))
		}
		if err := message.WriteContinue(c.bw); err != nil {
			return c.closeOnIOError(err)
		}
		c.bw.Flush()
	}

	if d := c.cfg.Timeouts.Duration(timeout.PhaseReadRequestBody); d != 0 {
		c.nc.SetReadDeadline(time.Now().Add(d))
	}

	var resp *message.Response
	if findErr != nil {
		resp = errorResponse(findErr)
		discardBody(req)
	} else if bodyErr := c.materializeSmallBody(req); bodyErr != nil {
		resp = errorResponse(bodyErr)
	} else {
		resp = c.invokeHandler(handler, req)
	}

	closeAfter := req.Close || strings.EqualFold(resp.Header.Get(header.Connection), "close")

	if d := c.cfg.Timeouts.Duration(timeout.PhaseWriteResponse); d != 0 {
		c.nc.SetWriteDeadline(time.Now().Add(d))
	} else {
		c.nc.SetWriteDeadline(time.Time{})
	}

	if err := message.WriteResponse(c.bw, resp, req.Method); err != nil {
		c.cfg.Logger.Printf("conn %d: write response: %v", c.ID, err)
		return DispositionClose
	}
	if err := c.bw.Flush(); err != nil {
		c.cfg.Logger.Printf("conn %d: flush response: %v", c.ID, err)
		return DispositionClose
	}

	if closeAfter {
		return DispositionClose
	}
	return DispositionKeepAlive
}

// materializeSmallBody implements the handler body-handling contract (spec
// §4.5): a body of known length at or below MaxBodyBuffer is read fully into
// memory before the handler runs, so ordinary handlers never need to think
// about streaming; a body of unknown length (chunked) or one exceeding the
// threshold is left as the streaming reader the handler must consume itself.
func (c *Conn) materializeSmallBody(req *message.Request) *httperr.Error {
	if req.Body == nil {
		return nil
	}
	length := req.Body.Len()
	if length <= 0 || length > c.cfg.MaxBodyBuffer {
		return nil
	}
	buf, err := message.Materialize(req.Body, c.cfg.MaxBodyBuffer)
	if err != nil {
		herr, _ := err.(*httperr.Error)
		if herr == nil {
			herr = httperr.IO(err)
		}
		return herr
	}
	req.Body = message.BufferedBody(buf)
	return nil
}

// discardBody drains a request body that was never handed to a handler (a
// router-miss or method-mismatch), so any bytes still arriving for this
// request don't get interpreted as the start of the next one.
func discardBody(req *message.Request) {
	if req.Body != nil {
		buf := make([]byte, 4096)
		for {
			n, err := req.Body.Read(buf)
			if n == 0 || err != nil {
				return
			}
		}
	}
}

// invokeHandler calls h with req, recovering any panic so a single
// misbehaving handler cannot take the connection goroutine down with it
// (spec §9 "Handler panic policy"). A recovered panic is reported the same
// as a HandlerFailure error.
func (c *Conn) invokeHandler(h router.Handler, req *message.Request) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			c.cfg.Logger.Printf("conn %d: recovered handler panic: %v\n%s", c.ID, r, buf)
			resp = errorResponse(httperr.Handler(fmt.Errorf("%v", r)))
		}
	}()
	resp = h(req)
	if resp == nil {
		resp = errorResponse(httperr.Handler(fmt.Errorf("handler returned a nil response")))
	}
	return resp
}

// handleReadError converts a failed request-head read into a disposition
// and, where the spec calls for it, a best-effort error response (spec §7):
// a head-read timeout with nothing sent yet answers 408; any other
// transport-level failure just closes; a malformed/too-large/unsupported
// head answers with its associated status before closing.
func (c *Conn) handleReadError(herr *httperr.Error) Disposition {
	switch herr.Kind {
	case httperr.KindIOError:
		if ne, ok := herr.Err.(net.Error); ok && ne.Timeout() {
			c.writeBestEffort(errorResponse(&httperr.Error{Kind: httperr.KindTimeout, Status: 408, Message: "request head timed out"}))
			return DispositionClose
		}
		c.cfg.Logger.Printf("conn %d: io error reading request: %v", c.ID, herr)
		return DispositionClose
	case httperr.KindTimeout:
		if herr.Phase == timeout.PhaseReadRequestHead {
			c.writeBestEffort(errorResponse(&httperr.Error{Kind: httperr.KindTimeout, Status: 408, Message: "request head timed out"}))
		}
		return DispositionClose
	default:
		c.writeBestEffort(errorResponse(herr))
		return DispositionClose
	}
}

// closeOnIOError logs a write failure (e.g. writing the 100-continue
// interim response) and closes the connection.
func (c *Conn) closeOnIOError(err error) Disposition {
	c.cfg.Logger.Printf("conn %d: io error: %v", c.ID, err)
	return DispositionClose
}

// writeBestEffort attempts to write resp with a short, independent deadline,
// swallowing any error: by the time this runs the request head failed to
// parse, so there is nothing useful left to do with a write failure beyond
// closing anyway.
func (c *Conn) writeBestEffort(resp *message.Response) {
	c.nc.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := message.WriteResponse(c.bw, resp, message.MethodGET); err != nil {
		return
	}
	c.bw.Flush()
}

// errorResponse renders an httperr.Error as the on-wire Response the spec's
// error table (§7) assigns it: the driver is the single place a component
// boundary's error becomes bytes on the wire.
func errorResponse(herr *httperr.Error) *message.Response {
	status := herr.Status
	if status == 0 {
		status = 500
	}
	body := []byte(herr.Message)
	resp := message.NewResponse(status, body)
	resp.Header.Set(header.ContentType, "text/plain; charset=utf-8")
	resp.Header.Set(header.Connection, "close")
	if herr.Kind == httperr.KindMethodNotAllowed {
		resp.Header.Set(header.Allow, strings.Join(herr.Allow, ", "))
	}
	return resp
}
