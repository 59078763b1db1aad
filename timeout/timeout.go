// Package timeout defines the named duration phases applied by the
// connection driver to socket I/O, mirroring the way the teacher package
// (github.com/badu/http) hangs ReadTimeout/ReadHeaderTimeout/WriteTimeout/
// IdleTimeout off of Server, except grouped into one value type so every
// component that needs deadlines takes the same argument.
package timeout

import "time"

// Policy aggregates the four named phases a connection driver enforces. A
// zero Duration disables the deadline for that phase.
type Policy struct {
	// ReadRequestHead bounds reading the request line and headers.
	ReadRequestHead time.Duration

	// ReadRequestBody bounds reading the request body once the handler
	// (or the codec, for framing decisions) begins consuming it.
	ReadRequestBody time.Duration

	// WriteResponse bounds writing the response head and body.
	WriteResponse time.Duration

	// KeepAliveIdle bounds how long a connection may sit idle, between
	// the moment a response is fully flushed and the next request's
	// first byte.
	KeepAliveIdle time.Duration
}

// Default returns a Policy with conservative, non-zero defaults, in the
// same spirit as net/http's DefaultMaxHeaderBytes constant: safe enough to
// run unconfigured, overridable by callers who know better.
func Default() Policy {
	return Policy{
		ReadRequestHead: 10 * time.Second,
		ReadRequestBody: 60 * time.Second,
		WriteResponse:   60 * time.Second,
		KeepAliveIdle:   120 * time.Second,
	}
}

// Phase identifies which of the four durations a deadline expiry belongs
// to, so callers can classify a timeout error (see the driver's Error
// handling: a head-read timeout with nothing written yet is an HTTP 408,
// any other phase is a silent close).
type Phase int

const (
	PhaseReadRequestHead Phase = iota
	PhaseReadRequestBody
	PhaseWriteResponse
	PhaseKeepAliveIdle
)

func (p Phase) String() string {
	switch p {
	case PhaseReadRequestHead:
		return "read_request_head"
	case PhaseReadRequestBody:
		return "read_request_body"
	case PhaseWriteResponse:
		return "write_response"
	case PhaseKeepAliveIdle:
		return "keep_alive_idle"
	default:
		return "unknown"
	}
}

// Duration returns the configured duration for phase p.
func (p Policy) Duration(phase Phase) time.Duration {
	switch phase {
	case PhaseReadRequestHead:
		return p.ReadRequestHead
	case PhaseReadRequestBody:
		return p.ReadRequestBody
	case PhaseWriteResponse:
		return p.WriteResponse
	case PhaseKeepAliveIdle:
		return p.KeepAliveIdle
	default:
		return 0
	}
}
