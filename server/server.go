// Package server implements the server facade (spec §4.6): bind a listening
// socket, register it with the poller, run a dedicated acceptor goroutine,
// own the worker pool, and orchestrate graceful shutdown.
//
// Grounded on the teacher package's (github.com/badu/http) types_server.go
// (the Server struct's role as the thing that binds, owns a pool of
// connections, and tracks shutdown) and tcp_keep_alive_listener.go (the
// accepted-socket tuning it does before handing a connection off). Diverges
// from the teacher in the one place the spec requires it to: the teacher's
// Serve loop calls the blocking net.Listener.Accept in its own goroutine per
// connection (one goroutine per connection, parked in the runtime's network
// poller); this facade instead explicitly registers every accepted socket's
// raw file descriptor with this module's own poller (spec §4.4) and submits
// a bounded conn.Conn.ServeOnce job to the worker pool (spec §4.3) only when
// that poller reports the socket is read-ready — the "non-blocking readiness
// polling" the spec's purpose section calls out as the point of the
// exercise.
package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/badu/httpd/conn"
	"github.com/badu/httpd/pool"
	"github.com/badu/httpd/poller"
	"github.com/badu/httpd/router"
	"github.com/badu/httpd/timeout"
)

// Logger is the minimal diagnostics capability the facade needs (mirrors
// conn.Logger / pool.Logger; see those packages for why it stays an
// interface instead of a concrete dependency).
type Logger interface {
	Printf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// Config bundles the server's startup configuration (spec §6: "Configurable:
// Timeouts, pool min/max, maximum header bytes, maximum body buffer").
// Maximum header bytes is not a field here: it is set through the message
// package's MaxRequestLineLength and MaxHeaderLineLength variables.
type Config struct {
	Timeouts         timeout.Policy
	PoolMin, PoolMax int
	PoolIdleInterval time.Duration
	MaxBodyBuffer    int64
	ShutdownGrace    time.Duration
	Logger           Logger
}

// DefaultConfig returns a Config with conservative defaults, in the spirit
// of the teacher's DefaultMaxHeaderBytes-style constants.
func DefaultConfig() Config {
	return Config{
		Timeouts:         timeout.Default(),
		PoolMin:          2,
		PoolMax:          32,
		PoolIdleInterval: pool.DefaultIdleInterval,
		ShutdownGrace:    10 * time.Second,
	}
}

// Server is the control surface spec §6 names: New/Run/Wait/Shutdown.
type Server struct {
	cfg    Config
	logger Logger

	mu       sync.Mutex
	ln       *net.TCPListener
	pl       poller.Poller
	wp       *pool.Pool
	nextID   uint64
	conns    map[uint64]*trackedConn
	stopped  chan struct{}
	stopOnce sync.Once
	runErr   error

	acceptorDone chan struct{}
}

type trackedConn struct {
	c *conn.Conn
	// idleSince is set the moment this connection is re-armed with the
	// poller after a keep-alive response (spec §4.2: "Keep-alive idle
	// timeout starts the moment a response is fully flushed"), and
	// consulted by reapIdleConns. Zero means the connection is not
	// currently idle (either freshly accepted or owned by a worker).
	idleSince atomic.Int64 // UnixNano; 0 if not idle
}

const listenerID uint64 = 0

// New constructs a Server from cfg. It does not bind or accept anything
// until Run is called.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.PoolIdleInterval <= 0 {
		cfg.PoolIdleInterval = pool.DefaultIdleInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	return &Server{
		cfg:          cfg,
		logger:       cfg.Logger,
		conns:        make(map[uint64]*trackedConn),
		stopped:      make(chan struct{}),
		acceptorDone: make(chan struct{}),
		nextID:       listenerID + 1,
	}
}

// Run binds addr, registers the listener with the poller, starts the worker
// pool, and spawns the acceptor loop on a dedicated goroutine. It returns
// once the listener is bound and accepting; it does not block for the
// server's lifetime (use Wait for that).
func (s *Server) Run(addr string, routes *router.Router) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: resolve %q: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("server: listen %q: %w", addr, err)
	}

	pl, err := poller.New()
	if err != nil {
		ln.Close()
		return fmt.Errorf("server: %w", err)
	}

	lfd, err := rawFD(ln)
	if err != nil {
		ln.Close()
		pl.Close()
		return fmt.Errorf("server: listener fd: %w", err)
	}
	if err := pl.Add(listenerID, lfd, poller.InterestRead); err != nil {
		ln.Close()
		pl.Close()
		return fmt.Errorf("server: register listener: %w", err)
	}

	s.mu.Lock()
	s.ln = ln
	s.pl = pl
	s.wp = pool.New(s.cfg.PoolMin, s.cfg.PoolMax, s.cfg.PoolIdleInterval, poolLoggerAdapter{s.logger})
	s.mu.Unlock()

	go s.acceptLoop(routes)
	return nil
}

// Wait blocks until the server stops, either due to Shutdown or a fatal
// acceptor error.
func (s *Server) Wait() error {
	<-s.stopped
	return s.runErr
}

// Addr returns the bound listener address, useful for tests and for
// callers that bind an ephemeral port (":0") and need to discover it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown performs the graceful stop sequence (spec §4.6: "signal ->
// acceptor exits -> pool shutdown -> join"). It is safe to call more than
// once; only the first call has effect.
func (s *Server) Shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		ln := s.ln
		pl := s.pl
		// acceptLoop exits once it observes s.ln == nil.
		s.ln = nil
		s.mu.Unlock()

		if ln != nil {
			ln.Close()
		}
		<-s.acceptorDone

		s.mu.Lock()
		wp := s.wp
		conns := make([]*trackedConn, 0, len(s.conns))
		for _, tc := range s.conns {
			conns = append(conns, tc)
		}
		s.mu.Unlock()

		if wp != nil {
			if shutdownErr := wp.Shutdown(s.cfg.ShutdownGrace); shutdownErr != nil {
				s.logger.Printf("server: %v", shutdownErr)
				err = shutdownErr
			}
		}
		for _, tc := range conns {
			tc.c.Close()
		}
		if pl != nil {
			pl.Close()
		}
		close(s.stopped)
	})
	return err
}

// acceptLoop is the single acceptor thread (spec §5: "One acceptor thread
// ... it never performs socket I/O beyond accept"). It blocks only inside
// poller.Wait; every accepted socket is handed off immediately, never read
// from on this goroutine.
func (s *Server) acceptLoop(routes *router.Router) {
	defer close(s.acceptorDone)

	events := make([]poller.Event, 64)
	for {
		n, err := s.pl.Wait(events, 1*time.Second)
		if err != nil {
			s.mu.Lock()
			closed := s.ln == nil
			s.mu.Unlock()
			if closed {
				return
			}
			s.logger.Printf("server: poller wait: %v", err)
			continue
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			if ev.ID == listenerID {
				s.acceptPending(routes)
				// The listener's registration is one-shot too; re-arm it
				// so the next incoming connection is reported.
				if err := s.pl.Modify(listenerID, poller.InterestRead); err != nil {
					s.logger.Printf("server: re-arm listener: %v", err)
				}
				continue
			}
			s.submitReady(ev.ID)
		}
		s.reapIdleConns()

		s.mu.Lock()
		closed := s.ln == nil
		s.mu.Unlock()
		if closed {
			return
		}
	}
}

// reapIdleConns closes any keep-alive connection that has sat idle (no
// bytes since its last response was flushed) longer than the configured
// keep-alive idle phase (spec §4.2, §4.5's KeepAlive state: "idle timeout
// fires"). It runs once per acceptLoop iteration, alongside the 1s poller
// poll interval, the same coarse-grained scan the worker pool uses to reap
// idle expansion workers (pool.runWorker) rather than a per-connection
// timer.
func (s *Server) reapIdleConns() {
	idle := s.cfg.Timeouts.KeepAliveIdle
	if idle <= 0 {
		return
	}
	now := time.Now()
	s.mu.Lock()
	var stale []uint64
	for id, tc := range s.conns {
		since := tc.idleSince.Load()
		if since != 0 && now.Sub(time.Unix(0, since)) > idle {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	for _, id := range stale {
		s.closeConn(id)
	}
}

// acceptPending drains every connection currently queued on the listener
// (spec §4.6: "accept is called in a loop until it returns WouldBlock"). The
// net package's own Accept blocks rather than returning EWOULDBLOCK, since
// it is backed by the runtime's internal poller rather than this module's;
// a short per-call deadline stands in for that signal, so the acceptor
// thread reliably falls back out to poller.Wait instead of parking in
// Accept once the backlog is drained.
func (s *Server) acceptPending(routes *router.Router) {
	for {
		s.ln.SetDeadline(time.Now().Add(time.Millisecond))
		nc, err := s.ln.AcceptTCP()
		if err != nil {
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Timeout() {
				return
			}
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
				return
			}
			return
		}
		nc.SetKeepAlive(true)
		nc.SetKeepAlivePeriod(3 * time.Minute)

		id := atomic.AddUint64(&s.nextID, 1)
		cfg := conn.Config{
			Timeouts:      s.cfg.Timeouts,
			Router:        routes,
			MaxBodyBuffer: s.cfg.MaxBodyBuffer,
			Logger:        connLoggerAdapter{s.logger},
		}
		c := conn.New(id, nc, cfg)

		s.mu.Lock()
		s.conns[id] = &trackedConn{c: c}
		s.mu.Unlock()

		fd, err := rawFD(nc)
		if err != nil {
			s.logger.Printf("server: accepted conn %d: raw fd: %v", id, err)
			s.closeConn(id)
			continue
		}
		if err := s.pl.Add(id, fd, poller.InterestRead); err != nil {
			s.logger.Printf("server: accepted conn %d: poller add: %v", id, err)
			s.closeConn(id)
			continue
		}
	}
}

// submitReady submits a single request/response cycle for id to the worker
// pool. The connection stays owned by the worker until ServeOnce returns;
// no other goroutine can observe further readiness for id until then, since
// the poller's one-shot semantics disarmed its interest when this event
// fired (spec §4.4, §8.4: "no two worker threads observe a readiness event
// concurrently").
func (s *Server) submitReady(id uint64) {
	s.mu.Lock()
	tc, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	tc.idleSince.Store(0)

	err := s.wp.Submit(func() {
		disp := tc.c.ServeOnce()
		switch disp {
		case conn.DispositionKeepAlive:
			if kaErr := s.pl.Modify(id, poller.InterestRead); kaErr != nil {
				s.logger.Printf("server: re-arm conn %d: %v", id, kaErr)
				s.closeConn(id)
				return
			}
			tc.idleSince.Store(time.Now().UnixNano())
		default:
			s.closeConn(id)
		}
	})
	if err != nil {
		// PoolBusy or ShuttingDown: the acceptor can't hand this
		// connection to a worker, so it closes it (spec §7: "acceptor
		// logs and closes the connection with 503 where possible" /
		// "close new connection immediately").
		s.logger.Printf("server: conn %d: %v", id, err)
		s.closeConn(id)
	}
}

func (s *Server) closeConn(id uint64) {
	s.mu.Lock()
	tc, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	pl := s.pl
	s.mu.Unlock()
	if !ok {
		return
	}
	pl.Delete(id)
	tc.c.Close()
}

// poolLoggerAdapter lets *Server satisfy pool.Logger without pool importing
// this package.
type poolLoggerAdapter struct{ l Logger }

func (a poolLoggerAdapter) Printf(format string, args ...any) { a.l.Printf(format, args...) }

// connLoggerAdapter is the same shim for conn.Logger.
type connLoggerAdapter struct{ l Logger }

func (a connLoggerAdapter) Printf(format string, args ...any) { a.l.Printf(format, args...) }
