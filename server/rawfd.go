package server

import (
	"fmt"
	"syscall"
)

// rawFD extracts the integer file descriptor backing a net.Conn or
// net.Listener, for registration with this module's own readiness poller.
// Grounded on other_examples/.../graceful_restarts-SocketHandoff's use of
// (*net.TCPListener).SyscallConn().Control to introspect a listener's raw
// fd; this module additionally uses it for every accepted connection, since
// spec §4.4 requires registering each one with the poller individually.
func rawFD(sc syscall.Conn) (int, error) {
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("rawfd: SyscallConn: %w", err)
	}
	var fd int
	if err := rc.Control(func(descriptor uintptr) {
		fd = int(descriptor)
	}); err != nil {
		return 0, fmt.Errorf("rawfd: Control: %w", err)
	}
	return fd, nil
}
