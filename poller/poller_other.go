//go:build !linux && !darwin

package poller

import "errors"

// New reports that no readiness-poller backend is available on this OS.
// Only epoll (Linux) and kqueue (Darwin) are implemented, matching the
// pack's only real edge-triggered-readiness reference implementations
// (joeycumines-go-utilpkg/eventloop's poller_linux.go / poller_darwin.go).
func New() (Poller, error) {
	return nil, errors.New("poller: no readiness backend for this platform (supported: linux, darwin)")
}
