//go:build linux

package poller

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux backend, grounded on
// joeycumines-go-utilpkg/eventloop/poller_linux.go's FastPoller: an epoll
// fd, a preallocated event buffer, and a map from fd to the registration's
// id (epoll events carry the fd back, not an arbitrary id, so a lookup is
// needed to report spec-shaped (id, readiness) events).
type epollPoller struct {
	epfd int

	mu      sync.RWMutex
	idByFD  map[int]uint64
	fdByID  map[uint64]int
	eventBuf []unix.EpollEvent
}

// New constructs the epoll-backed Poller.
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	return &epollPoller{
		epfd:     epfd,
		idByFD:   make(map[int]uint64),
		fdByID:   make(map[uint64]int),
		eventBuf: make([]unix.EpollEvent, 256),
	}, nil
}

func (p *epollPoller) Add(id uint64, fd int, interest Interest) error {
	p.mu.Lock()
	if _, ok := p.fdByID[id]; ok {
		p.mu.Unlock()
		return fmt.Errorf("poller: id %d already registered", id)
	}
	p.fdByID[id] = fd
	p.idByFD[fd] = id
	p.mu.Unlock()

	ev := unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		p.mu.Lock()
		delete(p.fdByID, id)
		delete(p.idByFD, fd)
		p.mu.Unlock()
		return fmt.Errorf("poller: epoll_ctl add: %w", err)
	}
	return nil
}

func (p *epollPoller) Modify(id uint64, interest Interest) error {
	p.mu.RLock()
	fd, ok := p.fdByID[id]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("poller: id %d not registered", id)
	}
	ev := unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl mod: %w", err)
	}
	return nil
}

func (p *epollPoller) Delete(id uint64) error {
	p.mu.Lock()
	fd, ok := p.fdByID[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("poller: id %d not registered", id)
	}
	delete(p.fdByID, id)
	delete(p.idByFD, fd)
	p.mu.Unlock()

	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("poller: epoll_ctl del: %w", err)
	}
	return nil
}

func (p *epollPoller) Wait(out []Event, timeout time.Duration) (int, error) {
	// Bound the syscall itself to len(out): EPOLLONESHOT disarms a fd's
	// registration the moment epoll_wait reports it, whether or not the
	// caller's buffer had room to carry it home. Passing a larger buffer
	// than out could hold would let epoll_wait report (and thereby
	// silently disarm) more fds than Wait can return, leaking them until
	// a future Modify call that will now never come.
	buf := p.eventBuf
	if len(buf) > len(out) {
		buf = buf[:len(out)]
	}
	n, err := unix.EpollWait(p.epfd, buf, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poller: epoll_wait: %w", err)
	}

	count := 0
	p.mu.RLock()
	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)
		id, ok := p.idByFD[fd]
		if !ok {
			continue
		}
		out[count] = Event{ID: id, Readiness: epollToReadiness(buf[i].Events)}
		count++
	}
	p.mu.RUnlock()
	return count, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

func interestToEpoll(interest Interest) uint32 {
	// EPOLLONESHOT gives the spec-required one-shot semantics: once an
	// event fires, the fd's registration is disarmed until the next
	// epoll_ctl MOD call (Modify).
	var events uint32 = unix.EPOLLONESHOT
	if interest&InterestRead != 0 {
		events |= unix.EPOLLIN
	}
	if interest&InterestWrite != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func epollToReadiness(events uint32) Readiness {
	var r Readiness
	if events&unix.EPOLLIN != 0 {
		r |= ReadinessRead
	}
	if events&unix.EPOLLOUT != 0 {
		r |= ReadinessWrite
	}
	if events&unix.EPOLLERR != 0 {
		r |= ReadinessError
	}
	if events&unix.EPOLLHUP != 0 {
		r |= ReadinessHangup
	}
	return r
}
