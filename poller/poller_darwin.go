//go:build darwin

package poller

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the Darwin backend, grounded on
// joeycumines-go-utilpkg/eventloop/poller_darwin.go's FastPoller, adapted
// to use EV_ONESHOT (rather than persistent EV_ADD|EV_ENABLE registration)
// so an event disarms the fd's filter until Modify re-arms it, matching
// spec §4.4's one-shot contract the same way EPOLLONESHOT does on Linux.
type kqueuePoller struct {
	kq int

	mu       sync.RWMutex
	idByFD   map[int]uint64
	fdByID   map[uint64]int
	interest map[uint64]Interest
	eventBuf []unix.Kevent_t
}

// New constructs the kqueue-backed Poller.
func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("poller: kqueue: %w", err)
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{
		kq:       kq,
		idByFD:   make(map[int]uint64),
		fdByID:   make(map[uint64]int),
		interest: make(map[uint64]Interest),
		eventBuf: make([]unix.Kevent_t, 256),
	}, nil
}

func (p *kqueuePoller) Add(id uint64, fd int, interest Interest) error {
	p.mu.Lock()
	if _, ok := p.fdByID[id]; ok {
		p.mu.Unlock()
		return fmt.Errorf("poller: id %d already registered", id)
	}
	p.fdByID[id] = fd
	p.idByFD[fd] = id
	p.interest[id] = interest
	p.mu.Unlock()

	changes := interestToKevents(fd, interest, unix.EV_ADD|unix.EV_ONESHOT)
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		p.mu.Lock()
		delete(p.fdByID, id)
		delete(p.idByFD, fd)
		delete(p.interest, id)
		p.mu.Unlock()
		return fmt.Errorf("poller: kevent add: %w", err)
	}
	return nil
}

func (p *kqueuePoller) Modify(id uint64, interest Interest) error {
	p.mu.Lock()
	fd, ok := p.fdByID[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("poller: id %d not registered", id)
	}
	p.interest[id] = interest
	p.mu.Unlock()

	changes := interestToKevents(fd, interest, unix.EV_ADD|unix.EV_ONESHOT)
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("poller: kevent mod: %w", err)
	}
	return nil
}

func (p *kqueuePoller) Delete(id uint64) error {
	p.mu.Lock()
	fd, ok := p.fdByID[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("poller: id %d not registered", id)
	}
	interest := p.interest[id]
	delete(p.fdByID, id)
	delete(p.idByFD, fd)
	delete(p.interest, id)
	p.mu.Unlock()

	changes := interestToKevents(fd, interest, unix.EV_DELETE)
	if len(changes) > 0 {
		unix.Kevent(p.kq, changes, nil, nil) // best effort; fd may already be gone
	}
	return nil
}

func (p *kqueuePoller) Wait(out []Event, timeout time.Duration) (int, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		ts = &unix.Timespec{Sec: int64(timeout / time.Second), Nsec: int64(timeout % time.Second)}
	}

	// Bound the syscall itself to len(out): EV_ONESHOT disarms a fd's
	// filter the moment kevent reports it, whether or not the caller's
	// buffer had room to carry it home. Passing a larger buffer than out
	// could hold would let kevent report (and thereby silently disarm)
	// more fds than Wait can return, leaking them until a future Modify
	// call that will now never come.
	buf := p.eventBuf
	if len(buf) > len(out) {
		buf = buf[:len(out)]
	}
	n, err := unix.Kevent(p.kq, nil, buf, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poller: kevent wait: %w", err)
	}

	count := 0
	p.mu.RLock()
	for i := 0; i < n; i++ {
		fd := int(buf[i].Ident)
		id, ok := p.idByFD[fd]
		if !ok {
			continue
		}
		out[count] = Event{ID: id, Readiness: keventToReadiness(&buf[i])}
		count++
	}
	p.mu.RUnlock()
	return count, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}

func interestToKevents(fd int, interest Interest, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if interest&InterestRead != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if interest&InterestWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevents
}

func keventToReadiness(kev *unix.Kevent_t) Readiness {
	var r Readiness
	switch kev.Filter {
	case unix.EVFILT_READ:
		r |= ReadinessRead
	case unix.EVFILT_WRITE:
		r |= ReadinessWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		r |= ReadinessError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		r |= ReadinessHangup
	}
	return r
}
