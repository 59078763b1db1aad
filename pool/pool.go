// Package pool implements the elastic worker pool described in spec §4.3: a
// permanent floor of workers, on-demand expansion up to a ceiling, idle
// reaping of the expansion workers, and a drain-then-join shutdown.
//
// The counters (active, alive) are protected by a single mutex, and the job
// queue is a condition-variable mailbox, mirroring the spec's concurrency
// model (§5: "Pool counters: protected by a single mutex; queue uses a
// bounded condition-variable mailbox") and, in spirit, the atomic-counters-
// plus-idle-list shape of the teacher pack's
// other_examples/.../requestworkerpool.go RequestPool2 (workersCount/
// activeWorkers atomics, a create-on-demand getWorker/createWorker pair).
// This implementation folds those atomics into one mutex instead, since the
// spec additionally requires observing `active == alive` atomically when
// deciding whether to spawn — two independent atomics can't do that without
// the same race the teacher's CAS fast paths are built to avoid.
package pool

import (
	"sync"
	"time"

	"github.com/badu/httpd/httperr"
)

// DefaultIdleInterval is how long an expansion worker (alive above min) may
// sit without dequeueing before it exits (spec §4.3 default: 60s).
const DefaultIdleInterval = 60 * time.Second

// Job is a unit of work submitted to the pool.
type Job func()

// State is a worker's position in the per-worker state machine (spec §4.3):
// Idle -> Dequeuing -> Running -> Idle | Exiting.
type State int

const (
	StateIdle State = iota
	StateDequeuing
	StateRunning
	StateExiting
)

// Pool is a floor/ceiling elastic worker pool.
type Pool struct {
	min, max     int
	idleInterval time.Duration
	logger       Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Job
	active   int // workers currently running a Job
	alive    int // workers currently started (idle + dequeuing + running)
	shutdown bool
	joined   chan struct{}
}

// Logger is the minimal capability the pool needs for diagnostics; it is
// never tied to a concrete logging library (mirrors the teacher's
// Server.ErrorLog *log.Logger capability, generalized to an interface so
// any structured logger can be plugged in — see cmd/httpd for the
// logiface/stumpy wiring).
type Logger interface {
	Printf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// New constructs a Pool with min workers started immediately. idleInterval,
// if zero, uses DefaultIdleInterval. logger, if nil, discards diagnostics.
func New(min, max int, idleInterval time.Duration, logger Logger) *Pool {
	if idleInterval <= 0 {
		idleInterval = DefaultIdleInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	p := &Pool{
		min:          min,
		max:          max,
		idleInterval: idleInterval,
		logger:       logger,
		joined:       make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < min; i++ {
		p.startWorker(true)
	}
	return p
}

// Submit enqueues job for execution. It spawns an additional worker first
// if no alive worker is free to take the job (active plus already queued
// jobs reach alive, which includes active == alive) and alive < max
// (spec §4.3 sizing rule). It returns
// ShuttingDown if shutdown has begun; it never returns Busy, since the
// default configuration has no bounded-queue variant (spec §4.3).
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return httperr.Stopped()
	}
	if p.active+len(p.queue) >= p.alive && p.alive < p.max {
		p.startWorkerLocked(false)
	}
	p.queue = append(p.queue, job)
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Stats reports the current counts for property testing (spec §8: "min ≤
// alive ≤ max and active ≤ alive at all observation points").
type Stats struct {
	Min, Max, Active, Alive int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Min: p.min, Max: p.max, Active: p.active, Alive: p.alive}
}

// Shutdown refuses new work, wakes every worker waiting on the queue, and
// blocks until all workers have exited or grace elapses. Callable at most
// once (spec §4.3). After grace elapses without every worker exiting, it
// returns ErrShutdownTimedOut but shutdown continues joining workers in the
// background.
func (p *Pool) Shutdown(grace time.Duration) error {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
	p.cond.Broadcast()
	// With no worker alive, none will exit to signal the join.
	p.maybeSignalJoined()

	select {
	case <-p.joined:
		return nil
	case <-time.After(grace):
		return ErrShutdownTimedOut
	}
}

// ErrShutdownTimedOut is returned by Shutdown when the grace period elapses
// before every worker has exited; joining continues in the background.
var ErrShutdownTimedOut = &httperr.Error{Kind: httperr.KindIOError, Message: "pool shutdown timed out waiting for workers to join"}

func (p *Pool) startWorker(floor bool) {
	p.mu.Lock()
	p.startWorkerLocked(floor)
	p.mu.Unlock()
}

// startWorkerLocked must be called with p.mu held. floor workers (the
// permanent min) never self-exit on idle; expansion workers do.
func (p *Pool) startWorkerLocked(floor bool) {
	p.alive++
	go p.runWorker(floor)
}

func (p *Pool) runWorker(floor bool) {
	idleSince := time.Now()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.shutdown {
			if !floor && time.Since(idleSince) > p.idleInterval {
				// StateExiting: idle beyond idleInterval and above the floor.
				p.alive--
				p.mu.Unlock()
				p.maybeSignalJoined()
				return
			}
			if !floor {
				// Wait at most idleInterval so the idle deadline above is
				// re-checked even without a new submission waking us.
				waited := p.waitWithTimeout(p.idleInterval)
				if !waited {
					continue
				}
			} else {
				p.cond.Wait()
			}
		}
		if p.shutdown && len(p.queue) == 0 {
			p.alive--
			p.mu.Unlock()
			p.maybeSignalJoined()
			return
		}

		// StateDequeuing: a job is available.
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.active++
		p.mu.Unlock()

		// StateRunning: job execution, fully outside the lock.
		p.runJob(job)

		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		// Back to StateIdle.
		idleSince = time.Now()
	}
}

// runJob invokes job, recovering any panic so one misbehaving job can never
// take down a worker goroutine (the pool's own isolation guarantee,
// independent of the connection driver's handler-panic recovery).
func (p *Pool) runJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("pool: recovered panic from job: %v", r)
		}
	}()
	job()
}

// waitWithTimeout waits on the condition variable for at most d, returning
// true if woken by a signal/broadcast, false if the timeout elapsed. Go's
// sync.Cond has no native timed wait, so this polls via a helper goroutine
// that re-locks and broadcasts after d — acceptable here because it only
// runs on expansion workers deciding whether to self-reap, not on the hot
// submit/dequeue path.
func (p *Pool) waitWithTimeout(d time.Duration) bool {
	done := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
		close(done)
	})
	p.cond.Wait()
	timer.Stop()
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (p *Pool) maybeSignalJoined() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown && p.alive == 0 {
		select {
		case <-p.joined:
		default:
			close(p.joined)
		}
	}
}
