package worker

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Lifecycle is the signal-driven shutdown controller. SIGHUP/SIGTERM request
// a cooperative shutdown with no deadline — an in-flight task is allowed to
// finish, however long that takes. SIGINT requests a hard shutdown: it sets
// a grace deadline immediately and restores default signal handling, so a
// second SIGINT kills the process the normal OS way.
type Lifecycle struct {
	graceInterval time.Duration

	mu                sync.Mutex
	shutdownRequested bool
	graceDeadline     *time.Time

	sigCh chan os.Signal
	wake  chan struct{}
}

// NewLifecycle registers signal handlers and returns a Lifecycle whose
// Wake channel fires on every SIGHUP/SIGINT/SIGTERM, acting as the
// self-pipe the supervisor's multiplexed wait selects on.
func NewLifecycle(graceInterval time.Duration) *Lifecycle {
	l := &Lifecycle{
		graceInterval: graceInterval,
		sigCh:         make(chan os.Signal, 4),
		wake:          make(chan struct{}, 1),
	}
	signal.Notify(l.sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go l.loop()
	return l
}

func (l *Lifecycle) loop() {
	for sig := range l.sigCh {
		l.handle(sig)
	}
}

func (l *Lifecycle) handle(sig os.Signal) {
	l.mu.Lock()
	l.shutdownRequested = true
	if sig == syscall.SIGINT {
		deadline := time.Now().Add(l.graceInterval)
		l.graceDeadline = &deadline
		signal.Reset(syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Wake is the self-pipe channel the supervisor selects on alongside the
// child's exit and a timeout.
func (l *Lifecycle) Wake() <-chan struct{} {
	return l.wake
}

// ShutdownRequested reports whether a shutdown signal has been received.
func (l *Lifecycle) ShutdownRequested() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shutdownRequested
}

// GraceDeadline returns the deadline by which an in-flight child must exit,
// and whether one has been set. No deadline means wait indefinitely.
func (l *Lifecycle) GraceDeadline() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.graceDeadline == nil {
		return time.Time{}, false
	}
	return *l.graceDeadline, true
}

// RequestShutdown marks shutdown as requested without a grace deadline,
// used by housekeeping when a heartbeat update fails.
func (l *Lifecycle) RequestShutdown() {
	l.mu.Lock()
	l.shutdownRequested = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
