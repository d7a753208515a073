package hilbot

import "sync"

// A RunFlag is the cooperative cancellation token shared by every
// instance worker in a session. Clearing it is the only sanctioned
// way to request that a session wind down: workers check it between
// lines read and between poll iterations. It cannot preempt an
// in-flight native subprocess; that is the job of the monitor's guard
// and inactivity timers.
type RunFlag struct {
	mu   sync.Mutex
	done chan struct{}
}

// NewRunFlag returns a set (running) flag.
func NewRunFlag() *RunFlag {
	return &RunFlag{done: make(chan struct{})}
}

// Clear requests cancellation. It is safe to call more than once.
func (f *RunFlag) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}

// Cleared reports whether cancellation has been requested.
func (f *RunFlag) Cleared() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the flag is cleared,
// for use in select loops.
func (f *RunFlag) Done() <-chan struct{} {
	return f.done
}
