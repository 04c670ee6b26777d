package hardware

import (
	"errors"
	"sync"
)

// ErrBusy is returned by TryAcquire when the accelerator is already held.
// There is no wait queue; callers are expected to retry with backoff.
var ErrBusy = errors.New("hardware: accelerator is busy")

// Arbiter is the process-wide exclusive-use gate for the single shared
// inference accelerator. It is a two-state machine (idle/busy) with a
// non-blocking test-and-set acquire and no fairness guarantee.
type Arbiter struct {
	mu   sync.Mutex
	busy bool
}

// NewArbiter creates an arbiter in the idle state.
func NewArbiter() *Arbiter {
	return &Arbiter{}
}

// TryAcquire attempts to take the accelerator. It never blocks: if the
// arbiter is idle it transitions to busy and returns nil, otherwise it
// returns ErrBusy immediately.
func (a *Arbiter) TryAcquire() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.busy {
		return ErrBusy
	}
	a.busy = true
	return nil
}

// Release returns the arbiter to idle. Call exactly once per successful
// TryAcquire, on every exit path (defer).
func (a *Arbiter) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.busy = false
}

// InUse reports whether the accelerator is currently held.
func (a *Arbiter) InUse() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}
