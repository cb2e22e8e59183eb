// Package sync provides synchronization primitives for single-CPU,
// preemptible code. Helium has exactly one logical CPU, so there is no
// need for the queued/ticket locks a true SMP kernel would require: a
// Spinlock only ever contends with a task that preemption is about to
// switch to anyway.
package sync

import "sync/atomic"

// yieldFn is installed by kernel/sched during its own package
// initialization, so a task spinning on a held lock gives up its timeslice
// through the real scheduler once one exists.
var yieldFn func()

// SetYield installs the function Acquire calls after spinning
// attemptsBeforeYielding times without acquiring the lock. kernel/sched
// calls this once during its own initialization so that kernel/sync does
// not need to import kernel/sched.
func SetYield(fn func()) {
	yieldFn = fn
}

// attemptsBeforeYielding bounds how long Acquire busy-waits before giving
// up its timeslice: past this point it can only be spinning on the very
// task that's about to be scheduled back in.
const attemptsBeforeYielding = 1000

// Spinlock implements a lock where each task trying to acquire it
// busy-waits until the lock becomes available, yielding back to the
// scheduler after a bounded number of failed attempts.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active
// task. Re-acquiring a lock already held by the current task deadlocks.
func (l *Spinlock) Acquire() {
	attempts := 0
	for !l.TryToAcquire() {
		attempts++
		if attempts >= attemptsBeforeYielding {
			attempts = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// TryToAcquire attempts to acquire the lock, returning true if it
// succeeded.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock. Calling Release while the lock is
// free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
