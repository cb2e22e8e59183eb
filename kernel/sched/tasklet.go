package sched

import "helium/kernel/cpu"

// Tasklet implements the bottom-half pattern an IRQ handler uses to defer
// work out of interrupt context: the top half (running with the owning IRQ
// line masked) calls Kick to wake the tasklet's task; the tasklet's Run loop
// does the actual work and then re-masks itself back to Waiting, at which
// point the IRQ handler unmasks the line again for the next interrupt.
//
// The line stays masked for the whole
// round trip from "data ready" to "bottom half finished consuming it",
// rather than being unmasked as soon as the top half returns: unmasking
// earlier could drop edges or double-process a half-drained device queue.
type Tasklet struct {
	irqLine uint8
	task    *Task
	fn      func()
}

// NewTasklet creates a tasklet bound to the given IRQ line. fn is the
// deferred work; it runs on the tasklet's own task stack, not in interrupt
// context. The tasklet's task is spawned at Run and parked Waiting until
// the first Kick.
func NewTasklet(irqLine uint8, fn func()) *Tasklet {
	tl := &Tasklet{irqLine: irqLine, fn: fn}
	tl.task = Spawn(tl.Run)
	tl.task.state = Waiting
	return tl
}

// Kick wakes the tasklet's task so it can run fn. Called from IRQ context
// with the owning line already masked by the caller. The Waiting->Running
// transition is wrapped in a preempt-disable section: the tasklet state is
// shared with Run's own DisablePreemption/EnablePreemption pair below, and
// without it a timer tick landing between the state write and the return
// from the IRQ handler could reschedule onto a half-woken tasklet.
func (tl *Tasklet) Kick() {
	DisablePreemption()
	tl.task.state = Running
	EnablePreemption()
}

// Run is the tasklet's task body, spawned as the task's entry by
// NewTasklet: it waits to be kicked, runs fn, parks itself back to Waiting,
// and unmasks the IRQ line so the next interrupt can kick it again.
func (tl *Tasklet) Run() {
	for {
		for tl.task.state != Running {
			Yield()
		}

		tl.fn()

		// Parking and unmasking must be one atomic step: if the line were
		// unmasked first, an interrupt could Kick before the state write
		// and the wakeup would be lost under the Waiting store.
		DisablePreemption()
		tl.task.state = Waiting
		cpu.PICUnmask(tl.irqLine)
		EnablePreemption()
	}
}
