// Package sched implements the scheduler and synchronization primitives: a
// round-robin runqueue of cooperative/preemptible tasks, a counting
// semaphore with FIFO waiters, and the tasklet bottom-half pattern IRQ
// handlers use to defer work out of interrupt context.
//
// The model is single-CPU, preemptive on the timer IRQ, with a cooperative
// Yield available to tasks. Context
// switching itself
// (saving/restoring the full register file on a task's own stack) is
// necessarily an inline-assembly fragment and is declared here without a
// body, the same convention kernel/cpu and kernel/irq use for instructions
// Go cannot express directly; everything else in this package is ordinary,
// fully testable Go operating on the runqueue data structure.
package sched

import "helium/kernel/sync"

// init wires kernel/sync's spinlock so that a task spinning past
// attemptsBeforeYielding gives up its timeslice through the real scheduler
// rather than busy-waiting forever -- the dependency runs sched -> sync only,
// so sync itself never needs to import sched.
func init() {
	sync.SetYield(Yield)
}

// State is a Task's scheduling state.
type State uint8

const (
	// Running tasks are eligible for selection by schedule.
	Running State = iota
	// Waiting tasks are parked on a semaphore's waiter list (or asleep
	// inside a Tasklet) and are skipped by schedule.
	Waiting
	// Stopped tasks have exited and are skipped by schedule.
	Stopped
)

// Task is a single schedulable unit of execution. Tasks are never removed
// from the runqueue once spawned; schedule skips over any task whose state
// isn't Running rather than unlinking and relinking it, which keeps a
// Semaphore's "place the woken task back on the runqueue" step a pure state
// flip instead of a list surgery.
type Task struct {
	state State
	sp    uintptr
	entry func()

	next, prev *Task // runqueue links, circular

	waitNext *Task // singly-linked FIFO link used only by Semaphore
}

// State reports the task's current scheduling state.
func (t *Task) State() State { return t.state }

const defaultStackSize = 16 * 1024

var (
	head    *Task // arbitrary fixed point in the runqueue
	current *Task
	count   int

	preemptDisableCount int

	ticks uint64

	// stackAllocFn allocates a new task's kernel stack and returns its
	// top (highest address). Installed by
	// kernel boot code once the heap is up; tests install a fake that
	// slices a plain Go buffer.
	stackAllocFn func(size uint) uintptr

	// switchToFn performs the actual register-save/restore context
	// switch between two tasks. Declared without a body below
	// (architecture-specific assembly); tests substitute a fake that
	// just records which tasks were switched between, mirroring how
	// kernel/mem/vmm mocks its CR3/TLB-touching package vars.
	switchToFn = switchTo

	// synthesizeFrameFn writes a new task's initial interrupt-return
	// frame; same test seam arrangement as switchToFn.
	synthesizeFrameFn = synthesizeFrame
)

// SetStackAllocator installs the function Spawn uses to obtain a new
// task's kernel stack.
func SetStackAllocator(fn func(size uint) uintptr) {
	stackAllocFn = fn
}

// switchTo saves the outgoing task's register file onto its own stack and
// restores the incoming task's. The actual instruction sequence lives in an
// assembly file linked in alongside this package and is not part of the
// committed Go sources, the same split kernel/cpu uses for its own
// primitives.
func switchTo(from, to *Task)

// synthesizeFrame lays out the initial interrupt-return frame at the top
// of t's freshly allocated stack: EIP pointing at the glue that invokes
// taskMain(t), the kernel code segment, and EFLAGS with IF set, so the
// first switch into the task "returns" straight into its entry function
// with interrupts enabled. Returns the stack pointer that first switch
// restores. Architecture-specific assembly, not part of these sources.
func synthesizeFrame(top uintptr, t *Task) (sp uintptr)

// taskMain is the common landing point the synthesized frame aims at: it
// runs the task's entry function and parks the task for good if that ever
// returns (a task has no caller to return to).
func taskMain(t *Task) {
	t.entry()
	t.state = Stopped
	for {
		Yield()
	}
}

// Current returns the task currently selected to run, or nil before the
// first Spawn.
func Current() *Task { return current }

// Ticks returns the number of timer ticks observed so far.
func Ticks() uint64 { return ticks }

// Spawn allocates a new task's stack, synthesizes its initial frame so the
// first switch into the task starts entry, marks the task Running and links
// it into the runqueue.
func Spawn(entry func()) *Task {
	t := &Task{state: Running, entry: entry}
	if stackAllocFn != nil {
		t.sp = synthesizeFrameFn(stackAllocFn(defaultStackSize), t)
	}

	if head == nil {
		t.next, t.prev = t, t
		head = t
	} else {
		tail := head.prev
		tail.next = t
		t.prev = tail
		t.next = head
		head.prev = t
	}
	count++
	if current == nil {
		current = t
	}
	return t
}

// Yield raises a software interrupt that lands in the scheduler path on
// real hardware (SYSCALL_YIELD via int 0x7f); here it calls the scheduler
// directly since there is no trap to take in a hosted test binary.
func Yield() {
	schedule()
}

// TimerTick is invoked from the timer IRQ handler: it advances the tick
// counter and attempts a reschedule, which schedule itself may decline if
// preemption is currently disabled.
func TimerTick() {
	ticks++
	schedule()
}

// DisablePreemption increments the preempt-disable counter. While nonzero,
// schedule refuses to switch tasks -- the Go-level equivalent of CLI around
// a scheduling-sensitive critical section.
func DisablePreemption() {
	preemptDisableCount++
}

// EnablePreemption decrements the preempt-disable counter.
func EnablePreemption() {
	if preemptDisableCount > 0 {
		preemptDisableCount--
	}
}

// schedule advances current to the next Running task in the runqueue,
// skipping Waiting/Stopped tasks, and performs the context switch. It is a
// no-op if preemption is disabled or no task is eligible.
func schedule() {
	if preemptDisableCount != 0 || current == nil {
		return
	}

	to := nextRunnable(current)
	if to == nil || to == current {
		return
	}

	from := current
	current = to
	switchToFn(from, to)
}

// nextRunnable walks the runqueue starting after from, returning the first
// Running task found. If from itself is still Running and nothing else
// qualifies, nextRunnable returns from (a one-task steady state). If
// nothing at all is Running (including from), it returns nil.
func nextRunnable(from *Task) *Task {
	t := from.next
	for i := 0; i < count; i++ {
		if t.state == Running {
			return t
		}
		t = t.next
	}
	if from.state == Running {
		return from
	}
	return nil
}
