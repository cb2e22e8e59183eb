package irq

import (
	"helium/kernel/cpu"
	"helium/kernel/kfmt"
	"helium/kernel/sched"
)

// Frame is the CPU-pushed return frame for an interrupt taken in protected
// mode (not v8086 -- see V8086Frame for that case).
type Frame struct {
	EIP, CS, EFlags uint32
}

// Print outputs a dump of the exception frame to the active console.
func (f *Frame) Print() {
	kfmt.Printf("EIP = %8x CS  = %8x\n", f.EIP, f.CS)
	kfmt.Printf("EFLAGS = %8x\n", f.EFlags)
}

// Regs is a snapshot of the general-purpose registers saved by the common
// ISR stub, in the order the stub pushes them.
type Regs struct {
	EAX, EBX, ECX, EDX, ESI, EDI, EBP uint32
}

// Print outputs a dump of the register values to the active console.
func (r *Regs) Print() {
	kfmt.Printf("EAX = %8x EBX = %8x ECX = %8x EDX = %8x\n", r.EAX, r.EBX, r.ECX, r.EDX)
	kfmt.Printf("ESI = %8x EDI = %8x EBP = %8x\n", r.ESI, r.EDI, r.EBP)
}

// ExceptionHandler handles an exception that does not push an error code.
type ExceptionHandler func(*Frame, *Regs)

// ExceptionHandlerWithCode handles an exception that pushes an error code.
type ExceptionHandlerWithCode func(code uint32, f *Frame, r *Regs)

var (
	exceptionHandlers         [256]ExceptionHandler
	exceptionHandlersWithCode [256]ExceptionHandlerWithCode
	irqHandlers               [NumIRQ]func()

	// v8086MemFn backs the GP fault emulator and BIOS-forwarding path;
	// installed once the low 1 MiB identity mapping is available. Tests
	// substitute a fake, the same seam idiom kernel/mem/pmm/buddy uses
	// for its FrameMapper.
	v8086MemFn     Memory
	v8086StackBase uint32
)

// SetV8086 installs the guest-memory accessor and real-mode stack base the
// v8086 dispatch path uses. Called once during boot, after the low 1 MiB is
// identity mapped.
func SetV8086(mem Memory, stackBase uint32) {
	v8086MemFn = mem
	v8086StackBase = stackBase
}

// errUnhandled formats the panic message for an interrupt that reaches no
// registered handler: a register dump followed by a halt, the dispatcher's
// fallback rule for anything nothing claims.
func errUnhandled(n InterruptNumber, f *Frame, r *Regs) {
	kfmt.Printf("unhandled interrupt %2x\n", uint8(n))
	f.Print()
	r.Print()
	panic("unhandled interrupt")
}

// HandleException registers h as the handler for interrupt n. Registering a
// handler for a vector that also carries an error code (page fault, GPF,
// ...) should use HandleExceptionWithCode instead.
func HandleException(n InterruptNumber, h ExceptionHandler) {
	exceptionHandlers[int(n)] = h
}

// HandleExceptionWithCode registers h as the handler for interrupt n, for
// vectors the CPU pushes an error code alongside.
func HandleExceptionWithCode(n InterruptNumber, h ExceptionHandlerWithCode) {
	exceptionHandlersWithCode[int(n)] = h
}

// HandleIRQ registers h to run whenever hardware IRQ line irq fires (already
// remapped to IRQBase+irq). The handler runs with preemption undisturbed; a
// handler that needs to defer work out of interrupt context should kick a
// kernel/sched.Tasklet rather than doing real work inline.
func HandleIRQ(irq uint8, h func()) {
	if int(irq) < len(irqHandlers) {
		irqHandlers[irq] = h
	}
}

// dispatch implements the dispatcher's priority order: v8086 GP-fault
// emulation first, then IRQ routing, then the syscall vector, and a panic
// for anything left unhandled. It is called by the common ISR stub (via
// dispatchInterrupt, the asm-side glue) with the taken vector, whether an
// error code was pushed, and pointers into the saved frame/registers.
func dispatch(n InterruptNumber, hasCode bool, code uint32, f *Frame, r *Regs, v8086 *V8086Frame) {
	if v8086 != nil && v8086.EFlags&cpu.EFlagsVM != 0 {
		switch {
		case n == GPFException:
			if EmulateGPF(v8086, v8086MemFn, realPortIO{}, v8086StackBase) {
				v8086ExitFn(v8086)
			}
			return
		case n >= IRQBase:
			ForwardIRQToBIOS(v8086, v8086MemFn, uint8(n-IRQBase))
			return
		}
	}

	if n >= IRQBase && int(n-IRQBase) < len(irqHandlers) {
		line := uint8(n - IRQBase)
		if h := irqHandlers[line]; h != nil {
			h()
		}
		cpu.PICEOI(line)
		return
	}

	if n == SyscallVector {
		switch r.EAX {
		case SyscallYield:
			sched.Yield()
		}
		return
	}

	if hasCode {
		if h := exceptionHandlersWithCode[int(n)]; h != nil {
			h(code, f, r)
			return
		}
	} else if h := exceptionHandlers[int(n)]; h != nil {
		h(f, r)
		return
	}

	errUnhandled(n, f, r)
}
