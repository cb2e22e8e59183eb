package irq

import (
	"testing"

	"helium/kernel/cpu"
)

func resetHandlers() {
	exceptionHandlers = [256]ExceptionHandler{}
	exceptionHandlersWithCode = [256]ExceptionHandlerWithCode{}
	irqHandlers = [NumIRQ]func(){}
}

func TestHandleExceptionDispatch(t *testing.T) {
	resetHandlers()
	var gotEIP uint32
	HandleException(InterruptNumber(6), func(f *Frame, r *Regs) {
		gotEIP = f.EIP
	})

	dispatch(InterruptNumber(6), false, 0, &Frame{EIP: 0x1234}, &Regs{}, nil)

	if gotEIP != 0x1234 {
		t.Fatalf("expected registered handler to run with EIP=1234, got %x", gotEIP)
	}
}

func TestHandleExceptionWithCodeDispatch(t *testing.T) {
	resetHandlers()
	var gotCode uint32
	HandleExceptionWithCode(PageFaultException, func(code uint32, f *Frame, r *Regs) {
		gotCode = code
	})

	dispatch(PageFaultException, true, 0xdead, &Frame{}, &Regs{}, nil)

	if gotCode != 0xdead {
		t.Fatalf("expected error code 0xdead delivered to handler, got %x", gotCode)
	}
}

func TestHandleIRQDispatch(t *testing.T) {
	resetHandlers()
	fired := false
	HandleIRQ(1, func() { fired = true })

	dispatch(IRQBase+1, false, 0, &Frame{}, &Regs{}, nil)

	if !fired {
		t.Fatal("expected IRQ1 handler to run")
	}
}

func TestDispatchUnhandledExceptionPanics(t *testing.T) {
	resetHandlers()
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an interrupt with no registered handler")
		}
	}()
	dispatch(InterruptNumber(6), false, 0, &Frame{}, &Regs{}, nil)
}

// TestDispatchPrefersV8086OverIRQWhenVMFlagSet exercises the dispatcher's
// priority order: a GPF taken while EFLAGS.VM is set must be routed to the
// v8086 emulator rather than falling through to the IRQ handler table, even
// though GPFException and an IRQ vector can never collide numerically --
// the point is that the v8086 branch is checked first and returns before
// any other path runs.
func TestDispatchPrefersV8086OverIRQWhenVMFlagSet(t *testing.T) {
	resetHandlers()
	mem := newFakeMemory()
	f := newFrame()
	writeInstr(mem, f, 0xfa) // cli, a harmless one-byte instruction

	irqFired := false
	HandleIRQ(0, func() { irqFired = true })

	v8086MemFn = mem
	defer func() { v8086MemFn = nil }()

	dispatch(GPFException, false, 0, &Frame{}, &Regs{}, f)

	if irqFired {
		t.Fatal("v8086 GPF must be emulated, not routed to the registered IRQ handler")
	}
	if f.EFlags&cpu.EFlagsIF != 0 {
		t.Fatal("expected the emulated cli to have cleared IF")
	}
}

func TestDispatchSyscallYieldDoesNotPanic(t *testing.T) {
	resetHandlers()
	// SyscallYield calls sched.Yield(), which is a no-op when nothing is
	// runnable (count == 0 in a fresh package-level scheduler state); this
	// just asserts dispatch recognizes the vector instead of falling
	// through to the unhandled-interrupt panic.
	dispatch(SyscallVector, false, 0, &Frame{}, &Regs{EAX: SyscallYield}, nil)
}
