package irq

import (
	"unsafe"

	"helium/kernel/cpu"
)

// Memory gives the v8086 emulator byte/word/dword access to the guest's
// address space -- the identity-mapped low 1 MiB a real-mode BIOS call
// expects to see. Tests back this with a plain []byte slice the same way
// kernel/mem/pmm/buddy's tests back "physical memory" with make([]byte, n).
type Memory interface {
	ReadByte(addr uint32) uint8
	WriteByte(addr uint32, v uint8)
	ReadWord(addr uint32) uint16
	WriteWord(addr uint32, v uint16)
	ReadDword(addr uint32) uint32
	WriteDword(addr uint32, v uint32)
}

// IdentityMemory backs Memory with direct loads and stores: valid for the
// low 1 MiB a real-mode BIOS call touches, which stays inside the kernel's
// identity-mapped window for the whole kernel lifetime.
type IdentityMemory struct{}

func (IdentityMemory) ReadByte(addr uint32) uint8 {
	return *(*uint8)(unsafe.Pointer(uintptr(addr)))
}

func (IdentityMemory) WriteByte(addr uint32, v uint8) {
	*(*uint8)(unsafe.Pointer(uintptr(addr))) = v
}

func (IdentityMemory) ReadWord(addr uint32) uint16 {
	return *(*uint16)(unsafe.Pointer(uintptr(addr)))
}

func (IdentityMemory) WriteWord(addr uint32, v uint16) {
	*(*uint16)(unsafe.Pointer(uintptr(addr))) = v
}

func (IdentityMemory) ReadDword(addr uint32) uint32 {
	return *(*uint32)(unsafe.Pointer(uintptr(addr)))
}

func (IdentityMemory) WriteDword(addr uint32, v uint32) {
	*(*uint32)(unsafe.Pointer(uintptr(addr))) = v
}

// PortIO is the subset of kernel/cpu's port I/O primitives the 0xe4-0xef
// opcode family needs. A seam so tests can assert on which ports an
// emulated IN/OUT touched without going through real hardware.
type PortIO interface {
	InB(port uint16) uint8
	OutB(port uint16, v uint8)
	InW(port uint16) uint16
	OutW(port uint16, v uint16)
	InL(port uint16) uint32
	OutL(port uint16, v uint32)
}

// realPortIO backs PortIO with the actual kernel/cpu primitives.
type realPortIO struct{}

func (realPortIO) InB(port uint16) uint8      { return cpu.InB(port) }
func (realPortIO) OutB(port uint16, v uint8)  { cpu.OutB(port, v) }
func (realPortIO) InW(port uint16) uint16     { return cpu.InW(port) }
func (realPortIO) OutW(port uint16, v uint16) { cpu.OutW(port, v) }
func (realPortIO) InL(port uint16) uint32     { return cpu.InL(port) }
func (realPortIO) OutL(port uint16, v uint32) { cpu.OutL(port, v) }

// V8086Frame is the full register snapshot plus the segment registers the
// CPU only pushes when the fault was taken from v8086 mode; field order
// matches what the common ISR stub leaves on the stack.
type V8086Frame struct {
	EDI, ESI, EBP, espDummy, EBX, EDX, ECX, EAX uint32
	IntNum, Error                               uint32
	EIP, CS, EFlags                             uint32
	ESP, SS, ES, DS, FS, GS                     uint32
}

// segOffToLinear converts a real-mode segment:offset pair into a linear
// address (seg<<4 + off, truncated to 20 bits).
func segOffToLinear(seg, off uint32) uint32 {
	return ((seg << 4) + off) & 0xfffff
}

// csIP returns the linear address of the instruction that faulted.
func (f *V8086Frame) csIP() uint32 {
	return segOffToLinear(f.CS, f.EIP)
}

// push16/pop16 operate on the guest's real-mode stack (SS:SP, SP kept in the
// low 16 bits of ESP) the way the BIOS expects a real interrupt to.
func push16(f *V8086Frame, mem Memory, v uint16) {
	f.ESP = (f.ESP &^ 0xffff) | uint32(uint16(f.ESP)-2)
	mem.WriteWord(segOffToLinear(f.SS, f.ESP&0xffff), v)
}

func pop16(f *V8086Frame, mem Memory) uint16 {
	addr := segOffToLinear(f.SS, f.ESP&0xffff)
	v := mem.ReadWord(addr)
	f.ESP = (f.ESP &^ 0xffff) | uint32(uint16(f.ESP)+2)
	return v
}

// pushfMask32 is the flag subset a 32-bit pushf exposes to the guest.
const pushfMask32 = 0xdff

// EmulateGPF decodes and executes the single instruction that trapped into
// the #GP handler while EFLAGS.VM was set, then advances EIP past it. It
// reports true when the emulated instruction was the final iret out of the
// v8086 session: either SS:SP has come all the way back up to stackBase
// (the synthetic frame is gone), or CS:IP landed on the lone iret
// instruction the stack guard below stackBase plants to catch a misbehaving
// far return. The caller (dispatch) then runs the assembly-side v8086ExitFn
// to tear the v8086 frame down and resume in protected mode.
//
// The opcode table covers everything a BIOS handler traps on under VM:
// operand/address-size prefixes, pushf/popf, iret, cli/sti, int n (with the
// INT 15h AH=87h block-move special case), and the eight port I/O forms.
func EmulateGPF(f *V8086Frame, mem Memory, io PortIO, stackBase uint32) (exited bool) {
	addr := f.csIP()
	op := mem.ReadByte(addr)
	size := uint32(1)

	// 0x66 widens the operand below; 0x67 only skips (the guest code this
	// emulator faces never mixes address-size into the trapped opcodes).
	op32 := false
	for op == 0x66 || op == 0x67 {
		if op == 0x66 {
			op32 = true
		}
		size++
		op = mem.ReadByte(addr + size - 1)
	}

	switch op {
	case 0x9c: // pushf
		if op32 {
			f.ESP = (f.ESP &^ 0xffff) | uint32(uint16(f.ESP)-4)
			mem.WriteDword(segOffToLinear(f.SS, f.ESP&0xffff), f.EFlags&pushfMask32)
		} else {
			push16(f, mem, uint16(f.EFlags))
		}

	case 0x9d: // popf
		var flags uint32
		if op32 {
			flags = mem.ReadDword(segOffToLinear(f.SS, f.ESP&0xffff))
			f.ESP = (f.ESP &^ 0xffff) | uint32(uint16(f.ESP)+4)
		} else {
			flags = uint32(pop16(f, mem))
		}
		f.EFlags = flags | cpu.EFlagsVM

	case 0xcf: // iret
		// iret inside the stack guard: a far return popped the guard's
		// CS=0 frame and ran the planted iret one word above stackBase.
		if f.EIP == stackBase+4 && f.CS == 0 {
			exited = true
			return
		}
		// final iret: the synthetic entry frame has been consumed and
		// SP is back at the stack base.
		if f.ESP&0xffff == stackBase&0xffff {
			exited = true
			return
		}
		f.EIP = uint32(pop16(f, mem))
		f.CS = uint32(pop16(f, mem))
		f.EFlags = (f.EFlags &^ 0xffff) | uint32(pop16(f, mem))
		return

	case 0xfa: // cli
		f.EFlags &^= cpu.EFlagsIF

	case 0xfb: // sti
		f.EFlags |= cpu.EFlagsIF

	case 0xcd: // int n
		n := mem.ReadByte(addr + size)
		size++
		if n == 0x15 && uint8(f.EAX>>8) == 0x87 {
			blockMove(f, mem)
		} else {
			push16(f, mem, uint16(f.EFlags))
			push16(f, mem, uint16(f.CS))
			push16(f, mem, uint16(f.EIP)+uint16(size))
			vec := segOffToLinear(0, uint32(n)*4)
			f.EIP = uint32(mem.ReadWord(vec))
			f.CS = uint32(mem.ReadWord(vec + 2))
			return
		}

	case 0xe4: // in al, imm8
		port := uint16(mem.ReadByte(addr + size))
		size++
		f.EAX = (f.EAX &^ 0xff) | uint32(io.InB(port))

	case 0xe5: // in ax/eax, imm8
		port := uint16(mem.ReadByte(addr + size))
		size++
		if op32 {
			f.EAX = io.InL(port)
		} else {
			f.EAX = (f.EAX &^ 0xffff) | uint32(io.InW(port))
		}

	case 0xe6: // out imm8, al
		port := uint16(mem.ReadByte(addr + size))
		size++
		io.OutB(port, uint8(f.EAX))

	case 0xe7: // out imm8, ax/eax
		port := uint16(mem.ReadByte(addr + size))
		size++
		if op32 {
			io.OutL(port, f.EAX)
		} else {
			io.OutW(port, uint16(f.EAX))
		}

	case 0xec: // in al, dx
		f.EAX = (f.EAX &^ 0xff) | uint32(io.InB(uint16(f.EDX)))

	case 0xed: // in ax/eax, dx
		if op32 {
			f.EAX = io.InL(uint16(f.EDX))
		} else {
			f.EAX = (f.EAX &^ 0xffff) | uint32(io.InW(uint16(f.EDX)))
		}

	case 0xee: // out dx, al
		io.OutB(uint16(f.EDX), uint8(f.EAX))

	case 0xef: // out dx, ax/eax
		if op32 {
			io.OutL(uint16(f.EDX), f.EAX)
		} else {
			io.OutW(uint16(f.EDX), uint16(f.EAX))
		}

	default:
		panic("v8086: unsupported opcode trapped to #GP")
	}

	f.EIP += size
	return
}

// blockMove implements the INT 15h AH=87h "move block" BIOS call real-mode
// bootloaders/BIOS shims use to copy above the 1 MiB boundary without a
// protected-mode transition: ES:SI points at a GDT describing the source
// and destination, CX holds the word count. The copy is performed here
// rather than by the real BIOS handler, since the guest's temporary GDT
// entries don't exist in the kernel's own GDT.
func blockMove(f *V8086Frame, mem Memory) {
	gdt := segOffToLinear(f.ES, uint32(uint16(f.ESI)))
	// Descriptor 2 (source) and 3 (destination) each carry their base split
	// across bytes 2-4 (bits 0-23) and byte 7 (bits 24-31) of an 8-byte
	// descriptor, the layout the BIOS's GDT convention for this call uses.
	srcBase := uint32(mem.ReadByte(gdt+2*8+2)) | uint32(mem.ReadByte(gdt+2*8+3))<<8 |
		uint32(mem.ReadByte(gdt+2*8+4))<<16 | uint32(mem.ReadByte(gdt+2*8+7))<<24
	dstBase := uint32(mem.ReadByte(gdt+3*8+2)) | uint32(mem.ReadByte(gdt+3*8+3))<<8 |
		uint32(mem.ReadByte(gdt+3*8+4))<<16 | uint32(mem.ReadByte(gdt+3*8+7))<<24
	words := uint16(f.ECX)

	for i := uint32(0); i < uint32(words); i++ {
		mem.WriteWord(dstBase+i*2, mem.ReadWord(srcBase+i*2))
	}

	f.EAX = 0
	f.EFlags &^= cpu.EFlagsCF
}

// ForwardIRQToBIOS re-vectors a hardware interrupt that fired while the CPU
// was executing in v8086 mode into the guest's own real-mode IVT (irq<8
// maps to IVT vector irq+8, irq>=8 maps to irq+0x68) so BIOS-installed
// real-mode handlers still see their expected vector numbers instead of
// Helium's own IRQBase-relative ones.
func ForwardIRQToBIOS(f *V8086Frame, mem Memory, irq uint8) {
	var vec uint8
	if irq < 8 {
		vec = irq + 8
	} else {
		vec = irq + 0x68
	}

	// The BIOS handler runs the usual real-mode epilogue, including its own
	// EOI to the PIC, so none is sent here.
	ivt := uint32(vec) * 4
	push16(f, mem, uint16(f.EFlags))
	push16(f, mem, uint16(f.CS))
	push16(f, mem, uint16(f.EIP))
	f.EIP = uint32(mem.ReadWord(ivt))
	f.CS = uint32(mem.ReadWord(ivt + 2))
}

// Regs16 is the real-mode register set a synthetic BIOS call is entered
// with and returns its results in.
type Regs16 struct {
	AX, BX, CX, DX, SI, DI, ES, DS uint16
}

// BiosInt performs a synchronous call into the real BIOS interrupt vector n,
// entering v8086 mode with regs loaded, running until the guest executes
// the matching iret, and returning the resulting EFLAGS (so callers can
// test EFLAGS.CF for the BIOS's own success/failure convention).
//
// v8086EnterFn is the architecture-specific half: it switches the CPU into
// v8086 mode at the IVT-supplied CS:IP with regs installed, and returns
// once EmulateGPF reports the final iret (SP back at stackBase, or a far
// return caught by the stack guard).
func BiosInt(n uint8, regs *Regs16, mem Memory, ivtBase, stackBase uint32) uint32 {
	vec := ivtBase + uint32(n)*4
	entryIP := mem.ReadWord(vec)
	entryCS := mem.ReadWord(vec + 2)

	// Plant the stack guard just below the entry SP: a frame returning
	// into CS=0 at the word past it, where a lone iret waits, in case some
	// BIOS code attempts to leave with a far return instead of an iret.
	mem.WriteWord(stackBase, uint16(stackBase+4))
	mem.WriteWord(stackBase+2, 0)
	mem.WriteWord(stackBase+4, 0xcf)

	f := &V8086Frame{
		EAX: uint32(regs.AX), EBX: uint32(regs.BX),
		ECX: uint32(regs.CX), EDX: uint32(regs.DX),
		ESI: uint32(regs.SI), EDI: uint32(regs.DI),
		ES: uint32(regs.ES), DS: uint32(regs.DS),
		EIP: uint32(entryIP), CS: uint32(entryCS),
		EFlags: cpu.EFlagsVM,
		SS:     0,
		ESP:    stackBase,
	}

	eflags := v8086EnterFn(f, stackBase)

	regs.AX, regs.BX = uint16(f.EAX), uint16(f.EBX)
	regs.CX, regs.DX = uint16(f.ECX), uint16(f.EDX)
	regs.SI, regs.DI = uint16(f.ESI), uint16(f.EDI)
	regs.ES, regs.DS = uint16(f.ES), uint16(f.DS)
	return eflags
}

// v8086EnterFn/v8086ExitFn are package vars (rather than direct calls to
// the assembly-backed functions below) so tests can stand in a fake guest,
// the same seam idiom kernel/mem/vmm uses for its CR3/TLB hooks.
var (
	v8086EnterFn = v8086Enter
	v8086ExitFn  = v8086Exit
)

// v8086Enter switches the CPU into v8086 mode with f installed, disabling
// paging around the mode switch and saving the kernel stack pointer into
// TSS.esp0, and returns once the guest leaves again (an iret matching the
// stack-base/stack-guard exit conditions, detected via EmulateGPF).
// Architecture-specific assembly, not part of these sources.
func v8086Enter(f *V8086Frame, stackBase uint32) (eflags uint32)

// v8086Exit tears down the v8086 frame after EmulateGPF reports the guest
// executed the exit iret, restoring the kernel's own esp0/stack and
// resuming the caller of BiosInt (or, for an IRQ-time exit, the originally
// interrupted protected-mode task). Architecture-specific assembly, not
// part of these sources.
func v8086Exit(f *V8086Frame)
