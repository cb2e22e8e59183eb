package kmain

import (
	"helium/kernel"
	"helium/kernel/cpu"
	"helium/kernel/goruntime"
	"helium/kernel/hal"
	"helium/kernel/hal/multiboot"
	"helium/kernel/irq"
	"helium/kernel/kfmt/early"
	"helium/kernel/mem"
	"helium/kernel/mem/heap"
	"helium/kernel/mem/memmap"
	"helium/kernel/mem/pmm/bootalloc"
	"helium/kernel/mem/pmm/buddy"
	"helium/kernel/mem/vmm"
	"helium/kernel/sched"
)

// irqTimer is the PIC line the legacy programmable interval timer fires on.
const irqTimer = 0

// Heap is the kernel's general-purpose allocator, brought up once the
// buddy allocator and paging are both ready. kernel/irq and kernel/sched
// bootstrap code reads this once Kmain has set it.
var Heap *heap.Heap

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// bootAllocRegionSize bounds the scratch region the bump allocator uses to
// carve out the buddy allocator's own metadata block before the buddy
// allocator's own bootstrap can run.
const bootAllocRegionSize = uint64(mem.Mb)

// maxBootRegions bounds the multiboot memory map; anything past it is
// dropped (and logged), not silently misreported.
const maxBootRegions = 32

// Everything Kmain touches before goruntime.SetDirectory runs must live in
// package data: the Go allocator has nothing to satisfy a heap allocation
// with until the buddy allocator and paging are both up.
var (
	bootRegionBuf [maxBootRegions]memmap.Region
	bootChunkBuf  [2*maxBootRegions + 8]memmap.Chunk
	bootMap       memmap.Map

	bootAlloc bootalloc.Allocator
	frames    buddy.Allocator
)

// frameAlloc adapts the package-level buddy allocator to vmm's
// FrameAllocFunc without a bound-method allocation on the boot path.
func frameAlloc(size uint64) uint64 {
	return frames.Alloc(size)
}

// classifyBoot adapts the reconciled memory map to the buddy allocator's
// Info enum. A package-level function (not a closure) so the pre-allocator
// boot path never needs a heap-allocated func value.
func classifyBoot(start, size uint64) buddy.Info {
	switch bootMap.Classify(start, size) {
	case memmap.Usable:
		return buddy.InfoUsable
	case memmap.Partial:
		return buddy.InfoPartial
	default:
		return buddy.InfoReserved
	}
}

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.InitTerminal()
	hal.ActiveTerminal.Clear()
	early.Printf("Starting helium\n")

	regions := bootRegionBuf[:0]
	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		if len(regions) == cap(regions) {
			early.Printf("kmain: memory map truncated to %d regions\n", cap(regions))
			return false
		}
		regions = append(regions, memmap.Region{
			Base:      entry.PhysAddress,
			Size:      entry.Length,
			Available: entry.Type == multiboot.MemAvailable,
		})
		return true
	})

	bootMap = memmap.ReconcileInPlace(regions, bootChunkBuf[:0])

	// The low megabyte stays out of the allocator's hands: BIOS data, the
	// IVT and the v8086 real-mode stack all live there.
	bootMap.Reserve(0, mem.KernelLoadAddr)
	bootMap.Reserve(uint64(kernelStart), uint64(kernelEnd))

	bootRegionStart := (uint64(kernelEnd) + uint64(mem.PageSize) - 1) &^ (uint64(mem.PageSize) - 1)
	bootMap.Reserve(bootRegionStart, bootRegionStart+bootAllocRegionSize)

	if err := bootAlloc.Init(bootRegionStart, bootRegionStart+bootAllocRegionSize); err != nil {
		kernel.Panic(err)
	}

	maxPhys := maxPhysicalAddress(&bootMap)
	managedEnd := maxPhys
	if managedEnd > uint64(mem.MaxKernelMemorySizeLegacy) {
		managedEnd = uint64(mem.MaxKernelMemorySizeLegacy)
	}

	if err := frames.Init(0, managedEnd, mem.PageShift, classifyBoot, &bootAlloc); err != nil {
		kernel.Panic(err)
	}

	dir, err := vmm.Init(maxPhys, frameAlloc)
	if err != nil {
		kernel.Panic(err)
	}
	goruntime.SetDirectory(dir, &frames)

	Heap, err = heap.New(&frames)
	if err != nil {
		kernel.Panic(err)
	}

	sched.SetStackAllocator(func(size uint) uintptr {
		return uintptr(Heap.Malloc(uintptr(size))) + uintptr(size)
	})

	irq.Init()
	irq.SetV8086(irq.IdentityMemory{}, mem.V8086StackBase)
	cpu.PICRemap(uint8(irq.IRQBase), uint8(irq.IRQBase)+8)
	irq.HandleIRQ(irqTimer, sched.TimerTick)
	cpu.PICUnmask(irqTimer)
	cpu.EnableInterrupts()

	sched.Spawn(rootTask)

	// Use kernel.Panic instead of panic to prevent the compiler from
	// treating kernel.Panic as dead-code and eliminating it.
	kernel.Panic(errKmainReturned)
}

// rootTask is the first schedulable task. The drivers and services layered
// on top of the core would be brought up from here; with none wired in, it
// idles, handing its timeslice back so IRQ-kicked tasklets run as soon as
// they're ready.
func rootTask() {
	for {
		sched.Yield()
		cpu.Halt()
	}
}

// maxPhysicalAddress reports the end of the highest chunk memmap reconciled,
// which is the upper bound the buddy allocator and vmm.Init both need to
// size themselves (vmm.Init in particular uses it to decide legacy vs. PAE
// table layout).
func maxPhysicalAddress(m *memmap.Map) uint64 {
	chunks := m.Chunks()
	if len(chunks) == 0 {
		return 0
	}
	return chunks[len(chunks)-1].Base
}
