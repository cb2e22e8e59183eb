package mem

// Fixed memory layout constants shared by the paging, v8086 and boot
// sequencing code. These are fixed by convention rather than discovered at
// runtime, since a freestanding kernel has no concept of a configuration
// file.
const (
	// KernelLoadAddr is the physical address the kernel image is linked
	// at by the bootloader (multiboot or the MBR stub).
	KernelLoadAddr = 0x100000 // 1 MiB

	// V8086StackBase is the physical (and, during a v8086 session,
	// linear) address used as the top of the synthetic real-mode stack
	// that BIOS calls run on.
	V8086StackBase = 0x2000

	// MaxKernelMemorySizeLegacy caps the amount of physical memory the
	// legacy (non-PAE) buddy allocator will manage.
	MaxKernelMemorySizeLegacy = Size(126) * Mb

	// MaxKernelMemorySizePAE caps the amount of physical memory the PAE
	// variant will manage: a 2^36 byte implementation cap.
	MaxKernelMemorySizePAE = Size(1) << 36
)
