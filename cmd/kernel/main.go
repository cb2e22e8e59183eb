// Command kernel is the freestanding entrypoint linked into the bootable
// kernel image. It exists only as a trampoline: the rt0 assembly code calls
// main after setting up the GDT and a minimal g0 struct, and a direct,
// non-inlined call out to kmain.Kmain is what keeps the Go compiler from
// treating the entire kernel package graph as unreachable dead code.
package main

import "helium/kernel/kmain"

// The rt0 assembly writes these before jumping to main: the multiboot info
// pointer handed over in EBX and the physical extent of the loaded kernel
// image as reported by the linker script. Routing them through package-level
// variables (rather than reading them inside Kmain) also stops the compiler
// from inlining the call away: a call whose arguments depend on package
// state can't be proven to have no observable effect.
var (
	multibootInfoPtr uintptr
	kernelStart      uintptr
	kernelEnd        uintptr
)

func main() {
	kmain.Kmain(multibootInfoPtr, kernelStart, kernelEnd)
}
