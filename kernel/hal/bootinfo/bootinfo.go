package bootinfo

import (
	"gokern/kernel/cpu"
	"gokern/kernel/mm"
)

// BootInfo is handed by the bootloader to the kernel entry point. The
// kernel reads it once during bring-up.
type BootInfo struct {
	// PhysicalMemoryOffset is the virtual address at which the whole of
	// physical memory is mapped.
	PhysicalMemoryOffset mm.VirtAddr

	// MemoryMap describes every physical memory region and what it holds.
	MemoryMap *MemoryMap

	// KernelStack is the stack the kernel entry point runs on. The page
	// below its bottom is left unmapped.
	KernelStack cpu.Stack

	// KernelImage is the virtual address range of the loaded kernel image.
	KernelImage, KernelImageEnd mm.VirtAddr
}
