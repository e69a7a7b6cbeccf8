// Package vmm implements the 4-level x86-64 paging structures: translating
// virtual addresses by walking the active page table, installing new
// mappings and CPU-side memory access through the TLB.
package vmm

import (
	"gokern/kernel"
	"gokern/kernel/cpu"
	"gokern/kernel/mm"
	"gokern/kernel/mm/physmem"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrHugePageUnsupported is returned when a walk meets a huge page
	// above the final page table level.
	ErrHugePageUnsupported = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}

	// ErrPageAlreadyMapped is returned by Map when the page already points
	// to a frame.
	ErrPageAlreadyMapped = &kernel.Error{Module: "vmm", Message: "page is already mapped"}

	// flushTLBEntryFn is used by tests to observe TLB invalidations.
	flushTLBEntryFn = func(c *cpu.CPU, virtAddr mm.VirtAddr) {
		c.FlushTLBEntry(uint64(virtAddr))
	}
)

// Mapper manipulates the page tables reachable from the CPU's CR3 register.
// Tables are accessed through the physical memory window.
type Mapper struct {
	cpu    *cpu.CPU
	window *physmem.Window
}

// NewMapper returns a Mapper for the page tables activated on c.
func NewMapper(c *cpu.CPU, window *physmem.Window) *Mapper {
	return &Mapper{cpu: c, window: window}
}

// ActiveTable returns the level 4 table pointed to by CR3.
func (m *Mapper) ActiveTable() PageTable {
	return PageTable{
		frame:  mm.FrameFromAddress(mm.PhysAddr(m.cpu.ActivePDT() & ptePhysPageMask)),
		window: m.window,
	}
}

// PhysicalMemoryOffset returns the virtual address at which the mapper
// reaches physical memory.
func (m *Mapper) PhysicalMemoryOffset() mm.VirtAddr {
	return m.window.Offset()
}
