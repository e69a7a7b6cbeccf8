package vmm

import (
	"gokern/kernel"
	"gokern/kernel/mm"
	"gokern/kernel/mm/physmem"
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint64

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags.
type pageTableEntry uint64

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uint64(*pte) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uint64(*pte) &^ uint64(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.FrameFromAddress(mm.PhysAddr(uint64(pte) & ptePhysPageMask))
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = pageTableEntry((uint64(*pte) &^ ptePhysPageMask) | uint64(frame.Address()))
}

// PageTable is a handle to one 512-entry page table stored in a physical
// frame. Entries are read and written through the physical memory window.
type PageTable struct {
	frame  mm.Frame
	window *physmem.Window
}

// Frame returns the physical frame that holds the table.
func (t PageTable) Frame() mm.Frame {
	return t.frame
}

func (t PageTable) entryAddr(index uint16) mm.VirtAddr {
	return t.window.VirtAddr(t.frame.Address()) + mm.VirtAddr(index)<<mm.PointerShift
}

// entry returns the entry at index.
func (t PageTable) entry(index uint16) (pageTableEntry, *kernel.Error) {
	raw, err := t.window.ReadUint64(t.entryAddr(index))
	return pageTableEntry(raw), err
}

// setEntry overwrites the entry at index.
func (t PageTable) setEntry(index uint16, pte pageTableEntry) *kernel.Error {
	return t.window.WriteUint64(t.entryAddr(index), uint64(pte))
}

// clear zeroes all entries of the table.
func (t PageTable) clear() *kernel.Error {
	return t.window.Arena().ZeroFrame(t.frame)
}
