package vmm

import (
	"gokern/kernel"
	"gokern/kernel/mm"
	"gokern/kernel/mm/pmm"
)

// Map establishes a mapping between a virtual page and a physical memory
// frame using the currently active page directory table. Missing
// intermediate tables are allocated from frames, cleared and linked with
// Present|RW. The TLB entry for the page is flushed once the mapping is in
// place.
//
// Map fails with ErrPageAlreadyMapped if the page already points to a frame
// and with ErrHugePageUnsupported if the walk crosses a huge page.
func (m *Mapper) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, frames pmm.FrameAllocator) *kernel.Error {
	var err *kernel.Error

	walkErr := m.walk(page.Address(), func(pteLevel uint8, table PageTable, index uint16, pte pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagPresent) {
				err = ErrPageAlreadyMapped
				return false
			}

			pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			if err = table.setEntry(index, pte); err == nil {
				flushTLBEntryFn(m.cpu, page.Address())
			}
			return false
		}

		if pte.HasFlags(FlagPresent | FlagHugePage) {
			err = ErrHugePageUnsupported
			return false
		}

		if pte.HasFlags(FlagPresent) {
			return true
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it, clear its contents and link it.
		var newTableFrame mm.Frame
		if newTableFrame, err = frames.AllocFrame(); err != nil {
			return false
		}

		next := PageTable{frame: newTableFrame, window: m.window}
		if err = next.clear(); err != nil {
			return false
		}

		pte = 0
		pte.SetFrame(newTableFrame)
		pte.SetFlags(FlagPresent | FlagRW)
		if err = table.setEntry(index, pte); err != nil {
			return false
		}

		return true
	})

	if walkErr != nil {
		return walkErr
	}
	return err
}

// Unmap removes a mapping previously installed via a call to Map and
// flushes its TLB entry. The frame is not released.
func (m *Mapper) Unmap(page mm.Page) *kernel.Error {
	var err *kernel.Error

	walkErr := m.walk(page.Address(), func(pteLevel uint8, table PageTable, index uint16, pte pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		// If we reached the last level all we need to do is to set the
		// page as non-present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			if err = table.setEntry(index, pte); err == nil {
				flushTLBEntryFn(m.cpu, page.Address())
			}
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = ErrHugePageUnsupported
			return false
		}

		return true
	})

	if walkErr != nil {
		return walkErr
	}
	return err
}
