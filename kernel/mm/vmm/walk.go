package vmm

import (
	"gokern/kernel"
	"gokern/kernel/mm"
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level, the table visited at that level,
// the index of the entry selected by the virtual address and the entry
// itself. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, table PageTable, index uint16, pte pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the table pointed to by CR3. It calls the supplied walkFn with the page
// table entry that corresponds to each page table level.
//
// walkFn may rewrite the entry it is handed (e.g. to link a new table);
// walk re-reads the entry before descending to the next level. Errors
// accessing table memory abort the walk and are returned to the caller.
func (m *Mapper) walk(virtAddr mm.VirtAddr, walkFn pageTableWalker) *kernel.Error {
	table := m.ActiveTable()

	for level := uint8(0); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		index := uint16((uint64(virtAddr) >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1))

		pte, err := table.entry(index)
		if err != nil {
			return err
		}

		if !walkFn(level, table, index, pte) {
			return nil
		}

		if level == pageLevels-1 {
			break
		}

		if pte, err = table.entry(index); err != nil {
			return err
		}
		table = PageTable{frame: pte.Frame(), window: m.window}
	}

	return nil
}
