package vmm

import (
	"gokern/kernel"
	"gokern/kernel/mm"
)

// Translate returns the physical address that corresponds to the supplied
// virtual address. If the address is not mapped Translate returns false and
// a nil error. Huge pages above the final level are rejected with
// ErrHugePageUnsupported.
//
// Translate only reads the page tables; it neither consults nor updates the
// TLB.
func (m *Mapper) Translate(virtAddr mm.VirtAddr) (mm.PhysAddr, bool, *kernel.Error) {
	var (
		physAddr mm.PhysAddr
		mapped   bool
		err      *kernel.Error
	)

	walkErr := m.walk(virtAddr, func(pteLevel uint8, _ PageTable, _ uint16, pte pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == pageLevels-1 {
			// Calculate the physical address by taking the physical frame
			// address and appending the offset from the virtual address
			physAddr = pte.Frame().Address() + mm.PhysAddr(PageOffset(virtAddr))
			mapped = true
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = ErrHugePageUnsupported
			return false
		}

		return true
	})

	if walkErr != nil {
		return 0, false, walkErr
	}
	if err != nil {
		return 0, false, err
	}

	return physAddr, mapped, nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr mm.VirtAddr) uint64 {
	return uint64(virtAddr) & ((1 << pageLevelShifts[pageLevels-1]) - 1)
}
