package vmm

import (
	"encoding/binary"

	"gokern/kernel"
	"gokern/kernel/cpu"
	"gokern/kernel/gate"
	"gokern/kernel/mm"
)

// ErrPageFault is returned by MMU accesses that raised a page fault.
var ErrPageFault = &kernel.Error{Module: "vmm", Message: "page fault"}

// MMU performs CPU-side memory accesses through the TLB and the active page
// tables. An access to an unmapped page, or a write to a read-only page,
// latches the faulting address into CR2, raises a page fault on the CPU and
// fails with ErrPageFault.
//
// Unlike the Mapper's Translate, the MMU honours huge pages the same way the
// hardware does.
type MMU struct {
	cpu    *cpu.CPU
	mapper *Mapper
}

// NewMMU returns an MMU that resolves addresses using mapper.
func NewMMU(c *cpu.CPU, mapper *Mapper) *MMU {
	return &MMU{cpu: c, mapper: mapper}
}

// resolve returns the physical address for virtAddr, filling the TLB on a
// miss.
func (m *MMU) resolve(virtAddr mm.VirtAddr, write bool) (mm.PhysAddr, *kernel.Error) {
	if entry, ok := m.cpu.TLBLookup(uint64(virtAddr)); ok && (entry.Writable || !write) {
		return mm.PhysAddr(entry.FrameAddr + PageOffset(virtAddr)), nil
	}

	var (
		code     PageFaultCode
		pageBase mm.PhysAddr
		writable = true
		found    bool
	)
	if write {
		code |= FaultWrite
	}

	walkErr := m.mapper.walk(virtAddr, func(pteLevel uint8, _ PageTable, _ uint16, pte pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		writable = writable && pte.HasFlags(FlagRW)

		if pteLevel == pageLevels-1 || pte.HasFlags(FlagHugePage) {
			// The entry maps a page spanning all address bits below
			// this level's shift.
			pageMask := uint64(1)<<pageLevelShifts[pteLevel] - 1
			pageBase = mm.PhysAddr(uint64(pte)&ptePhysPageMask&^pageMask) + mm.PhysAddr(uint64(virtAddr)&pageMask&^uint64(mm.PageSize-1))
			found = true
			return false
		}

		return true
	})

	if walkErr != nil {
		return 0, walkErr
	}

	switch {
	case !found:
		return 0, m.fault(virtAddr, code)
	case write && !writable:
		return 0, m.fault(virtAddr, code|FaultProtection)
	}

	m.cpu.TLBFill(uint64(virtAddr), cpu.TLBEntry{FrameAddr: uint64(pageBase), Writable: writable})
	return pageBase + mm.PhysAddr(PageOffset(virtAddr)), nil
}

func (m *MMU) fault(virtAddr mm.VirtAddr, code PageFaultCode) *kernel.Error {
	m.cpu.WriteCR2(uint64(virtAddr))
	m.cpu.Raise(uint8(gate.PageFaultException), uint64(code))
	return ErrPageFault
}

// access invokes fn for each page-contained chunk of [virtAddr,
// virtAddr+size).
func (m *MMU) access(virtAddr mm.VirtAddr, size int, write bool, fn func(phys mm.PhysAddr, off, n int) *kernel.Error) *kernel.Error {
	for off := 0; off < size; {
		cur := virtAddr + mm.VirtAddr(off)
		n := int(uint64(mm.PageSize) - PageOffset(cur))
		if n > size-off {
			n = size - off
		}

		phys, err := m.resolve(cur, write)
		if err != nil {
			return err
		}

		if err = fn(phys, off, n); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// ReadBytes copies len(dst) bytes starting at virtAddr into dst.
func (m *MMU) ReadBytes(virtAddr mm.VirtAddr, dst []byte) *kernel.Error {
	arena := m.mapper.window.Arena()
	return m.access(virtAddr, len(dst), false, func(phys mm.PhysAddr, off, n int) *kernel.Error {
		return arena.ReadBytes(phys, dst[off:off+n])
	})
}

// WriteBytes copies src to memory starting at virtAddr.
func (m *MMU) WriteBytes(virtAddr mm.VirtAddr, src []byte) *kernel.Error {
	arena := m.mapper.window.Arena()
	return m.access(virtAddr, len(src), true, func(phys mm.PhysAddr, off, n int) *kernel.Error {
		return arena.WriteBytes(phys, src[off:off+n])
	})
}

// ReadUint64 reads the little-endian 64-bit value stored at virtAddr.
func (m *MMU) ReadUint64(virtAddr mm.VirtAddr) (uint64, *kernel.Error) {
	var buf [8]byte
	if err := m.ReadBytes(virtAddr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteUint64 stores val at virtAddr in little-endian byte order.
func (m *MMU) WriteUint64(virtAddr mm.VirtAddr, val uint64) *kernel.Error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	return m.WriteBytes(virtAddr, buf[:])
}
