package mm

import "gokern/kernel"

var (
	// ErrNonCanonicalAddr is returned when the upper bits of a virtual
	// address are not a sign extension of bit 47.
	ErrNonCanonicalAddr = &kernel.Error{Module: "mm", Message: "virtual address is not canonical"}

	// ErrPhysAddrRange is returned for physical addresses that do not fit in
	// 52 bits.
	ErrPhysAddrRange = &kernel.Error{Module: "mm", Message: "physical address exceeds 52 bits"}
)

// VirtAddr is an address in the CPU's linear address space.
type VirtAddr uint64

// NewVirtAddr validates addr and returns it as a VirtAddr. Addresses whose
// bits 48-63 are all clear while bit 47 is set are sign-extended; any other
// address with a mix of set and clear upper bits is rejected.
func NewVirtAddr(addr uint64) (VirtAddr, *kernel.Error) {
	switch addr >> (virtAddrBits - 1) {
	case 0, 0x1ffff:
		return VirtAddr(addr), nil
	case 1:
		return TruncateVirtAddr(addr), nil
	default:
		return 0, ErrNonCanonicalAddr
	}
}

// TruncateVirtAddr sign-extends bit 47 of addr into bits 48-63.
func TruncateVirtAddr(addr uint64) VirtAddr {
	return VirtAddr(uint64(int64(addr<<(64-virtAddrBits)) >> (64 - virtAddrBits)))
}

// P4Index returns the 9-bit index into the level 4 table.
func (a VirtAddr) P4Index() uint16 { return uint16((a >> 39) & 0x1ff) }

// P3Index returns the 9-bit index into the level 3 table.
func (a VirtAddr) P3Index() uint16 { return uint16((a >> 30) & 0x1ff) }

// P2Index returns the 9-bit index into the level 2 table.
func (a VirtAddr) P2Index() uint16 { return uint16((a >> 21) & 0x1ff) }

// P1Index returns the 9-bit index into the level 1 table.
func (a VirtAddr) P1Index() uint16 { return uint16((a >> 12) & 0x1ff) }

// PageOffset returns the offset of the address inside its 4KiB page.
func (a VirtAddr) PageOffset() uint64 { return uint64(a) & uint64(PageSize-1) }

// PhysAddr is an address on the physical memory bus.
type PhysAddr uint64

// NewPhysAddr validates addr and returns it as a PhysAddr.
func NewPhysAddr(addr uint64) (PhysAddr, *kernel.Error) {
	if addr>>physAddrBits != 0 {
		return 0, ErrPhysAddrRange
	}

	return PhysAddr(addr), nil
}

// AlignUp rounds addr up to the next multiple of align. The alignment must be
// a power of 2.
func AlignUp(addr, align uint64) uint64 {
	return (addr + align - 1) &^ (align - 1)
}

// AlignDown rounds addr down to a multiple of align. The alignment must be a
// power of 2.
func AlignDown(addr, align uint64) uint64 {
	return addr &^ (align - 1)
}
