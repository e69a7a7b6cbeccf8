// Package bootinfo defines the information the bootloader hands to the
// kernel (the physical memory map, the offset of the physical memory window
// and the kernel stack) together with a loader that produces it.
package bootinfo

import (
	"github.com/google/btree"

	"gokern/kernel"
	"gokern/kernel/mm"
)

var (
	// ErrInvalidRegion is returned for regions whose end does not lie
	// past their start.
	ErrInvalidRegion = &kernel.Error{Module: "bootinfo", Message: "memory region is empty or inverted"}

	// ErrOverlappingRegion is returned when a region overlaps a region
	// already present in the map.
	ErrOverlappingRegion = &kernel.Error{Module: "bootinfo", Message: "memory region overlaps an existing region"}

	// ErrReserveRange is returned when a reservation does not fall inside a
	// single usable region.
	ErrReserveRange = &kernel.Error{Module: "bootinfo", Message: "reserved range is not inside a usable region"}
)

// MemoryRegionType tags the contents of a MemoryRegion.
type MemoryRegionType uint8

const (
	// MemUsable indicates that the region is free RAM.
	MemUsable MemoryRegionType = iota

	// MemReserved indicates that the region is not available for use.
	MemReserved

	// MemFrameZero marks the first physical frame, which is never handed
	// out so that a zero physical address always means "none".
	MemFrameZero

	// MemPageTable holds the page tables built by the bootloader.
	MemPageTable

	// MemBootloader holds the bootloader image.
	MemBootloader

	// MemKernel holds the kernel image.
	MemKernel

	// MemKernelStack holds the initial kernel stack.
	MemKernelStack

	// MemBootInfo holds the boot information structure.
	MemBootInfo
)

// String implements fmt.Stringer for MemoryRegionType.
func (t MemoryRegionType) String() string {
	switch t {
	case MemUsable:
		return "usable"
	case MemReserved:
		return "reserved"
	case MemFrameZero:
		return "frame zero"
	case MemPageTable:
		return "page table"
	case MemBootloader:
		return "bootloader"
	case MemKernel:
		return "kernel"
	case MemKernelStack:
		return "kernel stack"
	case MemBootInfo:
		return "boot info"
	default:
		return "unknown"
	}
}

// MemoryRegion describes the physical address range [Start, End) and the
// type of its contents.
type MemoryRegion struct {
	Start, End mm.PhysAddr
	Type       MemoryRegionType
}

// Size returns the length of the region in bytes.
func (r MemoryRegion) Size() mm.Size {
	return mm.Size(r.End - r.Start)
}

// Contains returns true if addr lies inside the region.
func (r MemoryRegion) Contains(addr mm.PhysAddr) bool {
	return addr >= r.Start && addr < r.End
}

// MemoryMap is the set of non-overlapping physical memory regions reported
// by the bootloader, ordered by start address.
type MemoryMap struct {
	regions *btree.BTreeG[MemoryRegion]
}

func regionLess(a, b MemoryRegion) bool {
	return a.Start < b.Start
}

// NewMemoryMap returns a memory map populated with the supplied regions.
func NewMemoryMap(regions ...MemoryRegion) (*MemoryMap, *kernel.Error) {
	m := &MemoryMap{regions: btree.NewG(8, regionLess)}
	for _, r := range regions {
		if err := m.Add(r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add inserts r into the map.
func (m *MemoryMap) Add(r MemoryRegion) *kernel.Error {
	if r.End <= r.Start {
		return ErrInvalidRegion
	}

	// Only the region with the greatest start address below r.End can
	// overlap r; its predecessors end before it starts.
	var overlap bool
	m.regions.DescendLessOrEqual(MemoryRegion{Start: r.End - 1}, func(prev MemoryRegion) bool {
		overlap = prev.End > r.Start
		return false
	})
	if overlap {
		return ErrOverlappingRegion
	}

	m.regions.ReplaceOrInsert(r)
	return nil
}

// RegionAt returns the region containing addr.
func (m *MemoryMap) RegionAt(addr mm.PhysAddr) (MemoryRegion, bool) {
	var (
		found  MemoryRegion
		exists bool
	)

	m.regions.DescendLessOrEqual(MemoryRegion{Start: addr}, func(r MemoryRegion) bool {
		found, exists = r, r.Contains(addr)
		return false
	})

	return found, exists
}

// Reserve retags [start, end) with typ. The range must lie inside a single
// usable region; the remainder of that region stays usable. A reserved range
// that directly follows a region of the same type is merged into it.
func (m *MemoryMap) Reserve(start, end mm.PhysAddr, typ MemoryRegionType) *kernel.Error {
	if end <= start {
		return ErrInvalidRegion
	}

	host, ok := m.RegionAt(start)
	if !ok || host.Type != MemUsable || end > host.End {
		return ErrReserveRange
	}

	m.regions.Delete(host)
	if host.Start < start {
		m.regions.ReplaceOrInsert(MemoryRegion{Start: host.Start, End: start, Type: MemUsable})
	}
	if end < host.End {
		m.regions.ReplaceOrInsert(MemoryRegion{Start: end, End: host.End, Type: MemUsable})
	}

	reserved := MemoryRegion{Start: start, End: end, Type: typ}
	if start > 0 {
		if prev, ok := m.RegionAt(start - 1); ok && prev.Type == typ {
			m.regions.Delete(prev)
			reserved.Start = prev.Start
		}
	}
	m.regions.ReplaceOrInsert(reserved)
	return nil
}

// Visit invokes visitor for each region in ascending address order until it
// returns false.
func (m *MemoryMap) Visit(visitor func(MemoryRegion) bool) {
	m.regions.Ascend(func(r MemoryRegion) bool {
		return visitor(r)
	})
}

// Regions returns a copy of all regions in ascending address order.
func (m *MemoryMap) Regions() []MemoryRegion {
	out := make([]MemoryRegion, 0, m.regions.Len())
	m.Visit(func(r MemoryRegion) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Len returns the number of regions in the map.
func (m *MemoryMap) Len() int {
	return m.regions.Len()
}

// Size returns the total size of regions with type typ.
func (m *MemoryMap) Size(typ MemoryRegionType) mm.Size {
	var total mm.Size
	m.Visit(func(r MemoryRegion) bool {
		if r.Type == typ {
			total += r.Size()
		}
		return true
	})
	return total
}
