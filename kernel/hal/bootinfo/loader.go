package bootinfo

import (
	"gokern/kernel"
	"gokern/kernel/cpu"
	"gokern/kernel/mm"
	"gokern/kernel/mm/physmem"
)

const (
	// hugePageSize is the size of a page mapped by a level 2 entry.
	hugePageSize = 2 * mm.Mb

	entryPresent  = 1 << 0
	entryWritable = 1 << 1
	entryHugePage = 1 << 7
	entryAddrMask = 0x000ffffffffff000
)

var (
	// ErrLoaderConfig is returned when the loader is asked to place the
	// physical memory window or the kernel at an unusable address.
	ErrLoaderConfig = &kernel.Error{Module: "bootloader", Message: "physical memory offset must be canonical and 2MiB aligned"}

	// ErrLoaderOutOfMemory is returned when the usable RAM cannot hold the
	// kernel image, its stack and the page tables.
	ErrLoaderOutOfMemory = &kernel.Error{Module: "bootloader", Message: "not enough usable RAM to load the kernel"}
)

// Loader stands in for the bootloader. It carves the bootloader image, the
// kernel image, the kernel stack and its own page tables out of the usable
// RAM reported by the firmware, builds and activates a level 4 page table
// and hands the resulting BootInfo to the kernel.
//
// The active page table maps all of physical memory at PhysicalMemoryOffset
// using 2MiB pages and the kernel image and stack using 4KiB pages.
type Loader struct {
	CPU   *cpu.CPU
	Arena *physmem.Arena

	// Firmware is the RAM layout as reported by the platform firmware.
	Firmware []MemoryRegion

	PhysicalMemoryOffset mm.VirtAddr

	BootloaderSize mm.Size

	KernelBase mm.VirtAddr
	KernelSize mm.Size

	// KernelStackBase is the address of the guard page; the stack occupies
	// the KernelStackSize bytes above it.
	KernelStackBase mm.VirtAddr
	KernelStackSize mm.Size
}

// Load prepares the machine for the kernel and returns the boot information.
// On return CR3 points to the new level 4 table and the CPU runs on the
// kernel stack.
func (l *Loader) Load() (*BootInfo, *kernel.Error) {
	if _, err := mm.NewVirtAddr(uint64(l.PhysicalMemoryOffset)); err != nil || uint64(l.PhysicalMemoryOffset)%uint64(hugePageSize) != 0 {
		return nil, ErrLoaderConfig
	}

	memMap, err := NewMemoryMap(l.Firmware...)
	if err != nil {
		return nil, err
	}

	if r, ok := memMap.RegionAt(0); ok && r.Type == MemUsable && r.End >= mm.PhysAddr(mm.PageSize) {
		if err = memMap.Reserve(0, mm.PhysAddr(mm.PageSize), MemFrameZero); err != nil {
			return nil, err
		}
	}

	if _, err = l.allocFrames(memMap, l.BootloaderSize.Pages(), MemBootloader); err != nil {
		return nil, err
	}

	kernelFrames, err := l.allocFrames(memMap, l.KernelSize.Pages(), MemKernel)
	if err != nil {
		return nil, err
	}

	stackFrames, err := l.allocFrames(memMap, l.KernelStackSize.Pages(), MemKernelStack)
	if err != nil {
		return nil, err
	}

	p4, err := l.allocFrame(memMap, MemPageTable)
	if err != nil {
		return nil, err
	}

	for phys := uint64(0); phys < uint64(l.Arena.Size()); phys += uint64(hugePageSize) {
		if err = l.mapPage(memMap, p4, l.PhysicalMemoryOffset+mm.VirtAddr(phys), mm.PhysAddr(phys), true); err != nil {
			return nil, err
		}
	}

	for i, frame := range kernelFrames {
		if err = l.mapPage(memMap, p4, l.KernelBase+mm.VirtAddr(uint64(i)<<mm.PageShift), frame.Address(), false); err != nil {
			return nil, err
		}
	}

	stack := cpu.Stack{
		Bottom: uint64(l.KernelStackBase) + uint64(mm.PageSize),
		Top:    uint64(l.KernelStackBase) + uint64(mm.PageSize) + uint64(len(stackFrames))<<mm.PageShift,
	}
	for i, frame := range stackFrames {
		if err = l.mapPage(memMap, p4, mm.VirtAddr(stack.Bottom)+mm.VirtAddr(uint64(i)<<mm.PageShift), frame.Address(), false); err != nil {
			return nil, err
		}
	}

	if _, err = l.allocFrame(memMap, MemBootInfo); err != nil {
		return nil, err
	}

	l.CPU.SwitchPDT(uint64(p4.Address()))
	l.CPU.SetStack(stack)
	l.CPU.SetRIP(uint64(l.KernelBase))

	return &BootInfo{
		PhysicalMemoryOffset: l.PhysicalMemoryOffset,
		MemoryMap:            memMap,
		KernelStack:          stack,
		KernelImage:          l.KernelBase,
		KernelImageEnd:       l.KernelBase + mm.VirtAddr(uint64(len(kernelFrames))<<mm.PageShift),
	}, nil
}

// allocFrame takes the lowest usable frame that is backed by RAM, retags it
// with typ and clears its contents.
func (l *Loader) allocFrame(memMap *MemoryMap, typ MemoryRegionType) (mm.Frame, *kernel.Error) {
	frame := mm.InvalidFrame
	memMap.Visit(func(r MemoryRegion) bool {
		if r.Type != MemUsable {
			return true
		}

		start := mm.AlignUp(uint64(r.Start), uint64(mm.PageSize))
		if start+uint64(mm.PageSize) > uint64(r.End) || !l.Arena.Contains(mm.PhysAddr(start), mm.PageSize) {
			return true
		}

		frame = mm.FrameFromAddress(mm.PhysAddr(start))
		return false
	})

	if !frame.Valid() {
		return mm.InvalidFrame, ErrLoaderOutOfMemory
	}

	if err := memMap.Reserve(frame.Address(), frame.Address()+mm.PhysAddr(mm.PageSize), typ); err != nil {
		return mm.InvalidFrame, err
	}

	return frame, l.Arena.ZeroFrame(frame)
}

func (l *Loader) allocFrames(memMap *MemoryMap, count uint64, typ MemoryRegionType) ([]mm.Frame, *kernel.Error) {
	frames := make([]mm.Frame, 0, count)
	for ; count > 0; count-- {
		frame, err := l.allocFrame(memMap, typ)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// nextTable returns the table referenced by entry index of table, allocating
// and linking a zeroed table if the entry is not present.
func (l *Loader) nextTable(memMap *MemoryMap, table mm.Frame, index uint16) (mm.Frame, *kernel.Error) {
	entryAddr := table.Address() + mm.PhysAddr(index)<<mm.PointerShift

	entry, err := l.Arena.ReadUint64(entryAddr)
	if err != nil {
		return mm.InvalidFrame, err
	}

	if entry&entryPresent != 0 {
		return mm.FrameFromAddress(mm.PhysAddr(entry & entryAddrMask)), nil
	}

	next, err := l.allocFrame(memMap, MemPageTable)
	if err != nil {
		return mm.InvalidFrame, err
	}

	return next, l.Arena.WriteUint64(entryAddr, uint64(next.Address())|entryPresent|entryWritable)
}

func (l *Loader) mapPage(memMap *MemoryMap, p4 mm.Frame, virt mm.VirtAddr, phys mm.PhysAddr, huge bool) *kernel.Error {
	p3, err := l.nextTable(memMap, p4, virt.P4Index())
	if err != nil {
		return err
	}

	p2, err := l.nextTable(memMap, p3, virt.P3Index())
	if err != nil {
		return err
	}

	if huge {
		return l.Arena.WriteUint64(
			p2.Address()+mm.PhysAddr(virt.P2Index())<<mm.PointerShift,
			uint64(phys)|entryPresent|entryWritable|entryHugePage,
		)
	}

	p1, err := l.nextTable(memMap, p2, virt.P2Index())
	if err != nil {
		return err
	}

	return l.Arena.WriteUint64(
		p1.Address()+mm.PhysAddr(virt.P1Index())<<mm.PointerShift,
		uint64(phys)|entryPresent|entryWritable,
	)
}
