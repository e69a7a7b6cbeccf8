package pmm

import (
	"io"

	"github.com/sirupsen/logrus"

	"gokern/kernel"
	"gokern/kernel/hal/bootinfo"
	"gokern/kernel/kfmt"
	"gokern/kernel/mm"
)

// BootMemAllocator implements a rudimentary physical memory allocator which
// is used to bootstrap the kernel.
//
// The allocator uses the memory map provided by the bootloader to locate the
// usable regions and returns the next available frame in ascending address
// order. Allocations are tracked via an internal counter that contains the
// last allocated frame, so the Nth call always returns the Nth usable frame.
//
// Due to the way that the allocator works, it is not possible to free
// allocated frames.
type BootMemAllocator struct {
	memMap *bootinfo.MemoryMap

	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// lastAllocFrame tracks the last allocated frame number.
	lastAllocFrame mm.Frame
}

// NewBootMemAllocator returns an allocator that hands out the usable frames
// of memMap. The memory map must not change while the allocator is in use.
func NewBootMemAllocator(memMap *bootinfo.MemoryMap) *BootMemAllocator {
	return &BootMemAllocator{memMap: memMap}
}

// AllocFrame scans the usable memory regions reported by the bootloader and
// reserves the next available free frame.
//
// AllocFrame returns ErrOutOfMemory if no more memory can be allocated.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	var err = ErrOutOfMemory

	alloc.memMap.Visit(func(region bootinfo.MemoryRegion) bool {
		if region.Type != bootinfo.MemUsable {
			return true
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the (exclusive) end frame
		regionStartFrame := mm.Frame(mm.AlignUp(uint64(region.Start), uint64(mm.PageSize)) >> mm.PageShift)
		regionEndFrame := mm.Frame(mm.AlignDown(uint64(region.End), uint64(mm.PageSize)) >> mm.PageShift)
		if regionStartFrame >= regionEndFrame {
			return true
		}

		switch {
		case alloc.allocCount == 0 || alloc.lastAllocFrame < regionStartFrame:
			// first allocation or the previous region is exhausted
			alloc.lastAllocFrame = regionStartFrame
		case alloc.lastAllocFrame+1 < regionEndFrame:
			alloc.lastAllocFrame++
		default:
			// this region is exhausted
			return true
		}

		err = nil
		return false
	})

	if err != nil {
		return mm.InvalidFrame, err
	}

	alloc.allocCount++
	return alloc.lastAllocFrame, nil
}

// AllocCount returns the number of frames handed out so far.
func (alloc *BootMemAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

// PrintMemoryMap writes the system's memory map to w.
func (alloc *BootMemAllocator) PrintMemoryMap(w io.Writer) {
	var (
		totalFree  mm.Size
		freeFrames uint64
	)

	kfmt.Fprintf(w, "[boot_mem_alloc] system memory map:\n")
	alloc.memMap.Visit(func(region bootinfo.MemoryRegion) bool {
		kfmt.Fprintf(w, "\t[0x%010x - 0x%010x], size: %10d, type: %s\n", uint64(region.Start), uint64(region.End), uint64(region.Size()), region.Type)

		if region.Type == bootinfo.MemUsable {
			totalFree += region.Size()
			start := mm.AlignUp(uint64(region.Start), uint64(mm.PageSize))
			if end := mm.AlignDown(uint64(region.End), uint64(mm.PageSize)); end > start {
				freeFrames += (end - start) >> mm.PageShift
			}
		}
		return true
	})
	kfmt.Fprintf(w, "[boot_mem_alloc] available memory: %dKb, frames: %d\n", uint64(totalFree/mm.Kb), freeFrames)

	kfmt.Log().WithFields(logrus.Fields{
		"regions":     alloc.memMap.Len(),
		"usable_kb":   uint64(totalFree / mm.Kb),
		"free_frames": freeFrames,
	}).Debug("boot memory map")
}
