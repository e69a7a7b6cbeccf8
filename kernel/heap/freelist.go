package heap

import (
	"gokern/kernel"
	"gokern/kernel/mm"
)

const (
	// nodeSize is the size of a free list node: the block size followed by
	// the address of the next node.
	nodeSize = 16

	// nodeAlign is the alignment of a free list node.
	nodeAlign = 8
)

// Memory provides access to the memory the free list is threaded through.
type Memory interface {
	ReadUint64(addr mm.VirtAddr) (uint64, *kernel.Error)
	WriteUint64(addr mm.VirtAddr, val uint64) *kernel.Error
}

// FreeListAllocator keeps the free blocks of the heap in a singly linked
// list stored inside the free blocks themselves. Allocations use the first
// block that fits; freed blocks are pushed to the front of the list.
// Adjacent free blocks are not merged.
type FreeListAllocator struct {
	mem  Memory
	head uintptr
}

// NewFreeListAllocator returns an allocator whose free list initially holds
// the whole heap at [heapStart, heapStart+heapSize).
func NewFreeListAllocator(mem Memory, heapStart, heapSize uintptr) (*FreeListAllocator, *kernel.Error) {
	a := &FreeListAllocator{mem: mem}
	if err := a.addFreeRegion(heapStart, heapSize); err != nil {
		return nil, err
	}
	return a, nil
}

// sizeAlign adjusts a request so the block can hold a node once freed.
func sizeAlign(size, align uintptr) (uintptr, uintptr) {
	if align < nodeAlign {
		align = nodeAlign
	}
	size = alignUp(size, nodeAlign)
	if size < nodeSize {
		size = nodeSize
	}
	return size, align
}

func (a *FreeListAllocator) readNode(addr uintptr) (size, next uintptr, err *kernel.Error) {
	var raw uint64
	if raw, err = a.mem.ReadUint64(mm.VirtAddr(addr)); err != nil {
		return 0, 0, err
	}
	size = uintptr(raw)

	if raw, err = a.mem.ReadUint64(mm.VirtAddr(addr + 8)); err != nil {
		return 0, 0, err
	}
	return size, uintptr(raw), nil
}

func (a *FreeListAllocator) setNext(addr, next uintptr) *kernel.Error {
	return a.mem.WriteUint64(mm.VirtAddr(addr+8), uint64(next))
}

// addFreeRegion pushes [addr, addr+size) to the front of the list.
func (a *FreeListAllocator) addFreeRegion(addr, size uintptr) *kernel.Error {
	if alignUp(addr, nodeAlign) != addr || size < nodeSize {
		return ErrInvalidAlignment
	}

	if err := a.mem.WriteUint64(mm.VirtAddr(addr), uint64(size)); err != nil {
		return err
	}
	if err := a.setNext(addr, a.head); err != nil {
		return err
	}

	a.head = addr
	return nil
}

// allocFromRegion returns the address at which a size/align request would
// be placed inside the block. A block is unusable if the request does not
// fit or if the leftover space is too small to hold a node.
func allocFromRegion(regionStart, regionSize, size, align uintptr) (uintptr, bool) {
	allocStart := alignUp(regionStart, align)
	allocEnd := allocStart + size
	regionEnd := regionStart + regionSize

	if allocStart < regionStart || allocEnd < allocStart || allocEnd > regionEnd {
		return 0, false
	}

	if excess := regionEnd - allocEnd; excess > 0 && excess < nodeSize {
		return 0, false
	}

	return allocStart, true
}

// Alloc implements Allocator.
func (a *FreeListAllocator) Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	align, err := checkAlign(align)
	if err != nil {
		return 0, err
	}
	size, align = sizeAlign(size, align)

	var prev uintptr
	for cur := a.head; cur != 0; {
		regionSize, next, err := a.readNode(cur)
		if err != nil {
			return 0, err
		}

		allocStart, ok := allocFromRegion(cur, regionSize, size, align)
		if !ok {
			prev, cur = cur, next
			continue
		}

		// Unlink the block.
		if prev == 0 {
			a.head = next
		} else if err = a.setNext(prev, next); err != nil {
			return 0, err
		}

		allocEnd := allocStart + size
		if excess := cur + regionSize - allocEnd; excess > 0 {
			if err = a.addFreeRegion(allocEnd, excess); err != nil {
				return 0, err
			}
		}

		return allocStart, nil
	}

	return 0, ErrOutOfMemory
}

// Free implements Allocator.
func (a *FreeListAllocator) Free(addr, size, align uintptr) *kernel.Error {
	if _, err := checkAlign(align); err != nil {
		return err
	}
	size, _ = sizeAlign(size, align)
	return a.addFreeRegion(addr, size)
}

// FreeBlocks returns the size of every free block in list order.
func (a *FreeListAllocator) FreeBlocks() ([]uintptr, *kernel.Error) {
	var sizes []uintptr
	for cur := a.head; cur != 0; {
		size, next, err := a.readNode(cur)
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, size)
		cur = next
	}
	return sizes, nil
}
