package heap

import (
	"gokern/kernel"
)

// BumpAllocator hands out memory by advancing a pointer through the heap.
// Individual blocks are never reused; the whole heap is reclaimed once
// every outstanding allocation has been freed.
type BumpAllocator struct {
	heapStart, heapEnd uintptr
	next               uintptr
	allocations        int
}

// NewBumpAllocator returns an allocator for the heap at [heapStart,
// heapStart+heapSize).
func NewBumpAllocator(heapStart, heapSize uintptr) *BumpAllocator {
	return &BumpAllocator{
		heapStart: heapStart,
		heapEnd:   heapStart + heapSize,
		next:      heapStart,
	}
}

// Alloc implements Allocator.
func (a *BumpAllocator) Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	align, err := checkAlign(align)
	if err != nil {
		return 0, err
	}

	allocStart := alignUp(a.next, align)
	allocEnd := allocStart + size
	if allocStart < a.next || allocEnd < allocStart || allocEnd > a.heapEnd {
		return 0, ErrOutOfMemory
	}

	a.next = allocEnd
	a.allocations++
	return allocStart, nil
}

// Free implements Allocator. Memory is only reclaimed when the last live
// allocation is freed.
func (a *BumpAllocator) Free(_, _, _ uintptr) *kernel.Error {
	a.allocations--
	if a.allocations == 0 {
		a.next = a.heapStart
	}
	return nil
}

// Next returns the address the next allocation will be placed at, before
// alignment.
func (a *BumpAllocator) Next() uintptr {
	return a.next
}

// Allocations returns the number of live allocations.
func (a *BumpAllocator) Allocations() int {
	return a.allocations
}
