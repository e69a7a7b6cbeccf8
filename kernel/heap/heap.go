// Package heap backs the kernel heap's virtual range with physical frames
// and provides the allocators that hand out memory from it.
package heap

import (
	"gokern/kernel"
	"gokern/kernel/kfmt"
	"gokern/kernel/mm"
)

const (
	// HeapStart is the virtual address of the first byte of the kernel
	// heap.
	HeapStart = mm.VirtAddr(0x4444_4444_0000)

	// HeapSize is the size of the kernel heap.
	HeapSize = 100 * mm.Kb
)

var (
	// ErrOutOfMemory is returned when an allocator cannot satisfy a
	// request.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}

	// ErrInvalidAlignment is returned for alignments that are not a power
	// of two.
	ErrInvalidAlignment = &kernel.Error{Module: "heap", Message: "alignment must be a power of two"}

	// panicFn is used by tests.
	panicFn = kfmt.Panic
)

// Allocator is implemented by heap allocation strategies.
type Allocator interface {
	// Alloc reserves size bytes aligned to align and returns the address
	// of the first byte.
	Alloc(size, align uintptr) (uintptr, *kernel.Error)

	// Free releases a block previously returned by Alloc. The size and
	// alignment must match the values passed to Alloc.
	Free(addr, size, align uintptr) *kernel.Error
}

// alignUp rounds addr up to align, which must be a power of two.
func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// checkAlign validates align and maps the zero alignment to 1.
func checkAlign(align uintptr) (uintptr, *kernel.Error) {
	if align == 0 {
		return 1, nil
	}
	if align&(align-1) != 0 {
		return 0, ErrInvalidAlignment
	}
	return align, nil
}

// Global is the allocation boundary used by kernel code that has no way to
// recover from a failed allocation.
type Global struct {
	Allocator
}

// MustAlloc behaves like Alloc but turns failures into a kernel panic.
func (g Global) MustAlloc(size, align uintptr) uintptr {
	addr, err := g.Alloc(size, align)
	if err != nil {
		panicFn(err)
		return 0
	}
	return addr
}

// MustFree behaves like Free but turns failures into a kernel panic.
func (g Global) MustFree(addr, size, align uintptr) {
	if err := g.Free(addr, size, align); err != nil {
		panicFn(err)
	}
}
