package kalloc

import "gokern/kernel"

// Box owns a single value of type T stored on the heap.
type Box[T any] struct {
	h    *Heap
	addr uintptr
	size uintptr
}

// NewBox moves v to the heap. Allocation failures panic the kernel.
func NewBox[T any](h *Heap, v T) (*Box[T], *kernel.Error) {
	size, err := encodedSize(v)
	if err != nil {
		return nil, err
	}

	b := &Box[T]{h: h, addr: h.alloc.MustAlloc(size, wordSize), size: size}
	if err = h.store(b.addr, v); err != nil {
		return nil, err
	}
	return b, nil
}

// Addr returns the heap address of the value.
func (b *Box[T]) Addr() uintptr { return b.addr }

// Get reads the value.
func (b *Box[T]) Get() (T, *kernel.Error) {
	var v T
	if b.addr == 0 {
		return v, ErrDropped
	}
	err := b.h.load(b.addr, b.size, &v)
	return v, err
}

// Set overwrites the value.
func (b *Box[T]) Set(v T) *kernel.Error {
	if b.addr == 0 {
		return ErrDropped
	}
	return b.h.store(b.addr, v)
}

// Drop releases the heap memory.
func (b *Box[T]) Drop() {
	if b.addr == 0 {
		return
	}
	b.h.alloc.MustFree(b.addr, b.size, wordSize)
	b.addr = 0
}
