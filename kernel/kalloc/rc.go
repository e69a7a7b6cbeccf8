package kalloc

import (
	"gokern/kernel"
	"gokern/kernel/mm"
)

// Rc is a reference counted value of type T stored on the heap. The strong
// count lives in the word before the value. The value is freed when the
// last handle is dropped.
type Rc[T any] struct {
	h       *Heap
	addr    uintptr
	size    uintptr
	dropped bool
}

// NewRc moves v to the heap with a strong count of 1.
func NewRc[T any](h *Heap, v T) (*Rc[T], *kernel.Error) {
	size, err := encodedSize(v)
	if err != nil {
		return nil, err
	}

	rc := &Rc[T]{h: h, size: size}
	rc.addr = h.alloc.MustAlloc(wordSize+size, wordSize)

	if err = h.mem.WriteUint64(mm.VirtAddr(rc.addr), 1); err != nil {
		return nil, err
	}
	if err = h.store(rc.addr+wordSize, v); err != nil {
		return nil, err
	}
	return rc, nil
}

// Addr returns the heap address of the value.
func (rc *Rc[T]) Addr() uintptr { return rc.addr + wordSize }

// StrongCount returns the number of live handles.
func (rc *Rc[T]) StrongCount() (uint64, *kernel.Error) {
	if rc.dropped {
		return 0, ErrDropped
	}
	return rc.h.mem.ReadUint64(mm.VirtAddr(rc.addr))
}

func (rc *Rc[T]) addCount(delta int64) (uint64, *kernel.Error) {
	count, err := rc.StrongCount()
	if err != nil {
		return 0, err
	}

	count = uint64(int64(count) + delta)
	return count, rc.h.mem.WriteUint64(mm.VirtAddr(rc.addr), count)
}

// Clone returns a new handle to the same value.
func (rc *Rc[T]) Clone() (*Rc[T], *kernel.Error) {
	if _, err := rc.addCount(1); err != nil {
		return nil, err
	}
	return &Rc[T]{h: rc.h, addr: rc.addr, size: rc.size}, nil
}

// Get reads the shared value.
func (rc *Rc[T]) Get() (T, *kernel.Error) {
	var v T
	if rc.dropped {
		return v, ErrDropped
	}
	err := rc.h.load(rc.addr+wordSize, rc.size, &v)
	return v, err
}

// Drop releases this handle. The value is freed with the last handle.
func (rc *Rc[T]) Drop() *kernel.Error {
	count, err := rc.addCount(-1)
	if err != nil {
		return err
	}
	rc.dropped = true

	if count == 0 {
		rc.h.alloc.MustFree(rc.addr, wordSize+rc.size, wordSize)
	}
	return nil
}
