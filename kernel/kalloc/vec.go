package kalloc

import (
	"encoding/binary"

	"gokern/kernel"
	"gokern/kernel/mm"
)

const minVecCap = 4

// Vec is a growable sequence of uint64 values stored on the heap. The
// backing array doubles in size when full.
type Vec struct {
	h        *Heap
	addr     uintptr
	len, cap int
}

// NewVec returns an empty Vec. No memory is allocated until the first Push.
func NewVec(h *Heap) *Vec {
	return &Vec{h: h}
}

// Len returns the number of elements.
func (v *Vec) Len() int { return v.len }

// Cap returns the number of elements the backing array can hold.
func (v *Vec) Cap() int { return v.cap }

// Addr returns the heap address of the backing array.
func (v *Vec) Addr() uintptr { return v.addr }

func (v *Vec) elemAddr(i int) mm.VirtAddr {
	return mm.VirtAddr(v.addr + uintptr(i)*wordSize)
}

// grow moves the contents to a backing array with twice the capacity.
func (v *Vec) grow() *kernel.Error {
	newCap := v.cap * 2
	if newCap < minVecCap {
		newCap = minVecCap
	}

	newAddr := v.h.alloc.MustAlloc(uintptr(newCap)*wordSize, wordSize)
	if v.len > 0 {
		buf := make([]byte, v.len*wordSize)
		if err := v.h.mem.ReadBytes(mm.VirtAddr(v.addr), buf); err != nil {
			return err
		}
		if err := v.h.mem.WriteBytes(mm.VirtAddr(newAddr), buf); err != nil {
			return err
		}
	}

	if v.cap > 0 {
		v.h.alloc.MustFree(v.addr, uintptr(v.cap)*wordSize, wordSize)
	}

	v.addr, v.cap = newAddr, newCap
	return nil
}

// Push appends val.
func (v *Vec) Push(val uint64) *kernel.Error {
	if v.len == v.cap {
		if err := v.grow(); err != nil {
			return err
		}
	}

	if err := v.h.mem.WriteUint64(v.elemAddr(v.len), val); err != nil {
		return err
	}
	v.len++
	return nil
}

// Get returns element i.
func (v *Vec) Get(i int) (uint64, *kernel.Error) {
	if i < 0 || i >= v.len {
		return 0, ErrIndexOutOfRange
	}
	return v.h.mem.ReadUint64(v.elemAddr(i))
}

// Set overwrites element i.
func (v *Vec) Set(i int, val uint64) *kernel.Error {
	if i < 0 || i >= v.len {
		return ErrIndexOutOfRange
	}
	return v.h.mem.WriteUint64(v.elemAddr(i), val)
}

// Slice copies the elements out of the heap.
func (v *Vec) Slice() ([]uint64, *kernel.Error) {
	buf := make([]byte, v.len*wordSize)
	if v.len > 0 {
		if err := v.h.mem.ReadBytes(mm.VirtAddr(v.addr), buf); err != nil {
			return nil, err
		}
	}

	out := make([]uint64, v.len)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[i*wordSize:])
	}
	return out, nil
}

// Drop releases the backing array.
func (v *Vec) Drop() {
	if v.cap > 0 {
		v.h.alloc.MustFree(v.addr, uintptr(v.cap)*wordSize, wordSize)
	}
	v.addr, v.len, v.cap = 0, 0, 0
}
