// Package kalloc provides heap-backed containers for kernel code: a boxed
// value, a growable sequence and a reference counted value. Container
// contents live in heap memory and are accessed through the MMU.
package kalloc

import (
	"bytes"
	"encoding/binary"

	"gokern/kernel"
	"gokern/kernel/heap"
	"gokern/kernel/mm"
)

const wordSize = 8

var (
	// ErrUnsupportedType is returned for values without a fixed-size
	// binary encoding.
	ErrUnsupportedType = &kernel.Error{Module: "kalloc", Message: "value has no fixed-size encoding"}

	// ErrIndexOutOfRange is returned when accessing an element past the
	// end of a Vec.
	ErrIndexOutOfRange = &kernel.Error{Module: "kalloc", Message: "index out of range"}

	// ErrDropped is returned when using a container after Drop.
	ErrDropped = &kernel.Error{Module: "kalloc", Message: "use of dropped value"}

	errEncoding = &kernel.Error{Module: "kalloc", Message: "value encoding failed"}
)

// Memory provides byte-level access to heap memory.
type Memory interface {
	heap.Memory
	ReadBytes(addr mm.VirtAddr, dst []byte) *kernel.Error
	WriteBytes(addr mm.VirtAddr, src []byte) *kernel.Error
}

// Heap couples the global allocator with the memory it hands out.
type Heap struct {
	alloc heap.Global
	mem   Memory
}

// New returns a Heap that allocates from alloc and accesses memory via mem.
func New(alloc heap.Allocator, mem Memory) *Heap {
	return &Heap{alloc: heap.Global{Allocator: alloc}, mem: mem}
}

// encodedSize returns the size of the binary encoding of v.
func encodedSize(v interface{}) (uintptr, *kernel.Error) {
	size := binary.Size(v)
	if size < 0 {
		return 0, ErrUnsupportedType
	}
	return uintptr(size), nil
}

func (h *Heap) store(addr uintptr, v interface{}) *kernel.Error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return errEncoding
	}
	return h.mem.WriteBytes(mm.VirtAddr(addr), buf.Bytes())
}

func (h *Heap) load(addr, size uintptr, v interface{}) *kernel.Error {
	buf := make([]byte, size)
	if err := h.mem.ReadBytes(mm.VirtAddr(addr), buf); err != nil {
		return err
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, v); err != nil {
		return errEncoding
	}
	return nil
}
