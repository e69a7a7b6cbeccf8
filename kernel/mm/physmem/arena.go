// Package physmem provides the machine's physical RAM and the linear window
// through which the kernel reaches it.
//
// RAM is an anonymous host mapping indexed by physical address. All accesses
// are bounds checked; no code outside this package sees the backing slice.
package physmem

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"gokern/kernel"
	"gokern/kernel/mm"
)

var (
	// ErrAddressRange is returned for accesses that fall outside the
	// installed RAM.
	ErrAddressRange = &kernel.Error{Module: "physmem", Message: "physical address outside of installed RAM"}

	// ErrArenaSize is returned when the requested RAM size is zero or not
	// a multiple of the page size.
	ErrArenaSize = &kernel.Error{Module: "physmem", Message: "RAM size must be a non-zero multiple of the page size"}

	// ErrArenaMap is returned when the host refuses to provide the backing
	// memory for the RAM.
	ErrArenaMap = &kernel.Error{Module: "physmem", Message: "unable to map backing memory for RAM"}

	// mmapFn and munmapFn are mocked by tests.
	mmapFn   = unix.Mmap
	munmapFn = unix.Munmap
)

// Arena is the machine's physical RAM. Physical address 0 corresponds to the
// first byte of the arena.
type Arena struct {
	mem []byte
}

// NewArena reserves size bytes of zeroed RAM.
func NewArena(size mm.Size) (*Arena, *kernel.Error) {
	if size == 0 || size&(mm.PageSize-1) != 0 {
		return nil, ErrArenaSize
	}

	mem, err := mmapFn(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, ErrArenaMap
	}

	return &Arena{mem: mem}, nil
}

// Close releases the backing memory. The arena must not be used afterwards.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}

	err := munmapFn(a.mem)
	a.mem = nil
	return err
}

// Size returns the amount of installed RAM.
func (a *Arena) Size() mm.Size {
	return mm.Size(len(a.mem))
}

// FrameCount returns the number of page frames backed by the arena.
func (a *Arena) FrameCount() uint64 {
	return uint64(len(a.mem)) >> mm.PageShift
}

// Contains returns true if the byte range [addr, addr+size) is backed by RAM.
func (a *Arena) Contains(addr mm.PhysAddr, size mm.Size) bool {
	end := uint64(addr) + uint64(size)
	return end >= uint64(addr) && end <= uint64(len(a.mem))
}

// bytes returns the backing slice for [addr, addr+size).
func (a *Arena) bytes(addr mm.PhysAddr, size mm.Size) ([]byte, *kernel.Error) {
	if !a.Contains(addr, size) {
		return nil, ErrAddressRange
	}
	return a.mem[addr : uint64(addr)+uint64(size)], nil
}

// ReadUint64 reads the little-endian 64-bit value stored at addr.
func (a *Arena) ReadUint64(addr mm.PhysAddr) (uint64, *kernel.Error) {
	b, err := a.bytes(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteUint64 stores val at addr in little-endian byte order.
func (a *Arena) WriteUint64(addr mm.PhysAddr, val uint64) *kernel.Error {
	b, err := a.bytes(addr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, val)
	return nil
}

// ReadBytes copies len(dst) bytes starting at addr into dst.
func (a *Arena) ReadBytes(addr mm.PhysAddr, dst []byte) *kernel.Error {
	b, err := a.bytes(addr, mm.Size(len(dst)))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// WriteBytes copies src into RAM starting at addr.
func (a *Arena) WriteBytes(addr mm.PhysAddr, src []byte) *kernel.Error {
	b, err := a.bytes(addr, mm.Size(len(src)))
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

// Memset sets size bytes starting at addr to value. It uses log2(size) copy
// calls instead of a byte loop.
func (a *Arena) Memset(addr mm.PhysAddr, value byte, size mm.Size) *kernel.Error {
	if size == 0 {
		return nil
	}

	target, err := a.bytes(addr, size)
	if err != nil {
		return err
	}

	target[0] = value
	for index := 1; index < len(target); index *= 2 {
		copy(target[index:], target[:index])
	}
	return nil
}

// ZeroFrame clears the contents of frame f.
func (a *Arena) ZeroFrame(f mm.Frame) *kernel.Error {
	return a.Memset(f.Address(), 0, mm.PageSize)
}
