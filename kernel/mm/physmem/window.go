package physmem

import (
	"gokern/kernel"
	"gokern/kernel/mm"
)

// Window exposes the whole arena at a fixed virtual offset: the byte at
// physical address p is reachable at virtual address p + offset. The page
// table walker uses it to reach table frames by their physical address.
type Window struct {
	arena  *Arena
	offset mm.VirtAddr
}

// NewWindow returns a window onto arena starting at the virtual address
// offset.
func NewWindow(arena *Arena, offset mm.VirtAddr) *Window {
	return &Window{arena: arena, offset: offset}
}

// Arena returns the RAM behind the window.
func (w *Window) Arena() *Arena { return w.arena }

// Offset returns the virtual address at which physical address 0 appears.
func (w *Window) Offset() mm.VirtAddr { return w.offset }

// VirtAddr returns the window address of physical address p.
func (w *Window) VirtAddr(p mm.PhysAddr) mm.VirtAddr {
	return w.offset + mm.VirtAddr(p)
}

// PhysAddr returns the physical address reachable at window address virt.
func (w *Window) PhysAddr(virt mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	if virt < w.offset {
		return 0, ErrAddressRange
	}

	phys := mm.PhysAddr(virt - w.offset)
	if !w.arena.Contains(phys, 1) {
		return 0, ErrAddressRange
	}
	return phys, nil
}

// ReadUint64 reads the 64-bit value at window address virt.
func (w *Window) ReadUint64(virt mm.VirtAddr) (uint64, *kernel.Error) {
	phys, err := w.PhysAddr(virt)
	if err != nil {
		return 0, err
	}
	return w.arena.ReadUint64(phys)
}

// WriteUint64 stores val at window address virt.
func (w *Window) WriteUint64(virt mm.VirtAddr, val uint64) *kernel.Error {
	phys, err := w.PhysAddr(virt)
	if err != nil {
		return err
	}
	return w.arena.WriteUint64(phys, val)
}
