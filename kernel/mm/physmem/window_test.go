package physmem

import (
	"testing"

	"gokern/kernel/mm"
)

func TestWindow(t *testing.T) {
	var (
		arena  = newTestArena(t, 4*mm.PageSize)
		offset = mm.VirtAddr(0x10000000000)
		w      = NewWindow(arena, offset)
	)

	if w.Arena() != arena || w.Offset() != offset {
		t.Fatal("unexpected window configuration")
	}

	if exp, got := offset+0x3000, w.VirtAddr(0x3000); got != exp {
		t.Fatalf("expected window address %x; got %x", exp, got)
	}

	if err := w.WriteUint64(offset+0x2010, 0xcafe); err != nil {
		t.Fatal(err)
	}

	if got, _ := arena.ReadUint64(0x2010); got != 0xcafe {
		t.Fatalf("expected write through the window to land at physical 0x2010; read %x", got)
	}

	if got, err := w.ReadUint64(offset + 0x2010); err != nil || got != 0xcafe {
		t.Fatalf("expected to read 0xcafe through the window; got %x, %v", got, err)
	}

	specs := []mm.VirtAddr{
		offset - 8,
		offset + 4*mm.VirtAddr(mm.PageSize),
	}

	for specIndex, virt := range specs {
		if _, err := w.PhysAddr(virt); err != ErrAddressRange {
			t.Errorf("[spec %d] expected ErrAddressRange for %x; got %v", specIndex, virt, err)
		}
		if _, err := w.ReadUint64(virt); err != ErrAddressRange {
			t.Errorf("[spec %d] expected ErrAddressRange reading %x; got %v", specIndex, virt, err)
		}
		if err := w.WriteUint64(virt, 0); err != ErrAddressRange {
			t.Errorf("[spec %d] expected ErrAddressRange writing %x; got %v", specIndex, virt, err)
		}
	}
}
