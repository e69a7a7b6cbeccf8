package vmm

import (
	"testing"

	"gokern/kernel/cpu"
	"gokern/kernel/mm"
	"gokern/kernel/mm/pmm"
)

func TestMapAndTranslate(t *testing.T) {
	defer func(origFlush func(*cpu.CPU, mm.VirtAddr)) { flushTLBEntryFn = origFlush }(flushTLBEntryFn)

	var flushed []mm.VirtAddr
	flushTLBEntryFn = func(_ *cpu.CPU, virtAddr mm.VirtAddr) { flushed = append(flushed, virtAddr) }

	m := newTestMachine(t)
	page := mm.PageFromAddress(0xdeadbeef000)
	frame := mm.Frame(40)

	if _, mapped, err := m.mapper.Translate(page.Address()); err != nil || mapped {
		t.Fatalf("expected page to be unmapped; got mapped=%t err=%v", mapped, err)
	}

	if err := m.mapper.Map(page, frame, FlagRW, m); err != nil {
		t.Fatal(err)
	}

	if m.allocs != 3 {
		t.Fatalf("expected 3 intermediate tables to be allocated; got %d", m.allocs)
	}

	if len(flushed) != 1 || flushed[0] != page.Address() {
		t.Fatalf("expected the TLB entry for %x to be flushed; got %v", page.Address(), flushed)
	}

	specs := []struct {
		virtAddr mm.VirtAddr
		expPhys  mm.PhysAddr
	}{
		{page.Address(), frame.Address()},
		{page.Address() + 0x123, frame.Address() + 0x123},
		{page.Address() + 0xfff, frame.Address() + 0xfff},
	}

	for specIndex, spec := range specs {
		phys, mapped, err := m.mapper.Translate(spec.virtAddr)
		if err != nil || !mapped {
			t.Errorf("[spec %d] expected address to be mapped; got mapped=%t err=%v", specIndex, mapped, err)
			continue
		}

		if phys != spec.expPhys {
			t.Errorf("[spec %d] expected physical address %x; got %x", specIndex, spec.expPhys, phys)
		}
	}

	// A neighbouring page shares the intermediate tables.
	if err := m.mapper.Map(page+1, frame+1, FlagRW, m); err != nil {
		t.Fatal(err)
	}

	if m.allocs != 3 {
		t.Fatalf("expected intermediate tables to be reused; got %d allocations", m.allocs)
	}
}

func TestMapErrors(t *testing.T) {
	t.Run("already mapped", func(t *testing.T) {
		m := newTestMachine(t)
		page := mm.PageFromAddress(0x400000)

		if err := m.mapper.Map(page, 40, FlagRW, m); err != nil {
			t.Fatal(err)
		}

		if err := m.mapper.Map(page, 41, FlagRW, m); err != ErrPageAlreadyMapped {
			t.Fatalf("expected to get ErrPageAlreadyMapped; got %v", err)
		}

		if phys, _, _ := m.mapper.Translate(page.Address()); phys != mm.Frame(40).Address() {
			t.Fatalf("expected the original mapping to be kept; got %x", phys)
		}
	})

	t.Run("out of frames", func(t *testing.T) {
		m := newTestMachine(t)

		if err := m.mapper.Map(mm.PageFromAddress(0x400000), 40, FlagRW, pmm.NullAllocator{}); err != pmm.ErrOutOfMemory {
			t.Fatalf("expected to get ErrOutOfMemory; got %v", err)
		}
	})

	t.Run("huge page", func(t *testing.T) {
		m := newTestMachine(t)
		virtAddr := mm.VirtAddr(0x40000000)

		// Install a 1GiB page at level 3.
		var pte pageTableEntry
		pte.SetFlags(FlagPresent | FlagRW)
		pte.SetFrame(2)
		if err := m.mapper.ActiveTable().setEntry(virtAddr.P4Index(), pte); err != nil {
			t.Fatal(err)
		}
		m.nextFrame = 3

		pte = 0
		pte.SetFlags(FlagPresent | FlagRW | FlagHugePage)
		if err := (PageTable{frame: 2, window: m.mapper.window}).setEntry(virtAddr.P3Index(), pte); err != nil {
			t.Fatal(err)
		}

		if err := m.mapper.Map(mm.PageFromAddress(virtAddr), 40, FlagRW, m); err != ErrHugePageUnsupported {
			t.Fatalf("expected Map to return ErrHugePageUnsupported; got %v", err)
		}

		if _, _, err := m.mapper.Translate(virtAddr); err != ErrHugePageUnsupported {
			t.Fatalf("expected Translate to return ErrHugePageUnsupported; got %v", err)
		}

		if err := m.mapper.Unmap(mm.PageFromAddress(virtAddr)); err != ErrHugePageUnsupported {
			t.Fatalf("expected Unmap to return ErrHugePageUnsupported; got %v", err)
		}
	})
}

func TestUnmap(t *testing.T) {
	defer func(origFlush func(*cpu.CPU, mm.VirtAddr)) { flushTLBEntryFn = origFlush }(flushTLBEntryFn)

	flushCount := 0
	flushTLBEntryFn = func(_ *cpu.CPU, _ mm.VirtAddr) { flushCount++ }

	m := newTestMachine(t)
	page := mm.PageFromAddress(0x7f0000000000)

	if err := m.mapper.Unmap(page); err != ErrInvalidMapping {
		t.Fatalf("expected unmapping an absent page to return ErrInvalidMapping; got %v", err)
	}

	if err := m.mapper.Map(page, 40, FlagRW, m); err != nil {
		t.Fatal(err)
	}

	if err := m.mapper.Unmap(page); err != nil {
		t.Fatal(err)
	}

	if flushCount != 2 {
		t.Fatalf("expected Map and Unmap to flush the TLB entry; got %d flushes", flushCount)
	}

	if _, mapped, err := m.mapper.Translate(page.Address()); err != nil || mapped {
		t.Fatalf("expected page to be unmapped; got mapped=%t err=%v", mapped, err)
	}

	if err := m.mapper.Unmap(page); err != ErrInvalidMapping {
		t.Fatalf("expected a second Unmap to return ErrInvalidMapping; got %v", err)
	}

	// The frame can be mapped again.
	if err := m.mapper.Map(page, 41, FlagRW, m); err != nil {
		t.Fatal(err)
	}
}

func TestPageOffset(t *testing.T) {
	specs := []struct {
		virtAddr mm.VirtAddr
		exp      uint64
	}{
		{0x1000, 0},
		{0x1234, 0x234},
		{0xffff800000000fff, 0xfff},
	}

	for specIndex, spec := range specs {
		if got := PageOffset(spec.virtAddr); got != spec.exp {
			t.Errorf("[spec %d] expected offset %x; got %x", specIndex, spec.exp, got)
		}
	}
}
