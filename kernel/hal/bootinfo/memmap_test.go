package bootinfo

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gokern/kernel"
	"gokern/kernel/mm"
)

func TestMemoryMapAdd(t *testing.T) {
	specs := []struct {
		region MemoryRegion
		expErr *kernel.Error
	}{
		{MemoryRegion{Start: 0x1000, End: 0x1000}, ErrInvalidRegion},
		{MemoryRegion{Start: 0x2000, End: 0x1000}, ErrInvalidRegion},
		{MemoryRegion{Start: 0x0, End: 0x9f001}, ErrOverlappingRegion},
		{MemoryRegion{Start: 0x9efff, End: 0x9f001}, ErrOverlappingRegion},
		{MemoryRegion{Start: 0x9ffff, End: 0xa0001}, nil},
		{MemoryRegion{Start: 0xfffff, End: 0x100001}, ErrOverlappingRegion},
		{MemoryRegion{Start: 0x9f000, End: 0x100000, Type: MemReserved}, nil},
	}

	for specIndex, spec := range specs {
		m, err := NewMemoryMap(
			MemoryRegion{Start: 0, End: 0x9f000},
			MemoryRegion{Start: 0x100000, End: 0x400000},
		)
		if err != nil {
			t.Fatal(err)
		}

		if err = m.Add(spec.region); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	if _, err := NewMemoryMap(MemoryRegion{Start: 0, End: 0x2000}, MemoryRegion{Start: 0x1000, End: 0x3000}); err != ErrOverlappingRegion {
		t.Fatalf("expected NewMemoryMap to reject overlapping regions; got %v", err)
	}
}

func TestMemoryMapRegionAt(t *testing.T) {
	m, err := NewMemoryMap(
		MemoryRegion{Start: 0x100000, End: 0x400000, Type: MemUsable},
		MemoryRegion{Start: 0x1000, End: 0x9f000, Type: MemUsable},
		MemoryRegion{Start: 0x9f000, End: 0x100000, Type: MemReserved},
	)
	if err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		addr     mm.PhysAddr
		expFound bool
		expStart mm.PhysAddr
	}{
		{0x0, false, 0},
		{0x1000, true, 0x1000},
		{0x9efff, true, 0x1000},
		{0x9f000, true, 0x9f000},
		{0x100000, true, 0x100000},
		{0x3fffff, true, 0x100000},
		{0x400000, false, 0},
	}

	for specIndex, spec := range specs {
		r, found := m.RegionAt(spec.addr)
		if found != spec.expFound {
			t.Errorf("[spec %d] expected found=%t for %x; got %t", specIndex, spec.expFound, spec.addr, found)
			continue
		}

		if found && r.Start != spec.expStart {
			t.Errorf("[spec %d] expected region starting at %x; got %x", specIndex, spec.expStart, r.Start)
		}
	}

	// Regions are returned in ascending order regardless of insertion order.
	exp := []mm.PhysAddr{0x1000, 0x9f000, 0x100000}
	var got []mm.PhysAddr
	for _, r := range m.Regions() {
		got = append(got, r.Start)
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("unexpected region order (-want +got):\n%s", diff)
	}

	if exp, got := mm.Size(0x9e000+0x300000), m.Size(MemUsable); got != exp {
		t.Fatalf("expected %d usable bytes; got %d", exp, got)
	}
}

func TestMemoryMapReserve(t *testing.T) {
	m, err := NewMemoryMap(
		MemoryRegion{Start: 0, End: 0x10000},
		MemoryRegion{Start: 0x10000, End: 0x20000, Type: MemReserved},
	)
	if err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		start, end mm.PhysAddr
		typ        MemoryRegionType
		expErr     *kernel.Error
	}{
		{0x0, 0x1000, MemFrameZero, nil},
		{0x1000, 0x2000, MemKernel, nil},
		// Adjacent reservations of the same type are merged
		{0x2000, 0x3000, MemKernel, nil},
		{0x4000, 0x5000, MemPageTable, nil},
		{0x3000, 0x3000, MemKernel, ErrInvalidRegion},
		{0x1000, 0x2000, MemKernel, ErrReserveRange},
		{0x10000, 0x11000, MemKernel, ErrReserveRange},
		{0x5000, 0x11000, MemKernel, ErrReserveRange},
		{0x20000, 0x21000, MemKernel, ErrReserveRange},
	}

	for stepIndex, step := range steps {
		if err := m.Reserve(step.start, step.end, step.typ); err != step.expErr {
			t.Errorf("[step %d] expected error %v; got %v", stepIndex, step.expErr, err)
		}
	}

	exp := []MemoryRegion{
		{Start: 0x0, End: 0x1000, Type: MemFrameZero},
		{Start: 0x1000, End: 0x3000, Type: MemKernel},
		{Start: 0x3000, End: 0x4000, Type: MemUsable},
		{Start: 0x4000, End: 0x5000, Type: MemPageTable},
		{Start: 0x5000, End: 0x10000, Type: MemUsable},
		{Start: 0x10000, End: 0x20000, Type: MemReserved},
	}
	if diff := cmp.Diff(exp, m.Regions()); diff != "" {
		t.Fatalf("unexpected memory map (-want +got):\n%s", diff)
	}

	if m.Len() != len(exp) {
		t.Fatalf("expected Len to return %d; got %d", len(exp), m.Len())
	}
}

func TestMemoryMapVisitStops(t *testing.T) {
	m, _ := NewMemoryMap(
		MemoryRegion{Start: 0, End: 0x1000},
		MemoryRegion{Start: 0x1000, End: 0x2000},
		MemoryRegion{Start: 0x2000, End: 0x3000},
	)

	var visited int
	m.Visit(func(MemoryRegion) bool {
		visited++
		return visited < 2
	})

	if visited != 2 {
		t.Fatalf("expected visitor to be called twice; got %d", visited)
	}
}

func TestMemoryRegionTypeString(t *testing.T) {
	var buf bytes.Buffer
	for typ := MemUsable; typ <= MemBootInfo+1; typ++ {
		fmt.Fprintf(&buf, "%s,", typ)
	}

	exp := "usable,reserved,frame zero,page table,bootloader,kernel,kernel stack,boot info,unknown,"
	if got := buf.String(); got != exp {
		t.Fatalf("expected %q; got %q", exp, got)
	}
}
