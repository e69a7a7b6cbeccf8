package mm

import "testing"

func TestNewVirtAddr(t *testing.T) {
	specs := []struct {
		input  uint64
		exp    VirtAddr
		expErr bool
	}{
		{0, 0, false},
		{0x0000_7fff_ffff_ffff, 0x0000_7fff_ffff_ffff, false},
		{0xffff_8000_0000_0000, 0xffff_8000_0000_0000, false},
		// bit 47 set with clear upper bits gets sign-extended
		{0x0000_8000_0000_1000, 0xffff_8000_0000_1000, false},
		{0x0001_0000_0000_0000, 0, true},
		{0x8000_0000_0000_0000, 0, true},
	}

	for specIndex, spec := range specs {
		got, err := NewVirtAddr(spec.input)
		switch {
		case spec.expErr && err != ErrNonCanonicalAddr:
			t.Errorf("[spec %d] expected ErrNonCanonicalAddr; got %v", specIndex, err)
		case !spec.expErr && err != nil:
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
		case !spec.expErr && got != spec.exp:
			t.Errorf("[spec %d] expected 0x%x; got 0x%x", specIndex, spec.exp, got)
		}
	}
}

func TestVirtAddrIndices(t *testing.T) {
	// This address breaks down to:
	// p4 index: 1
	// p3 index: 2
	// p2 index: 3
	// p1 index: 4
	// offset  : 1024
	addr := VirtAddr(0x8080604400)

	if got := addr.P4Index(); got != 1 {
		t.Errorf("expected p4 index 1; got %d", got)
	}
	if got := addr.P3Index(); got != 2 {
		t.Errorf("expected p3 index 2; got %d", got)
	}
	if got := addr.P2Index(); got != 3 {
		t.Errorf("expected p2 index 3; got %d", got)
	}
	if got := addr.P1Index(); got != 4 {
		t.Errorf("expected p1 index 4; got %d", got)
	}
	if got := addr.PageOffset(); got != 1024 {
		t.Errorf("expected page offset 1024; got %d", got)
	}
}

func TestNewPhysAddr(t *testing.T) {
	if _, err := NewPhysAddr(0x000f_ffff_ffff_ffff); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := NewPhysAddr(0x0010_0000_0000_0000); err != ErrPhysAddrRange {
		t.Fatalf("expected ErrPhysAddrRange; got %v", err)
	}
}

func TestAlign(t *testing.T) {
	specs := []struct {
		addr, align    uint64
		expUp, expDown uint64
	}{
		{0, 8, 0, 0},
		{1, 8, 8, 0},
		{8, 8, 8, 8},
		{4097, 4096, 8192, 4096},
	}

	for specIndex, spec := range specs {
		if got := AlignUp(spec.addr, spec.align); got != spec.expUp {
			t.Errorf("[spec %d] expected AlignUp to return %d; got %d", specIndex, spec.expUp, got)
		}
		if got := AlignDown(spec.addr, spec.align); got != spec.expDown {
			t.Errorf("[spec %d] expected AlignDown to return %d; got %d", specIndex, spec.expDown, got)
		}
	}
}
