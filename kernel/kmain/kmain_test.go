package kmain

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"gokern/kernel"
	"gokern/kernel/config"
	"gokern/kernel/hal/bootinfo"
	"gokern/kernel/hal/emu"
	"gokern/kernel/heap"
	"gokern/kernel/kfmt"
	"gokern/kernel/mm"
	"gokern/kernel/pic"
)

func bootMachine(t *testing.T) (*emu.Machine, *bootinfo.BootInfo, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	m, err := emu.NewMachine(cfg.RAMSize())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	t.Cleanup(func() {
		kfmt.SetOutputSink(nil)
		m.Close()
	})

	info, err := cfg.Loader(m.CPU, m.RAM).Load()
	if err != nil {
		t.Fatal(err)
	}
	return m, info, &buf
}

func TestBootReachesReady(t *testing.T) {
	m, info, _ := bootMachine(t)

	k := New(m, DefaultHeapOptions())
	if k.Stage() != StageUninitialized {
		t.Fatalf("expected stage %s; got %s", StageUninitialized, k.Stage())
	}

	if err := k.Boot(info); err != nil {
		t.Fatal(err)
	}

	if k.Stage() != StageReady {
		t.Fatalf("expected stage %s; got %s", StageReady, k.Stage())
	}

	if got, exp := m.CPU.TaskRegister(), k.GDT().TSSSelector(); got != exp {
		t.Errorf("expected TR to hold selector %#x; got %#x", exp, got)
	}

	if m.CPU.CS() != k.GDT().KernelCodeSelector() {
		t.Error("expected CS to be reloaded with the kernel code selector")
	}

	if m.CPU.IDTR().Base == 0 {
		t.Error("expected the IDT to be loaded")
	}

	if m.PIC.Master.Offset() != pic.MasterOffset || m.PIC.Slave.Offset() != pic.SlaveOffset {
		t.Errorf("expected controllers remapped to %d/%d; got %d/%d", pic.MasterOffset, pic.SlaveOffset, m.PIC.Master.Offset(), m.PIC.Slave.Offset())
	}

	if !m.CPU.InterruptsEnabled() {
		t.Error("expected interrupts to be enabled")
	}

	firstPage, lastPage := mm.PageRange(heap.HeapStart, heap.HeapSize)
	for page := firstPage; page <= lastPage; page++ {
		if _, ok, err := k.Mapper().Translate(page.Address()); err != nil || !ok {
			t.Fatalf("expected heap page %#x to be mapped; got ok=%t err=%v", page.Address(), ok, err)
		}
	}

	if err := k.Boot(info); err != ErrStageOrder {
		t.Fatalf("expected a second boot to fail with ErrStageOrder; got %v", err)
	}

	if k.Stage() != StageReady {
		t.Fatalf("expected stage to remain %s; got %s", StageReady, k.Stage())
	}
}

func TestStageOrder(t *testing.T) {
	m, info, _ := bootMachine(t)
	k := New(m, DefaultHeapOptions())

	steps := []struct {
		name string
		fn   func() *kernel.Error
		exp  Stage
	}{
		{"LoadDescriptors", func() *kernel.Error { return k.LoadDescriptors() }, StageDescriptorsLoaded},
		{"LoadVectorTable", func() *kernel.Error { return k.LoadVectorTable() }, StageVectorTableLoaded},
		{"RemapController", func() *kernel.Error { return k.RemapController() }, StageControllerRemapped},
		{"EnableInterrupts", func() *kernel.Error { return k.EnableInterrupts() }, StageInterruptsEnabled},
		{"InitHeap", func() *kernel.Error { return k.InitHeap(info) }, StageReady},
	}

	for specIndex, spec := range steps {
		// Every later step must be rejected without changing the stage.
		for _, later := range steps[specIndex+1:] {
			before := k.Stage()
			if err := later.fn(); err != ErrStageOrder {
				t.Fatalf("[spec %d] expected %s to fail with ErrStageOrder; got %v", specIndex, later.name, err)
			}
			if k.Stage() != before {
				t.Fatalf("[spec %d] expected stage to remain %s; got %s", specIndex, before, k.Stage())
			}
		}

		if err := spec.fn(); err != nil {
			t.Fatalf("[spec %d] %s: %v", specIndex, spec.name, err)
		}

		if k.Stage() != spec.exp {
			t.Fatalf("[spec %d] expected stage %s; got %s", specIndex, spec.exp, k.Stage())
		}

		if err := spec.fn(); err != ErrStageOrder {
			t.Fatalf("[spec %d] expected repeating %s to fail with ErrStageOrder; got %v", specIndex, spec.name, err)
		}
	}
}

func TestUnknownStrategy(t *testing.T) {
	m, info, _ := bootMachine(t)

	opts := DefaultHeapOptions()
	opts.Strategy = "buddy"

	k := New(m, opts)
	if err := k.Boot(info); err != ErrUnknownStrategy {
		t.Fatalf("expected ErrUnknownStrategy; got %v", err)
	}

	if k.Stage() != StageInterruptsEnabled {
		t.Fatalf("expected stage %s; got %s", StageInterruptsEnabled, k.Stage())
	}
}

func TestHeapSelfTest(t *testing.T) {
	for _, strategy := range []string{BumpStrategy, FreeListStrategy} {
		t.Run(strategy, func(t *testing.T) {
			m, info, buf := bootMachine(t)

			opts := DefaultHeapOptions()
			opts.Strategy = strategy
			k := New(m, opts)

			if err := k.HeapSelfTest(); err != ErrStageOrder {
				t.Fatalf("expected self test before boot to fail with ErrStageOrder; got %v", err)
			}

			if err := k.Boot(info); err != nil {
				t.Fatal(err)
			}

			if err := k.HeapSelfTest(); err != nil {
				t.Fatal(err)
			}

			out := buf.String()
			for _, exp := range []string{
				"heap_value at 0x444444440000",
				"vec at 0x4444444",
				"current reference count is 2",
				"reference count is 1 now",
			} {
				if !strings.Contains(out, exp) {
					t.Errorf("expected output to contain %q; got:\n%s", exp, out)
				}
			}
		})
	}
}

func TestIdle(t *testing.T) {
	m, info, _ := bootMachine(t)

	k := New(m, DefaultHeapOptions())
	if err := k.Boot(info); err != nil {
		t.Fatal(err)
	}

	m.Timer.Tick()
	if err := k.Idle(context.Background(), func() bool { return k.Handlers().Ticks() >= 1 }); err != nil {
		t.Fatal(err)
	}

	if got := k.Handlers().Ticks(); got != 1 {
		t.Fatalf("expected 1 tick; got %d", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := k.Idle(ctx, func() bool { return false }); err != context.Canceled {
		t.Fatalf("expected context.Canceled; got %v", err)
	}

	m.CPU.DisableInterrupts()
	if err := k.Idle(context.Background(), func() bool { return false }); err != ErrInterruptsDisabled {
		t.Fatalf("expected ErrInterruptsDisabled; got %v", err)
	}

	m.CPU.Halt()
	if err := k.Idle(context.Background(), func() bool { return false }); err != ErrHalted {
		t.Fatalf("expected ErrHalted; got %v", err)
	}
}
