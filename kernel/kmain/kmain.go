// Package kmain drives kernel bring-up: it loads the descriptor tables,
// installs the interrupt handlers, remaps the interrupt controllers, enables
// interrupts and brings up the kernel heap.
package kmain

import (
	"context"

	"github.com/sirupsen/logrus"

	"gokern/kernel"
	"gokern/kernel/cpu"
	"gokern/kernel/gate"
	"gokern/kernel/gdt"
	"gokern/kernel/hal/bootinfo"
	"gokern/kernel/hal/emu"
	"gokern/kernel/heap"
	"gokern/kernel/irq"
	"gokern/kernel/kalloc"
	"gokern/kernel/kfmt"
	"gokern/kernel/mm"
	"gokern/kernel/mm/physmem"
	"gokern/kernel/mm/pmm"
	"gokern/kernel/mm/vmm"
	"gokern/kernel/pic"
)

// Stage is a step of the bring-up sequence.
type Stage uint8

// Bring-up stages in the order they are reached.
const (
	StageUninitialized Stage = iota
	StageDescriptorsLoaded
	StageVectorTableLoaded
	StageControllerRemapped
	StageInterruptsEnabled
	StageReady
)

var stageNames = [...]string{
	"uninitialized",
	"descriptors-loaded",
	"vector-table-loaded",
	"controller-remapped",
	"interrupts-enabled",
	"ready",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// Heap allocation strategies.
const (
	BumpStrategy     = "bump"
	FreeListStrategy = "freelist"
)

var (
	// ErrStageOrder is returned when a bring-up step runs before the
	// steps it depends on or runs twice.
	ErrStageOrder = &kernel.Error{Module: "kmain", Message: "bring-up step out of order"}

	// ErrUnknownStrategy is returned for an unsupported heap allocation
	// strategy.
	ErrUnknownStrategy = &kernel.Error{Module: "kmain", Message: "unknown heap allocation strategy"}

	// ErrHalted is returned by Idle when the CPU stops executing.
	ErrHalted = &kernel.Error{Module: "kmain", Message: "cpu halted"}

	// ErrInterruptsDisabled is returned by Idle when the CPU cannot
	// receive interrupts.
	ErrInterruptsDisabled = &kernel.Error{Module: "kmain", Message: "interrupts are disabled"}
)

// HeapOptions selects the placement and allocation strategy of the kernel
// heap.
type HeapOptions struct {
	Start    mm.VirtAddr
	Size     mm.Size
	Strategy string
}

// DefaultHeapOptions returns the standard heap layout with the free-list
// strategy.
func DefaultHeapOptions() HeapOptions {
	return HeapOptions{Start: heap.HeapStart, Size: heap.HeapSize, Strategy: FreeListStrategy}
}

// Kernel owns every piece of kernel state created during bring-up.
type Kernel struct {
	machine *emu.Machine
	cpu     *cpu.CPU
	opts    HeapOptions
	stage   Stage

	gdt      *gdt.Table
	idt      *gate.Table
	pics     *pic.ChainedPics
	handlers *irq.Handlers

	mapper    *vmm.Mapper
	mmu       *vmm.MMU
	frames    *pmm.BootMemAllocator
	allocator heap.Allocator
	heap      *kalloc.Heap
}

// New returns a kernel that runs on machine. Call Boot, or the individual
// bring-up steps in order, to initialize it.
func New(machine *emu.Machine, opts HeapOptions) *Kernel {
	return &Kernel{machine: machine, cpu: machine.CPU, opts: opts}
}

// Stage returns the last bring-up stage reached.
func (k *Kernel) Stage() Stage { return k.stage }

// advance moves the kernel from stage from to stage to.
func (k *Kernel) advance(from, to Stage) *kernel.Error {
	if k.stage != from {
		kfmt.Log().WithFields(logrus.Fields{
			"stage":    k.stage,
			"expected": from,
		}).Error("bring-up step out of order")
		return ErrStageOrder
	}

	k.stage = to
	kfmt.Log().WithField("stage", to).Info("bring-up stage reached")
	return nil
}

// Boot runs every bring-up step in order using the boot information handed
// over by the bootloader.
func (k *Kernel) Boot(info *bootinfo.BootInfo) *kernel.Error {
	if k.stage != StageUninitialized {
		return ErrStageOrder
	}

	kfmt.SetHaltFn(k.cpu.Halt)

	var err *kernel.Error
	if err = k.LoadDescriptors(); err != nil {
		return err
	} else if err = k.LoadVectorTable(); err != nil {
		return err
	} else if err = k.RemapController(); err != nil {
		return err
	} else if err = k.EnableInterrupts(); err != nil {
		return err
	}
	return k.InitHeap(info)
}

// LoadDescriptors loads the GDT and the task-state segment that provides the
// double fault stack.
func (k *Kernel) LoadDescriptors() *kernel.Error {
	if k.stage != StageUninitialized {
		return ErrStageOrder
	}

	k.gdt = gdt.New()
	k.gdt.Init(k.cpu)
	return k.advance(StageUninitialized, StageDescriptorsLoaded)
}

// LoadVectorTable installs the exception and IRQ handlers and loads the IDT.
func (k *Kernel) LoadVectorTable() *kernel.Error {
	if k.stage != StageDescriptorsLoaded {
		return ErrStageOrder
	}

	k.idt = gate.NewTable(k.gdt.KernelCodeSelector())
	k.pics = pic.NewDefault(k.cpu)
	k.handlers = irq.Install(k.idt, k.cpu, k.pics)
	k.idt.Load(k.cpu)
	return k.advance(StageDescriptorsLoaded, StageVectorTableLoaded)
}

// RemapController moves the legacy interrupt controllers' vectors past the
// CPU exception range.
func (k *Kernel) RemapController() *kernel.Error {
	if k.stage != StageVectorTableLoaded {
		return ErrStageOrder
	}

	k.pics.Initialize()
	return k.advance(StageVectorTableLoaded, StageControllerRemapped)
}

// EnableInterrupts sets RFLAGS.IF.
func (k *Kernel) EnableInterrupts() *kernel.Error {
	if k.stage != StageControllerRemapped {
		return ErrStageOrder
	}

	k.cpu.EnableInterrupts()
	return k.advance(StageControllerRemapped, StageInterruptsEnabled)
}

// InitHeap maps the heap region using frames from the boot memory map and
// sets up the heap allocator.
func (k *Kernel) InitHeap(info *bootinfo.BootInfo) *kernel.Error {
	if k.stage != StageInterruptsEnabled {
		return ErrStageOrder
	}

	window := physmem.NewWindow(k.machine.RAM, info.PhysicalMemoryOffset)
	k.mapper = vmm.NewMapper(k.cpu, window)
	k.mmu = vmm.NewMMU(k.cpu, k.mapper)
	k.frames = pmm.NewBootMemAllocator(info.MemoryMap)

	if err := heap.InitHeap(k.mapper, k.frames, k.opts.Start, k.opts.Size); err != nil {
		return err
	}

	var inner heap.Allocator
	switch k.opts.Strategy {
	case BumpStrategy:
		inner = heap.NewBumpAllocator(uintptr(k.opts.Start), uintptr(k.opts.Size))
	case FreeListStrategy:
		freeList, err := heap.NewFreeListAllocator(k.mmu, uintptr(k.opts.Start), uintptr(k.opts.Size))
		if err != nil {
			return err
		}
		inner = freeList
	default:
		return ErrUnknownStrategy
	}

	k.allocator = heap.NewLocked(k.cpu, inner)
	k.heap = kalloc.New(k.allocator, k.mmu)

	kfmt.Log().WithFields(logrus.Fields{
		"start":    k.opts.Start,
		"size":     k.opts.Size,
		"strategy": k.opts.Strategy,
		"frames":   k.frames.AllocCount(),
	}).Debug("kernel heap ready")

	return k.advance(StageInterruptsEnabled, StageReady)
}

// Idle services interrupts until done returns true. It returns ErrHalted if
// the CPU halts and the context error if ctx is cancelled first.
func (k *Kernel) Idle(ctx context.Context, done func() bool) error {
	for !done() {
		if k.cpu.WaitForInterrupt(ctx) {
			continue
		}

		if k.cpu.Halted() {
			return ErrHalted
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrInterruptsDisabled
	}
	return nil
}

// CPU returns the CPU the kernel runs on.
func (k *Kernel) CPU() *cpu.CPU { return k.cpu }

// GDT returns the loaded descriptor table.
func (k *Kernel) GDT() *gdt.Table { return k.gdt }

// IDT returns the loaded interrupt descriptor table.
func (k *Kernel) IDT() *gate.Table { return k.idt }

// PICs returns the interrupt controller driver.
func (k *Kernel) PICs() *pic.ChainedPics { return k.pics }

// Handlers returns the state of the installed interrupt handlers.
func (k *Kernel) Handlers() *irq.Handlers { return k.handlers }

// Mapper returns the page table mapper.
func (k *Kernel) Mapper() *vmm.Mapper { return k.mapper }

// MMU returns the CPU-side memory accessor.
func (k *Kernel) MMU() *vmm.MMU { return k.mmu }

// Frames returns the boot frame allocator.
func (k *Kernel) Frames() *pmm.BootMemAllocator { return k.frames }

// Allocator returns the heap allocator.
func (k *Kernel) Allocator() heap.Allocator { return k.allocator }

// Heap returns the heap-backed container factory.
func (k *Kernel) Heap() *kalloc.Heap { return k.heap }
