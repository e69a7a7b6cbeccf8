// Package irq installs the kernel's exception and hardware interrupt
// handlers.
package irq

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"gokern/kernel"
	"gokern/kernel/cpu"
	"gokern/kernel/gate"
	"gokern/kernel/gdt"
	"gokern/kernel/hal/emu"
	"gokern/kernel/kfmt"
	"gokern/kernel/mm/vmm"
	"gokern/kernel/pic"
)

const (
	// DoubleFaultISTOffset is the gate IST offset that selects the double
	// fault stack.
	DoubleFaultISTOffset = gdt.DoubleFaultISTIndex + 1

	// ScancodeQueueSize is the number of scancodes buffered before new
	// ones are dropped.
	ScancodeQueueSize = 100
)

var (
	errDoubleFault        = &kernel.Error{Module: "irq", Message: "double fault"}
	errUnrecoverableFault = &kernel.Error{Module: "irq", Message: "page fault"}
	errGeneralProtection  = &kernel.Error{Module: "irq", Message: "general protection fault"}

	// panicFn is used by tests.
	panicFn = kfmt.Panic
)

// Handlers holds the state shared between the installed interrupt handlers
// and the rest of the kernel.
type Handlers struct {
	cpu  *cpu.CPU
	pics *pic.ChainedPics

	ticks     uint64
	scancodes *ScancodeQueue
}

// Install registers the exception handlers and the timer and keyboard IRQ
// handlers in idt. The double fault handler runs on the IST stack set up by
// the gdt package.
func Install(idt *gate.Table, c *cpu.CPU, pics *pic.ChainedPics) *Handlers {
	h := &Handlers{
		cpu:       c,
		pics:      pics,
		scancodes: NewScancodeQueue(c),
	}

	idt.HandleInterrupt(gate.Breakpoint, 0, h.breakpoint)
	idt.HandleInterrupt(gate.DoubleFault, DoubleFaultISTOffset, h.doubleFault)
	idt.HandleInterrupt(gate.GPFException, 0, h.generalProtectionFault)
	idt.HandleInterrupt(gate.PageFaultException, 0, h.pageFault)
	idt.HandleInterrupt(gate.InterruptNumber(pics.Vector(emu.TimerIRQ)), 0, h.timer)
	idt.HandleInterrupt(gate.InterruptNumber(pics.Vector(emu.KeyboardIRQ)), 0, h.keyboard)

	return h
}

// Ticks returns the number of timer interrupts serviced so far.
func (h *Handlers) Ticks() uint64 {
	return atomic.LoadUint64(&h.ticks)
}

// Scancodes returns the queue the keyboard handler fills.
func (h *Handlers) Scancodes() *ScancodeQueue {
	return h.scancodes
}

func (h *Handlers) breakpoint(regs *gate.Registers) {
	kfmt.Printf("EXCEPTION: BREAKPOINT\n")
	regs.DumpFrameTo(kfmt.Console())
}

func (h *Handlers) doubleFault(regs *gate.Registers) {
	kfmt.Printf("EXCEPTION: DOUBLE FAULT\n")
	regs.DumpFrameTo(kfmt.Console())
	panicFn(errDoubleFault)
}

// pageFault is invoked when a page table entry is not present or when a RW
// protection check fails.
func (h *Handlers) pageFault(regs *gate.Registers) {
	kfmt.Printf("EXCEPTION: PAGE FAULT\n")
	kfmt.Printf("Accessed Address: 0x%x\n", h.cpu.ReadCR2())
	kfmt.Printf("Error Code: %s\n", vmm.PageFaultCode(regs.Info))
	regs.DumpFrameTo(kfmt.Console())
	panicFn(errUnrecoverableFault)
}

// generalProtectionFault is invoked for segment errors and for privileged
// or reserved operations the CPU refuses to execute.
func (h *Handlers) generalProtectionFault(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault (error code: 0x%x)\n", regs.Info)
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.Console())
	panicFn(errGeneralProtection)
}

func (h *Handlers) timer(_ *gate.Registers) {
	ticks := atomic.AddUint64(&h.ticks, 1)
	kfmt.Log().WithField("ticks", ticks).Trace("timer interrupt")

	h.pics.NotifyEndOfInterrupt(h.pics.Vector(emu.TimerIRQ))
}

func (h *Handlers) keyboard(_ *gate.Registers) {
	scancode := h.cpu.PortReadByte(emu.KeyboardDataPort)
	if !h.scancodes.Push(scancode) {
		kfmt.Log().WithFields(logrus.Fields{
			"scancode": scancode,
			"dropped":  h.scancodes.Dropped(),
		}).Warn("scancode queue full")
	}

	h.pics.NotifyEndOfInterrupt(h.pics.Vector(emu.KeyboardIRQ))
}
