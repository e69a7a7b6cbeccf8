// Package gate implements the interrupt descriptor table and the
// architectural protocol the CPU follows when delivering an exception or
// interrupt through it.
package gate

import (
	"unsafe"

	"gokern/kernel/cpu"
)

const (
	// gateTypeInterrupt is the type/attribute byte for a present, ring 0,
	// 64-bit interrupt gate.
	gateTypeInterrupt = 0x8e

	// gatePresent is the present bit of the type/attribute byte.
	gatePresent = 0x80

	// stubBase is the address of the first interrupt entry stub. Each
	// vector has a stubSize byte stub that jumps to the dispatcher.
	stubBase = uint64(0xffffffff80100000)
	stubSize = 16

	// frameSize is the size of the frame pushed by the CPU: RIP, CS,
	// RFLAGS, RSP and SS.
	frameSize = 5 * 8

	// errorCodeSize is the size of the error code pushed for exceptions
	// that have one.
	errorCodeSize = 8

	// rflagsIF is the interrupt enable flag in RFLAGS; bit 1 is reserved
	// and always set.
	rflagsIF       = 1 << 9
	rflagsReserved = 1 << 1
)

// Handler is invoked with the saved register state when its vector is
// delivered. Handlers may modify the register snapshot; RIP is used when
// execution resumes.
type Handler func(*Registers)

// Descriptor is a 16-byte 64-bit IDT gate descriptor.
type Descriptor struct {
	OffsetLow    uint16
	Selector     uint16
	IST          uint8
	TypeAttr     uint8
	OffsetMiddle uint16
	OffsetHigh   uint32
	Reserved     uint32
}

// Present returns true if the gate can be used for delivery.
func (d Descriptor) Present() bool {
	return d.TypeAttr&gatePresent != 0
}

// Offset returns the address of the entry point referenced by the gate.
func (d Descriptor) Offset() uint64 {
	return uint64(d.OffsetLow) | uint64(d.OffsetMiddle)<<16 | uint64(d.OffsetHigh)<<32
}

func (d *Descriptor) setOffset(addr uint64) {
	d.OffsetLow = uint16(addr)
	d.OffsetMiddle = uint16(addr >> 16)
	d.OffsetHigh = uint32(addr >> 32)
}

// Table is an interrupt descriptor table with one gate and one handler slot
// per vector. All gates are initially marked as non-present and must be
// explicitly enabled via a call to HandleInterrupt.
type Table struct {
	entries  [256]Descriptor
	handlers [256]Handler

	codeSelector cpu.SegmentSelector
	cpu          *cpu.CPU
}

// NewTable returns an empty table whose gates will use codeSelector.
func NewTable(codeSelector cpu.SegmentSelector) *Table {
	return &Table{codeSelector: codeSelector}
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. The value of the istOffset argument
// specifies the offset in the interrupt stack table (if 0 then IST is not
// used; n selects IST slot n-1).
func (t *Table) HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler Handler) {
	entry := &t.entries[intNumber]
	*entry = Descriptor{
		Selector: uint16(t.codeSelector),
		IST:      istOffset & 0x7,
		TypeAttr: gateTypeInterrupt,
	}
	entry.setOffset(stubBase + uint64(intNumber)*stubSize)
	t.handlers[intNumber] = handler
}

// Entry returns the gate descriptor for intNumber.
func (t *Table) Entry(intNumber InterruptNumber) Descriptor {
	return t.entries[intNumber]
}

// Load loads the table into the IDT register of c. From this point on
// vectors raised on c are delivered through the table.
func (t *Table) Load(c *cpu.CPU) {
	t.cpu = c
	c.LoadIDT(cpu.DescriptorTablePointer{
		Limit: uint16(unsafe.Sizeof(t.entries)) - 1,
		Base:  uintptr(unsafe.Pointer(&t.entries[0])),
	}, t.deliver)
}

// deliver implements the CPU side of interrupt delivery: select the gate,
// switch to the IST stack if the gate asks for one, push the interrupt
// frame, mask interrupts, run the handler and return with IRETQ.
//
// A failure to deliver an exception (non-present gate, empty IST slot or a
// frame push hitting the guard page) escalates to a double fault. A failure
// to deliver a double fault resets the CPU.
func (t *Table) deliver(vector uint8, info uint64) {
	var (
		c       = t.cpu
		num     = InterruptNumber(vector)
		gate    = t.entries[vector]
		handler = t.handlers[vector]
		size    = uint64(frameSize)
	)

	if num.HasErrorCode() {
		size += errorCodeSize
	}

	if !gate.Present() || handler == nil {
		t.deliveryFailed(num)
		return
	}

	var (
		interruptedRSP = c.RSP()
		prevStack      = c.Stack()
		switched       bool
	)

	if gate.IST != 0 {
		tss := c.TaskState()
		if tss == nil {
			t.deliveryFailed(num)
			return
		}

		istStack, ok := tss.InterruptStack(gate.IST - 1)
		if !ok {
			t.deliveryFailed(num)
			return
		}

		c.SwitchStack(istStack, istStack.Top)
		switched = true
	}

	if !c.Push(size) {
		c.WriteCR2(c.RSP() - size)
		if switched {
			c.SwitchStack(prevStack, interruptedRSP)
		}
		t.deliveryFailed(num)
		return
	}

	regs := &Registers{
		Info:   info,
		RIP:    c.RIP(),
		CS:     uint64(c.CS()),
		RFlags: rflagsReserved,
		RSP:    interruptedRSP,
	}
	if c.InterruptsEnabled() {
		regs.RFlags |= rflagsIF
	}

	c.DisableInterrupts()
	handler(regs)

	if c.Halted() {
		return
	}

	// IRETQ
	c.Pop(size)
	if switched {
		c.SwitchStack(prevStack, interruptedRSP)
	}
	c.SetRIP(regs.RIP)
	if regs.RFlags&rflagsIF != 0 {
		c.EnableInterrupts()
	}
}

func (t *Table) deliveryFailed(num InterruptNumber) {
	if num == DoubleFault {
		t.cpu.TripleFault()
		return
	}

	t.deliver(uint8(DoubleFault), 0)
}
