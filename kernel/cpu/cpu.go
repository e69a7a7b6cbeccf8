// Package cpu models the x86-64 processor state that the kernel bring-up code
// manipulates: control registers, descriptor-table registers, the interrupt
// flag, the TLB, the I/O port bus and the active stack.
//
// The kernel only interacts with the processor through the primitives exposed
// here, which mirror the privileged instructions the real hardware offers
// (lgdt, lidt, ltr, mov cr3, invlpg, in/out, sti/cli, hlt).
package cpu

import "context"

const (
	// pageFaultVector is the exception raised when a stack push touches the
	// guard page below the active stack.
	pageFaultVector = 14

	// pfWrite is the page-fault error code bit for write accesses.
	pfWrite = 1 << 1
)

// SegmentSelector indexes a descriptor in the GDT. Bits 0-1 hold the
// requested privilege level and bit 2 the table indicator.
type SegmentSelector uint16

// Index returns the descriptor index encoded in the selector.
func (s SegmentSelector) Index() uint16 {
	return uint16(s) >> 3
}

// DescriptorTablePointer is the value loaded into GDTR and IDTR.
type DescriptorTablePointer struct {
	Limit uint16
	Base  uintptr
}

// DeliveryFn is the entry point the CPU jumps to when delivering a vector
// through the loaded IDT. The info argument carries the exception error code.
type DeliveryFn func(vector uint8, info uint64)

// TaskState is implemented by the task-state segment loaded into TR. The CPU
// consults it when a gate requests an interrupt stack table switch.
type TaskState interface {
	// InterruptStack returns the stack stored in IST slot index. It
	// returns false if the slot is empty.
	InterruptStack(index uint8) (Stack, bool)
}

// PortDevice is a device attached to the I/O port bus.
type PortDevice interface {
	ReadPort(port uint16) uint8
	WritePort(port uint16, val uint8)
}

// InterruptController is the device driving the CPU's INTR line.
type InterruptController interface {
	// Acknowledge returns the vector of the highest priority pending
	// request and marks it as in-service.
	Acknowledge() (vector uint8, ok bool)

	// Wake returns a channel that receives a value whenever a new request
	// is raised.
	Wake() <-chan struct{}
}

// Stack describes the bounds of a stack. Stacks grow down from Top; the page
// below Bottom is an unmapped guard page.
type Stack struct {
	Bottom, Top uint64
}

// TLBEntry is a cached page translation.
type TLBEntry struct {
	FrameAddr uint64
	Writable  bool
}

// CPU holds the architectural state of a single core.
type CPU struct {
	cr2, cr3 uint64

	gdtr, idtr DescriptorTablePointer
	cs, tr     SegmentSelector
	tss        TaskState
	deliverFn  DeliveryFn

	interruptsEnabled bool
	halted            bool
	tripleFaulted     bool

	stack Stack
	rsp   uint64
	rip   uint64

	tlb   map[uint64]TLBEntry
	ports map[uint16]PortDevice
	intr  InterruptController
}

// New returns a CPU in its post-reset state: interrupts disabled, no
// descriptor tables loaded and an empty TLB.
func New() *CPU {
	return &CPU{
		tlb:   make(map[uint64]TLBEntry),
		ports: make(map[uint16]PortDevice),
	}
}

// EnableInterrupts enables interrupt handling.
func (c *CPU) EnableInterrupts() { c.interruptsEnabled = true }

// DisableInterrupts disables interrupt handling.
func (c *CPU) DisableInterrupts() { c.interruptsEnabled = false }

// InterruptsEnabled reports the state of RFLAGS.IF.
func (c *CPU) InterruptsEnabled() bool { return c.interruptsEnabled }

// Halt stops instruction execution. Interrupts are disabled first so the
// CPU never resumes.
func (c *CPU) Halt() {
	c.interruptsEnabled = false
	c.halted = true
}

// Halted returns true if the CPU has been halted or reset.
func (c *CPU) Halted() bool { return c.halted }

// TripleFault models a processor reset caused by a fault raised while
// delivering a double fault.
func (c *CPU) TripleFault() {
	c.tripleFaulted = true
	c.Halt()
}

// TripleFaulted returns true if the CPU was reset by a triple fault.
func (c *CPU) TripleFaulted() bool { return c.tripleFaulted }

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func (c *CPU) FlushTLBEntry(virtAddr uint64) {
	delete(c.tlb, virtAddr>>12)
}

// TLBLookup returns the cached translation for the page containing virtAddr.
func (c *CPU) TLBLookup(virtAddr uint64) (TLBEntry, bool) {
	entry, ok := c.tlb[virtAddr>>12]
	return entry, ok
}

// TLBFill caches a translation for the page containing virtAddr.
func (c *CPU) TLBFill(virtAddr uint64, entry TLBEntry) {
	c.tlb[virtAddr>>12] = entry
}

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func (c *CPU) SwitchPDT(pdtPhysAddr uint64) {
	c.cr3 = pdtPhysAddr
	c.tlb = make(map[uint64]TLBEntry)
}

// ActivePDT returns the physical address of the currently active page table.
func (c *CPU) ActivePDT() uint64 { return c.cr3 }

// ReadCR2 returns the value stored in the CR2 register.
func (c *CPU) ReadCR2() uint64 { return c.cr2 }

// WriteCR2 latches the faulting address before a page fault is raised.
func (c *CPU) WriteCR2(addr uint64) { c.cr2 = addr }

// LoadGDT loads the GDT register.
func (c *CPU) LoadGDT(ptr DescriptorTablePointer) { c.gdtr = ptr }

// GDTR returns the value of the GDT register.
func (c *CPU) GDTR() DescriptorTablePointer { return c.gdtr }

// SetCS reloads the code segment register.
func (c *CPU) SetCS(sel SegmentSelector) { c.cs = sel }

// CS returns the active code segment selector.
func (c *CPU) CS() SegmentSelector { return c.cs }

// LoadTaskRegister loads TR with the selector of the task-state segment tss.
func (c *CPU) LoadTaskRegister(sel SegmentSelector, tss TaskState) {
	c.tr = sel
	c.tss = tss
}

// TaskRegister returns the selector loaded in TR.
func (c *CPU) TaskRegister() SegmentSelector { return c.tr }

// TaskState returns the task-state segment loaded in TR or nil.
func (c *CPU) TaskState() TaskState { return c.tss }

// LoadIDT loads the IDT register. Interrupts are delivered to entryFn.
func (c *CPU) LoadIDT(ptr DescriptorTablePointer, entryFn DeliveryFn) {
	c.idtr = ptr
	c.deliverFn = entryFn
}

// IDTR returns the value of the IDT register.
func (c *CPU) IDTR() DescriptorTablePointer { return c.idtr }

// Raise delivers an exception or interrupt vector through the loaded IDT. A
// vector raised while no IDT is loaded resets the CPU.
func (c *CPU) Raise(vector uint8, info uint64) {
	if c.halted {
		return
	}

	if c.deliverFn == nil {
		c.TripleFault()
		return
	}

	c.deliverFn(vector, info)
}

// AttachPort connects dev to the given I/O port.
func (c *CPU) AttachPort(port uint16, dev PortDevice) {
	c.ports[port] = dev
}

// PortWriteByte writes a uint8 value to the requested port. Writes to ports
// without a device are dropped.
func (c *CPU) PortWriteByte(port uint16, val uint8) {
	if dev, ok := c.ports[port]; ok {
		dev.WritePort(port, val)
	}
}

// PortReadByte reads a uint8 value from the requested port. Reads from ports
// without a device return 0xff.
func (c *CPU) PortReadByte(port uint16) uint8 {
	if dev, ok := c.ports[port]; ok {
		return dev.ReadPort(port)
	}
	return 0xff
}

// AttachInterruptController connects ic to the CPU's INTR line.
func (c *CPU) AttachInterruptController(ic InterruptController) {
	c.intr = ic
}

// Step models an instruction boundary: if interrupts are enabled and the
// interrupt controller has a pending request, it is acknowledged and
// delivered. Step returns true if an interrupt was delivered.
func (c *CPU) Step() bool {
	if c.halted || !c.interruptsEnabled || c.intr == nil {
		return false
	}

	vector, ok := c.intr.Acknowledge()
	if !ok {
		return false
	}

	c.Raise(vector, 0)
	return true
}

// WaitForInterrupt executes hlt with interrupts enabled: it blocks until an
// external interrupt is delivered or ctx is cancelled. It returns false if
// no interrupt could be delivered.
func (c *CPU) WaitForInterrupt(ctx context.Context) bool {
	for {
		if c.Step() {
			return true
		}

		if c.halted || !c.interruptsEnabled || c.intr == nil {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-c.intr.Wake():
		}
	}
}

// SetStack makes s the active stack and resets the stack pointer to its top.
func (c *CPU) SetStack(s Stack) {
	c.stack = s
	c.rsp = s.Top
}

// SwitchStack makes s the active stack with the stack pointer set to rsp and
// returns the previous stack and stack pointer.
func (c *CPU) SwitchStack(s Stack, rsp uint64) (Stack, uint64) {
	prevStack, prevRSP := c.stack, c.rsp
	c.stack, c.rsp = s, rsp
	return prevStack, prevRSP
}

// Stack returns the active stack.
func (c *CPU) Stack() Stack { return c.stack }

// RSP returns the stack pointer.
func (c *CPU) RSP() uint64 { return c.rsp }

// RIP returns the instruction pointer.
func (c *CPU) RIP() uint64 { return c.rip }

// SetRIP sets the instruction pointer.
func (c *CPU) SetRIP(rip uint64) { c.rip = rip }

// Push reserves size bytes on the active stack. It returns false without
// modifying the stack pointer if the push would cross into the guard page.
func (c *CPU) Push(size uint64) bool {
	if c.rsp < c.stack.Bottom+size || c.rsp > c.stack.Top {
		return false
	}

	c.rsp -= size
	return true
}

// Pop releases size bytes from the active stack.
func (c *CPU) Pop(size uint64) {
	c.rsp += size
}

// Call pushes a call frame of the given size. If the push hits the guard page
// below the stack, CR2 is set to the faulting address, a page fault is raised
// and Call returns false.
func (c *CPU) Call(frameSize uint64) bool {
	if c.Push(frameSize) {
		return true
	}

	c.WriteCR2(c.rsp - frameSize)
	c.Raise(pageFaultVector, pfWrite)
	return false
}
