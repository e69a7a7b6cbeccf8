// Package gdt builds the global descriptor table and the task-state segment
// that gives the double fault handler a known-good stack.
package gdt

import (
	"unsafe"

	"gokern/kernel/cpu"
	"gokern/kernel/mm"
)

const (
	// DoubleFaultISTIndex is the interrupt stack table slot holding the
	// double fault stack. Gates select it with an IST offset of
	// DoubleFaultISTIndex+1.
	DoubleFaultISTIndex = 0

	// DoubleFaultStackSize is the size of the double fault stack.
	DoubleFaultStackSize = 5 * mm.PageSize

	// tssSize is the architectural size of the 64-bit task-state segment.
	tssSize = 104

	maxEntries = 8
)

// Descriptor flag bits for user (code/data) segments.
const (
	segAccessed    = 1 << 40
	segWritable    = 1 << 41
	segExecutable  = 1 << 43
	segUserSegment = 1 << 44
	segPresent     = 1 << 47
	segLongMode    = 1 << 53
	segGranularity = 1 << 55
	segLimit0to15  = 0xffff
	segLimit16to19 = 0xf << 48

	segCommon = segUserSegment | segPresent | segWritable | segAccessed | segLimit0to15 | segLimit16to19 | segGranularity

	// kernelCode64 is a ring 0, 64-bit code segment.
	kernelCode64 = segCommon | segExecutable | segLongMode

	// sysTypeAvailableTSS is the system descriptor type of an available
	// 64-bit TSS.
	sysTypeAvailableTSS = 0x9
)

// TaskStateSegment mirrors the 64-bit TSS layout. On x86-64 the TSS holds
// no task state; it only lists the privilege and interrupt stacks.
type TaskStateSegment struct {
	reserved0           uint32
	PrivilegeStackTable [3]uint64
	reserved1           uint64
	InterruptStackTable [7]uint64
	reserved2           uint64
	reserved3           uint16
	IOMapBase           uint16

	// istBottom holds the lowest address of each IST stack. It is not
	// part of the hardware layout.
	istBottom [7]uint64
}

// InterruptStack returns the stack stored in IST slot index.
func (tss *TaskStateSegment) InterruptStack(index uint8) (cpu.Stack, bool) {
	if int(index) >= len(tss.InterruptStackTable) || tss.InterruptStackTable[index] == 0 {
		return cpu.Stack{}, false
	}

	return cpu.Stack{Bottom: tss.istBottom[index], Top: tss.InterruptStackTable[index]}, true
}

// SetInterruptStack stores the stack s in IST slot index.
func (tss *TaskStateSegment) SetInterruptStack(index uint8, s cpu.Stack) {
	tss.InterruptStackTable[index] = s.Top
	tss.istBottom[index] = s.Bottom
}

// Table is a global descriptor table holding a null descriptor, the kernel
// code segment and a TSS descriptor, together with the TSS and the double
// fault stack it references.
type Table struct {
	entries [maxEntries]uint64
	count   int

	tss              TaskStateSegment
	doubleFaultStack [DoubleFaultStackSize]byte

	codeSelector cpu.SegmentSelector
	tssSelector  cpu.SegmentSelector
}

// New builds a GDT with a kernel code segment and a TSS whose double fault
// IST slot points to the top of the table's double fault stack.
func New() *Table {
	t := &Table{count: 1}

	bottom := uint64(uintptr(unsafe.Pointer(&t.doubleFaultStack[0])))
	t.tss.SetInterruptStack(DoubleFaultISTIndex, cpu.Stack{
		Bottom: bottom,
		Top:    bottom + uint64(len(t.doubleFaultStack)),
	})
	t.tss.IOMapBase = tssSize

	t.codeSelector = t.addUserSegment(kernelCode64)
	t.tssSelector = t.addSystemSegment(tssDescriptor(uint64(uintptr(unsafe.Pointer(&t.tss))), tssSize-1))

	return t
}

// addUserSegment appends a code/data descriptor and returns its ring 0
// selector.
func (t *Table) addUserSegment(desc uint64) cpu.SegmentSelector {
	index := t.count
	t.entries[index] = desc
	t.count++
	return cpu.SegmentSelector(index << 3)
}

// addSystemSegment appends a 16-byte system descriptor spanning two
// entries and returns its selector.
func (t *Table) addSystemSegment(low, high uint64) cpu.SegmentSelector {
	index := t.count
	t.entries[index] = low
	t.entries[index+1] = high
	t.count += 2
	return cpu.SegmentSelector(index << 3)
}

// tssDescriptor encodes a 64-bit available TSS descriptor.
func tssDescriptor(base uint64, limit uint32) (low, high uint64) {
	low = uint64(limit&0xffff) |
		(base&0xffffff)<<16 |
		sysTypeAvailableTSS<<40 |
		segPresent |
		uint64((limit>>16)&0xf)<<48 |
		((base>>24)&0xff)<<56
	high = base >> 32
	return low, high
}

// Init loads the table into the GDT register of c, reloads CS with the
// kernel code selector and loads the task register with the TSS selector.
// It must run before the interrupt descriptor table is loaded.
func (t *Table) Init(c *cpu.CPU) {
	c.LoadGDT(cpu.DescriptorTablePointer{
		Limit: uint16(t.count*8 - 1),
		Base:  uintptr(unsafe.Pointer(&t.entries[0])),
	})
	c.SetCS(t.codeSelector)
	c.LoadTaskRegister(t.tssSelector, &t.tss)
}

// KernelCodeSelector returns the selector of the kernel code segment.
func (t *Table) KernelCodeSelector() cpu.SegmentSelector {
	return t.codeSelector
}

// TSSSelector returns the selector of the TSS descriptor.
func (t *Table) TSSSelector() cpu.SegmentSelector {
	return t.tssSelector
}

// TSS returns the task-state segment referenced by the table.
func (t *Table) TSS() *TaskStateSegment {
	return &t.tss
}

// Entries returns the populated descriptors.
func (t *Table) Entries() []uint64 {
	return t.entries[:t.count]
}
