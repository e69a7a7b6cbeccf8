package gate

import (
	"io"

	"gokern/kernel/kfmt"
)

// Registers contains a snapshot of the register values when an exception or
// interrupt occurs.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Info contains the exception code for exceptions or the IRQ number
	// for HW interrupts.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %016x RBX = %016x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %016x RDX = %016x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %016x RDI = %016x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %016x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %016x R9  = %016x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %016x R11 = %016x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %016x R13 = %016x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %016x R15 = %016x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %016x CS  = %016x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %016x SS  = %016x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %016x\n", r.RFlags)
}

// DumpFrameTo outputs the interrupt stack frame (the registers pushed by the
// CPU) to w.
func (r *Registers) DumpFrameTo(w io.Writer) {
	kfmt.Fprintf(w, "InterruptStackFrame {\n")
	kfmt.Fprintf(w, "    instruction_pointer: 0x%x,\n", r.RIP)
	kfmt.Fprintf(w, "    code_segment: 0x%x,\n", r.CS)
	kfmt.Fprintf(w, "    cpu_flags: 0x%x,\n", r.RFlags)
	kfmt.Fprintf(w, "    stack_pointer: 0x%x,\n", r.RSP)
	kfmt.Fprintf(w, "    stack_segment: 0x%x,\n", r.SS)
	kfmt.Fprintf(w, "}\n")
}
