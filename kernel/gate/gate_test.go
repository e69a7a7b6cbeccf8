package gate

import (
	"bytes"
	"strings"
	"testing"

	"gokern/kernel/cpu"
)

const testCodeSelector = cpu.SegmentSelector(0x08)

type fakeTSS map[uint8]cpu.Stack

func (f fakeTSS) InterruptStack(index uint8) (cpu.Stack, bool) {
	s, ok := f[index]
	return s, ok
}

var (
	kernelStack = cpu.Stack{Bottom: 0x10000, Top: 0x11000}
	istStack    = cpu.Stack{Bottom: 0x20000, Top: 0x25000}
)

func newTestCPU(table *Table, tss cpu.TaskState) *cpu.CPU {
	c := cpu.New()
	c.SetCS(testCodeSelector)
	c.SetStack(kernelStack)
	if tss != nil {
		c.LoadTaskRegister(0x10, tss)
	}
	table.Load(c)
	return c
}

func TestHandleInterrupt(t *testing.T) {
	table := NewTable(testCodeSelector)

	if table.Entry(Breakpoint).Present() {
		t.Fatal("expected gates to be non-present before HandleInterrupt is called")
	}

	table.HandleInterrupt(DoubleFault, 1, func(*Registers) {})

	entry := table.Entry(DoubleFault)
	if !entry.Present() || entry.TypeAttr != gateTypeInterrupt {
		t.Fatalf("expected a present interrupt gate; got type %x", entry.TypeAttr)
	}

	if entry.Selector != uint16(testCodeSelector) || entry.IST != 1 {
		t.Fatalf("expected selector %x and IST 1; got %x and %d", testCodeSelector, entry.Selector, entry.IST)
	}

	if exp, got := stubBase+8*stubSize, entry.Offset(); got != exp {
		t.Fatalf("expected gate offset %x; got %x", exp, got)
	}
}

func TestLoad(t *testing.T) {
	table := NewTable(testCodeSelector)
	c := newTestCPU(table, nil)

	if exp, got := uint16(256*16-1), c.IDTR().Limit; got != exp {
		t.Fatalf("expected IDT limit %d; got %d", exp, got)
	}

	if c.IDTR().Base == 0 {
		t.Fatal("expected IDT base to be set")
	}
}

func TestBreakpointResumes(t *testing.T) {
	var (
		table     = NewTable(testCodeSelector)
		c         = newTestCPU(table, nil)
		calls     int
		gotRegs   Registers
		handlerSP uint64
		intrInHdl bool
	)

	table.HandleInterrupt(Breakpoint, 0, func(regs *Registers) {
		calls++
		gotRegs = *regs
		handlerSP = c.RSP()
		intrInHdl = c.InterruptsEnabled()
		// resume after the int3 instruction
		regs.RIP++
	})

	c.SetRIP(0x201000)
	c.EnableInterrupts()
	c.Raise(uint8(Breakpoint), 0)

	if calls != 1 {
		t.Fatalf("expected handler to be called once; got %d", calls)
	}

	if gotRegs.RIP != 0x201000 || gotRegs.CS != uint64(testCodeSelector) || gotRegs.RSP != kernelStack.Top {
		t.Fatalf("unexpected interrupt frame: %+v", gotRegs)
	}

	if gotRegs.RFlags&rflagsIF == 0 {
		t.Fatal("expected saved RFLAGS to have IF set")
	}

	if exp := kernelStack.Top - frameSize; handlerSP != exp {
		t.Fatalf("expected handler to run with RSP %x; got %x", exp, handlerSP)
	}

	if intrInHdl {
		t.Fatal("expected interrupts to be masked while the handler runs")
	}

	if c.RIP() != 0x201001 || c.RSP() != kernelStack.Top || !c.InterruptsEnabled() || c.Halted() {
		t.Fatalf("expected execution to resume at 0x201001 with the original stack and IF; got rip %x rsp %x if %t", c.RIP(), c.RSP(), c.InterruptsEnabled())
	}

	// A second breakpoint is handled the same way.
	c.Raise(uint8(Breakpoint), 0)
	if calls != 2 || c.RIP() != 0x201002 {
		t.Fatalf("expected second breakpoint to be handled; calls %d rip %x", calls, c.RIP())
	}
}

func TestErrorCodeFrame(t *testing.T) {
	var (
		table     = NewTable(testCodeSelector)
		c         = newTestCPU(table, nil)
		handlerSP uint64
		info      uint64
	)

	table.HandleInterrupt(PageFaultException, 0, func(regs *Registers) {
		handlerSP = c.RSP()
		info = regs.Info
	})

	c.Raise(uint8(PageFaultException), 0x2)

	if exp := kernelStack.Top - frameSize - errorCodeSize; handlerSP != exp {
		t.Fatalf("expected error code to be pushed; handler RSP %x, expected %x", handlerSP, exp)
	}

	if info != 0x2 {
		t.Fatalf("expected error code 0x2; got %x", info)
	}
}

func TestStackOverflowEscalation(t *testing.T) {
	specs := []struct {
		descr           string
		tss             cpu.TaskState
		installPF       bool
		expDoubleFault  bool
		expTripleFault  bool
		expDFOnISTStack bool
	}{
		{"double fault on IST stack", fakeTSS{0: istStack}, true, true, false, true},
		{"missing page fault gate", fakeTSS{0: istStack}, false, true, false, true},
		{"empty IST slot", fakeTSS{}, true, false, true, false},
		{"no TSS loaded", nil, true, false, true, false},
	}

	for specIndex, spec := range specs {
		var (
			table       = NewTable(testCodeSelector)
			c           = newTestCPU(table, spec.tss)
			dfCalls     int
			pfCalls     int
			dfStack     cpu.Stack
			dfInterrupt uint64
		)

		if spec.installPF {
			table.HandleInterrupt(PageFaultException, 0, func(*Registers) { pfCalls++ })
		}
		table.HandleInterrupt(DoubleFault, 1, func(regs *Registers) {
			dfCalls++
			dfStack = c.Stack()
			dfInterrupt = regs.RSP
			c.Halt()
		})

		// Recurse until the kernel stack overflows into its guard page.
		for i := 0; i < 1024 && !c.Halted(); i++ {
			c.Call(256)
		}

		if pfCalls != 0 {
			t.Errorf("[spec %d] %s: page fault handler must not run on an overflowed stack", specIndex, spec.descr)
		}

		if got := dfCalls == 1; got != spec.expDoubleFault {
			t.Errorf("[spec %d] %s: expected double fault delivery %t; got %d calls", specIndex, spec.descr, spec.expDoubleFault, dfCalls)
		}

		if got := c.TripleFaulted(); got != spec.expTripleFault {
			t.Errorf("[spec %d] %s: expected triple fault %t; got %t", specIndex, spec.descr, spec.expTripleFault, got)
		}

		if spec.expDFOnISTStack {
			if dfStack != istStack {
				t.Errorf("[spec %d] %s: expected double fault handler to run on %+v; got %+v", specIndex, spec.descr, istStack, dfStack)
			}

			if dfInterrupt != kernelStack.Bottom {
				t.Errorf("[spec %d] %s: expected saved RSP to be the overflowed stack bottom %x; got %x", specIndex, spec.descr, kernelStack.Bottom, dfInterrupt)
			}
		}

		if !c.Halted() {
			t.Errorf("[spec %d] %s: expected the CPU to be halted", specIndex, spec.descr)
		}
	}
}

func TestMissingGateEscalation(t *testing.T) {
	t.Run("double fault installed", func(t *testing.T) {
		var (
			table   = NewTable(testCodeSelector)
			c       = newTestCPU(table, nil)
			gotInfo = uint64(0xff)
		)
		table.HandleInterrupt(DoubleFault, 0, func(regs *Registers) {
			gotInfo = regs.Info
			c.Halt()
		})

		c.Raise(uint8(GPFException), 0x10)
		if gotInfo != 0 || c.TripleFaulted() {
			t.Fatalf("expected a double fault with error code 0; got %x (triple fault %t)", gotInfo, c.TripleFaulted())
		}
	})

	t.Run("no double fault handler", func(t *testing.T) {
		table := NewTable(testCodeSelector)
		c := newTestCPU(table, nil)

		c.Raise(uint8(Breakpoint), 0)
		if !c.TripleFaulted() {
			t.Fatal("expected a triple fault")
		}
	})
}

func TestInterruptNumber(t *testing.T) {
	specs := []struct {
		num          InterruptNumber
		expErrorCode bool
		expException bool
	}{
		{Breakpoint, false, true},
		{DoubleFault, true, true},
		{GPFException, true, true},
		{PageFaultException, true, true},
		{InterruptNumber(32), false, false},
		{InterruptNumber(33), false, false},
	}

	for specIndex, spec := range specs {
		if got := spec.num.HasErrorCode(); got != spec.expErrorCode {
			t.Errorf("[spec %d] expected HasErrorCode(%d) to return %t; got %t", specIndex, spec.num, spec.expErrorCode, got)
		}
		if got := spec.num.IsException(); got != spec.expException {
			t.Errorf("[spec %d] expected IsException(%d) to return %t; got %t", specIndex, spec.num, spec.expException, got)
		}
	}
}

func TestRegistersDump(t *testing.T) {
	regs := Registers{
		RAX:    1,
		RIP:    0x201000,
		CS:     8,
		RFlags: 0x202,
		RSP:    0x11000,
	}

	var buf bytes.Buffer
	regs.DumpTo(&buf)
	for _, exp := range []string{
		"RAX = 0000000000000001 RBX = 0000000000000000\n",
		"RIP = 0000000000201000 CS  = 0000000000000008\n",
		"RFL = 0000000000000202\n",
	} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected register dump to contain %q; got:\n%s", exp, buf.String())
		}
	}

	buf.Reset()
	regs.DumpFrameTo(&buf)
	exp := "InterruptStackFrame {\n    instruction_pointer: 0x201000,\n    code_segment: 0x8,\n    cpu_flags: 0x202,\n    stack_pointer: 0x11000,\n    stack_segment: 0x0,\n}\n"
	if got := buf.String(); got != exp {
		t.Fatalf("expected frame dump:\n%q\ngot:\n%q", exp, got)
	}
}
