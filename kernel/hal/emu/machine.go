// Package emu provides the emulated PC platform devices the kernel runs on:
// the chained 8259 interrupt controllers, an interval timer and a PS/2
// keyboard, wired to a CPU and its physical RAM.
package emu

import (
	"time"

	"github.com/sirupsen/logrus"

	"gokern/kernel"
	"gokern/kernel/cpu"
	"gokern/kernel/kfmt"
	"gokern/kernel/mm"
	"gokern/kernel/mm/physmem"
)

// I/O ports of the 8259 pair and the POST diagnostic port.
const (
	MasterCommandPort = 0x20
	MasterDataPort    = 0x21
	SlaveCommandPort  = 0xa0
	SlaveDataPort     = 0xa1
	IOWaitPort        = 0x80
)

// DefaultTimerInterval is the tick period of the machine's interval timer.
const DefaultTimerInterval = 10 * time.Millisecond

// Machine is a single core PC with its RAM and platform devices attached.
type Machine struct {
	CPU      *cpu.CPU
	RAM      *physmem.Arena
	PIC      *ChainedPIC8259
	Timer    *Timer
	Keyboard *Keyboard

	ioWait ioWaitPort
}

// NewMachine powers on a machine with ramSize bytes of RAM.
func NewMachine(ramSize mm.Size) (*Machine, *kernel.Error) {
	ram, err := physmem.NewArena(ramSize)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		CPU: cpu.New(),
		RAM: ram,
		PIC: NewChainedPIC8259(),
	}
	m.Timer = NewTimer(m.PIC, DefaultTimerInterval)
	m.Keyboard = NewKeyboard(m.PIC)

	m.CPU.AttachPort(MasterCommandPort, m.PIC.Master)
	m.CPU.AttachPort(MasterDataPort, m.PIC.Master)
	m.CPU.AttachPort(SlaveCommandPort, m.PIC.Slave)
	m.CPU.AttachPort(SlaveDataPort, m.PIC.Slave)
	m.CPU.AttachPort(KeyboardDataPort, m.Keyboard)
	m.CPU.AttachPort(IOWaitPort, &m.ioWait)
	m.CPU.AttachInterruptController(m.PIC)

	kfmt.Log().WithFields(logrus.Fields{
		"ram":    ramSize,
		"frames": ram.FrameCount(),
	}).Debug("machine powered on")

	return m, nil
}

// IOWaitCount returns the number of writes to the POST diagnostic port.
func (m *Machine) IOWaitCount() uint64 {
	return m.ioWait.writes
}

// Close releases the machine's RAM.
func (m *Machine) Close() error {
	return m.RAM.Close()
}
