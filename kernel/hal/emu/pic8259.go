package emu

import (
	"gokern/kernel/sync"
)

const (
	// cascadeLine is the master input the slave's INT output is wired to.
	cascadeLine = 2

	icw1Init = 0x10
	icw1ICW4 = 0x01
	ocw3     = 0x08
	ocw3Read = 0x02
	ocw3ISR  = 0x01
	ocw2EOI  = 0x20

	// Vector offsets programmed by the firmware before the kernel remaps
	// the controllers.
	firmwareMasterOffset = 0x08
	firmwareSlaveOffset  = 0x70
)

// initialization command word the chip expects next.
const (
	icwNone = iota
	icw2
	icw3
	icw4
)

// PIC8259 models one 8259A programmable interrupt controller. The chip
// exposes a command port (even address) and a data port (odd address).
//
// The interrupt request register is written by device goroutines and is
// guarded by a spinlock; all other registers are only accessed from the CPU
// side.
type PIC8259 struct {
	irrLock sync.Spinlock
	irr     uint8

	isr    uint8
	imr    uint8
	offset uint8
	icw3   uint8

	nextICW  int
	needICW4 bool
	readISR  bool
}

func newPIC8259(offset uint8) *PIC8259 {
	return &PIC8259{offset: offset}
}

// Offset returns the vector that IRQ line 0 of the chip is delivered as.
func (p *PIC8259) Offset() uint8 { return p.offset }

// Mask returns the interrupt mask register.
func (p *PIC8259) Mask() uint8 { return p.imr }

// InService returns the in-service register.
func (p *PIC8259) InService() uint8 { return p.isr }

// Requested returns the interrupt request register.
func (p *PIC8259) Requested() uint8 {
	p.irrLock.Acquire()
	defer p.irrLock.Release()
	return p.irr
}

// Initialized returns true once the chip has received its full ICW
// sequence.
func (p *PIC8259) Initialized() bool { return p.nextICW == icwNone }

// request latches a request on line.
func (p *PIC8259) request(line uint8) {
	p.irrLock.Acquire()
	p.irr |= 1 << line
	p.irrLock.Release()
}

// ReadPort implements cpu.PortDevice.
func (p *PIC8259) ReadPort(port uint16) uint8 {
	if port&1 == 1 {
		return p.imr
	}

	if p.readISR {
		return p.isr
	}
	return p.Requested()
}

// WritePort implements cpu.PortDevice.
func (p *PIC8259) WritePort(port uint16, val uint8) {
	if port&1 == 1 {
		p.writeData(val)
		return
	}

	switch {
	case val&icw1Init != 0:
		// ICW1 resets the chip and starts the initialization sequence.
		p.imr, p.isr = 0, 0
		p.readISR = false
		p.needICW4 = val&icw1ICW4 != 0
		p.nextICW = icw2
	case val&ocw3 != 0:
		if val&ocw3Read != 0 {
			p.readISR = val&ocw3ISR != 0
		}
	case val == ocw2EOI:
		p.eoi()
	}
}

func (p *PIC8259) writeData(val uint8) {
	switch p.nextICW {
	case icw2:
		p.offset = val &^ 0x7
		p.nextICW = icw3
	case icw3:
		p.icw3 = val
		if p.needICW4 {
			p.nextICW = icw4
		} else {
			p.nextICW = icwNone
		}
	case icw4:
		p.nextICW = icwNone
	default:
		p.imr = val
	}
}

// eoi clears the highest priority in-service bit.
func (p *PIC8259) eoi() {
	for line := uint8(0); line < 8; line++ {
		if p.isr&(1<<line) != 0 {
			p.isr &^= 1 << line
			return
		}
	}
}

// pending returns the highest priority line that can be acknowledged given
// the extra requests in extra. A line is blocked by any in-service line of
// equal or higher priority.
func (p *PIC8259) pending(extra uint8) (uint8, bool) {
	if !p.Initialized() {
		return 0, false
	}

	requests := (p.Requested() | extra) &^ p.imr
	for line := uint8(0); line < 8; line++ {
		if p.isr&(1<<line) != 0 {
			return 0, false
		}
		if requests&(1<<line) != 0 {
			return line, true
		}
	}
	return 0, false
}

// acknowledge moves line from the request to the in-service register.
func (p *PIC8259) acknowledge(line uint8) uint8 {
	p.irrLock.Acquire()
	p.irr &^= 1 << line
	p.irrLock.Release()

	p.isr |= 1 << line
	return p.offset + line
}

// ChainedPIC8259 is the master/slave 8259 pair found on PC compatible
// machines. The slave is cascaded into line 2 of the master. It drives the
// CPU's INTR line.
type ChainedPIC8259 struct {
	Master *PIC8259
	Slave  *PIC8259

	wake chan struct{}
}

// NewChainedPIC8259 returns a controller pair in its firmware state.
func NewChainedPIC8259() *ChainedPIC8259 {
	return &ChainedPIC8259{
		Master: newPIC8259(firmwareMasterOffset),
		Slave:  newPIC8259(firmwareSlaveOffset),
		wake:   make(chan struct{}, 1),
	}
}

// Raise asserts IRQ line irq (0-15). It may be called from any goroutine.
func (c *ChainedPIC8259) Raise(irq uint8) {
	if irq >= 8 {
		c.Slave.request(irq - 8)
	} else {
		c.Master.request(irq)
	}

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Acknowledge implements cpu.InterruptController.
func (c *ChainedPIC8259) Acknowledge() (uint8, bool) {
	var cascade uint8
	slaveLine, slavePending := c.Slave.pending(0)
	if slavePending {
		cascade = 1 << cascadeLine
	}

	line, ok := c.Master.pending(cascade)
	if !ok {
		return 0, false
	}

	if line == cascadeLine && slavePending {
		c.Master.isr |= 1 << cascadeLine
		c.Master.irrLock.Acquire()
		c.Master.irr &^= 1 << cascadeLine
		c.Master.irrLock.Release()
		return c.Slave.acknowledge(slaveLine), true
	}

	return c.Master.acknowledge(line), true
}

// Wake implements cpu.InterruptController.
func (c *ChainedPIC8259) Wake() <-chan struct{} {
	return c.wake
}
