// Package pic drives the legacy 8259 interrupt controller pair.
package pic

import (
	"gokern/kernel/cpu"
)

const (
	masterCommand = 0x20
	masterData    = 0x21
	slaveCommand  = 0xa0
	slaveData     = 0xa1

	// ioWaitPort is an unused port; writing to it gives the controllers
	// time to react to the previous command.
	ioWaitPort = 0x80

	icw1Init     = 0x11
	icw4Mode8086 = 0x01
	cmdEOI       = 0x20

	// cascadeIdentity is sent to the slave; cascadeMask tells the master
	// the slave is attached to line 2.
	cascadeIdentity = 2
	cascadeMask     = 1 << 2
)

const (
	// MasterOffset is the vector that IRQ0 is remapped to.
	MasterOffset = 32

	// SlaveOffset is the vector that IRQ8 is remapped to.
	SlaveOffset = MasterOffset + 8
)

// Port is implemented by the CPU's I/O port bus.
type Port interface {
	PortWriteByte(port uint16, val uint8)
	PortReadByte(port uint16) uint8
}

type chip struct {
	offset      uint8
	commandPort uint16
	dataPort    uint16
}

func (c chip) handlesInterrupt(vector uint8) bool {
	return c.offset <= vector && vector < c.offset+8
}

// ChainedPics is the master/slave controller pair. The master's IRQs are
// delivered starting at the master offset and the slave's at the slave
// offset.
type ChainedPics struct {
	bus    Port
	master chip
	slave  chip
}

// New returns a driver for the controller pair reachable over bus. The
// controllers are not touched until Initialize is called.
func New(bus Port, masterOffset, slaveOffset uint8) *ChainedPics {
	return &ChainedPics{
		bus:    bus,
		master: chip{offset: masterOffset, commandPort: masterCommand, dataPort: masterData},
		slave:  chip{offset: slaveOffset, commandPort: slaveCommand, dataPort: slaveData},
	}
}

// NewDefault returns a driver that remaps the controllers to MasterOffset
// and SlaveOffset, past the CPU exception vectors.
func NewDefault(c *cpu.CPU) *ChainedPics {
	return New(c, MasterOffset, SlaveOffset)
}

func (p *ChainedPics) ioWait() {
	p.bus.PortWriteByte(ioWaitPort, 0)
}

// Initialize runs the initialization sequence on both controllers to move
// their vectors to the configured offsets. The interrupt masks in effect
// before the call are restored afterwards.
func (p *ChainedPics) Initialize() {
	savedMasterMask := p.bus.PortReadByte(p.master.dataPort)
	savedSlaveMask := p.bus.PortReadByte(p.slave.dataPort)

	p.bus.PortWriteByte(p.master.commandPort, icw1Init)
	p.ioWait()
	p.bus.PortWriteByte(p.slave.commandPort, icw1Init)
	p.ioWait()

	p.bus.PortWriteByte(p.master.dataPort, p.master.offset)
	p.ioWait()
	p.bus.PortWriteByte(p.slave.dataPort, p.slave.offset)
	p.ioWait()

	p.bus.PortWriteByte(p.master.dataPort, cascadeMask)
	p.ioWait()
	p.bus.PortWriteByte(p.slave.dataPort, cascadeIdentity)
	p.ioWait()

	p.bus.PortWriteByte(p.master.dataPort, icw4Mode8086)
	p.ioWait()
	p.bus.PortWriteByte(p.slave.dataPort, icw4Mode8086)
	p.ioWait()

	p.bus.PortWriteByte(p.master.dataPort, savedMasterMask)
	p.bus.PortWriteByte(p.slave.dataPort, savedSlaveMask)
}

// HandlesInterrupt returns true if vector is delivered by one of the
// controllers.
func (p *ChainedPics) HandlesInterrupt(vector uint8) bool {
	return p.master.handlesInterrupt(vector) || p.slave.handlesInterrupt(vector)
}

// NotifyEndOfInterrupt signals that the handler for vector is done. Vectors
// from the slave need an EOI on both chips; the slave is notified first.
func (p *ChainedPics) NotifyEndOfInterrupt(vector uint8) {
	if !p.HandlesInterrupt(vector) {
		return
	}

	if p.slave.handlesInterrupt(vector) {
		p.bus.PortWriteByte(p.slave.commandPort, cmdEOI)
	}
	p.bus.PortWriteByte(p.master.commandPort, cmdEOI)
}

// Mask disables IRQ line irq (0-15).
func (p *ChainedPics) Mask(irq uint8) {
	c, bit := p.line(irq)
	p.bus.PortWriteByte(c.dataPort, p.bus.PortReadByte(c.dataPort)|bit)
}

// Unmask enables IRQ line irq (0-15).
func (p *ChainedPics) Unmask(irq uint8) {
	c, bit := p.line(irq)
	p.bus.PortWriteByte(c.dataPort, p.bus.PortReadByte(c.dataPort)&^bit)
}

func (p *ChainedPics) line(irq uint8) (chip, uint8) {
	if irq >= 8 {
		return p.slave, 1 << (irq - 8)
	}
	return p.master, 1 << irq
}

// Vector returns the vector IRQ line irq is delivered as.
func (p *ChainedPics) Vector(irq uint8) uint8 {
	if irq >= 8 {
		return p.slave.offset + irq - 8
	}
	return p.master.offset + irq
}
