package emu

import (
	"context"
	"time"

	"gokern/kernel/sync"
)

const (
	// TimerIRQ is the controller input driven by the interval timer.
	TimerIRQ = 0

	// KeyboardIRQ is the controller input driven by the keyboard.
	KeyboardIRQ = 1

	// KeyboardDataPort is the PS/2 controller data port.
	KeyboardDataPort = 0x60

	// keyboardBufferSize bounds the scancodes the keyboard controller
	// holds before the kernel reads them.
	keyboardBufferSize = 16
)

// IRQLine is implemented by interrupt controllers that devices can assert
// lines on.
type IRQLine interface {
	Raise(irq uint8)
}

// Timer is an interval timer wired to TimerIRQ.
type Timer struct {
	pic      IRQLine
	interval time.Duration
}

// NewTimer returns a timer that raises TimerIRQ on pic every interval.
func NewTimer(pic IRQLine, interval time.Duration) *Timer {
	return &Timer{pic: pic, interval: interval}
}

// Tick raises a single timer interrupt.
func (t *Timer) Tick() {
	t.pic.Raise(TimerIRQ)
}

// Run raises a timer interrupt every interval until ctx is cancelled.
func (t *Timer) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Tick()
		}
	}
}

// Keyboard models the PS/2 keyboard controller. Pressed keys are queued in
// the controller's output buffer and announced with KeyboardIRQ; the kernel
// reads them one at a time from KeyboardDataPort.
type Keyboard struct {
	pic IRQLine

	lock     sync.Spinlock
	buf      [keyboardBufferSize]uint8
	head     int
	count    int
	lastRead uint8
}

// NewKeyboard returns a keyboard that raises KeyboardIRQ on pic.
func NewKeyboard(pic IRQLine) *Keyboard {
	return &Keyboard{pic: pic}
}

// Press queues scancode and raises KeyboardIRQ. It returns false if the
// output buffer is full and the scancode was dropped.
func (k *Keyboard) Press(scancode uint8) bool {
	k.lock.Acquire()
	if k.count == len(k.buf) {
		k.lock.Release()
		return false
	}
	k.buf[(k.head+k.count)%len(k.buf)] = scancode
	k.count++
	k.lock.Release()

	k.pic.Raise(KeyboardIRQ)
	return true
}

// Type presses each of scancodes, waiting interval between presses, until
// all have been sent or ctx is cancelled.
func (k *Keyboard) Type(ctx context.Context, scancodes []uint8, interval time.Duration) error {
	for _, code := range scancodes {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		for !k.Press(code) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
	}
	return nil
}

// ReadPort implements cpu.PortDevice. Reading the data port pops the oldest
// scancode; if more are queued KeyboardIRQ is raised again. An empty buffer
// returns the last scancode read.
func (k *Keyboard) ReadPort(_ uint16) uint8 {
	k.lock.Acquire()
	if k.count == 0 {
		val := k.lastRead
		k.lock.Release()
		return val
	}

	val := k.buf[k.head]
	k.head = (k.head + 1) % len(k.buf)
	k.count--
	k.lastRead = val
	more := k.count != 0
	k.lock.Release()

	if more {
		k.pic.Raise(KeyboardIRQ)
	}
	return val
}

// WritePort implements cpu.PortDevice. Commands sent to the keyboard are
// ignored.
func (k *Keyboard) WritePort(_ uint16, _ uint8) {}

// ioWaitPort is the POST diagnostic port. Writing to it takes a bus cycle
// and is used to give slow devices time to settle.
type ioWaitPort struct {
	writes uint64
}

func (p *ioWaitPort) ReadPort(_ uint16) uint8 { return 0xff }

func (p *ioWaitPort) WritePort(_ uint16, _ uint8) { p.writes++ }
