// Package sync provides synchronization primitive implementations for spinlocks.
package sync

import (
	"runtime"
	"sync/atomic"
)

// attemptsBeforeYielding is the number of failed acquisition attempts after
// which Acquire yields the processor.
const attemptsBeforeYielding = 64

var (
	// yieldFn is invoked by Acquire after every attemptsBeforeYielding
	// failed attempts.
	yieldFn = runtime.Gosched
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempt := uint32(1); !l.TryToAcquire(); attempt++ {
		if attempt%attemptsBeforeYielding == 0 {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// InterruptFlag is implemented by the CPU whose interrupts an IRQSpinlock
// masks.
type InterruptFlag interface {
	InterruptsEnabled() bool
	EnableInterrupts()
	DisableInterrupts()
}

// IRQSpinlock is a Spinlock that also disables interrupts on the local CPU
// while held. Data shared with interrupt handlers must be guarded by an
// IRQSpinlock; a plain Spinlock would deadlock if an interrupt handler tried
// to acquire it while the interrupted code held it.
type IRQSpinlock struct {
	lock        Spinlock
	cpu         InterruptFlag
	restoreIntr bool
}

// NewIRQSpinlock returns an IRQSpinlock masking interrupts on cpu.
func NewIRQSpinlock(cpu InterruptFlag) *IRQSpinlock {
	return &IRQSpinlock{cpu: cpu}
}

// Acquire disables interrupts and then acquires the lock. The previous
// interrupt state is restored by Release.
func (l *IRQSpinlock) Acquire() {
	enabled := l.cpu.InterruptsEnabled()
	l.cpu.DisableInterrupts()
	l.lock.Acquire()
	l.restoreIntr = enabled
}

// Release relinquishes the lock and re-enables interrupts if they were
// enabled when Acquire was called.
func (l *IRQSpinlock) Release() {
	restore := l.restoreIntr
	l.restoreIntr = false
	l.lock.Release()
	if restore {
		l.cpu.EnableInterrupts()
	}
}
