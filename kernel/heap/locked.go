package heap

import (
	"gokern/kernel"
	"gokern/kernel/sync"
)

// Locked serializes access to an allocator. Interrupts are disabled while
// the lock is held so handlers can allocate without deadlocking against the
// code they interrupted.
type Locked struct {
	lock  *sync.IRQSpinlock
	inner Allocator
}

// NewLocked wraps inner with a lock that masks interrupts on cpu.
func NewLocked(cpu sync.InterruptFlag, inner Allocator) *Locked {
	return &Locked{lock: sync.NewIRQSpinlock(cpu), inner: inner}
}

// Alloc implements Allocator.
func (l *Locked) Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	l.lock.Acquire()
	defer l.lock.Release()
	return l.inner.Alloc(size, align)
}

// Free implements Allocator.
func (l *Locked) Free(addr, size, align uintptr) *kernel.Error {
	l.lock.Acquire()
	defer l.lock.Release()
	return l.inner.Free(addr, size, align)
}
