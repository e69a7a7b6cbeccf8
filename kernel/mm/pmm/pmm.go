// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"gokern/kernel"
	"gokern/kernel/mm"
)

var (
	// ErrOutOfMemory is returned when no more physical frames can be
	// handed out.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}
)

// FrameAllocator is implemented by physical frame allocators. AllocFrame
// returns a frame that is not in use by anything else or ErrOutOfMemory.
type FrameAllocator interface {
	AllocFrame() (mm.Frame, *kernel.Error)
}

// FrameAllocatorFunc adapts a function to the FrameAllocator interface.
type FrameAllocatorFunc func() (mm.Frame, *kernel.Error)

// AllocFrame calls fn.
func (fn FrameAllocatorFunc) AllocFrame() (mm.Frame, *kernel.Error) {
	return fn()
}

// NullAllocator is a FrameAllocator that never has any frames available.
type NullAllocator struct{}

// AllocFrame always fails with ErrOutOfMemory.
func (NullAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	return mm.InvalidFrame, ErrOutOfMemory
}
