package irq

import (
	"gokern/kernel/sync"
)

// ScancodeQueue is a bounded FIFO of keyboard scancodes filled by the
// keyboard handler. It is shared with interrupt context and therefore
// guarded by an IRQSpinlock.
type ScancodeQueue struct {
	lock *sync.IRQSpinlock

	buf     [ScancodeQueueSize]uint8
	head    int
	count   int
	dropped uint64
}

// NewScancodeQueue returns an empty queue whose lock masks interrupts on
// cpu.
func NewScancodeQueue(cpu sync.InterruptFlag) *ScancodeQueue {
	return &ScancodeQueue{lock: sync.NewIRQSpinlock(cpu)}
}

// Push appends scancode. If the queue is full the scancode is dropped and
// Push returns false.
func (q *ScancodeQueue) Push(scancode uint8) bool {
	q.lock.Acquire()
	defer q.lock.Release()

	if q.count == len(q.buf) {
		q.dropped++
		return false
	}

	q.buf[(q.head+q.count)%len(q.buf)] = scancode
	q.count++
	return true
}

// Pop removes and returns the oldest scancode.
func (q *ScancodeQueue) Pop() (uint8, bool) {
	q.lock.Acquire()
	defer q.lock.Release()

	if q.count == 0 {
		return 0, false
	}

	scancode := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return scancode, true
}

// Len returns the number of queued scancodes.
func (q *ScancodeQueue) Len() int {
	q.lock.Acquire()
	defer q.lock.Release()
	return q.count
}

// Dropped returns the number of scancodes lost because the queue was full.
func (q *ScancodeQueue) Dropped() uint64 {
	q.lock.Acquire()
	defer q.lock.Release()
	return q.dropped
}
