package kmain

import (
	"gokern/kernel"
	"gokern/kernel/kalloc"
	"gokern/kernel/kfmt"
)

// selfTestVecLen is the number of elements pushed by the vector check.
const selfTestVecLen = 1000

var errSelfTest = &kernel.Error{Module: "kmain", Message: "heap self test read back an unexpected value"}

// HeapSelfTest exercises the heap with a boxed value, a growable vector and
// a reference counted value and prints their heap addresses. It must run
// after InitHeap.
func (k *Kernel) HeapSelfTest() *kernel.Error {
	if k.stage != StageReady {
		return ErrStageOrder
	}

	box, err := kalloc.NewBox(k.heap, int32(41))
	if err != nil {
		return err
	}
	val, err := box.Get()
	if err != nil {
		return err
	} else if val != 41 {
		return errSelfTest
	}
	kfmt.Printf("heap_value at 0x%x\n", box.Addr())
	box.Drop()

	vec := kalloc.NewVec(k.heap)
	var expSum uint64
	for i := uint64(0); i < selfTestVecLen; i++ {
		if err = vec.Push(i); err != nil {
			return err
		}
		expSum += i
	}
	items, err := vec.Slice()
	if err != nil {
		return err
	}
	var sum uint64
	for _, item := range items {
		sum += item
	}
	if sum != expSum {
		return errSelfTest
	}
	kfmt.Printf("vec at 0x%x\n", vec.Addr())
	vec.Drop()

	rc, err := kalloc.NewRc(k.heap, [3]uint64{1, 2, 3})
	if err != nil {
		return err
	}
	clone, err := rc.Clone()
	if err != nil {
		return err
	}
	count, err := clone.StrongCount()
	if err != nil {
		return err
	}
	kfmt.Printf("current reference count is %d\n", count)

	if err = rc.Drop(); err != nil {
		return err
	}
	if count, err = clone.StrongCount(); err != nil {
		return err
	}
	kfmt.Printf("reference count is %d now\n", count)

	return clone.Drop()
}
