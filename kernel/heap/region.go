package heap

import (
	"github.com/sirupsen/logrus"

	"gokern/kernel"
	"gokern/kernel/kfmt"
	"gokern/kernel/mm"
	"gokern/kernel/mm/pmm"
	"gokern/kernel/mm/vmm"
)

var (
	// ErrHeapMapping is returned when the heap region cannot be backed by
	// physical memory.
	ErrHeapMapping = &kernel.Error{Module: "heap", Message: "unable to map heap region"}

	// mapFn is used by tests.
	mapFn = (*vmm.Mapper).Map
)

// InitHeap maps every page of [start, start+size) to a freshly allocated
// frame with Present|RW permissions.
//
// The first failure aborts the mapping and returns ErrHeapMapping. Pages
// mapped before the failure are left in place; the heap must not be used
// after a failed InitHeap.
func InitHeap(mapper *vmm.Mapper, frames pmm.FrameAllocator, start mm.VirtAddr, size mm.Size) *kernel.Error {
	if size == 0 {
		return nil
	}

	firstPage, lastPage := mm.PageRange(start, size)
	for page := firstPage; page <= lastPage; page++ {
		frame, err := frames.AllocFrame()
		if err == nil {
			err = mapFn(mapper, page, frame, vmm.FlagPresent|vmm.FlagRW, frames)
		}

		if err != nil {
			kfmt.Log().WithFields(logrus.Fields{
				"page":  page.Address(),
				"cause": err.String(),
			}).Error("heap mapping failed")
			return ErrHeapMapping
		}
	}

	kfmt.Log().WithFields(logrus.Fields{
		"start": start,
		"size":  size,
		"pages": uint64(lastPage-firstPage) + 1,
	}).Info("heap mapped")

	return nil
}
