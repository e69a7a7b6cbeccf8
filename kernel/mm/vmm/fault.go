package vmm

import "strings"

// PageFaultCode is the error code pushed by the CPU when raising a page
// fault.
type PageFaultCode uint64

const (
	// FaultProtection is set when the fault was caused by a protection
	// violation on a present page and clear for non-present pages.
	FaultProtection PageFaultCode = 1 << iota

	// FaultWrite is set when the faulting access was a write.
	FaultWrite

	// FaultUser is set when the access originated in user mode.
	FaultUser

	// FaultReservedBit is set when a page table entry had a reserved bit
	// set.
	FaultReservedBit

	// FaultInstructionFetch is set when the fault was caused by an
	// instruction fetch.
	FaultInstructionFetch
)

// String decodes the error code into a human readable reason.
func (c PageFaultCode) String() string {
	var reasons []string

	switch {
	case c&FaultProtection != 0 && c&FaultWrite != 0:
		reasons = append(reasons, "page protection violation (write)")
	case c&FaultProtection != 0:
		reasons = append(reasons, "page protection violation (read)")
	case c&FaultWrite != 0:
		reasons = append(reasons, "write to non-present page")
	default:
		reasons = append(reasons, "read from non-present page")
	}

	if c&FaultUser != 0 {
		reasons = append(reasons, "page-fault in user-mode")
	}
	if c&FaultReservedBit != 0 {
		reasons = append(reasons, "page table has reserved bit set")
	}
	if c&FaultInstructionFetch != 0 {
		reasons = append(reasons, "instruction fetch")
	}

	return strings.Join(reasons, ", ")
}
