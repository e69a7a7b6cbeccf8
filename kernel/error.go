package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error so callers can compare them by identity; the module field
// names the subsystem that raised the error.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error message prefixed by its module name.
func (e *Error) String() string {
	return "[" + e.Module + "] " + e.Message
}
