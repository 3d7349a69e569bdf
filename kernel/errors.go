package kernel

import "fmt"

// Error is a kernel diagnostic: the component that raised it plus a
// message. Fatal conditions panic with one of these; the machine's
// outer loop treats that as a halt with diagnostic.
type Error struct {
	Module  string
	Message string
}

func (e *Error) Error() string {
	return e.Module + ": " + e.Message
}

// errorf builds an Error for the given component.
func errorf(module, format string, args ...interface{}) *Error {
	return &Error{Module: module, Message: fmt.Sprintf(format, args...)}
}

// Sentinel failures for the allocator and address space operations.
var (
	// ErrNoMem is returned when no free frame exists.
	ErrNoMem = &Error{Module: "frame", Message: "out of physical memory"}

	// ErrMapped is returned when a mapping request targets a virtual
	// page that already has a present leaf entry.
	ErrMapped = &Error{Module: "vm", Message: "page already mapped"}

	// ErrUnmapped is returned when an operation needs a present leaf
	// entry and finds none.
	ErrUnmapped = &Error{Module: "vm", Message: "page not mapped"}
)
