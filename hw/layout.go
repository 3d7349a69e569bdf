// Package hw holds the hardware definitions shared by the kernel and the
// emulated machine: the physical memory layout, the page table entry
// format and MMU walk, the register file, trap numbers, and the user
// instruction set. The kernel and the CPU emulator must agree on all of
// these, exactly as a real kernel agrees with the silicon it runs on.
package hw

// Physical memory layout.
//
//	 +-------------- Base Memory --------------+
//	 v                                         v
//	+-----+--------------------+----------------+--------------------+---------/
//	|     | Kernel      Kernel |       :    I/O | App 1        App 1 | App 2
//	|     | Code + Data  Stack |  ...  : Memory | Code + Data  Stack | Code ...
//	+-----+--------------------+----------------+--------------------+---------/
//	0  0x40000              0x80000 0xA0000 0x100000             0x140000
//	                                            ^
//	                                            | \___ PROC_SIZE ___/
//	                                     PROC_START_ADDR
const (
	PAGE_SIZE  = 4096
	PAGE_SHIFT = 12

	// Total emulated physical memory: 2MB, 512 frames.
	MEMSIZE_PHYSICAL = 0x200000
	NPAGES           = MEMSIZE_PHYSICAL / PAGE_SIZE

	// Low memory reserved for boot structures. Never allocatable.
	LOW_RESERVED_END = 0x40000

	// Kernel code, data, and stack.
	KERNEL_START     = 0x40000
	KERNEL_END       = 0x80000
	KERNEL_STACK_TOP = 0x80000

	// Memory-mapped I/O window. Never allocatable.
	IO_WINDOW_START = 0xA0000
	IO_WINDOW_END   = 0x100000

	// CGA-style text console: one page inside the I/O window.
	CONSOLE_ADDR    = 0xB8000
	CONSOLE_COLUMNS = 80
	CONSOLE_ROWS    = 25

	// Per-process virtual address windows. Window for process i spans
	// [PROC_START_ADDR + (i-1)*PROC_SIZE, PROC_START_ADDR + i*PROC_SIZE).
	PROC_START_ADDR = 0x100000
	PROC_SIZE       = 0x40000

	// Highest virtual address a process may ask the kernel to map.
	MEMSIZE_VIRTUAL = 0x300000
)

// PageDown rounds addr down to a page boundary.
func PageDown(addr uint64) uint64 {
	return addr &^ (PAGE_SIZE - 1)
}

// PageUp rounds addr up to a page boundary.
func PageUp(addr uint64) uint64 {
	return (addr + PAGE_SIZE - 1) &^ (PAGE_SIZE - 1)
}

// PageAligned reports whether addr sits on a page boundary.
func PageAligned(addr uint64) bool {
	return addr&(PAGE_SIZE-1) == 0
}
