package hw

// Trap numbers delivered to the kernel's dispatcher.
const (
	INT_INVALIDOP = 6  // invalid instruction encoding
	INT_PF        = 14 // protection (page) fault
	INT_IRQ       = 32 // hardware interrupt base
	INT_SYS       = 48 // explicit system call

	IRQ_TIMER = 0
)

// Page fault error code bits. On a fault the CPU reports why the access
// was refused: P set means the mapping was present but denied the access
// (a protection violation), clear means the mapping was missing; W set
// means the faulting access was a write; U set means the processor was
// in user mode.
const (
	PFERR_P = 1 << 0
	PFERR_W = 1 << 1
	PFERR_U = 1 << 2
)

// Trap is everything the hardware delivers on a transfer into the
// kernel: the trap number, the register snapshot at trap time, and for
// protection faults the faulting address and error code.
type Trap struct {
	Num       int
	Regs      Regs
	ErrCode   uint64
	FaultAddr uint64
}

// System call numbers, carried in Rax.
const (
	SYSCALL_GETPID = 1 + iota
	SYSCALL_YIELD
	SYSCALL_PANIC
	SYSCALL_PAGE_ALLOC
	SYSCALL_GETSYSNAME
	SYSCALL_SPAWN
	SYSCALL_PIPEWRITE
	SYSCALL_PIPEREAD
)

// Distinguished system call return values. E_AGAIN is the transient
// try-again status for pipe contention; E_UNSUPPORTED is returned for
// recognized but unavailable requests such as a spawn that cannot be
// satisfied.
const (
	E_AGAIN       = ^uint64(0)     // -1
	E_UNSUPPORTED = ^uint64(0) - 1 // -2
	E_INVAL       = ^uint64(0) - 2 // -3
	E_NOMEM       = ^uint64(0) - 3 // -4
	E_FAULT       = ^uint64(0) - 4 // -5
)
