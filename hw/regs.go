package hw

// Regs is the register snapshot saved by the trap machinery on every
// entry into the kernel and restored on resume. The kernel treats it as
// opaque state except for the documented conventions: Rax carries the
// system call number on entry and the return value on exit, Rdi and Rsi
// carry the first and second argument.
type Regs struct {
	Rax uint64
	Rbx uint64
	Rcx uint64
	Rdx uint64
	Rdi uint64
	Rsi uint64
	Rbp uint64

	Rsp    uint64
	Rip    uint64
	Rflags uint64
}

// Rflags bits.
const (
	FLAG_IF = 1 << 9 // interrupts enabled
)

// General purpose register indices as encoded in instructions.
const (
	REG_RAX = iota
	REG_RBX
	REG_RCX
	REG_RDX
	REG_RDI
	REG_RSI
	REG_RBP
	REG_RSP
	NREGS
)

// Reg returns a pointer to the general purpose register with the given
// encoding, or nil if the encoding is invalid.
func (r *Regs) Reg(idx byte) *uint64 {
	switch idx {
	case REG_RAX:
		return &r.Rax
	case REG_RBX:
		return &r.Rbx
	case REG_RCX:
		return &r.Rcx
	case REG_RDX:
		return &r.Rdx
	case REG_RDI:
		return &r.Rdi
	case REG_RSI:
		return &r.Rsi
	case REG_RBP:
		return &r.Rbp
	case REG_RSP:
		return &r.Rsp
	}
	return nil
}
