// Package machine emulates the hardware the kernel runs on: physical
// memory, a single CPU that executes user programs behind the page
// tables, a preemption timer, and the text console. The kernel never
// calls in here except to acknowledge the timer; the machine delivers
// traps, the kernel returns resumptions.
package machine

import (
	"encoding/binary"

	"cerulean/hw"
)

// DefaultSlice is how many instructions a process runs before the
// timer fires, when no rate is configured.
const DefaultSlice = 50

// Machine is the emulated hardware.
type Machine struct {
	ram []byte

	// Timer state: an instruction-count timer stands in for the
	// periodic hardware interrupt. pending is the interrupt
	// controller's level-triggered line; the kernel must ack it or it
	// is delivered again.
	slice     int
	countdown int
	pending   bool

	// Abort is polled by the kernel's idle loop and by the trap loop;
	// it is where the operator's Control-C lands. Nil means never.
	Abort func() bool
}

// New builds a machine with slice instructions per timer tick.
func New(slice int) *Machine {
	if slice <= 0 {
		slice = DefaultSlice
	}
	return &Machine{
		ram:       make([]byte, hw.MEMSIZE_PHYSICAL),
		slice:     slice,
		countdown: slice,
	}
}

// RAM exposes physical memory. The kernel and the CPU share it.
func (m *Machine) RAM() []byte { return m.ram }

// AckTimer acknowledges the timer interrupt, dropping the line.
func (m *Machine) AckTimer() { m.pending = false }

// Run executes user instructions starting from the given register
// snapshot, translating every access through the page tables rooted at
// root, until something traps. The returned trap carries the snapshot
// at trap time; for faults, Rip still points at the faulting
// instruction, while for system calls it has advanced past the
// instruction.
func (m *Machine) Run(regs hw.Regs, root uint64) hw.Trap {
	for {
		if m.pending && regs.Rflags&hw.FLAG_IF != 0 {
			return hw.Trap{Num: hw.INT_IRQ + hw.IRQ_TIMER, Regs: regs}
		}
		if m.countdown <= 0 {
			m.countdown = m.slice
			m.pending = true
			continue
		}
		m.countdown--

		insnBuf, fault := m.access(root, regs.Rip, hw.INSN_SIZE, false)
		if fault != nil {
			fault.Regs = regs
			return *fault
		}
		insn, ok := hw.DecodeInsn(insnBuf)
		if !ok {
			return hw.Trap{Num: hw.INT_INVALIDOP, Regs: regs}
		}

		next := regs.Rip + hw.INSN_SIZE
		switch insn.Op {
		case hw.OP_NOP:

		case hw.OP_MOVI:
			*regs.Reg(insn.A) = insn.Imm

		case hw.OP_MOV:
			*regs.Reg(insn.A) = *regs.Reg(insn.B)

		case hw.OP_LOAD:
			buf, fault := m.access(root, *regs.Reg(insn.B)+insn.Imm, 8, false)
			if fault != nil {
				fault.Regs = regs
				return *fault
			}
			*regs.Reg(insn.A) = binary.LittleEndian.Uint64(buf)

		case hw.OP_LOADB:
			buf, fault := m.access(root, *regs.Reg(insn.B)+insn.Imm, 1, false)
			if fault != nil {
				fault.Regs = regs
				return *fault
			}
			*regs.Reg(insn.A) = uint64(buf[0])

		case hw.OP_STORE:
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], *regs.Reg(insn.B))
			if fault := m.write(root, *regs.Reg(insn.A)+insn.Imm, buf[:]); fault != nil {
				fault.Regs = regs
				return *fault
			}

		case hw.OP_STOREB:
			b := byte(*regs.Reg(insn.B))
			if fault := m.write(root, *regs.Reg(insn.A)+insn.Imm, []byte{b}); fault != nil {
				fault.Regs = regs
				return *fault
			}

		case hw.OP_ADD:
			*regs.Reg(insn.A) += *regs.Reg(insn.B)

		case hw.OP_ADDI:
			*regs.Reg(insn.A) += insn.Imm

		case hw.OP_SUB:
			*regs.Reg(insn.A) -= *regs.Reg(insn.B)

		case hw.OP_MULI:
			*regs.Reg(insn.A) *= insn.Imm

		case hw.OP_JMP:
			next = insn.Imm

		case hw.OP_JNZ:
			if *regs.Reg(insn.A) != 0 {
				next = insn.Imm
			}

		case hw.OP_JZ:
			if *regs.Reg(insn.A) == 0 {
				next = insn.Imm
			}

		case hw.OP_SYSCALL:
			regs.Rip = next
			return hw.Trap{Num: hw.INT_SYS, Regs: regs}
		}

		regs.Rip = next
	}
}

// access translates and copies n bytes at va in user mode, checking
// present and user bits (plus writable for writes). On a refused page
// it returns the page fault trap instead, with the error code the
// hardware would report: U always (we only run user code), W for
// writes, P when the mapping was present but denied the access.
func (m *Machine) access(root, va uint64, n int, write bool) ([]byte, *hw.Trap) {
	need := uint64(hw.PTE_P | hw.PTE_U)
	if write {
		need |= hw.PTE_W
	}
	buf := make([]byte, 0, n)
	for n > 0 {
		pte, _ := hw.Walk(m.ram, root, va)
		if uint64(pte)&need != need {
			errCode := uint64(hw.PFERR_U)
			if write {
				errCode |= hw.PFERR_W
			}
			if pte.Present() {
				errCode |= hw.PFERR_P
			}
			return nil, &hw.Trap{Num: hw.INT_PF, ErrCode: errCode, FaultAddr: va}
		}
		off := va & (hw.PAGE_SIZE - 1)
		chunk := hw.PAGE_SIZE - int(off)
		if chunk > n {
			chunk = n
		}
		pa := pte.Addr() + off
		buf = append(buf, m.ram[pa:pa+uint64(chunk)]...)
		va += uint64(chunk)
		n -= chunk
	}
	return buf, nil
}

// write stores buf at va in user mode, faulting like access does.
func (m *Machine) write(root, va uint64, buf []byte) *hw.Trap {
	// Check all pages first so a fault never leaves a partial store.
	if _, fault := m.access(root, va, len(buf), true); fault != nil {
		return fault
	}
	for len(buf) > 0 {
		pte, _ := hw.Walk(m.ram, root, va)
		off := va & (hw.PAGE_SIZE - 1)
		chunk := hw.PAGE_SIZE - int(off)
		if chunk > len(buf) {
			chunk = len(buf)
		}
		pa := pte.Addr() + off
		copy(m.ram[pa:pa+uint64(chunk)], buf[:chunk])
		va += uint64(chunk)
		buf = buf[chunk:]
	}
	return nil
}
