// Package image holds the built-in user program set. Programs are
// assembled at package init into position-dependent images, each
// linked for one process window, the same way a build system would
// link them ahead of time and hand the kernel the finished binaries.
package image

import (
	"fmt"

	"cerulean/hw"
	"cerulean/kernel"
)

// dataOffset is where a program's data segment starts, relative to its
// window base. One page of code is plenty for every built-in program.
const dataOffset = 0x1000

// builder assembles one program. Code grows from the window base, data
// from base+dataOffset. Forward branches name labels that are patched
// at build time.
type builder struct {
	base   uint64
	code   []byte
	data   []byte
	labels map[string]uint64
	fixups map[int]string // instruction offset in code -> label
}

func newBuilder(window kernel.PID) *builder {
	return &builder{
		base:   hw.PROC_START_ADDR + uint64(window-1)*hw.PROC_SIZE,
		labels: make(map[string]uint64),
		fixups: make(map[int]string),
	}
}

func (b *builder) emit(op, a, rb byte, imm uint64) {
	b.code = hw.EncodeInsn(b.code, hw.Insn{Op: op, A: a, B: rb, Imm: imm})
}

// here is the virtual address of the next instruction.
func (b *builder) here() uint64 { return b.base + uint64(len(b.code)) }

// label binds name to the current code position.
func (b *builder) label(name string) {
	if _, dup := b.labels[name]; dup {
		panic(fmt.Sprintf("image: duplicate label %q", name))
	}
	b.labels[name] = b.here()
}

// branch emits a control transfer whose immediate is patched to the
// label's address at build time.
func (b *builder) branch(op, a byte, target string) {
	b.fixups[len(b.code)] = target
	b.emit(op, a, 0, 0)
}

func (b *builder) movi(r byte, imm uint64)     { b.emit(hw.OP_MOVI, r, 0, imm) }
func (b *builder) mov(a, rb byte)              { b.emit(hw.OP_MOV, a, rb, 0) }
func (b *builder) load(a, rb byte, off uint64) { b.emit(hw.OP_LOAD, a, rb, off) }
func (b *builder) loadb(a, rb byte, off uint64) {
	b.emit(hw.OP_LOADB, a, rb, off)
}

// store writes the 64-bit src register to mem[addr+off]; storeb writes
// its low byte.
func (b *builder) store(addr byte, off uint64, src byte) {
	b.emit(hw.OP_STORE, addr, src, off)
}
func (b *builder) storeb(addr byte, off uint64, src byte) {
	b.emit(hw.OP_STOREB, addr, src, off)
}

func (b *builder) add(a, rb byte)        { b.emit(hw.OP_ADD, a, rb, 0) }
func (b *builder) addi(a byte, v uint64) { b.emit(hw.OP_ADDI, a, 0, v) }
func (b *builder) subi(a byte, v uint64) { b.emit(hw.OP_ADDI, a, 0, ^v+1) }
func (b *builder) sub(a, rb byte)        { b.emit(hw.OP_SUB, a, rb, 0) }
func (b *builder) muli(a byte, v uint64) { b.emit(hw.OP_MULI, a, 0, v) }

func (b *builder) jmp(target string)         { b.branch(hw.OP_JMP, 0, target) }
func (b *builder) jnz(r byte, target string) { b.branch(hw.OP_JNZ, r, target) }
func (b *builder) jz(r byte, target string)  { b.branch(hw.OP_JZ, r, target) }

// sys loads the call number and traps. Arguments go in Rdi and Rsi and
// must be set up before the call; the result comes back in Rax.
func (b *builder) sys(num uint64) {
	b.movi(hw.REG_RAX, num)
	b.emit(hw.OP_SYSCALL, 0, 0, 0)
}

// str places s, NUL terminated, in the data segment and returns its
// virtual address.
func (b *builder) str(s string) uint64 {
	va := b.base + dataOffset + uint64(len(b.data))
	b.data = append(b.data, s...)
	b.data = append(b.data, 0)
	return va
}

// reserve sets aside n zeroed data bytes and returns their virtual
// address.
func (b *builder) reserve(n int) uint64 {
	va := b.base + dataOffset + uint64(len(b.data))
	b.data = append(b.data, make([]byte, n)...)
	return va
}

// build patches every recorded branch and returns the finished image.
// Assembly mistakes are programming errors in this package, so they
// panic at init rather than surfacing as runtime lookup failures.
func (b *builder) build() kernel.Image {
	if uint64(len(b.code)) > dataOffset {
		panic(fmt.Sprintf("image: code overruns data segment (%d bytes)", len(b.code)))
	}
	for off, name := range b.fixups {
		target, ok := b.labels[name]
		if !ok {
			panic(fmt.Sprintf("image: undefined label %q", name))
		}
		patched := hw.EncodeInsn(nil, hw.Insn{
			Op:  b.code[off],
			A:   b.code[off+1],
			B:   b.code[off+2],
			Imm: target,
		})
		copy(b.code[off:off+hw.INSN_SIZE], patched)
	}

	img := kernel.Image{
		Entry: b.base,
		Segments: []kernel.Segment{
			{VA: b.base, MemSize: uint64(len(b.code)), Data: b.code},
		},
	}
	if len(b.data) > 0 {
		img.Segments = append(img.Segments, kernel.Segment{
			VA:      b.base + dataOffset,
			MemSize: uint64(len(b.data)),
			Data:    b.data,
		})
	}
	return img
}
