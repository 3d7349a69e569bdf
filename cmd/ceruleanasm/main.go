// Command ceruleanasm disassembles a built-in program image: the
// instruction stream with resolved addresses, then the data segment as
// a hex dump. Handy when a program misbehaves and the question is what
// actually got linked into its window.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"cerulean/hw"
	"cerulean/image"
)

var opNames = map[byte]string{
	hw.OP_NOP:     "nop",
	hw.OP_MOVI:    "movi",
	hw.OP_MOV:     "mov",
	hw.OP_LOAD:    "load",
	hw.OP_LOADB:   "loadb",
	hw.OP_STORE:   "store",
	hw.OP_STOREB:  "storeb",
	hw.OP_ADD:     "add",
	hw.OP_ADDI:    "addi",
	hw.OP_SUB:     "sub",
	hw.OP_MULI:    "muli",
	hw.OP_JMP:     "jmp",
	hw.OP_JNZ:     "jnz",
	hw.OP_JZ:      "jz",
	hw.OP_SYSCALL: "syscall",
}

var regNames = [hw.NREGS]string{"rax", "rbx", "rcx", "rdx", "rdi", "rsi", "rbp", "rsp"}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ceruleanasm <program>\n")
		fmt.Fprintf(os.Stderr, "Disassembles a built-in program image.\n")
		fmt.Fprintf(os.Stderr, "Programs: %v\n", programNames())
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	img, ok := image.Builtin().Lookup(flag.Arg(0))
	if !ok {
		fmt.Fprintf(os.Stderr, "ceruleanasm: no program named %q\n", flag.Arg(0))
		os.Exit(1)
	}

	fmt.Printf("entry %#x\n", img.Entry)
	for i, seg := range img.Segments {
		fmt.Printf("\nsegment %d: va %#x, %d bytes\n", i, seg.VA, seg.MemSize)
		if i == 0 {
			disasm(seg.VA, seg.Data)
		} else {
			hexdump(seg.VA, seg.Data)
		}
	}
}

func programNames() []string {
	names := image.Builtin().Names()
	sort.Strings(names)
	return names
}

func disasm(va uint64, code []byte) {
	for off := 0; off+hw.INSN_SIZE <= len(code); off += hw.INSN_SIZE {
		insn, ok := hw.DecodeInsn(code[off : off+hw.INSN_SIZE])
		if !ok {
			fmt.Printf("  %#08x  ???\n", va+uint64(off))
			continue
		}
		fmt.Printf("  %#08x  %s\n", va+uint64(off), format(insn))
	}
}

func format(insn hw.Insn) string {
	name := opNames[insn.Op]
	switch insn.Op {
	case hw.OP_NOP, hw.OP_SYSCALL:
		return name
	case hw.OP_MOVI, hw.OP_ADDI, hw.OP_MULI:
		return fmt.Sprintf("%-7s %s, %#x", name, regNames[insn.A], insn.Imm)
	case hw.OP_MOV, hw.OP_ADD, hw.OP_SUB:
		return fmt.Sprintf("%-7s %s, %s", name, regNames[insn.A], regNames[insn.B])
	case hw.OP_LOAD, hw.OP_LOADB:
		return fmt.Sprintf("%-7s %s, [%s+%#x]", name, regNames[insn.A], regNames[insn.B], insn.Imm)
	case hw.OP_STORE, hw.OP_STOREB:
		return fmt.Sprintf("%-7s [%s+%#x], %s", name, regNames[insn.A], insn.Imm, regNames[insn.B])
	case hw.OP_JMP:
		return fmt.Sprintf("%-7s %#x", name, insn.Imm)
	case hw.OP_JNZ, hw.OP_JZ:
		return fmt.Sprintf("%-7s %s, %#x", name, regNames[insn.A], insn.Imm)
	}
	return name
}

func hexdump(va uint64, data []byte) {
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Printf("  %#08x ", va+uint64(off))
		for _, b := range data[off:end] {
			fmt.Printf(" %02x", b)
		}
		fmt.Println()
	}
}
