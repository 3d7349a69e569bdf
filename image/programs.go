package image

import (
	"cerulean/hw"
	"cerulean/kernel"
)

// textAttr is the console attribute every program writes with: light
// grey on black, matching the cleared screen.
const textAttr = 0x07

// rowBytes is the size of one console row in memory.
const rowBytes = 2 * hw.CONSOLE_COLUMNS

// Registry is the built-in program set, keyed by name.
type Registry struct {
	images map[string]kernel.Image
}

// Builtin assembles every built-in program.
func Builtin() *Registry {
	return &Registry{images: map[string]kernel.Image{
		"alice":      heartbeat(1, "alice"),
		"eve":        heartbeat(2, "eve"),
		"spawner":    spawner(),
		"allocator":  allocatorAt(1),
		"allocator2": allocatorAt(2),
		"allocator3": allocatorAt(3),
		"allocator4": allocatorAt(4),
		"pipewriter": pipeWriter(),
		"pipereader": pipeReader(),
	}}
}

// Lookup returns the image linked for the named program.
func (r *Registry) Lookup(name string) (kernel.Image, bool) {
	img, ok := r.images[name]
	return img, ok
}

// Names lists the built-in program names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.images))
	for name := range r.images {
		names = append(names, name)
	}
	return names
}

// putString copies the NUL-terminated string at the address in src
// into consecutive console cells at the address in dst, advancing both
// registers past what was written. scratch is clobbered. done names
// the label bound just past the loop.
func putString(b *builder, src, dst, scratch byte, done string) {
	loop := done + ".loop"
	b.label(loop)
	b.loadb(scratch, src, 0)
	b.jz(scratch, done)
	b.storeb(dst, 0, scratch)
	b.movi(scratch, textAttr)
	b.storeb(dst, 1, scratch)
	b.addi(src, 1)
	b.addi(dst, 2)
	b.jmp(loop)
	b.label(done)
}

// putCell writes one character cell through the address register.
// scratch is clobbered.
func putCell(b *builder, addr byte, ch byte, scratch byte) {
	b.movi(scratch, uint64(ch))
	b.storeb(addr, 0, scratch)
	b.movi(scratch, textAttr)
	b.storeb(addr, 1, scratch)
}

// emitBeat is the shared tail of the demo processes: an endless
// spinner in the cell addressed by the register addr, yielding between
// frames so everyone else gets a turn.
func emitBeat(b *builder, addr byte) {
	b.label("beat")
	putCell(b, addr, '.', hw.REG_RBP)
	b.sys(hw.SYSCALL_YIELD)
	putCell(b, addr, 'o', hw.REG_RBP)
	b.sys(hw.SYSCALL_YIELD)
	b.jmp("beat")
}

// heartbeat is the basic demo process: it prints the system banner on
// the top console row, its own name on the row matching its pid, and
// then blinks a spinner forever. The banner is written identically by
// every instance, so concurrent writers are harmless.
func heartbeat(window kernel.PID, name string) kernel.Image {
	b := newBuilder(window)
	nameVA := b.str(name)
	bannerVA := b.reserve(32)

	// Own console row: CONSOLE + pid*rowBytes.
	b.sys(hw.SYSCALL_GETPID)
	b.mov(hw.REG_RBX, hw.REG_RAX)
	b.muli(hw.REG_RBX, rowBytes)
	b.addi(hw.REG_RBX, hw.CONSOLE_ADDR)

	// Banner row.
	b.movi(hw.REG_RDI, bannerVA)
	b.movi(hw.REG_RSI, 32)
	b.sys(hw.SYSCALL_GETSYSNAME)
	b.movi(hw.REG_RCX, bannerVA)
	b.movi(hw.REG_RDX, hw.CONSOLE_ADDR)
	putString(b, hw.REG_RCX, hw.REG_RDX, hw.REG_RBP, "banner")

	// Name, then a blank cell, then the spinner.
	b.movi(hw.REG_RCX, nameVA)
	putString(b, hw.REG_RCX, hw.REG_RBX, hw.REG_RBP, "named")
	b.addi(hw.REG_RBX, 2)
	emitBeat(b, hw.REG_RBX)
	return b.build()
}

// spawner launches a second process and then heartbeats. A transient
// refusal (the target window still winding down) is retried after a
// yield; anything else, success included, moves on.
func spawner() kernel.Image {
	b := newBuilder(1)
	nameVA := b.str("spawner")
	childVA := b.str("eve")

	b.label("spawn")
	b.movi(hw.REG_RDI, childVA)
	b.sys(hw.SYSCALL_SPAWN)
	b.mov(hw.REG_RDX, hw.REG_RAX)
	b.addi(hw.REG_RDX, 1)
	b.jnz(hw.REG_RDX, "spawned")
	b.sys(hw.SYSCALL_YIELD)
	b.jmp("spawn")
	b.label("spawned")

	b.sys(hw.SYSCALL_GETPID)
	b.mov(hw.REG_RBX, hw.REG_RAX)
	b.muli(hw.REG_RBX, rowBytes)
	b.addi(hw.REG_RBX, hw.CONSOLE_ADDR)
	b.movi(hw.REG_RCX, nameVA)
	putString(b, hw.REG_RCX, hw.REG_RBX, hw.REG_RBP, "named")
	b.addi(hw.REG_RBX, 2)
	emitBeat(b, hw.REG_RBX)
	return b.build()
}

// allocatorAt is the memory stress process: it grows a heap one page
// at a time from just past its data segment, stamps each fresh page
// with its pid digit to prove the mapping is writable, and ticks a
// progress marker across its console row. Pages it already owns, its
// stack above all, are stepped over; only running out of physical
// memory ends the climb, after which it settles into yielding forever.
func allocatorAt(window kernel.PID) kernel.Image {
	b := newBuilder(window)
	heapStart := b.base + 2*dataOffset

	// rbp = pid, rbx = heap cursor, rsi = row start, rcx = row cursor.
	b.sys(hw.SYSCALL_GETPID)
	b.mov(hw.REG_RBP, hw.REG_RAX)
	b.movi(hw.REG_RBX, heapStart)
	b.mov(hw.REG_RSI, hw.REG_RBP)
	b.muli(hw.REG_RSI, rowBytes)
	b.addi(hw.REG_RSI, hw.CONSOLE_ADDR)
	b.mov(hw.REG_RCX, hw.REG_RSI)

	b.label("grow")
	b.mov(hw.REG_RDI, hw.REG_RBX)
	b.sys(hw.SYSCALL_PAGE_ALLOC)
	b.jz(hw.REG_RAX, "stamp")

	// Out of memory ends the run; anything else is a page this
	// process already maps, stepped over without a mark.
	b.mov(hw.REG_RDX, hw.REG_RAX)
	b.subi(hw.REG_RDX, hw.E_NOMEM)
	b.jz(hw.REG_RDX, "full")
	b.jmp("next")

	b.label("stamp")
	// Stamp the page and the console with the pid digit.
	b.movi(hw.REG_RDX, '0')
	b.add(hw.REG_RDX, hw.REG_RBP)
	b.storeb(hw.REG_RBX, 0, hw.REG_RDX)
	b.storeb(hw.REG_RCX, 0, hw.REG_RDX)
	b.movi(hw.REG_RDX, textAttr)
	b.storeb(hw.REG_RCX, 1, hw.REG_RDX)
	b.addi(hw.REG_RCX, 2)

	// Wrap the progress marker at the right edge of the row.
	b.mov(hw.REG_RDX, hw.REG_RCX)
	b.sub(hw.REG_RDX, hw.REG_RSI)
	b.subi(hw.REG_RDX, rowBytes)
	b.jnz(hw.REG_RDX, "next")
	b.mov(hw.REG_RCX, hw.REG_RSI)
	b.label("next")
	b.addi(hw.REG_RBX, hw.PAGE_SIZE)
	b.sys(hw.SYSCALL_YIELD)
	b.jmp("grow")

	b.label("full")
	b.sys(hw.SYSCALL_YIELD)
	b.jmp("full")
	return b.build()
}

// pipeWriter pushes its message through the pipe one byte at a time,
// retrying each byte until the reader drains the previous one, then
// marks its row done.
func pipeWriter() kernel.Image {
	b := newBuilder(1)
	msgVA := b.str("hello from the pipe")

	b.movi(hw.REG_RBX, msgVA)
	b.label("send")
	b.loadb(hw.REG_RDX, hw.REG_RBX, 0)
	b.jz(hw.REG_RDX, "sent")
	b.mov(hw.REG_RDI, hw.REG_RBX)
	b.movi(hw.REG_RSI, 1)
	b.sys(hw.SYSCALL_PIPEWRITE)
	b.subi(hw.REG_RAX, 1)
	b.jz(hw.REG_RAX, "advance")
	b.sys(hw.SYSCALL_YIELD)
	b.jmp("send")
	b.label("advance")
	b.addi(hw.REG_RBX, 1)
	b.jmp("send")

	b.label("sent")
	b.movi(hw.REG_RCX, hw.CONSOLE_ADDR+1*rowBytes)
	putCell(b, hw.REG_RCX, '*', hw.REG_RDX)
	b.label("idle")
	b.sys(hw.SYSCALL_YIELD)
	b.jmp("idle")
	return b.build()
}

// pipeReader drains the pipe forever, echoing each byte onto its
// console row.
func pipeReader() kernel.Image {
	b := newBuilder(2)
	bufVA := b.reserve(1)

	b.movi(hw.REG_RBX, bufVA)
	b.movi(hw.REG_RCX, hw.CONSOLE_ADDR+2*rowBytes)
	b.label("recv")
	b.mov(hw.REG_RDI, hw.REG_RBX)
	b.movi(hw.REG_RSI, 1)
	b.sys(hw.SYSCALL_PIPEREAD)
	b.addi(hw.REG_RAX, 1)
	b.jz(hw.REG_RAX, "retry")
	b.loadb(hw.REG_RDX, hw.REG_RBX, 0)
	b.storeb(hw.REG_RCX, 0, hw.REG_RDX)
	b.movi(hw.REG_RDX, textAttr)
	b.storeb(hw.REG_RCX, 1, hw.REG_RDX)
	b.addi(hw.REG_RCX, 2)
	b.jmp("recv")
	b.label("retry")
	b.sys(hw.SYSCALL_YIELD)
	b.jmp("recv")
	return b.build()
}
