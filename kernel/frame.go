package kernel

import (
	"cerulean/hw"
)

// Frame is a physical memory page index.
type Frame uintptr

// InvalidFrame is returned by the allocator when no frame could be
// reserved.
const InvalidFrame = ^Frame(0)

// Valid reports whether this is a real frame.
func (f Frame) Valid() bool { return f != InvalidFrame }

// Addr returns the physical address of the first byte of the frame.
func (f Frame) Addr() uint64 { return uint64(f) << hw.PAGE_SHIFT }

// FrameOf returns the frame containing the physical address.
func FrameOf(addr uint64) Frame { return Frame(addr >> hw.PAGE_SHIFT) }

// FrameAllocator tracks the reference count of every physical frame.
// A frame with count 0 is free; a frame with count > 0 is owned
// collectively by whoever mapped or retained it. Low memory and the
// I/O window are never allocatable.
//
// Allocation scans with a monotonically advancing cursor that wraps at
// most once per call, so each call is O(NPAGES) worst case but O(1)
// amortized while memory is plentiful.
type FrameAllocator struct {
	ram      []byte
	refcount [hw.NPAGES]uint16
	cursor   Frame
}

// NewFrameAllocator builds an allocator over the machine's physical
// memory. ram must cover exactly MEMSIZE_PHYSICAL bytes.
func NewFrameAllocator(ram []byte) *FrameAllocator {
	if len(ram) != hw.MEMSIZE_PHYSICAL {
		panic(errorf("frame", "physical memory is %#x bytes, want %#x", len(ram), hw.MEMSIZE_PHYSICAL))
	}
	return &FrameAllocator{ram: ram}
}

// Allocatable reports whether the frame may ever be handed out:
// inside physical memory, above the reserved low boundary, and outside
// the I/O window.
func (fa *FrameAllocator) Allocatable(f Frame) bool {
	addr := f.Addr()
	if addr < hw.LOW_RESERVED_END || addr >= hw.MEMSIZE_PHYSICAL {
		return false
	}
	if addr >= hw.IO_WINDOW_START && addr < hw.IO_WINDOW_END {
		return false
	}
	return true
}

// Alloc reserves one free frame, sets its reference count to 1, zeroes
// its contents, and returns it. Zeroing matters: a stale fill pattern
// leaking between processes is an information disclosure.
func (fa *FrameAllocator) Alloc() (Frame, *Error) {
	for scanned := 0; scanned < hw.NPAGES; scanned++ {
		f := fa.cursor
		fa.cursor = (fa.cursor + 1) % hw.NPAGES
		if fa.Allocatable(f) && fa.refcount[f] == 0 {
			fa.refcount[f] = 1
			fa.zero(f)
			return f, nil
		}
	}
	return InvalidFrame, ErrNoMem
}

// ClaimAt reserves the specific frame f, which must be allocatable and
// free. Process setup uses this to place image and stack pages at
// their fixed physical addresses.
func (fa *FrameAllocator) ClaimAt(f Frame) *Error {
	if !fa.Allocatable(f) {
		return errorf("frame", "frame %#x is not allocatable", f.Addr())
	}
	if fa.refcount[f] != 0 {
		return errorf("frame", "frame %#x already owned (refcount %d)", f.Addr(), fa.refcount[f])
	}
	fa.refcount[f] = 1
	fa.zero(f)
	return nil
}

// Retain increments the frame's reference count directly. This is the
// copy-free sharing path: the console frame is held both by the kernel
// and by every process that maps it.
func (fa *FrameAllocator) Retain(f Frame) {
	if uintptr(f) >= hw.NPAGES {
		panic(errorf("frame", "retain of frame %#x outside physical memory", uintptr(f)))
	}
	fa.refcount[f]++
}

// Free drops one reference to the frame. When the count reaches 0 the
// frame becomes allocatable again. Freeing a frame whose count is
// already 0 is a double free in the caller and is fatal.
func (fa *FrameAllocator) Free(f Frame) {
	if uintptr(f) >= hw.NPAGES {
		panic(errorf("frame", "free of frame %#x outside physical memory", uintptr(f)))
	}
	if fa.refcount[f] == 0 {
		panic(errorf("frame", "double free of frame %#x", f.Addr()))
	}
	fa.refcount[f]--
}

// Refcount returns the frame's current reference count.
func (fa *FrameAllocator) Refcount(f Frame) int {
	if uintptr(f) >= hw.NPAGES {
		return 0
	}
	return int(fa.refcount[f])
}

// FreeFrames counts the allocatable frames currently free. Used by the
// memory viewer and by exhaustion diagnostics.
func (fa *FrameAllocator) FreeFrames() int {
	n := 0
	for f := Frame(0); uintptr(f) < hw.NPAGES; f++ {
		if fa.Allocatable(f) && fa.refcount[f] == 0 {
			n++
		}
	}
	return n
}

func (fa *FrameAllocator) zero(f Frame) {
	page := fa.ram[f.Addr() : f.Addr()+hw.PAGE_SIZE]
	for i := range page {
		page[i] = 0
	}
}
