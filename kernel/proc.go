package kernel

import (
	"cerulean/hw"
)

// NPROC is the static size of the process table. Slot 0 is never used.
const NPROC = 16

// PID identifies a process table slot. Stable for the descriptor's
// lifetime.
type PID int

// ProcState is the process state machine tag. The descriptor's state
// is the single source of truth for scheduling and trap-return
// decisions.
type ProcState int

const (
	P_FREE     ProcState = iota // slot unused, no address space bound
	P_RUNNABLE                  // eligible for scheduling
	P_BLOCKED                   // waiting on a condition resolved by retry
	P_FAULTED                   // trapped unrecoverably; never scheduled again
)

func (s ProcState) String() string {
	switch s {
	case P_FREE:
		return "free"
	case P_RUNNABLE:
		return "runnable"
	case P_BLOCKED:
		return "blocked"
	case P_FAULTED:
		return "faulted"
	}
	return "unknown"
}

// Proc is one process descriptor.
type Proc struct {
	PID   PID
	State ProcState
	Regs  hw.Regs
	AS    *AddressSpace
}

// Segment is one loadable piece of a program image: Data bytes placed
// at VA, padded with zeroes out to MemSize.
type Segment struct {
	VA      uint64
	MemSize uint64
	Data    []byte
}

// Image is a loaded program: an ordered sequence of segments plus the
// entry address.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// ImageSource is the external program-image provider.
type ImageSource interface {
	Lookup(name string) (Image, bool)
}

// WindowPID derives the process slot an image was linked for from its
// first segment. Images are position-dependent; each is linked inside
// exactly one per-process window.
func (img Image) WindowPID() (PID, bool) {
	if len(img.Segments) == 0 {
		return 0, false
	}
	va := img.Segments[0].VA
	if va < hw.PROC_START_ADDR {
		return 0, false
	}
	pid := PID((va-hw.PROC_START_ADDR)/hw.PROC_SIZE) + 1
	if pid <= 0 || pid >= NPROC {
		return 0, false
	}
	return pid, true
}

// processSetup loads program name as process pid: builds an address
// space, claims and maps one frame per page of every segment inside
// the process's window, copies the segment bytes in, places a stack
// page at the top of the window, and marks the process runnable.
// Failures here leave memory partially claimed, so every one of them
// is fatal rather than recoverable.
func (k *Kernel) processSetup(pid PID, name string) {
	img, ok := k.images.Lookup(name)
	if !ok {
		panic(errorf("proc", "no program image named %q", name))
	}

	p := &k.ptable[pid]

	// All process memory must reside inside the window.
	firstAddr := uint64(hw.PROC_START_ADDR) + uint64(pid-1)*hw.PROC_SIZE
	lastAddr := firstAddr + hw.PROC_SIZE

	as, err := NewAddressSpace(k.frames)
	if err != nil {
		panic(errorf("proc", "process %d: address space: %v", pid, err))
	}
	p.AS = as

	// Claim and map every page covered by a loadable segment. Frames
	// are placed at their identity addresses inside the window, so an
	// already-owned frame means overlapping process memory.
	for _, seg := range img.Segments {
		for a := hw.PageDown(seg.VA); a < seg.VA+seg.MemSize; a += hw.PAGE_SIZE {
			if a < firstAddr || a >= lastAddr {
				panic(errorf("proc", "process %d: segment page %#x outside window [%#x,%#x)",
					pid, a, firstAddr, lastAddr))
			}
			f := FrameOf(a)
			if err := k.frames.ClaimAt(f); err != nil {
				panic(errorf("proc", "process %d: %v", pid, err))
			}
			if err := as.Map(a, f, hw.PTE_P|hw.PTE_W|hw.PTE_U); err != nil {
				panic(errorf("proc", "process %d: map %#x: %v", pid, a, err))
			}
		}
	}

	// Copy instructions and data into place. Claimed frames start out
	// zeroed, which covers any MemSize beyond the backing bytes.
	for _, seg := range img.Segments {
		if err := as.WriteUser(seg.VA, seg.Data); err != nil {
			panic(errorf("proc", "process %d: load segment at %#x: %v", pid, seg.VA, err))
		}
	}

	// Mark the entry point.
	p.Regs = hw.Regs{Rip: img.Entry, Rflags: hw.FLAG_IF}

	// Allocate the stack page just below the window's ceiling.
	stackAddr := lastAddr - hw.PAGE_SIZE
	if err := k.frames.ClaimAt(FrameOf(stackAddr)); err != nil {
		panic(errorf("proc", "process %d: stack: %v", pid, err))
	}
	if err := as.Map(stackAddr, FrameOf(stackAddr), hw.PTE_P|hw.PTE_W|hw.PTE_U); err != nil {
		panic(errorf("proc", "process %d: map stack: %v", pid, err))
	}
	p.Regs.Rsp = lastAddr

	p.State = P_RUNNABLE
}
