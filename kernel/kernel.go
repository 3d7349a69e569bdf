package kernel

import (
	"log/slog"

	"cerulean/hw"
)

// SysName is what the get-system-name call reports.
const SysName = "CeruleanOS 1.1"

// DefaultCommand selects the boot process set when no command is given
// or the command names no known program.
const DefaultCommand = "alice+eve"

// ErrHalt is the panic value the scheduler raises when the abort hook
// reports that the operator wants the machine stopped.
var ErrHalt = &Error{Module: "machine", Message: "halt requested"}

// Kernel is the whole machine-resident state: the frame allocator, the
// process table, the tick counter, and the pipe buffer. All of it is
// mutated only from trap context with interrupts off, so none of it is
// locked.
type Kernel struct {
	ram     []byte
	frames  *FrameAllocator
	ptable  [NPROC]Proc
	current PID
	ticks   uint64
	pipe    pipeBuffer
	images  ImageSource
	log     *slog.Logger

	// AckTimer acknowledges the interrupt controller after a timer
	// interrupt. Left nil when there is no controller to ack.
	AckTimer func()

	// CheckAbort is polled while the scheduler idles; returning true
	// halts the machine. This is where the emulator's Control-C lands.
	CheckAbort func() bool
}

// New builds a kernel over the machine's physical memory. The kernel
// claims its own code, data, and stack frames and the console frame,
// so the allocator can never hand them out.
func New(ram []byte, images ImageSource, log *slog.Logger) *Kernel {
	if log == nil {
		log = slog.Default()
	}
	k := &Kernel{
		ram:    ram,
		frames: NewFrameAllocator(ram),
		images: images,
		log:    log.With("module", "kernel"),
	}
	for addr := uint64(hw.KERNEL_START); addr < hw.KERNEL_END; addr += hw.PAGE_SIZE {
		k.frames.Retain(FrameOf(addr))
	}
	k.frames.Retain(FrameOf(hw.CONSOLE_ADDR))
	return k
}

// Boot initializes the process table, loads the initial process set
// selected by command, and hands back the first resumption. The
// command may name a single program, name the "pipe" pair, or be
// empty for the default pair.
func (k *Kernel) Boot(command string) Resume {
	k.log.Info("starting " + SysName)
	k.ticks = 1

	for i := range k.ptable {
		k.ptable[i].PID = PID(i)
		k.ptable[i].State = P_FREE
	}

	if img, ok := k.images.Lookup(command); ok {
		// Images are position-dependent; load into the window the
		// image was linked for.
		pid, ok := img.WindowPID()
		if !ok {
			panic(errorf("boot", "program %q has no usable link window", command))
		}
		k.processSetup(pid, command)
	} else if command == "pipe" {
		k.processSetup(1, "pipewriter")
		k.processSetup(2, "pipereader")
	} else if command == "allocators" {
		k.processSetup(1, "allocator")
		k.processSetup(2, "allocator2")
		k.processSetup(3, "allocator3")
		k.processSetup(4, "allocator4")
	} else {
		k.processSetup(1, "alice")
		k.processSetup(2, "eve")
	}

	for i := 1; i < NPROC; i++ {
		if k.ptable[i].State == P_RUNNABLE {
			return k.run(&k.ptable[i])
		}
	}
	panic(errorf("boot", "no runnable process after setup"))
}

// Ticks returns the number of timer interrupts seen since boot.
func (k *Kernel) Ticks() uint64 { return k.ticks }

// Current returns the identity of the running process.
func (k *Kernel) Current() PID { return k.current }

// Proc returns the descriptor for pid, or nil if pid is out of range.
func (k *Kernel) Proc(pid PID) *Proc {
	if pid < 0 || pid >= NPROC {
		return nil
	}
	return &k.ptable[pid]
}

// Frames exposes the frame allocator for inspection (memory viewer,
// diagnostics). Callers must not allocate or free through it.
func (k *Kernel) Frames() *FrameAllocator { return k.frames }
