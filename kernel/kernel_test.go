package kernel

import (
	"io"
	"log/slog"
	"testing"

	"cerulean/hw"
)

// stubImages is a test image source.
type stubImages map[string]Image

func (s stubImages) Lookup(name string) (Image, bool) {
	img, ok := s[name]
	return img, ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func windowBase(pid PID) uint64 {
	return uint64(hw.PROC_START_ADDR) + uint64(pid-1)*hw.PROC_SIZE
}

// trivialImage links a yield loop for the given window.
func trivialImage(window PID) Image {
	base := windowBase(window)
	code := hw.EncodeInsn(nil, hw.Insn{Op: hw.OP_MOVI, A: hw.REG_RAX, Imm: hw.SYSCALL_YIELD})
	code = hw.EncodeInsn(code, hw.Insn{Op: hw.OP_SYSCALL})
	code = hw.EncodeInsn(code, hw.Insn{Op: hw.OP_JMP, Imm: base})
	return Image{
		Entry:    base,
		Segments: []Segment{{VA: base, MemSize: uint64(len(code)), Data: code}},
	}
}

func pairImages() stubImages {
	return stubImages{
		"alice": trivialImage(1),
		"eve":   trivialImage(2),
	}
}

func newTestKernel(t *testing.T, imgs stubImages) *Kernel {
	t.Helper()
	return New(testRAM(), imgs, discardLogger())
}

func TestBootSingleProgram(t *testing.T) {
	imgs := stubImages{"prog": trivialImage(1)}
	k := newTestKernel(t, imgs)

	res := k.Boot("prog")
	if res.PID != 1 {
		t.Fatalf("Boot resumed pid %d, want 1", res.PID)
	}
	p := k.Proc(1)
	if p.State != P_RUNNABLE {
		t.Errorf("process state = %s, want runnable", p.State)
	}
	if res.Regs.Rip != windowBase(1) {
		t.Errorf("Rip = %#x, want entry %#x", res.Regs.Rip, windowBase(1))
	}
	if res.Regs.Rsp != windowBase(1)+hw.PROC_SIZE {
		t.Errorf("Rsp = %#x, want window top %#x", res.Regs.Rsp, windowBase(1)+hw.PROC_SIZE)
	}
	if res.Regs.Rflags&hw.FLAG_IF == 0 {
		t.Error("interrupts not enabled in initial Rflags")
	}
	if res.PageTable != p.AS.Root() {
		t.Error("Resume page table is not the process's root")
	}

	// The image's bytes landed at its load address.
	want := imgs["prog"].Segments[0].Data
	got, err := p.AS.ReadUser(windowBase(1), len(want))
	if err != nil {
		t.Fatalf("ReadUser of loaded code: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("loaded code differs at byte %d", i)
		}
	}

	// Stack page is mapped just under the window top.
	if _, ok := p.AS.Translate(windowBase(1) + hw.PROC_SIZE - hw.PAGE_SIZE); !ok {
		t.Error("stack page not mapped")
	}
}

func TestBootDefaultPair(t *testing.T) {
	k := newTestKernel(t, pairImages())

	res := k.Boot("")
	if res.PID != 1 {
		t.Fatalf("Boot resumed pid %d, want 1", res.PID)
	}
	for pid := PID(1); pid <= 2; pid++ {
		if got := k.Proc(pid).State; got != P_RUNNABLE {
			t.Errorf("process %d state = %s, want runnable", pid, got)
		}
	}
	if got := k.Proc(3).State; got != P_FREE {
		t.Errorf("process 3 state = %s, want free", got)
	}
}

func TestBootPlacesImageInItsWindow(t *testing.T) {
	k := newTestKernel(t, stubImages{"third": trivialImage(3)})

	res := k.Boot("third")
	if res.PID != 3 {
		t.Fatalf("Boot resumed pid %d, want 3 (the image's link window)", res.PID)
	}
	if got := k.Proc(1).State; got != P_FREE {
		t.Errorf("process 1 state = %s, want free", got)
	}
}

func TestWindowPID(t *testing.T) {
	tests := []struct {
		name string
		va   uint64
		pid  PID
		ok   bool
	}{
		{"window 1", hw.PROC_START_ADDR, 1, true},
		{"window 2", hw.PROC_START_ADDR + hw.PROC_SIZE, 2, true},
		{"inside window 2", hw.PROC_START_ADDR + hw.PROC_SIZE + hw.PAGE_SIZE, 2, true},
		{"below process memory", hw.KERNEL_START, 0, false},
		{"past the table", hw.PROC_START_ADDR + NPROC*hw.PROC_SIZE, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			img := Image{Segments: []Segment{{VA: tc.va, MemSize: 1}}}
			pid, ok := img.WindowPID()
			if pid != tc.pid || ok != tc.ok {
				t.Errorf("WindowPID() = %d, %v; want %d, %v", pid, ok, tc.pid, tc.ok)
			}
		})
	}

	t.Run("empty image", func(t *testing.T) {
		if _, ok := (Image{}).WindowPID(); ok {
			t.Error("WindowPID of empty image reported ok")
		}
	})
}

func TestSetupRejectsSegmentOutsideWindow(t *testing.T) {
	base := windowBase(1)
	img := Image{
		Entry: base,
		Segments: []Segment{
			{VA: base, MemSize: hw.PAGE_SIZE, Data: []byte{0}},
			{VA: windowBase(2), MemSize: hw.PAGE_SIZE, Data: []byte{0}},
		},
	}
	k := newTestKernel(t, stubImages{"escape": img})

	defer func() {
		if recover() == nil {
			t.Error("setup with an out-of-window segment did not panic")
		}
	}()
	k.Boot("escape")
}

func TestSetupRejectsOverlap(t *testing.T) {
	k := newTestKernel(t, stubImages{"prog": trivialImage(1)})
	k.Boot("prog")

	defer func() {
		if recover() == nil {
			t.Error("reloading an occupied window did not panic")
		}
	}()
	k.processSetup(1, "prog")
}

func TestBootUnknownWindowPanics(t *testing.T) {
	img := Image{Entry: hw.KERNEL_START, Segments: []Segment{{VA: hw.KERNEL_START, MemSize: 1, Data: []byte{0}}}}
	k := newTestKernel(t, stubImages{"low": img})

	defer func() {
		if recover() == nil {
			t.Error("booting an image with no link window did not panic")
		}
	}()
	k.Boot("low")
}
