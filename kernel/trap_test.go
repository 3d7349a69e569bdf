package kernel

import (
	"testing"

	"cerulean/hw"
)

func timerTrap(regs hw.Regs) hw.Trap {
	return hw.Trap{Num: hw.INT_IRQ + hw.IRQ_TIMER, Regs: regs}
}

func sysTrap(regs hw.Regs, num uint64) hw.Trap {
	regs.Rax = num
	return hw.Trap{Num: hw.INT_SYS, Regs: regs}
}

// stackVA returns a writable user address inside the process's stack
// page, handy as a syscall buffer.
func stackVA(pid PID) uint64 {
	return windowBase(pid) + hw.PROC_SIZE - hw.PAGE_SIZE
}

func TestTimerTickAndPreempt(t *testing.T) {
	k := newTestKernel(t, pairImages())
	acked := false
	k.AckTimer = func() { acked = true }

	res := k.Boot("")
	ticks := k.Ticks()

	res2 := k.HandleTrap(timerTrap(res.Regs))
	if res2.PID != 2 {
		t.Errorf("timer resumed pid %d, want preemption to 2", res2.PID)
	}
	if k.Ticks() != ticks+1 {
		t.Errorf("Ticks = %d, want %d", k.Ticks(), ticks+1)
	}
	if !acked {
		t.Error("timer interrupt was not acknowledged")
	}
	if k.Proc(1).Regs != res.Regs {
		t.Error("preempted registers were not persisted")
	}
}

func TestYield(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	res2 := k.HandleTrap(sysTrap(res.Regs, hw.SYSCALL_YIELD))
	if res2.PID != 2 {
		t.Errorf("yield resumed pid %d, want 2", res2.PID)
	}
	if k.Proc(1).Regs.Rax != 0 {
		t.Errorf("yield return value = %d, want 0", k.Proc(1).Regs.Rax)
	}
}

func TestGetpid(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	res2 := k.HandleTrap(sysTrap(res.Regs, hw.SYSCALL_GETPID))
	if res2.PID != 1 {
		t.Fatalf("getpid resumed pid %d, want the caller", res2.PID)
	}
	if res2.Regs.Rax != 1 {
		t.Errorf("getpid = %d, want 1", res2.Regs.Rax)
	}
}

func TestUserFaultIsolation(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	trap := hw.Trap{
		Num:       hw.INT_PF,
		Regs:      res.Regs,
		ErrCode:   hw.PFERR_U | hw.PFERR_W,
		FaultAddr: 0,
	}
	res2 := k.HandleTrap(trap)
	if got := k.Proc(1).State; got != P_FAULTED {
		t.Errorf("faulting process state = %s, want faulted", got)
	}
	if res2.PID != 2 {
		t.Errorf("resumed pid %d, want the surviving process", res2.PID)
	}
}

func TestKernelFaultIsFatal(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	defer func() {
		if _, ok := recover().(*Error); !ok {
			t.Error("kernel-mode fault did not panic with a kernel error")
		}
	}()
	k.HandleTrap(hw.Trap{Num: hw.INT_PF, Regs: res.Regs, ErrCode: hw.PFERR_W})
}

func TestUnknownTrapIsFatal(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	defer func() {
		if recover() == nil {
			t.Error("unknown trap did not panic")
		}
	}()
	k.HandleTrap(hw.Trap{Num: 99, Regs: res.Regs})
}

func TestUnknownSyscallIsFatal(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	defer func() {
		if recover() == nil {
			t.Error("unknown system call did not panic")
		}
	}()
	k.HandleTrap(sysTrap(res.Regs, 0))
}

func TestPageAlloc(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")
	heap := windowBase(1) + 2*hw.PAGE_SIZE

	regs := res.Regs
	regs.Rdi = heap
	res2 := k.HandleTrap(sysTrap(regs, hw.SYSCALL_PAGE_ALLOC))
	if res2.Regs.Rax != 0 {
		t.Fatalf("page_alloc = %#x, want 0", res2.Regs.Rax)
	}
	pte := k.Proc(1).AS.PTEAt(heap)
	if !pte.Present() || !pte.Writable() || !pte.User() {
		t.Error("allocated page is not present, writable, user")
	}

	tests := []struct {
		name string
		addr uint64
	}{
		{"unaligned", heap + 1},
		{"kernel memory", hw.KERNEL_START},
		{"past virtual limit", hw.MEMSIZE_VIRTUAL},
		{"already mapped", heap},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			regs := res.Regs
			regs.Rdi = tc.addr
			got := k.HandleTrap(sysTrap(regs, hw.SYSCALL_PAGE_ALLOC))
			if got.Regs.Rax != hw.E_INVAL {
				t.Errorf("page_alloc(%#x) = %#x, want E_INVAL", tc.addr, got.Regs.Rax)
			}
		})
	}
}

func TestPageAllocExhaustion(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	for k.frames.FreeFrames() > 0 {
		if _, err := k.frames.Alloc(); err != nil {
			t.Fatalf("draining allocator: %v", err)
		}
	}
	regs := res.Regs
	regs.Rdi = windowBase(1) + 2*hw.PAGE_SIZE
	got := k.HandleTrap(sysTrap(regs, hw.SYSCALL_PAGE_ALLOC))
	if got.Regs.Rax != hw.E_NOMEM {
		t.Errorf("page_alloc with no free frames = %#x, want E_NOMEM", got.Regs.Rax)
	}
}

func TestGetSysName(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	regs := res.Regs
	regs.Rdi = stackVA(1)
	res2 := k.HandleTrap(sysTrap(regs, hw.SYSCALL_GETSYSNAME))
	if res2.Regs.Rax != 0 {
		t.Fatalf("getsysname = %#x, want 0", res2.Regs.Rax)
	}
	got, err := k.Proc(1).AS.ReadUserString(stackVA(1))
	if err != nil {
		t.Fatalf("reading name back: %v", err)
	}
	if got != SysName {
		t.Errorf("system name = %q, want %q", got, SysName)
	}
}

func TestUserPanicSyscall(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	if err := k.Proc(1).AS.WriteUser(stackVA(1), []byte("goodbye\x00")); err != nil {
		t.Fatalf("WriteUser: %v", err)
	}
	regs := res.Regs
	regs.Rdi = stackVA(1)
	res2 := k.HandleTrap(sysTrap(regs, hw.SYSCALL_PANIC))
	if got := k.Proc(1).State; got != P_FAULTED {
		t.Errorf("panicked process state = %s, want faulted", got)
	}
	if res2.PID != 2 {
		t.Errorf("resumed pid %d, want the surviving process", res2.PID)
	}
}

func TestSpawn(t *testing.T) {
	imgs := stubImages{
		"main":  trivialImage(1),
		"child": trivialImage(2),
	}
	k := newTestKernel(t, imgs)
	res := k.Boot("main")

	if err := k.Proc(1).AS.WriteUser(stackVA(1), []byte("child\x00")); err != nil {
		t.Fatalf("WriteUser: %v", err)
	}
	regs := res.Regs
	regs.Rdi = stackVA(1)

	res2 := k.HandleTrap(sysTrap(regs, hw.SYSCALL_SPAWN))
	if res2.Regs.Rax != 2 {
		t.Fatalf("spawn = %#x, want pid 2", res2.Regs.Rax)
	}
	child := k.Proc(2)
	if child.State != P_RUNNABLE {
		t.Errorf("child state = %s, want runnable", child.State)
	}
	if child.Regs.Rip != windowBase(2) {
		t.Errorf("child Rip = %#x, want entry %#x", child.Regs.Rip, windowBase(2))
	}

	// The window is occupied now; a second spawn must be refused.
	got := k.HandleTrap(sysTrap(regs, hw.SYSCALL_SPAWN))
	if got.Regs.Rax != hw.E_AGAIN {
		t.Errorf("spawn into occupied window = %#x, want E_AGAIN", got.Regs.Rax)
	}
}

func TestSpawnUnknownProgram(t *testing.T) {
	k := newTestKernel(t, stubImages{"main": trivialImage(1)})
	res := k.Boot("main")

	if err := k.Proc(1).AS.WriteUser(stackVA(1), []byte("nonesuch\x00")); err != nil {
		t.Fatalf("WriteUser: %v", err)
	}
	regs := res.Regs
	regs.Rdi = stackVA(1)
	got := k.HandleTrap(sysTrap(regs, hw.SYSCALL_SPAWN))
	if got.Regs.Rax != hw.E_UNSUPPORTED {
		t.Errorf("spawn of unknown program = %#x, want E_UNSUPPORTED", got.Regs.Rax)
	}
}

func TestSpawnBusyWindowFrames(t *testing.T) {
	imgs := stubImages{
		"main":  trivialImage(1),
		"child": trivialImage(2),
	}
	k := newTestKernel(t, imgs)
	res := k.Boot("main")

	// Someone still holds a frame inside the child's window.
	if err := k.frames.ClaimAt(FrameOf(windowBase(2))); err != nil {
		t.Fatalf("ClaimAt: %v", err)
	}
	if err := k.Proc(1).AS.WriteUser(stackVA(1), []byte("child\x00")); err != nil {
		t.Fatalf("WriteUser: %v", err)
	}
	regs := res.Regs
	regs.Rdi = stackVA(1)
	got := k.HandleTrap(sysTrap(regs, hw.SYSCALL_SPAWN))
	if got.Regs.Rax != hw.E_AGAIN {
		t.Errorf("spawn with busy window frames = %#x, want E_AGAIN", got.Regs.Rax)
	}
	if k.Proc(2).State != P_FREE {
		t.Error("refused spawn still changed the child slot")
	}
}

func TestSpawnBadNamePointer(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	regs := res.Regs
	regs.Rdi = 0 // null page is never mapped
	got := k.HandleTrap(sysTrap(regs, hw.SYSCALL_SPAWN))
	if got.Regs.Rax != hw.E_FAULT {
		t.Errorf("spawn with bad name pointer = %#x, want E_FAULT", got.Regs.Rax)
	}
}
