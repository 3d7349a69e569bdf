package kernel

import (
	"testing"

	"cerulean/hw"
)

func pipeTrap(regs hw.Regs, num uint64, buf uint64, sz uint64) hw.Trap {
	regs.Rdi = buf
	regs.Rsi = sz
	return sysTrap(regs, num)
}

func TestPipeTransfersOneByte(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	wbuf, rbuf := stackVA(1), stackVA(2)
	if err := k.Proc(1).AS.WriteUser(wbuf, []byte{'h'}); err != nil {
		t.Fatalf("WriteUser: %v", err)
	}

	// Writer fills the pipe and keeps running.
	res = k.HandleTrap(pipeTrap(res.Regs, hw.SYSCALL_PIPEWRITE, wbuf, 1))
	if res.PID != 1 || res.Regs.Rax != 1 {
		t.Fatalf("first write: pid %d rax %#x, want pid 1 rax 1", res.PID, res.Regs.Rax)
	}

	// A second write of a different byte finds the pipe full:
	// try-again, writer parked, stored byte untouched.
	if err := k.Proc(1).AS.WriteUser(wbuf, []byte{'z'}); err != nil {
		t.Fatalf("WriteUser: %v", err)
	}
	res = k.HandleTrap(pipeTrap(res.Regs, hw.SYSCALL_PIPEWRITE, wbuf, 1))
	if k.Proc(1).Regs.Rax != hw.E_AGAIN {
		t.Fatalf("write to full pipe = %#x, want E_AGAIN", k.Proc(1).Regs.Rax)
	}
	if got := k.Proc(1).State; got != P_BLOCKED {
		t.Fatalf("writer state = %s, want blocked", got)
	}
	if res.PID != 2 {
		t.Fatalf("resumed pid %d, want the reader", res.PID)
	}

	// Reader drains the byte; the blocked writer wakes.
	res = k.HandleTrap(pipeTrap(res.Regs, hw.SYSCALL_PIPEREAD, rbuf, 1))
	if res.PID != 2 || res.Regs.Rax != 1 {
		t.Fatalf("read: pid %d rax %#x, want pid 2 rax 1", res.PID, res.Regs.Rax)
	}
	got, err := k.Proc(2).AS.ReadUser(rbuf, 1)
	if err != nil {
		t.Fatalf("ReadUser: %v", err)
	}
	if got[0] != 'h' {
		t.Errorf("read byte = %q, want 'h'", got[0])
	}
	if state := k.Proc(1).State; state != P_RUNNABLE {
		t.Errorf("writer state after drain = %s, want runnable", state)
	}

	// Empty again: the reader gets try-again and parks.
	res = k.HandleTrap(pipeTrap(res.Regs, hw.SYSCALL_PIPEREAD, rbuf, 1))
	if k.Proc(2).Regs.Rax != hw.E_AGAIN {
		t.Errorf("read from empty pipe = %#x, want E_AGAIN", k.Proc(2).Regs.Rax)
	}
	if state := k.Proc(2).State; state != P_BLOCKED {
		t.Errorf("reader state = %s, want blocked", state)
	}
	if res.PID != 1 {
		t.Errorf("resumed pid %d, want the woken writer", res.PID)
	}
}

func TestPipeZeroLength(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	res = k.HandleTrap(pipeTrap(res.Regs, hw.SYSCALL_PIPEWRITE, stackVA(1), 0))
	if res.PID != 1 || res.Regs.Rax != 0 {
		t.Errorf("zero-length write: pid %d rax %#x, want pid 1 rax 0", res.PID, res.Regs.Rax)
	}
	res = k.HandleTrap(pipeTrap(res.Regs, hw.SYSCALL_PIPEREAD, stackVA(1), 0))
	if res.PID != 1 || res.Regs.Rax != 0 {
		t.Errorf("zero-length read: pid %d rax %#x, want pid 1 rax 0", res.PID, res.Regs.Rax)
	}
	if k.pipe.full {
		t.Error("zero-length operations touched the pipe buffer")
	}
}

func TestPipeBadBuffer(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	res = k.HandleTrap(pipeTrap(res.Regs, hw.SYSCALL_PIPEWRITE, 0, 1))
	if res.Regs.Rax != hw.E_FAULT {
		t.Errorf("write from null buffer = %#x, want E_FAULT", res.Regs.Rax)
	}
	if k.pipe.full {
		t.Error("failed write filled the pipe")
	}

	// Fill the pipe, then read into a bad buffer: the byte stays put.
	if err := k.Proc(1).AS.WriteUser(stackVA(1), []byte{'x'}); err != nil {
		t.Fatalf("WriteUser: %v", err)
	}
	res = k.HandleTrap(pipeTrap(res.Regs, hw.SYSCALL_PIPEWRITE, stackVA(1), 1))
	if res.Regs.Rax != 1 {
		t.Fatalf("write = %#x, want 1", res.Regs.Rax)
	}
	res = k.HandleTrap(pipeTrap(res.Regs, hw.SYSCALL_PIPEREAD, 0, 1))
	if res.Regs.Rax != hw.E_FAULT {
		t.Errorf("read into null buffer = %#x, want E_FAULT", res.Regs.Rax)
	}
	if !k.pipe.full {
		t.Error("failed read drained the pipe")
	}
}

func TestPipeOnlyWakesOnOccupancyChange(t *testing.T) {
	k := newTestKernel(t, pairImages())
	res := k.Boot("")

	// Reader blocks on the empty pipe.
	k.current = 2
	res2 := k.HandleTrap(pipeTrap(k.Proc(2).Regs, hw.SYSCALL_PIPEREAD, stackVA(2), 1))
	if got := k.Proc(2).State; got != P_BLOCKED {
		t.Fatalf("reader state = %s, want blocked", got)
	}
	if res2.PID != 1 {
		t.Fatalf("resumed pid %d, want 1", res2.PID)
	}

	// A zero-length write changes nothing and wakes nobody.
	k.HandleTrap(pipeTrap(res.Regs, hw.SYSCALL_PIPEWRITE, stackVA(1), 0))
	if got := k.Proc(2).State; got != P_BLOCKED {
		t.Errorf("reader state after no-op write = %s, want still blocked", got)
	}

	// A real write does.
	if err := k.Proc(1).AS.WriteUser(stackVA(1), []byte{'y'}); err != nil {
		t.Fatalf("WriteUser: %v", err)
	}
	k.HandleTrap(pipeTrap(k.Proc(1).Regs, hw.SYSCALL_PIPEWRITE, stackVA(1), 1))
	if got := k.Proc(2).State; got != P_RUNNABLE {
		t.Errorf("reader state after write = %s, want runnable", got)
	}
}
