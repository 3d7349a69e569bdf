package kernel

import (
	"cerulean/hw"
)

// HandleTrap is the single kernel entry point: every interrupt, fault,
// and system call from the running process arrives here with the
// hardware's register snapshot. The snapshot is persisted into the
// process descriptor first so all subsequent logic, and any
// resumption, sees consistent state. Interrupts are off for the whole
// handling, so nothing here is ever re-entered.
func (k *Kernel) HandleTrap(t hw.Trap) Resume {
	p := &k.ptable[k.current]
	p.Regs = t.Regs

	wantSchedule := false

	switch t.Num {
	case hw.INT_IRQ + hw.IRQ_TIMER:
		k.ticks++
		if k.AckTimer != nil {
			k.AckTimer()
		}
		wantSchedule = true

	case hw.INT_PF:
		k.pageFault(p, t)

	case hw.INT_SYS:
		wantSchedule = k.syscall(p)

	default:
		panic(errorf("trap", "unexpected trap %d (rip=%#x)", t.Num, t.Regs.Rip))
	}

	// Return to the current process, or run something else.
	if !wantSchedule && p.State == P_RUNNABLE {
		return k.run(p)
	}
	return k.schedule()
}

// pageFault handles a protection fault. A fault taken in kernel mode
// is unrecoverable and halts the machine; a user-mode fault is fatal
// only to the faulting process.
func (k *Kernel) pageFault(p *Proc, t hw.Trap) {
	operation := "read"
	if t.ErrCode&hw.PFERR_W != 0 {
		operation = "write"
	}
	problem := "missing page"
	if t.ErrCode&hw.PFERR_P != 0 {
		problem = "protection problem"
	}

	if t.ErrCode&hw.PFERR_U == 0 {
		panic(errorf("trap", "kernel page fault on %#x (%s %s, rip=%#x)",
			t.FaultAddr, operation, problem, t.Regs.Rip))
	}

	k.log.Error("process page fault",
		"pid", int(p.PID),
		"addr", t.FaultAddr,
		"operation", operation,
		"problem", problem,
		"rip", t.Regs.Rip)
	p.State = P_FAULTED
}

// syscall dispatches on the call number in Rax and stores the return
// value back into Rax. It reports whether the scheduler should run
// instead of resuming the caller. An unrecognized call number is a
// violation of the closed ABI and halts the machine.
func (k *Kernel) syscall(p *Proc) (wantSchedule bool) {
	regs := &p.Regs

	switch regs.Rax {
	case hw.SYSCALL_PANIC:
		k.userPanic(p)
		return false

	case hw.SYSCALL_GETPID:
		regs.Rax = uint64(p.PID)
		return false

	case hw.SYSCALL_YIELD:
		regs.Rax = 0
		return true

	case hw.SYSCALL_PAGE_ALLOC:
		regs.Rax = k.sysPageAlloc(p, regs.Rdi)
		return false

	case hw.SYSCALL_GETSYSNAME:
		regs.Rax = k.sysGetSysName(p, regs.Rdi)
		return false

	case hw.SYSCALL_SPAWN:
		regs.Rax = k.sysSpawn(p, regs.Rdi)
		return false

	case hw.SYSCALL_PIPEWRITE:
		regs.Rax = k.sysPipeWrite(p, regs.Rdi, regs.Rsi)
		return false

	case hw.SYSCALL_PIPEREAD:
		regs.Rax = k.sysPipeRead(p, regs.Rdi, regs.Rsi)
		return false
	}

	panic(errorf("trap", "unexpected system call %d (pid=%d rip=%#x)",
		regs.Rax, p.PID, regs.Rip))
}

// userPanic handles the self-terminate-with-diagnostic call. The
// diagnostic string pointer rides in Rdi; a bad pointer just shortens
// the message.
func (k *Kernel) userPanic(p *Proc) {
	msg, err := p.AS.ReadUserString(p.Regs.Rdi)
	if err != nil {
		msg = "(diagnostic unavailable)"
	}
	k.log.Error("process panic", "pid", int(p.PID), "message", msg)
	p.State = P_FAULTED
}

// sysPageAlloc installs one newly allocated, zeroed, user-writable
// page at the caller-supplied address.
func (k *Kernel) sysPageAlloc(p *Proc, addr uint64) uint64 {
	if !hw.PageAligned(addr) || addr < hw.PROC_START_ADDR || addr >= hw.MEMSIZE_VIRTUAL {
		return hw.E_INVAL
	}
	f, err := k.frames.Alloc()
	if err != nil {
		return hw.E_NOMEM
	}
	if err := p.AS.Map(addr, f, hw.PTE_P|hw.PTE_W|hw.PTE_U); err != nil {
		k.frames.Free(f)
		if err == ErrMapped {
			return hw.E_INVAL
		}
		return hw.E_NOMEM
	}
	return 0
}

// sysGetSysName copies the system identification string, including its
// terminator, into the caller's buffer.
func (k *Kernel) sysGetSysName(p *Proc, buf uint64) uint64 {
	name := append([]byte(SysName), 0)
	if err := p.AS.WriteUser(buf, name); err != nil {
		return hw.E_FAULT
	}
	return 0
}

// sysSpawn creates a new process from the named program image. Images
// are position-dependent, so the target slot follows from the window
// the image was linked in. An unknown program or unusable window is
// reported back rather than failing fatally; running out of memory
// partway through setup still halts the machine, per the fail-stop
// rule.
func (k *Kernel) sysSpawn(p *Proc, nameAddr uint64) uint64 {
	name, err := p.AS.ReadUserString(nameAddr)
	if err != nil {
		return hw.E_FAULT
	}
	img, ok := k.images.Lookup(name)
	if !ok {
		return hw.E_UNSUPPORTED
	}
	pid, ok := img.WindowPID()
	if !ok {
		return hw.E_UNSUPPORTED
	}
	if k.ptable[pid].State != P_FREE {
		return hw.E_AGAIN
	}
	// The image's window frames must all be free; a stale owner means
	// the window is still in use somewhere.
	firstAddr := uint64(hw.PROC_START_ADDR) + uint64(pid-1)*hw.PROC_SIZE
	for a := firstAddr; a < firstAddr+hw.PROC_SIZE; a += hw.PAGE_SIZE {
		if k.frames.Refcount(FrameOf(a)) != 0 {
			return hw.E_AGAIN
		}
	}

	k.processSetup(pid, name)
	k.log.Info("spawned process", "pid", int(pid), "program", name, "parent", int(p.PID))
	return uint64(pid)
}
