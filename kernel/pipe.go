package kernel

import "cerulean/hw"

// pipeBuffer is the kernel's single shared pipe: one byte and an
// occupancy flag, reachable from every process for the lifetime of the
// machine. Contention is pushed back to user level through the
// try-again convention; the kernel never waits.
type pipeBuffer struct {
	buf  byte
	full bool
}

// sysPipeWrite copies one byte from the caller into the pipe. A full
// buffer is refused with try-again and the caller is parked Blocked
// until a read drains the pipe; writers with more than one byte
// re-issue the call for the rest.
func (k *Kernel) sysPipeWrite(p *Proc, buf, sz uint64) uint64 {
	if sz == 0 {
		// nothing to write
		return 0
	}
	if k.pipe.full {
		// kernel buffer full, try again
		p.State = P_BLOCKED
		return hw.E_AGAIN
	}
	b, err := p.AS.ReadUser(buf, 1)
	if err != nil {
		return hw.E_FAULT
	}
	k.pipe.buf = b[0]
	k.pipe.full = true
	k.wakeBlocked()
	return 1
}

// sysPipeRead consumes the buffered byte into the caller's buffer.
// Empty is refused with try-again, parking the caller until a write
// fills the pipe.
func (k *Kernel) sysPipeRead(p *Proc, buf, sz uint64) uint64 {
	if sz == 0 {
		// no room to read
		return 0
	}
	if !k.pipe.full {
		// kernel buffer empty, try again
		p.State = P_BLOCKED
		return hw.E_AGAIN
	}
	if err := p.AS.WriteUser(buf, []byte{k.pipe.buf}); err != nil {
		return hw.E_FAULT
	}
	k.pipe.full = false
	k.wakeBlocked()
	return 1
}

// wakeBlocked makes every Blocked process runnable again. The pipe is
// the only blocking condition in this kernel, and its occupancy just
// changed, so all waiters get a fresh chance to re-issue their call.
func (k *Kernel) wakeBlocked() {
	for i := range k.ptable {
		if k.ptable[i].State == P_BLOCKED {
			k.ptable[i].State = P_RUNNABLE
		}
	}
}
