package kernel

import "cerulean/hw"

// Resume is the one-way transfer back to user mode: the process to
// run, its register snapshot, and the page table root the hardware
// must translate through. The trap loop hands it to the CPU and does
// not see the process again until its next trap.
type Resume struct {
	PID       PID
	Regs      hw.Regs
	PageTable uint64
}

// run resumes process p. The terminal transition of every trap.
func (k *Kernel) run(p *Proc) Resume {
	if p.State != P_RUNNABLE {
		panic(errorf("sched", "run of process %d in state %s", p.PID, p.State))
	}
	k.current = p.PID
	return Resume{PID: p.PID, Regs: p.Regs, PageTable: p.AS.Root()}
}

// schedule picks the next process to run and runs it: pure round
// robin, starting just after the current process and wrapping over the
// table. If nothing is runnable it spins forever, polling the abort
// hook. Idling forever is an accepted terminal state, not an error.
func (k *Kernel) schedule() Resume {
	pid := k.current
	for {
		pid = (pid + 1) % NPROC
		if k.ptable[pid].State == P_RUNNABLE {
			return k.run(&k.ptable[pid])
		}
		if k.CheckAbort != nil && k.CheckAbort() {
			panic(ErrHalt)
		}
	}
}
