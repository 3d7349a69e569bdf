// Command cerulean boots the teaching kernel on the emulated machine
// and drives the trap loop until the operator interrupts it or the
// kernel halts.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"cerulean/config"
	"cerulean/image"
	"cerulean/kernel"
	"cerulean/machine"
	"cerulean/memviz"
)

func main() {
	configPath := flag.String("config", "", "boot profile (TOML)")
	command := flag.String("command", "", "boot command, overrides the profile")
	flag.Parse()

	profile := config.Default()
	if *configPath != "" {
		p, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cerulean:", err)
			os.Exit(1)
		}
		profile = p
	}
	if *command != "" {
		profile.Command = *command
	}
	if profile.Command == "" {
		profile.Command = kernel.DefaultCommand
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: profile.SlogLevel(),
	}))
	slog.SetDefault(log)

	var aborted atomic.Bool
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		aborted.Store(true)
	}()

	m := machine.New(profile.TimerSlice)
	m.Abort = aborted.Load

	k := kernel.New(m.RAM(), image.Builtin(), log)
	k.AckTimer = m.AckTimer
	k.CheckAbort = aborted.Load

	m.ClearConsole()

	err := run(m, k, profile, log)
	fmt.Print(m.ConsoleText())
	if err != nil {
		log.Error("machine halted", "err", err)
		os.Exit(1)
	}
	log.Info("machine halted cleanly", "ticks", k.Ticks())
}

// run drives the trap loop. Fatal kernel conditions surface as panics
// carrying a kernel error; the operator's halt request is the one
// clean way out.
func run(m *machine.Machine, k *kernel.Kernel, profile *config.Profile, log *slog.Logger) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		kerr, ok := r.(*kernel.Error)
		if !ok {
			panic(r)
		}
		if kerr != kernel.ErrHalt {
			err = kerr
		}
	}()

	resume := k.Boot(profile.Command)
	var lastSnap uint64
	for {
		trap := m.Run(resume.Regs, resume.PageTable)
		resume = k.HandleTrap(trap)

		if m.Abort != nil && m.Abort() {
			return nil
		}
		if profile.ShowMemory && k.Ticks() >= lastSnap+uint64(profile.SnapshotEvery) {
			lastSnap = k.Ticks()
			if snapErr := memviz.Snapshot(k, profile.SnapshotPath); snapErr != nil {
				log.Warn("memory snapshot failed", "path", profile.SnapshotPath, "err", snapErr)
			}
		}
	}
}
