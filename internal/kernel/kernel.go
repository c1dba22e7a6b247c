/*
 * mlkernel - kernel orchestration and drive loop
 *
 * Copyright 2026, mlkernel contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package kernel wires every subsystem package (scheduler, IPC, MMU,
// loader, device allowlist, interrupt controller, trap dispatcher, and
// the instruction stepper) into one runnable system and drives it with
// a single logical-CPU loop: fetch/decode/execute one instruction for
// the current thread, dispatch a trap if one occurred, tick the timer,
// and let the scheduler decide whether to switch. Grounded on
// emu/core's single-goroutine "step the active device, then drain
// pending events" main loop, generalized from a channel-I/O cycle to a
// preemptive-thread cycle.
package kernel

import (
	"log/slog"

	"mlkernel/internal/kernel/abi"
	"mlkernel/internal/kernel/addr"
	"mlkernel/internal/kernel/cpu"
	"mlkernel/internal/kernel/devmap"
	"mlkernel/internal/kernel/frame"
	"mlkernel/internal/kernel/intc"
	"mlkernel/internal/kernel/ipc"
	"mlkernel/internal/kernel/loader"
	"mlkernel/internal/kernel/mmu"
	"mlkernel/internal/kernel/sched"
	"mlkernel/internal/kernel/trap"
)

// Kernel bundles the fully wired subsystem set and the per-thread
// simulated CPU state the subsystem packages don't themselves own:
// sched.Thread.Ctx only ever holds the callee-saved slice a real
// context switch would preserve, but a software instruction stepper
// has to resume a preempted program exactly where it left off,
// mid-expression, so the full 31-register file lives here, one per
// thread, alongside the trap frame used to carry syscall arguments and
// results across a block/unblock cycle.
type Kernel struct {
	RAM       *frame.RAM
	Alloc     *frame.Allocator
	ASIDs     *mmu.ASIDPool
	Sched     *sched.Scheduler
	Endpoints *ipc.Table
	Devices   *devmap.Allowlist
	UART      *devmap.UART
	Timer     *intc.Controller
	Registry  *loader.Registry
	Spawner   *loader.Spawner
	Dispatcher *trap.Dispatcher
	CPU       *cpu.CPU
	Log       *slog.Logger

	regs        map[uint32]*cpu.Regs
	frames      map[uint32]*trap.Frame
	pendingSync map[uint32]bool
}

// New builds a complete kernel over ramBytes of simulated physical
// memory, reserving the low kernelReserve bytes from the frame
// allocator for the kernel image (mirroring the boot config's "ram"
// directive feeding NewAddressSpace-adjacent bookkeeping).
func New(ramBytes, kernelReserve uint64, log *slog.Logger) *Kernel {
	ram := frame.NewRAM(ramBytes)
	alloc := frame.New(ram, addr.PhysAddr(kernelReserve))
	asids := mmu.NewASIDPool()
	scheduler := sched.NewScheduler(alloc, asids)
	endpoints := ipc.NewTable()
	devices := devmap.New()
	uart := devmap.NewUART(logWriter{log})
	timer := intc.New()
	registry := loader.NewRegistry()
	spawner := &loader.Spawner{Alloc: alloc, ASIDs: asids, Sched: scheduler, Devs: devices}
	dispatcher := trap.NewDispatcher(scheduler, endpoints, asids, spawner, registry, devices, uart, timer, log)

	return &Kernel{
		RAM:        ram,
		Alloc:      alloc,
		ASIDs:      asids,
		Sched:      scheduler,
		Endpoints:  endpoints,
		Devices:    devices,
		UART:       uart,
		Timer:      timer,
		Registry:   registry,
		Spawner:    spawner,
		Dispatcher: dispatcher,
		CPU:        cpu.New(ram),
		Log:        log,
		regs:        make(map[uint32]*cpu.Regs),
		frames:      make(map[uint32]*trap.Frame),
		pendingSync: make(map[uint32]bool),
	}
}

// logWriter adapts an slog.Logger into the io.Writer UART wants for
// its simulated transmit side, tagging every line at info level.
type logWriter struct{ log *slog.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	if w.log != nil {
		w.log.Info("uart tx", slog.String("data", string(p)))
	}
	return len(p), nil
}

// Boot registers every binary named in cfg with the loader registry
// and adds cfg's extra device regions to the allowlist. It is the
// kernel-side half of reading a boot configuration file; internal/config
// does the parsing.
func (k *Kernel) Boot(binaries []BootBinary, devices []BootDevice) error {
	for _, b := range binaries {
		if err := k.Registry.RegisterFile(b.ID, b.Path); err != nil {
			return err
		}
	}
	for _, d := range devices {
		k.Devices.AddRegion(d.Name, d.Base, d.Size)
	}
	return nil
}

// BootBinary and BootDevice are the subset of internal/config's parsed
// fields Boot needs, kept here so package kernel does not import
// internal/config (cmd/kernel, which reads the config file, is the
// only caller that needs both).
type BootBinary struct {
	ID   uint32
	Path string
}

type BootDevice struct {
	Name string
	Base uint64
	Size uint64
}

// Spawn launches binary id as a new top-level process (parent pid -1,
// no wait-reapable parent), the same "ipl" convention the operator
// console's boot command uses.
func (k *Kernel) Spawn(binaryID uint32, prio sched.Priority) (*sched.Process, error) {
	img, err := k.Registry.Lookup(binaryID)
	if err != nil {
		return nil, err
	}
	proc, thr, err := k.Spawner.Spawn(-1, prio, img)
	if err != nil {
		return nil, err
	}
	k.regsFor(thr)
	return proc, nil
}

// regsFor returns thr's persistent register file. thr.FirstRun is the
// authoritative signal for whether this is spec.md §4.3's first-run
// case (seed PC/SP from the spawn-time entry point loader.Spawn wrote
// into thr.Ctx, the simulated stand-in for an initial eret to EL0/EL1)
// or the resume case (the register file a prior Step call left
// mid-program, with FirstRun already cleared). There is only ever one
// resume shape here, not spec.md's separate kernel/user variants,
// because this simulator has no real EL1 stack or vector table to
// resume into: every thread, kernel or user, resumes through the same
// software-stepped register file.
func (k *Kernel) regsFor(thr *sched.Thread) *cpu.Regs {
	r, ok := k.regs[thr.ID]
	if !ok || thr.FirstRun {
		r = &cpu.Regs{PC: thr.Ctx.PC}
		r.X[cpu.SP] = thr.Ctx.SP
		k.regs[thr.ID] = r
		thr.FirstRun = false
	}
	return r
}

func (k *Kernel) frameFor(thr *sched.Thread) *trap.Frame {
	f, ok := k.frames[thr.ID]
	if !ok {
		f = &trap.Frame{}
		k.frames[thr.ID] = f
	}
	return f
}

// Step runs exactly one instruction of the current thread (or, if the
// current thread is idle, one timer tick) and lets the scheduler act
// on any pending reschedule. It returns false once every process has
// exited, the signal cmd/kernel's run loop and the boot-scenario tests
// use to stop without a fixed iteration budget.
func (k *Kernel) Step() bool {
	cur := k.Sched.Current()
	if cur.Process == nil {
		k.Timer.TimerTick()
		k.Sched.TimerTick()
		k.Sched.PerformReschedule()
		return k.anyRunning()
	}

	regs := k.regsFor(cur)
	k.syncResult(cur, regs)

	as, ok := cur.Process.Space.(cpu.Translator)
	if !ok {
		panic("mlkernel: process address space does not implement cpu.Translator")
	}

	tr, faultAddr := k.CPU.Step(regs, as)
	switch tr {
	case cpu.TrapNone:
	case cpu.TrapSVC:
		f := k.frameFor(cur)
		copy(f.X[:], regs.X[:9])
		f.ELR = regs.PC
		f.IsUser = true
		k.Dispatcher.Dispatch(cur, f)
		k.pendingSync[cur.ID] = true
	default:
		f := k.frameFor(cur)
		f.ELR = regs.PC
		f.IsUser = cur.IsUser
		k.Dispatcher.Fault(cur, f, faultClassFor(tr), faultAddr)
		k.pendingSync[cur.ID] = true
	}

	k.Timer.TimerTick()
	k.Sched.TimerTick()
	k.Sched.PerformReschedule()
	return k.anyRunning()
}

// syncResult copies a completed syscall's result into regs before
// resuming cur: either the WAIT-specific result Scheduler.Exit
// stashed directly on the thread, or the general case of whatever the
// persistent trap frame holds (written by a direct IPC handoff, a
// Reply, or the thread's own last syscall return). WaitResultVal takes
// priority because a WAIT that blocked left the frame holding the
// abi.Blocked sentinel, not the real result.
func (k *Kernel) syncResult(cur *sched.Thread, regs *cpu.Regs) {
	if !k.pendingSync[cur.ID] {
		return
	}
	delete(k.pendingSync, cur.ID)
	if cur.WaitResultVal != nil {
		regs.X[0] = uint64(cur.WaitResultVal.PID)
		regs.X[1] = uint64(int64(cur.WaitResultVal.ExitCode))
		regs.X[2] = 0
		cur.WaitResultVal = nil
		return
	}
	if f, ok := k.frames[cur.ID]; ok {
		regs.X[0], regs.X[1], regs.X[2] = f.X[0], f.X[1], f.X[2]
	}
}

// anyRunning reports whether some process has not exited yet.
func (k *Kernel) anyRunning() bool {
	for _, p := range k.Sched.Processes() {
		if p.State == sched.ProcRunning {
			return true
		}
	}
	return false
}

func faultClassFor(tr cpu.Trap) trap.FaultClass {
	switch tr {
	case cpu.TrapDataAbort:
		return trap.FaultData
	case cpu.TrapInstrAbort:
		return trap.FaultInstruction
	case cpu.TrapAlignment:
		return trap.FaultAlignment
	default:
		return trap.FaultUnknown
	}
}

// Run steps the kernel until either every process has exited or maxSteps is
// reached, returning the number of steps actually taken. A boot
// scenario with a runaway program trips the step budget rather than
// hanging a test forever.
func (k *Kernel) Run(maxSteps int) int {
	i := 0
	for ; i < maxSteps; i++ {
		if !k.Step() {
			return i + 1
		}
	}
	return i
}

// ExitSignalExitCode mirrors abi.ExitSignal for console/debug display
// without importing abi in every caller.
func ExitSignalExitCode(signal int) int { return abi.ExitSignal(signal) }
