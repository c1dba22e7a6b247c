/*
 * mlkernel - thread table entries
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

// Package sched implements the preemptive priority scheduler: thread
// and process tables, per-priority ready queues, and the lifecycle
// operations (spawn, exit, wait, cleanup) that drive them. Grounded on
// the teacher's core event loop (emu/core) for the single-threaded,
// no-locks-in-the-core dispatch style, generalized from an
// instruction-cycle loop into a preemptive thread scheduler.
package sched

import "mlkernel/internal/kernel/addr"

// Priority levels. Numerically lower is more urgent: schedule() always
// prefers the lowest non-empty queue index.
type Priority int

const (
	Realtime Priority = iota
	High
	Normal
	Low
	Idle
	numPriorities
)

// TimeSlice returns the tick budget a thread of this priority receives
// on dispatch.
func (p Priority) TimeSlice() int {
	switch p {
	case Realtime:
		return 100
	case High:
		return 50
	case Normal:
		return 20
	case Low:
		return 10
	default:
		return 1
	}
}

func (p Priority) String() string {
	switch p {
	case Realtime:
		return "realtime"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}

// State is a thread's scheduling state.
type State int

const (
	Ready State = iota
	Running
	BlockedIPC
	BlockedWait
	Dead
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case BlockedIPC:
		return "blocked_ipc"
	case BlockedWait:
		return "blocked_wait"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Context is the callee-saved register state preserved across a
// context switch: x19-x29, the link register, stack pointer and
// program counter. The caller-saved registers and syscall arguments
// live in the trap frame, not here, exactly as spec.md separates the
// two.
type Context struct {
	X    [11]uint64 // x19..x29
	LR   uint64
	SP   uint64
	PC   uint64
}

// Thread is one schedulable unit of execution.
type Thread struct {
	ID       uint32
	State    State
	Priority Priority
	Process  *Process // nil for the idle thread
	Ctx      Context
	TimeSlice int

	IsUser          bool
	UserSP          addr.VirtAddr
	KernelSP        uint64
	KernelStackBase addr.PhysAddr
	FirstRun        bool

	// WaitResultVal is stashed by Scheduler.Exit's direct-handoff reap
	// and consumed by the trap layer when this thread resumes from
	// BlockedWait, the same leave-the-return-value-until-unblock
	// convention spec.md §4.6 describes for syscalls in general.
	WaitResultVal *WaitResult

	next *Thread // ready-queue linkage, singly-linked FIFO is sufficient here
}
