/*
 * mlkernel - the scheduler: ready queues, lifecycle, (un)blocking
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

package sched

import (
	"errors"

	"mlkernel/internal/kernel/frame"
	"mlkernel/internal/kernel/mmu"
)

var (
	ErrNoChildren    = errors.New("sched: no children")
	ErrChildRunning  = errors.New("sched: wait would block")
	ErrProcessTableFull = errors.New("sched: process table full")
	ErrThreadTableFull  = errors.New("sched: thread table full")
)

// MaxProcesses and MaxThreads bound the fixed-capacity tables, mirroring
// spec.md's "fixed-capacity table entry" language for Process/Thread.
const (
	MaxProcesses = 256
	MaxThreads   = 1024
)

type readyQueue struct {
	head, tail *Thread
}

func (q *readyQueue) pushBack(t *Thread) {
	t.next = nil
	if q.tail == nil {
		q.head, q.tail = t, t
		return
	}
	q.tail.next = t
	q.tail = t
}

func (q *readyQueue) popFront() *Thread {
	if q.head == nil {
		return nil
	}
	t := q.head
	q.head = t.next
	if q.head == nil {
		q.tail = nil
	}
	t.next = nil
	return t
}

// WaitResult is stashed on a thread blocked in WAIT and read back by
// the trap layer when the thread is unblocked, the same
// leave-x0-untouched-until-unblock convention spec.md §4.6 describes
// for syscall returns in general.
type WaitResult struct {
	PID      uint32
	ExitCode int
}

type waitEntry struct {
	thread   *Thread
	target   int64 // -1 means "any child"
}

// Scheduler owns the thread/process tables, the per-priority ready
// queues, and the reschedule flag. It is not safe for concurrent use:
// by design (spec.md §5) every mutation happens on syscall or IRQ
// entry, serialized by the single logical CPU.
type Scheduler struct {
	alloc *frame.Allocator
	asids *mmu.ASIDPool

	ready   [numPriorities]readyQueue
	threads map[uint32]*Thread
	procs   map[uint32]*Process
	waiters []waitEntry

	current *Thread
	idle    *Thread

	nextTID uint32
	nextPID uint32

	// Reschedule is set by timer preemption, yield, and blocking
	// syscalls; consulted only at the exception-return boundary.
	Reschedule bool
}

// NewScheduler creates the scheduler and its idle thread. asids is the
// same pool loader.Spawner allocates process ASIDs from; cleanup frees
// a reaped process's ASID back into it, mirroring how it frees the
// process's memory regions back into alloc.
func NewScheduler(alloc *frame.Allocator, asids *mmu.ASIDPool) *Scheduler {
	s := &Scheduler{
		alloc:   alloc,
		asids:   asids,
		threads: make(map[uint32]*Thread),
		procs:   make(map[uint32]*Process),
	}
	s.idle = &Thread{ID: 0, Priority: Idle, State: Running, IsUser: false}
	s.threads[0] = s.idle
	s.nextTID = 1
	s.current = s.idle
	return s
}

// Current returns the running thread.
func (s *Scheduler) Current() *Thread { return s.current }

// Thread looks up a thread by id.
func (s *Scheduler) Thread(id uint32) (*Thread, bool) { t, ok := s.threads[id]; return t, ok }

// Process looks up a process by id.
func (s *Scheduler) Process(id uint32) (*Process, bool) { p, ok := s.procs[id]; return p, ok }

// Processes returns a stable snapshot for console/debug listing.
func (s *Scheduler) Processes() []*Process {
	out := make([]*Process, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, p)
	}
	return out
}

// Threads returns a stable snapshot for console/debug listing.
func (s *Scheduler) Threads() []*Thread {
	out := make([]*Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t)
	}
	return out
}

// NewThread allocates a thread table slot and enqueues it ready.
func (s *Scheduler) NewThread(p *Process, prio Priority, isUser bool) (*Thread, error) {
	if len(s.threads) >= MaxThreads {
		return nil, ErrThreadTableFull
	}
	id := s.nextTID
	s.nextTID++
	t := &Thread{
		ID:        id,
		State:     Ready,
		Priority:  prio,
		Process:   p,
		TimeSlice: prio.TimeSlice(),
		IsUser:    isUser,
		FirstRun:  true,
	}
	s.threads[id] = t
	if p != nil {
		p.threads = append(p.threads, t)
		p.ThreadCnt++
	}
	s.ready[prio].pushBack(t)
	return t, nil
}

// NewProcess allocates a process table slot. The caller (loader.Spawn)
// is responsible for building the address space and main thread and
// recording memory regions; NewProcess only reserves the slot and
// parent linkage so spawn failures can unwind cleanly before a pid is
// made visible anywhere else.
func (s *Scheduler) NewProcess(parentPID int64, space AddressSpace) (*Process, error) {
	if len(s.procs) >= MaxProcesses {
		return nil, ErrProcessTableFull
	}
	id := s.nextPID
	s.nextPID++
	p := &Process{PID: id, ParentPID: parentPID, Space: space, State: ProcRunning}
	s.procs[id] = p
	return p, nil
}

// AbandonProcess removes a process slot created by NewProcess without
// ever becoming runnable, used to unwind a failed spawn.
func (s *Scheduler) AbandonProcess(p *Process) {
	delete(s.procs, p.PID)
}

// Schedule returns the next thread to run: the head of the highest
// (numerically lowest) non-empty ready queue, or idle. A Dead thread
// found in a queue is dropped, never returned.
func (s *Scheduler) Schedule() *Thread {
	for prio := 0; prio < int(numPriorities); prio++ {
		for t := s.ready[Priority(prio)].popFront(); t != nil; t = s.ready[Priority(prio)].popFront() {
			if t.State != Dead {
				return t
			}
		}
	}
	return s.idle
}

// PerformReschedule runs at the exception-return boundary: if
// Reschedule is set, it re-enqueues the interrupted thread (if still
// running) and switches current to the result of Schedule(). It is a
// no-op if Reschedule is clear, so callers can invoke it
// unconditionally after every trap return.
func (s *Scheduler) PerformReschedule() (switched bool) {
	if !s.Reschedule {
		return false
	}
	s.Reschedule = false
	prev := s.current
	if prev.State == Running {
		prev.State = Ready
		prev.TimeSlice = prev.Priority.TimeSlice()
		s.ready[prev.Priority].pushBack(prev)
	}
	next := s.Schedule()
	next.State = Running
	s.current = next
	return next != prev
}

// TimerTick decrements the running thread's time slice. On reaching
// zero it resets the slice and requests a reschedule; the actual
// switch happens later, at exception return, never inside this call.
func (s *Scheduler) TimerTick() {
	s.current.TimeSlice--
	if s.current.TimeSlice <= 0 {
		s.current.TimeSlice = s.current.Priority.TimeSlice()
		s.Reschedule = true
	}
}

// Yield re-enqueues current at the tail of its priority queue and
// requests a reschedule.
func (s *Scheduler) Yield() {
	s.Reschedule = true
}

// BlockCurrent marks the running thread blocked. It is deliberately
// not enqueued anywhere; the caller (IPC endpoint, wait table) is the
// only structure that still references it.
func (s *Scheduler) BlockCurrent(state State) {
	s.current.State = state
	s.Reschedule = true
}

// Unblock moves a blocked thread back to the tail of its ready queue.
// A Dead thread is left as it is.
func (s *Scheduler) Unblock(t *Thread) {
	if t.State == Dead {
		return
	}
	t.State = Ready
	s.ready[t.Priority].pushBack(t)
}

// Exit marks every thread of p dead, moves p to zombie, records the
// exit code, and wakes a waiting parent if one is registered —
// directly performing the reap so the parent's WAIT syscall returns
// the result without re-entering wait logic, mirroring the IPC
// direct-handoff convention.
func (s *Scheduler) Exit(p *Process, code int) {
	for _, t := range p.threads {
		if t.State != Dead {
			t.State = Dead
		}
	}
	p.State = ProcZombie
	p.ExitCode = code
	s.Reschedule = true

	kept := s.waiters[:0]
	for _, w := range s.waiters {
		if int64(p.ParentPID) == int64(w.thread.Process.PID) && (w.target == -1 || w.target == int64(p.PID)) {
			s.reapAndWake(w.thread, p)
			continue
		}
		kept = append(kept, w)
	}
	s.waiters = kept
}

func (s *Scheduler) reapAndWake(waiter *Thread, child *Process) {
	waiter.WaitResultVal = &WaitResult{PID: child.PID, ExitCode: child.ExitCode}
	s.cleanup(child)
	s.Unblock(waiter)
}

// Wait implements the WAIT syscall body. It returns (result, nil) when
// a zombie child is reaped immediately, (nil, ErrChildRunning) when the
// caller must block (the caller is responsible for calling
// BlockCurrent(BlockedWait) and registering the wait via RegisterWait),
// or (nil, ErrNoChildren) when the process has no children at all.
func (s *Scheduler) Wait(parent *Process, target int64) (*WaitResult, error) {
	haveChildren := false
	for _, c := range s.procs {
		if int64(c.ParentPID) != int64(parent.PID) {
			continue
		}
		if target != -1 && int64(c.PID) != target {
			continue
		}
		haveChildren = true
		if c.State == ProcZombie {
			res := &WaitResult{PID: c.PID, ExitCode: c.ExitCode}
			s.cleanup(c)
			return res, nil
		}
	}
	if !haveChildren {
		return nil, ErrNoChildren
	}
	return nil, ErrChildRunning
}

// RegisterWait records that thr (already BlockedWait) is waiting on
// target (-1 for any child of thr.Process).
func (s *Scheduler) RegisterWait(thr *Thread, target int64) {
	s.waiters = append(s.waiters, waitEntry{thread: thr, target: target})
}

// cleanup frees every tracked region, destroys the address space, and
// clears the process's table slot for reuse.
func (s *Scheduler) cleanup(p *Process) {
	for i := range p.Regions {
		r := &p.Regions[i]
		if r.InUse {
			s.alloc.FreePages(r.PhysBase, r.PageCount)
			r.InUse = false
		}
	}
	if p.Space != nil {
		if s.asids != nil {
			s.asids.Free(p.Space.ASID())
		}
		p.Space.Destroy()
	}
	for _, t := range p.threads {
		delete(s.threads, t.ID)
	}
	p.State = ProcDead
	delete(s.procs, p.PID)
}
