package trap

/*
 * mlkernel - syscall dispatcher tests
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

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"mlkernel/internal/kernel/abi"
	"mlkernel/internal/kernel/addr"
	"mlkernel/internal/kernel/devmap"
	"mlkernel/internal/kernel/frame"
	"mlkernel/internal/kernel/intc"
	"mlkernel/internal/kernel/ipc"
	"mlkernel/internal/kernel/loader"
	"mlkernel/internal/kernel/mmu"
	"mlkernel/internal/kernel/sched"
)

type testKernel struct {
	d       *Dispatcher
	sp      *loader.Spawner
	alloc   *frame.Allocator
	sched   *sched.Scheduler
	uartOut *bytes.Buffer
}

func newTestKernel(t *testing.T, totalFrames uint64) *testKernel {
	t.Helper()
	ram := frame.NewRAM(totalFrames * addr.PageSize)
	alloc := frame.New(ram, 0)
	asids := mmu.NewASIDPool()
	s := sched.NewScheduler(alloc, asids)
	sp := &loader.Spawner{
		Alloc: alloc,
		ASIDs: asids,
		Sched: s,
		Devs:  devmap.New(),
	}
	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(s, ipc.NewTable(), sp.ASIDs, sp, loader.NewRegistry(), sp.Devs, devmap.NewUART(&out), intc.New(), log)
	return &testKernel{d: d, sp: sp, alloc: alloc, sched: s, uartOut: &out}
}

func (k *testKernel) spawnUser(t *testing.T, parent *sched.Process, code []byte) (*sched.Process, *sched.Thread) {
	t.Helper()
	img := &loader.Image{EntryOffset: 0, Code: code}
	proc, thr, err := k.sp.Spawn(int64(parent.PID), sched.Normal, img)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return proc, thr
}

// makeCurrent drives the scheduler's ready queue forward until thr is
// the running thread, matching the real invariant Dispatch relies on:
// whichever thread is passed to Dispatch as self is also sched.Current,
// since BlockCurrent/Yield/TimerTick act on the scheduler's own
// current-thread field rather than on an explicit argument.
func (k *testKernel) makeCurrent(t *testing.T, thr *sched.Thread) {
	t.Helper()
	k.sched.Reschedule = true
	k.sched.PerformReschedule()
	if k.sched.Current() != thr {
		t.Fatalf("scheduler selected thread %d, want %d", k.sched.Current().ID, thr.ID)
	}
}

func userFrame(syscall uint64, args ...uint64) *Frame {
	f := &Frame{IsUser: true}
	for i, a := range args {
		f.X[i] = a
	}
	f.X[8] = syscall
	return f
}

func TestGetpidGettid(t *testing.T) {
	k := newTestKernel(t, 256)
	parent, _ := k.sched.NewProcess(-1, nil)
	_, thr := k.spawnUser(t, parent, make([]byte, addr.PageSize))

	f := userFrame(abi.SysGetpid)
	k.d.Dispatch(thr, f)
	if f.X[0] != uint64(thr.Process.PID) {
		t.Errorf("GETPID = %d, want %d", f.X[0], thr.Process.PID)
	}

	f = userFrame(abi.SysGettid)
	k.d.Dispatch(thr, f)
	if f.X[0] != uint64(thr.ID) {
		t.Errorf("GETTID = %d, want %d", f.X[0], thr.ID)
	}
}

func TestYieldSucceeds(t *testing.T) {
	k := newTestKernel(t, 256)
	parent, _ := k.sched.NewProcess(-1, nil)
	_, thr := k.spawnUser(t, parent, make([]byte, addr.PageSize))

	f := userFrame(abi.SysYield)
	k.d.Dispatch(thr, f)
	if f.X[0] != uint64(abi.Success) {
		t.Errorf("YIELD = %d, want SUCCESS", f.X[0])
	}
}

func TestWriteSyscallReachesUART(t *testing.T) {
	k := newTestKernel(t, 256)
	parent, _ := k.sched.NewProcess(-1, nil)
	_, thr := k.spawnUser(t, parent, make([]byte, addr.PageSize))

	msg := []byte("hello")
	va := addr.VirtAddr(abi.UserStackTop - addr.PageSize)
	if err := k.d.writeUserBytes(thr, va, msg); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	f := userFrame(abi.SysWrite, uint64(va), uint64(len(msg)))
	k.d.Dispatch(thr, f)
	if f.X[0] != uint64(len(msg)) {
		t.Errorf("WRITE returned %d, want %d", f.X[0], len(msg))
	}
	if k.uartOut.String() != "hello" {
		t.Errorf("UART output = %q, want %q", k.uartOut.String(), "hello")
	}
}

func TestPortCreateSendReceiveQueuedHandoff(t *testing.T) {
	k := newTestKernel(t, 256)
	parent, _ := k.sched.NewProcess(-1, nil)
	_, sender := k.spawnUser(t, parent, make([]byte, addr.PageSize))
	_, receiver := k.spawnUser(t, parent, make([]byte, addr.PageSize))

	create := userFrame(abi.SysPortCreate)
	k.d.Dispatch(sender, create)
	ep := create.X[0]

	k.makeCurrent(t, sender)
	sendF := userFrame(abi.SysSend, ep, 7, 42)
	k.d.Dispatch(sender, sendF)
	if sendF.X[0] != uint64(abi.Blocked) {
		t.Fatalf("SEND on empty endpoint should block, got %d", sendF.X[0])
	}
	if sender.State != sched.BlockedIPC {
		t.Errorf("sender state = %v, want BlockedIPC", sender.State)
	}

	recvF := userFrame(abi.SysRecv, ep)
	k.d.Dispatch(receiver, recvF)
	if recvF.X[0] != 7 || recvF.X[1] != 42 {
		t.Errorf("RECV delivered op=%d arg0=%d, want op=7 arg0=42", recvF.X[0], recvF.X[1])
	}
	if sendF.X[0] != uint64(abi.Success) {
		t.Errorf("sender's frame x0 = %d after dequeue, want SUCCESS(0)", sendF.X[0])
	}
}

func TestCallReplyRoundTrip(t *testing.T) {
	k := newTestKernel(t, 256)
	parent, _ := k.sched.NewProcess(-1, nil)
	_, caller := k.spawnUser(t, parent, make([]byte, addr.PageSize))
	_, server := k.spawnUser(t, parent, make([]byte, addr.PageSize))

	create := userFrame(abi.SysPortCreate)
	k.d.Dispatch(server, create)
	ep := create.X[0]

	k.makeCurrent(t, caller)
	callF := userFrame(abi.SysCall, ep, 1, 99)
	k.d.Dispatch(caller, callF)
	if callF.X[0] != uint64(abi.Blocked) {
		t.Fatalf("CALL should block awaiting reply, got %d", callF.X[0])
	}

	k.makeCurrent(t, server)
	var dest ipc.Message
	recvF := userFrame(abi.SysRecv, ep)
	k.d.Dispatch(server, recvF)
	dest.Op = uint32(recvF.X[0])
	dest.Args[0] = recvF.X[1]
	if dest.Op != 1 || dest.Args[0] != 99 {
		t.Fatalf("server received op=%d arg0=%d, want 1/99", dest.Op, dest.Args[0])
	}

	replyF := userFrame(abi.SysReply, uint64(caller.ID), 5, 123)
	k.d.Dispatch(server, replyF)
	if replyF.X[0] != uint64(abi.Success) {
		t.Errorf("REPLY = %d, want SUCCESS", replyF.X[0])
	}
	if callF.X[0] != 5 || callF.X[1] != 123 {
		t.Errorf("caller frame after reply = %d/%d, want 5/123", callF.X[0], callF.X[1])
	}
	if caller.State != sched.Ready {
		t.Errorf("caller state = %v, want ready after reply", caller.State)
	}
}

func TestSpawnWaitRoundTrip(t *testing.T) {
	k := newTestKernel(t, 256)
	parent, _ := k.sched.NewProcess(-1, nil)
	_, thr := k.spawnUser(t, parent, make([]byte, addr.PageSize))

	k.d.Binaries.Register(1, &loader.Image{EntryOffset: 0, Code: make([]byte, addr.PageSize)})

	k.makeCurrent(t, thr)
	spawnF := userFrame(abi.SysSpawn, 1, uint64(sched.Normal))
	k.d.Dispatch(thr, spawnF)
	childPID := uint32(spawnF.X[0])
	if childPID == 0 {
		t.Fatalf("SPAWN returned pid 0")
	}

	child, ok := k.sched.Process(childPID)
	if !ok {
		t.Fatalf("spawned child not found in process table")
	}
	childThr := k.sched.Threads()
	var childThread *sched.Thread
	for _, ct := range childThr {
		if ct.Process == child {
			childThread = ct
		}
	}
	if childThread == nil {
		t.Fatalf("could not find spawned child's thread")
	}

	k.makeCurrent(t, childThread)
	exitF := userFrame(abi.SysExit, 7)
	k.d.Dispatch(childThread, exitF)

	waitF := userFrame(abi.SysWait, ^uint64(0)) // target -1 means "any child"
	k.d.Dispatch(thr, waitF)
	if waitF.X[0] != uint64(childPID) {
		t.Errorf("WAIT returned pid %d, want %d", waitF.X[0], childPID)
	}
	if waitF.X[1] != 7 {
		t.Errorf("WAIT returned exit code %d, want 7", waitF.X[1])
	}
}

func TestFaultKillsUserProcessWithSigsegvCode(t *testing.T) {
	k := newTestKernel(t, 256)
	parent, _ := k.sched.NewProcess(-1, nil)
	proc, thr := k.spawnUser(t, parent, make([]byte, addr.PageSize))

	f := &Frame{IsUser: true, ELR: uint64(abi.UserCodeBase)}
	k.d.Fault(thr, f, FaultData, 0)

	if proc.State != sched.ProcZombie {
		t.Errorf("process state = %v, want zombie after fault", proc.State)
	}
	if proc.ExitCode != abi.ExitSignal(abi.SigSegv) {
		t.Errorf("exit code = %d, want %d", proc.ExitCode, abi.ExitSignal(abi.SigSegv))
	}
}

func TestInvalidSyscallNumberRejected(t *testing.T) {
	k := newTestKernel(t, 256)
	parent, _ := k.sched.NewProcess(-1, nil)
	_, thr := k.spawnUser(t, parent, make([]byte, addr.PageSize))

	f := userFrame(9999)
	k.d.Dispatch(thr, f)
	if int64(f.X[0]) != int64(abi.ErrInvalidSyscall) {
		t.Errorf("unknown syscall = %d, want ErrInvalidSyscall", int64(f.X[0]))
	}
}
