/*
 * mlkernel - end-to-end boot scenarios
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

// These tests assemble tiny user programs with package cpu's Program
// builder, register them directly with the loader (no MLK file on
// disk), and drive a real *kernel.Kernel through its public Step/Spawn
// surface exactly as cmd/kernel's run loop does. Each one exercises a
// full vertical slice spec.md promises: spawn/wait, IPC, preemption,
// memory reclamation, and fault isolation.
package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"mlkernel/internal/kernel"
	"mlkernel/internal/kernel/abi"
	"mlkernel/internal/kernel/addr"
	"mlkernel/internal/kernel/cpu"
	"mlkernel/internal/kernel/loader"
	"mlkernel/internal/kernel/sched"
)

const (
	testRAMBytes      = 16 * 1024 * 1024
	testKernelReserve = 1 * 1024 * 1024
	testStepBudget    = 2000
)

// uartRecord mirrors the one field logWriter's "uart tx" log line
// carries, enough to recover every byte a test program wrote via
// SysWrite without reaching into kernel-internal state.
type uartRecord struct {
	Msg  string `json:"msg"`
	Data string `json:"data"`
}

func newCaptureKernel() (*kernel.Kernel, *bytes.Buffer) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	return kernel.New(testRAMBytes, testKernelReserve, log), &buf
}

func uartLines(buf *bytes.Buffer) []string {
	var lines []string
	for _, raw := range strings.Split(buf.String(), "\n") {
		if raw == "" {
			continue
		}
		var rec uartRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if rec.Msg == "uart tx" {
			lines = append(lines, rec.Data)
		}
	}
	return lines
}

// register installs prog as binary id in k's loader registry.
func register(k *kernel.Kernel, id uint32, prog *cpu.Program) {
	k.Registry.Register(id, &loader.Image{EntryOffset: 0, Code: prog.Bytes()})
}

// runUntilIdle steps k until every process has exited or the budget is
// exhausted, returning the number of steps actually taken.
func runUntilIdle(k *kernel.Kernel, budget int) int {
	return k.Run(budget)
}

// mustProcess looks up pid, failing the test if it is gone.
func mustProcess(t *testing.T, k *kernel.Kernel, pid uint32) *sched.Process {
	t.Helper()
	p, ok := k.Sched.Process(pid)
	if !ok {
		t.Fatalf("process %d not found", pid)
	}
	return p
}

// TestHelloRoundTrip spawns a parent that SysSpawns a child, the child
// writes a greeting to the UART and exits, and the parent forwards the
// child's exit code as its own — exercising Spawn, Wait, Write, and
// Exit in one pass.
func TestHelloRoundTrip(t *testing.T) {
	k, uartBuf := newCaptureKernel()

	const childID, parentID uint32 = 1, 2

	msg := []byte("Hello World!\n")
	var padded [16]byte
	copy(padded[:], msg)
	w0 := binary.LittleEndian.Uint64(padded[0:8])
	w1 := binary.LittleEndian.Uint64(padded[8:16])

	child := new(cpu.Program)
	child.LoadAddr(1, w0)
	child.LoadAddr(2, w1)
	child.StrImm(1, cpu.SP, -32, true)
	child.StrImm(2, cpu.SP, -24, true)
	child.AddImm(0, cpu.SP, -32)
	child.Movz(1, uint16(len(msg)))
	child.Movz(8, abi.SysWrite)
	child.Svc()
	child.Movz(0, 0)
	child.Movz(8, abi.SysExit)
	child.Svc()
	register(k, childID, child)

	parent := new(cpu.Program)
	parent.Movz(0, uint16(childID))
	parent.Movz(1, uint16(sched.Normal))
	parent.Movz(8, abi.SysSpawn)
	parent.Svc() // x0 = child pid
	parent.Movn(0, 0)
	parent.Movz(8, abi.SysWait)
	parent.Svc() // x0 = reaped pid, x1 = exit code
	parent.AddReg(0, 1, 31)
	parent.Movz(8, abi.SysExit)
	parent.Svc()
	register(k, parentID, parent)

	proc, err := k.Spawn(parentID, sched.Normal)
	if err != nil {
		t.Fatalf("spawn parent: %v", err)
	}

	runUntilIdle(k, testStepBudget)

	got := mustProcess(t, k, proc.PID)
	if got.State != sched.ProcZombie {
		t.Fatalf("parent state = %v, want zombie", got.State)
	}
	if got.ExitCode != 0 {
		t.Fatalf("parent exit code = %d, want 0", got.ExitCode)
	}

	lines := uartLines(uartBuf)
	found := false
	for _, l := range lines {
		if l == string(msg) {
			found = true
		}
	}
	if !found {
		t.Fatalf("uart output %v does not contain %q", lines, string(msg))
	}
}

// TestPingPongIPC has a server create two one-directional ports
// (deterministically ids 2 and 3 — the first two this table ever
// hands out), block for a ping, reply with ping+1 on the second port,
// and a client send/receive round trip it, exercising PortCreate,
// Send, and Recv without relying on SysCall/SysReply's reply-address
// plumbing.
func TestPingPongIPC(t *testing.T) {
	k, _ := newCaptureKernel()

	const serverID, clientID uint32 = 1, 2
	const pingPort, pongPort uint32 = 2, 3
	const pingValue = 41

	server := new(cpu.Program)
	server.Movz(8, abi.SysPortCreate)
	server.Svc() // allocates pingPort
	server.Movz(8, abi.SysPortCreate)
	server.Svc() // allocates pongPort
	server.Movz(0, uint16(pingPort))
	server.Movz(8, abi.SysRecv)
	server.Svc() // x1 = ping value after resume
	server.AddImm(3, 1, 1) // x3 = ping + 1
	server.AddReg(2, 3, 31)
	server.Movz(3, 0)
	server.Movz(1, 2)
	server.Movz(0, uint16(pongPort))
	server.Movz(8, abi.SysSend)
	server.Svc()
	server.Movz(0, 0)
	server.Movz(8, abi.SysExit)
	server.Svc()
	register(k, serverID, server)

	client := new(cpu.Program)
	client.Movz(0, uint16(pingPort))
	client.Movz(1, 1)
	client.Movz(2, pingValue)
	client.Movz(3, 0)
	client.Movz(8, abi.SysSend)
	client.Svc()
	client.Movz(0, uint16(pongPort))
	client.Movz(8, abi.SysRecv)
	client.Svc() // x1 = pong value
	client.AddReg(0, 1, 31)
	client.Movz(8, abi.SysExit)
	client.Svc()
	register(k, clientID, client)

	if _, err := k.Spawn(serverID, sched.Normal); err != nil {
		t.Fatalf("spawn server: %v", err)
	}
	clientProc, err := k.Spawn(clientID, sched.Normal)
	if err != nil {
		t.Fatalf("spawn client: %v", err)
	}

	runUntilIdle(k, testStepBudget)

	got := mustProcess(t, k, clientProc.PID)
	if got.State != sched.ProcZombie {
		t.Fatalf("client state = %v, want zombie", got.State)
	}
	if got.ExitCode != pingValue+1 {
		t.Fatalf("client exit code = %d, want %d", got.ExitCode, pingValue+1)
	}
}

// TestPriorityPreemption spawns a high-priority and a low-priority
// busy loop of unequal length side by side. Schedule always prefers
// the lower-numbered priority queue with no round robin across
// priorities, so the low thread must not leave Ready until the high
// process has already become a zombie.
func TestPriorityPreemption(t *testing.T) {
	k, _ := newCaptureKernel()

	const highID, lowID uint32 = 1, 2

	highProg := new(cpu.Program)
	for i := 0; i < 5; i++ {
		highProg.AddImm(1, 1, 1)
	}
	highProg.AddReg(0, 1, 31)
	highProg.Movz(8, abi.SysExit)
	highProg.Svc()
	register(k, highID, highProg)

	lowProg := new(cpu.Program)
	for i := 0; i < 3; i++ {
		lowProg.AddImm(1, 1, 1)
	}
	lowProg.AddReg(0, 1, 31)
	lowProg.Movz(8, abi.SysExit)
	lowProg.Svc()
	register(k, lowID, lowProg)

	lowProc, err := k.Spawn(lowID, sched.Low)
	if err != nil {
		t.Fatalf("spawn low: %v", err)
	}
	highProc, err := k.Spawn(highID, sched.High)
	if err != nil {
		t.Fatalf("spawn high: %v", err)
	}

	var lowThread *sched.Thread
	for _, th := range k.Sched.Threads() {
		if th.Process != nil && th.Process.PID == lowProc.PID {
			lowThread = th
		}
	}
	if lowThread == nil {
		t.Fatalf("low process has no thread")
	}

	for i := 0; i < testStepBudget; i++ {
		if lowThread.State != sched.Ready {
			if mustProcess(t, k, highProc.PID).State != sched.ProcZombie {
				t.Fatalf("low thread left Ready (state=%v) before high process became a zombie", lowThread.State)
			}
			break
		}
		if !k.Step() {
			t.Fatalf("kernel went idle before the low thread ever ran")
		}
	}

	runUntilIdle(k, testStepBudget)

	if got := mustProcess(t, k, highProc.PID); got.State != sched.ProcZombie || got.ExitCode != 5 {
		t.Fatalf("high process = {state:%v exit:%d}, want {zombie 5}", got.State, got.ExitCode)
	}
	if got := mustProcess(t, k, lowProc.PID); got.State != sched.ProcZombie || got.ExitCode != 3 {
		t.Fatalf("low process = {state:%v exit:%d}, want {zombie 3}", got.State, got.ExitCode)
	}
}

// TestMemoryReclamationRoundTrip confirms a reaped child's frames
// (code, user stack, kernel stack, page tables) return to the
// allocator. The parent itself is a top-level process and is never
// reaped, so everything its own spawn allocated (regions and page
// tables) stays charged even after it becomes a zombie; the baseline
// is therefore taken after the parent is spawned, before it runs.
func TestMemoryReclamationRoundTrip(t *testing.T) {
	k, _ := newCaptureKernel()

	const childID, parentID uint32 = 1, 2

	child := new(cpu.Program)
	child.Movz(0, 0)
	child.Movz(8, abi.SysExit)
	child.Svc()
	register(k, childID, child)

	parent := new(cpu.Program)
	parent.Movz(0, uint16(childID))
	parent.Movz(1, uint16(sched.Normal))
	parent.Movz(8, abi.SysSpawn)
	parent.Svc()
	parent.Movn(0, 0)
	parent.Movz(8, abi.SysWait)
	parent.Svc()
	parent.Movz(0, 0)
	parent.Movz(8, abi.SysExit)
	parent.Svc()
	register(k, parentID, parent)

	proc, err := k.Spawn(parentID, sched.Normal)
	if err != nil {
		t.Fatalf("spawn parent: %v", err)
	}

	freeBefore := k.Alloc.FreeFrames()

	runUntilIdle(k, testStepBudget)

	got := mustProcess(t, k, proc.PID)
	if got.State != sched.ProcZombie {
		t.Fatalf("parent state = %v, want zombie", got.State)
	}

	freeAfter := k.Alloc.FreeFrames()
	if want := freeBefore; freeAfter != want {
		t.Fatalf("free frames after = %d, want %d (every frame the child used reclaimed)", freeAfter, want)
	}
}

// TestFaultIsolation spawns a program that stores to address zero,
// confirms it is killed with the SIGSEGV-equivalent exit code rather
// than taking down the kernel, and then runs a second, healthy
// program to confirm the kernel keeps scheduling normally afterward.
func TestFaultIsolation(t *testing.T) {
	k, _ := newCaptureKernel()

	const faultyID, healthyID uint32 = 1, 2

	faulty := new(cpu.Program)
	faulty.StrImm(31, 31, 0, false)
	register(k, faultyID, faulty)

	healthy := new(cpu.Program)
	healthy.Movz(0, 7)
	healthy.Movz(8, abi.SysExit)
	healthy.Svc()
	register(k, healthyID, healthy)

	faultyProc, err := k.Spawn(faultyID, sched.Normal)
	if err != nil {
		t.Fatalf("spawn faulty: %v", err)
	}

	runUntilIdle(k, testStepBudget)

	got := mustProcess(t, k, faultyProc.PID)
	if got.State != sched.ProcZombie {
		t.Fatalf("faulty process state = %v, want zombie", got.State)
	}
	if want := abi.ExitSignal(abi.SigSegv); got.ExitCode != want {
		t.Fatalf("faulty process exit code = %d, want %d", got.ExitCode, want)
	}

	healthyProc, err := k.Spawn(healthyID, sched.Normal)
	if err != nil {
		t.Fatalf("spawn healthy: %v", err)
	}

	runUntilIdle(k, testStepBudget)

	if got := mustProcess(t, k, healthyProc.PID); got.State != sched.ProcZombie || got.ExitCode != 7 {
		t.Fatalf("healthy process = {state:%v exit:%d}, want {zombie 7}", got.State, got.ExitCode)
	}
}

// TestFIFOSenderOrdering spawns three senders (in program order 10,
// 20, 30) against a receiver's single port before the receiver ever
// runs, then has the receiver drain all three with three Recv calls.
// Endpoint.Send's sender queue is strictly FIFO, so the values must
// come back in send order regardless of any other scheduling detail.
// The receiver stores each value to its own stack and the test reads
// simulated physical RAM directly, avoiding any round trip through
// the UART log (its JSON encoding is only safe for text payloads).
func TestFIFOSenderOrdering(t *testing.T) {
	k, _ := newCaptureKernel()

	const recvID uint32 = 1
	const sendAID, sendBID, sendCID uint32 = 2, 3, 4
	const port uint32 = 2

	sender := func(value uint16) *cpu.Program {
		p := new(cpu.Program)
		p.Movz(0, uint16(port))
		p.Movz(1, 1)
		p.Movz(2, value)
		p.Movz(3, 0)
		p.Movz(8, abi.SysSend)
		p.Svc()
		p.Movz(0, 0)
		p.Movz(8, abi.SysExit)
		p.Svc()
		return p
	}
	register(k, sendAID, sender(10))
	register(k, sendBID, sender(20))
	register(k, sendCID, sender(30))

	receiver := new(cpu.Program)
	receiver.Movz(8, abi.SysPortCreate)
	receiver.Svc() // allocates port (id 2, the first ever created)
	for _, off := range []int32{-24, -16, -8} {
		receiver.Movz(0, uint16(port))
		receiver.Movz(8, abi.SysRecv)
		receiver.Svc() // x1 = this sender's value
		receiver.StrImm(1, cpu.SP, off, true)
	}
	receiver.Movz(0, 0)
	receiver.Movz(8, abi.SysExit)
	receiver.Svc()
	register(k, recvID, receiver)

	// The receiver must spawn (and therefore run) first: it has to
	// create the port and block on its first Recv before any sender
	// executes, or the senders' Send would target a port that does
	// not exist yet. Same-priority ready queues are strict FIFO, so
	// spawn order here is what fixes the run order.
	recvProc, err := k.Spawn(recvID, sched.Normal)
	if err != nil {
		t.Fatalf("spawn receiver: %v", err)
	}
	if _, err := k.Spawn(sendAID, sched.Normal); err != nil {
		t.Fatalf("spawn sender a: %v", err)
	}
	if _, err := k.Spawn(sendBID, sched.Normal); err != nil {
		t.Fatalf("spawn sender b: %v", err)
	}
	if _, err := k.Spawn(sendCID, sched.Normal); err != nil {
		t.Fatalf("spawn sender c: %v", err)
	}

	runUntilIdle(k, testStepBudget)

	got := mustProcess(t, k, recvProc.PID)
	if got.State != sched.ProcZombie {
		t.Fatalf("receiver state = %v, want zombie", got.State)
	}

	if len(got.Regions) < 2 {
		t.Fatalf("receiver has %d regions, want at least 2 (code, stack)", len(got.Regions))
	}
	stackRegion := got.Regions[1]
	// Spawn maps stack page i at UserStackTop-(i+1)*PageSize, so the
	// top page (where SP-24..SP lands) is the region's first frame.
	stackTopOffset := addr.PhysAddr(abi.PageSize - 24)
	buf := k.RAM.Slice(stackRegion.PhysBase+stackTopOffset, 24)

	got10 := binary.LittleEndian.Uint64(buf[0:8])
	got20 := binary.LittleEndian.Uint64(buf[8:16])
	got30 := binary.LittleEndian.Uint64(buf[16:24])

	if got10 != 10 || got20 != 20 || got30 != 30 {
		t.Fatalf("received values = [%d %d %d], want [10 20 30]", got10, got20, got30)
	}
}
