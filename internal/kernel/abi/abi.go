/*
 * mlkernel - syscall ABI constants
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

// Package abi holds the syscall numbers, error codes, and register
// conventions shared by every component that sits on either side of the
// SVC boundary: the trap dispatcher, the scheduler's syscall handlers, and
// user-space test programs built by package cpu's Program assembler.
package abi

// Syscall numbers, x8 at SVC time.
const (
	SysExit    = 0
	SysYield   = 1
	SysGetpid  = 2
	SysGettid  = 3
	SysSpawn   = 4
	SysWait    = 5
	SysGetppid = 6

	SysSend  = 10
	SysRecv  = 11
	SysCall  = 12
	SysReply = 13

	SysPortCreate  = 20
	SysPortDestroy = 21

	SysMapDevice = 32
	SysAllocDMA  = 33
	SysGetPhys   = 34

	SysWrite = 40
	SysRead  = 41

	SysDebugPrint = 100
	SysGetTicks   = 101
)

// Error is a negative syscall return value. Zero means success.
type Error int64

const (
	Success         Error = 0
	ErrInvalidSyscall Error = -1
	ErrInvalidArgument Error = -2
	ErrNoPermission Error = -3
	ErrNoMemory     Error = -4
	ErrWouldBlock   Error = -5
	ErrInterrupted  Error = -6
	ErrNotFound     Error = -7
	ErrAlreadyExists Error = -8
	ErrInvalidPort  Error = -9
	ErrQueueFull    Error = -10
	ErrQueueEmpty   Error = -11
	ErrNoChildren   Error = -12
	ErrChildRunning Error = -13
)

func (e Error) String() string {
	switch e {
	case Success:
		return "SUCCESS"
	case ErrInvalidSyscall:
		return "INVALID_SYSCALL"
	case ErrInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrNoPermission:
		return "NO_PERMISSION"
	case ErrNoMemory:
		return "NO_MEMORY"
	case ErrWouldBlock:
		return "WOULD_BLOCK"
	case ErrInterrupted:
		return "INTERRUPTED"
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrAlreadyExists:
		return "ALREADY_EXISTS"
	case ErrInvalidPort:
		return "INVALID_PORT"
	case ErrQueueFull:
		return "QUEUE_FULL"
	case ErrQueueEmpty:
		return "QUEUE_EMPTY"
	case ErrNoChildren:
		return "NO_CHILDREN"
	case ErrChildRunning:
		return "CHILD_RUNNING"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Blocked is the sentinel a syscall handler returns instead of a real
// value when it has parked the calling thread. The dispatcher must leave
// x0 untouched in this case; the unblocking path (IPC direct handoff or
// the scheduler) writes the real return value later.
const Blocked int64 = 1<<63 - 1

// ExitSignal computes the 128+n exit code used for user faults.
func ExitSignal(signal int) int {
	return 128 + signal
}

// SIGSEGV-equivalent used for data/instruction aborts from EL0.
const SigSegv = 11

// PageSize is the MMU granule used throughout the kernel.
const PageSize = 4096

// Fixed virtual layout for every user address space. Values are
// arbitrary but must stay below the 48-bit VA ceiling and never
// overlap; real firmware would derive UserCodeBase from the image's
// link address, but every MLK image in this closed build is
// position-independent, so one fixed base serves all of them.
const (
	UserCodeBase    = 0x0000_0040_0000
	UserStackTop    = 0x0000_7fff_f000 // stack grows down from here
	UserStackPages  = 4
	KernelStackPages = 2
	UserDeviceBase  = 0x0000_6000_0000
)

// Device-region allowlist base addresses and sizes (spec.md §4.6 /
// §6): the GIC distributor+CPU interface range, the PL011 UART, and a
// 32-slot VirtIO-MMIO window. These are physical addresses on the
// simulated QEMU virt-machine layout this kernel targets.
const (
	GICBase   = 0x0800_0000
	GICSize   = 0x0001_0000
	UARTBase  = 0x0900_0000
	UARTSize  = 0x0000_1000
	VirtIOBase = 0x0a00_0000
	VirtIOSlotSize = 0x200
	VirtIOSlots    = 32
)
