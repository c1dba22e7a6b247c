/*
 * mlkernel - syscall dispatcher
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

package trap

import (
	"log/slog"

	"mlkernel/internal/kernel/abi"
	"mlkernel/internal/kernel/addr"
	"mlkernel/internal/kernel/devmap"
	"mlkernel/internal/kernel/intc"
	"mlkernel/internal/kernel/ipc"
	"mlkernel/internal/kernel/loader"
	"mlkernel/internal/kernel/mmu"
	"mlkernel/internal/kernel/sched"
)

// FaultClass names the reason a user thread was killed by a fault,
// used only for the exit-code banner and log line.
type FaultClass int

const (
	FaultData FaultClass = iota
	FaultInstruction
	FaultAlignment
	FaultUnknown
)

func (f FaultClass) String() string {
	switch f {
	case FaultData:
		return "data_abort"
	case FaultInstruction:
		return "instruction_abort"
	case FaultAlignment:
		return "alignment_fault"
	default:
		return "unknown_exception"
	}
}

// Dispatcher owns every subsystem a syscall can touch and implements
// spec.md §4.6: read the trap frame a trampoline would have built,
// switch on the syscall number, call the one operation it names, and
// write the result back into the frame unless the handler parked the
// calling thread (abi.Blocked). Grounded on emu/core's
// createTable-style opcode switch, generalized from ARM opcodes to
// syscall numbers.
type Dispatcher struct {
	Sched     *sched.Scheduler
	Endpoints *ipc.Table
	ASIDs     *mmu.ASIDPool
	Spawner   *loader.Spawner
	Binaries  *loader.Registry
	Devices   *devmap.Allowlist
	UART      *devmap.UART
	Timer     *intc.Controller
	Log       *slog.Logger

	// replyFrames holds the trap frame of every thread parked in
	// BlockedIPC awaiting a Reply, keyed by thread id. A Call handler
	// registers here before blocking; REPLY looks the entry up and
	// removes it. Direct Send/Receive handoffs never touch this map —
	// ipc.ReturnFrame writes those results straight into the frame
	// already referenced here, so Reply only needs the thread, not a
	// second copy of the frame pointer.
	replyFrames map[uint32]*Frame
}

// NewDispatcher wires a dispatcher over an already-constructed kernel.
func NewDispatcher(s *sched.Scheduler, ep *ipc.Table, asids *mmu.ASIDPool, sp *loader.Spawner, reg *loader.Registry, devs *devmap.Allowlist, uart *devmap.UART, timer *intc.Controller, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Sched:       s,
		Endpoints:   ep,
		ASIDs:       asids,
		Spawner:     sp,
		Binaries:    reg,
		Devices:     devs,
		UART:        uart,
		Timer:       timer,
		Log:         log,
		replyFrames: make(map[uint32]*Frame),
	}
}

// Dispatch handles one SVC trap from the current thread. f is the
// frame the trampoline captured for self; the caller is expected to
// have already set f.IsUser and f.ELR/f.SPSR from the trapped context.
func (d *Dispatcher) Dispatch(self *sched.Thread, f *Frame) {
	switch f.SyscallNum() {
	case abi.SysExit:
		d.sysExit(self, f)
	case abi.SysYield:
		d.Sched.Yield()
		f.SetReturn(uint64(abi.Success), 0, 0)
	case abi.SysGetpid:
		f.SetReturn(uint64(self.Process.PID), 0, 0)
	case abi.SysGettid:
		f.SetReturn(uint64(self.ID), 0, 0)
	case abi.SysSpawn:
		d.sysSpawn(self, f)
	case abi.SysWait:
		d.sysWait(self, f)
	case abi.SysGetppid:
		f.SetReturn(uint64(self.Process.ParentPID), 0, 0)
	case abi.SysSend:
		d.sysSend(self, f)
	case abi.SysRecv:
		d.sysRecv(self, f)
	case abi.SysCall:
		d.sysCall(self, f)
	case abi.SysReply:
		d.sysReply(self, f)
	case abi.SysPortCreate:
		d.sysPortCreate(self, f)
	case abi.SysPortDestroy:
		d.sysPortDestroy(self, f)
	case abi.SysMapDevice:
		d.sysMapDevice(self, f)
	case abi.SysAllocDMA:
		d.sysAllocDMA(self, f)
	case abi.SysGetPhys:
		d.sysGetPhys(self, f)
	case abi.SysWrite:
		d.sysWrite(self, f)
	case abi.SysRead:
		d.sysRead(self, f)
	case abi.SysDebugPrint:
		d.sysDebugPrint(self, f)
	case abi.SysGetTicks:
		f.SetReturn(d.Timer.Ticks(), 0, 0)
	default:
		f.SetReturn(errReturn(abi.ErrInvalidSyscall), 0, 0)
	}
}

func (d *Dispatcher) sysExit(self *sched.Thread, f *Frame) {
	code := int(int64(f.X[0]))
	d.Sched.Exit(self.Process, code)
	d.Sched.BlockCurrent(sched.Dead)
	self.State = sched.Dead
	d.Sched.Reschedule = true
}

func (d *Dispatcher) sysSpawn(self *sched.Thread, f *Frame) {
	binID := uint32(f.X[0])
	prio := sched.Priority(f.X[1])
	img, err := d.Binaries.Lookup(binID)
	if err != nil {
		f.SetReturn(errReturn(abi.ErrNotFound), 0, 0)
		return
	}
	child, _, err := d.Spawner.Spawn(int64(self.Process.PID), prio, img)
	if err != nil {
		f.SetReturn(errReturn(abi.ErrNoMemory), 0, 0)
		return
	}
	f.SetReturn(uint64(child.PID), 0, 0)
}

func (d *Dispatcher) sysWait(self *sched.Thread, f *Frame) {
	target := int64(f.X[0])
	res, err := d.Sched.Wait(self.Process, target)
	switch err {
	case nil:
		f.SetReturn(uint64(res.PID), uint64(int64(res.ExitCode)), 0)
	case sched.ErrNoChildren:
		f.SetReturn(errReturn(abi.ErrNoChildren), 0, 0)
	case sched.ErrChildRunning:
		d.Sched.RegisterWait(self, target)
		d.Sched.BlockCurrent(sched.BlockedWait)
		d.Sched.Reschedule = true
		f.SetReturn(uint64(abi.Blocked), 0, 0)
	default:
		f.SetReturn(errReturn(abi.ErrInvalidArgument), 0, 0)
	}
}

func (d *Dispatcher) sysSend(self *sched.Thread, f *Frame) {
	id := uint32(f.X[0])
	msg := ipc.Message{Op: uint32(f.X[1]), Args: [4]uint64{f.X[2], f.X[3], 0, 0}}
	blocked, err := d.Endpoints.Send(d.Sched, self, id, msg, f)
	if err != nil {
		f.SetReturn(uint64(sendErrCode(err)), 0, 0)
		return
	}
	if blocked {
		d.Sched.BlockCurrent(sched.BlockedIPC)
		d.Sched.Reschedule = true
		f.SetReturn(uint64(abi.Blocked), 0, 0)
		return
	}
	f.SetReturn(uint64(abi.Success), 0, 0)
}

func (d *Dispatcher) sysRecv(self *sched.Thread, f *Frame) {
	id := uint32(f.X[0])
	var dest ipc.Message
	blocked, err := d.Endpoints.Receive(d.Sched, self, id, &dest, f)
	if err != nil {
		f.SetReturn(uint64(sendErrCode(err)), 0, 0)
		return
	}
	if blocked {
		d.Sched.BlockCurrent(sched.BlockedIPC)
		d.Sched.Reschedule = true
		f.SetReturn(uint64(abi.Blocked), 0, 0)
		return
	}
	f.SetReturn(uint64(dest.Op), dest.Args[0], dest.Args[1])
}

// sysCall implements the RPC primitive: Send, then an unconditional
// block awaiting Reply. The caller's frame is stashed in replyFrames
// so REPLY can find it by thread id; a direct-handoff Send already
// wrote x0 via f (ipc.ReturnFrame), so the unconditional block below
// is only ever actually observed by a thread that queued.
func (d *Dispatcher) sysCall(self *sched.Thread, f *Frame) {
	id := uint32(f.X[0])
	msg := ipc.Message{Op: uint32(f.X[1]), Args: [4]uint64{f.X[2], f.X[3], 0, 0}, ReplyTo: self.ID}
	d.replyFrames[self.ID] = f
	if err := d.Endpoints.Call(d.Sched, self, id, msg, f); err != nil {
		delete(d.replyFrames, self.ID)
		f.SetReturn(uint64(sendErrCode(err)), 0, 0)
		return
	}
	d.Sched.BlockCurrent(sched.BlockedIPC)
	d.Sched.Reschedule = true
	f.SetReturn(uint64(abi.Blocked), 0, 0)
}

// sysReply delivers to a target thread id previously parked by CALL.
// Per spec.md §9 Q3, a reply whose target has since gone away (exited,
// or never called in the first place) is silently dropped: the
// replier has no way to distinguish "delivered" from "target gone" in
// the real kernel either, so REPLY always reports success rather than
// inventing an error channel spec.md does not define.
func (d *Dispatcher) sysReply(self *sched.Thread, f *Frame) {
	targetID := uint32(f.X[0])
	target, ok := d.Sched.Thread(targetID)
	rf, haveFrame := d.replyFrames[targetID]
	if ok && haveFrame {
		delete(d.replyFrames, targetID)
		msg := ipc.Message{Op: uint32(f.X[1]), Args: [4]uint64{f.X[2], f.X[3], 0, 0}}
		ipc.Reply(d.Sched, target, rf, msg)
	}
	f.SetReturn(uint64(abi.Success), 0, 0)
}

func (d *Dispatcher) sysPortCreate(self *sched.Thread, f *Frame) {
	id, err := d.Endpoints.Create(self.Process.PID)
	if err != nil {
		f.SetReturn(errReturn(abi.ErrNoMemory), 0, 0)
		return
	}
	f.SetReturn(uint64(id), 0, 0)
}

func (d *Dispatcher) sysPortDestroy(self *sched.Thread, f *Frame) {
	id := uint32(f.X[0])
	if err := d.Endpoints.Destroy(id); err != nil {
		f.SetReturn(errReturn(abi.ErrInvalidPort), 0, 0)
		return
	}
	f.SetReturn(uint64(abi.Success), 0, 0)
}

func (d *Dispatcher) sysMapDevice(self *sched.Thread, f *Frame) {
	base := f.X[0]
	size := f.X[1]
	if err := d.Devices.Check(base, size); err != nil {
		f.SetReturn(errReturn(abi.ErrNoPermission), 0, 0)
		return
	}
	pages := (size + addr.PageSize - 1) / addr.PageSize
	userVA := addr.VirtAddr(abi.UserDeviceBase)
	as, ok := self.Process.Space.(interface {
		Map(addr.VirtAddr, addr.PhysAddr, mmu.Flags) error
	})
	if !ok {
		f.SetReturn(errReturn(abi.ErrNoPermission), 0, 0)
		return
	}
	for i := uint64(0); i < pages; i++ {
		va := userVA + addr.VirtAddr(i*addr.PageSize)
		pa := addr.PhysAddr(base + i*addr.PageSize)
		if err := as.Map(va, pa, mmu.UserDeviceRW); err != nil {
			f.SetReturn(errReturn(abi.ErrAlreadyExists), 0, 0)
			return
		}
	}
	f.SetReturn(uint64(userVA), 0, 0)
}

func (d *Dispatcher) sysAllocDMA(self *sched.Thread, f *Frame) {
	size := f.X[0]
	pages := (size + addr.PageSize - 1) / addr.PageSize
	base, err := d.Spawner.Alloc.AllocContiguous(pages)
	if err != nil {
		f.SetReturn(errReturn(abi.ErrNoMemory), 0, 0)
		return
	}
	va := addr.VirtAddr(abi.UserDeviceBase)
	for i := uint64(0); i < pages; i++ {
		if err := self.Process.Space.(interface {
			Map(addr.VirtAddr, addr.PhysAddr, mmu.Flags) error
		}).Map(va+addr.VirtAddr(i*addr.PageSize), base+addr.PhysAddr(i*addr.PageSize), mmu.UserDMA); err != nil {
			d.Spawner.Alloc.FreePages(base, pages)
			f.SetReturn(errReturn(abi.ErrNoMemory), 0, 0)
			return
		}
	}
	self.Process.AddRegion(base, pages)
	f.SetReturn(uint64(va), uint64(base), 0)
}

func (d *Dispatcher) sysGetPhys(self *sched.Thread, f *Frame) {
	va := addr.VirtAddr(f.X[0])
	pa, _, err := self.Process.Space.(interface {
		Translate(addr.VirtAddr) (addr.PhysAddr, mmu.Flags, error)
	}).Translate(va)
	if err != nil {
		f.SetReturn(errReturn(abi.ErrNotFound), 0, 0)
		return
	}
	f.SetReturn(uint64(pa), 0, 0)
}

func (d *Dispatcher) sysWrite(self *sched.Thread, f *Frame) {
	va := addr.VirtAddr(f.X[0])
	n := f.X[1]
	buf, err := d.readUserBytes(self, va, n)
	if err != nil {
		f.SetReturn(errReturn(abi.ErrInvalidArgument), 0, 0)
		return
	}
	wrote, _ := d.UART.Write(buf)
	f.SetReturn(uint64(wrote), 0, 0)
}

func (d *Dispatcher) sysRead(self *sched.Thread, f *Frame) {
	n := f.X[1]
	buf := make([]byte, n)
	got, err := d.UART.Read(buf)
	if err != nil && got == 0 {
		f.SetReturn(0, 0, 0)
		return
	}
	va := addr.VirtAddr(f.X[0])
	if err := d.writeUserBytes(self, va, buf[:got]); err != nil {
		f.SetReturn(errReturn(abi.ErrInvalidArgument), 0, 0)
		return
	}
	f.SetReturn(uint64(got), 0, 0)
}

func (d *Dispatcher) sysDebugPrint(self *sched.Thread, f *Frame) {
	va := addr.VirtAddr(f.X[0])
	n := f.X[1]
	buf, err := d.readUserBytes(self, va, n)
	if err != nil {
		f.SetReturn(errReturn(abi.ErrInvalidArgument), 0, 0)
		return
	}
	if d.Log != nil {
		d.Log.Info("debug_print", slog.Int("pid", int(self.Process.PID)), slog.String("msg", string(buf)))
	}
	f.SetReturn(uint64(abi.Success), 0, 0)
}

// readUserBytes walks the calling process's page table one page at a
// time to copy n bytes starting at va into a kernel-owned buffer.
func (d *Dispatcher) readUserBytes(self *sched.Thread, va addr.VirtAddr, n uint64) ([]byte, error) {
	as, ok := self.Process.Space.(interface {
		Translate(addr.VirtAddr) (addr.PhysAddr, mmu.Flags, error)
	})
	if !ok {
		return nil, mmu.ErrNotMapped
	}
	ram := d.Spawner.Alloc.RAM()
	out := make([]byte, 0, n)
	for remaining := n; remaining > 0; {
		pa, _, err := as.Translate(va)
		if err != nil {
			return nil, err
		}
		off := va.Offset()
		chunk := addr.PageSize - off
		if uint64(chunk) > remaining {
			chunk = remaining
		}
		page := ram.Slice(pa-addr.PhysAddr(off), addr.PageSize)
		out = append(out, page[off:uint64(off)+chunk]...)
		va += addr.VirtAddr(chunk)
		remaining -= chunk
	}
	return out, nil
}

func (d *Dispatcher) writeUserBytes(self *sched.Thread, va addr.VirtAddr, data []byte) error {
	as, ok := self.Process.Space.(interface {
		Translate(addr.VirtAddr) (addr.PhysAddr, mmu.Flags, error)
	})
	if !ok {
		return mmu.ErrNotMapped
	}
	ram := d.Spawner.Alloc.RAM()
	for len(data) > 0 {
		pa, _, err := as.Translate(va)
		if err != nil {
			return err
		}
		off := va.Offset()
		chunk := addr.PageSize - off
		if uint64(chunk) > uint64(len(data)) {
			chunk = uint64(len(data))
		}
		page := ram.Slice(pa-addr.PhysAddr(off), addr.PageSize)
		copy(page[off:], data[:chunk])
		va += addr.VirtAddr(chunk)
		data = data[chunk:]
	}
	return nil
}

// errReturn is the x0 bit pattern of a (negative) abi.Error.
func errReturn(e abi.Error) uint64 { return uint64(e) }

func sendErrCode(err error) abi.Error {
	switch err {
	case ipc.ErrInvalidPort:
		return abi.ErrInvalidPort
	case ipc.ErrWouldBlock:
		return abi.ErrWouldBlock
	case ipc.ErrNoMessage:
		return abi.ErrQueueEmpty
	case ipc.ErrTableFull:
		return abi.ErrNoMemory
	default:
		return abi.ErrInvalidArgument
	}
}

// Fault handles a trapped data/instruction/alignment/unknown exception
// from self. A user-mode fault kills the offending process with a
// SIGSEGV-style exit code and reschedules; a kernel-mode fault is
// unrecoverable: Fault logs it and then panics.
func (d *Dispatcher) Fault(self *sched.Thread, f *Frame, class FaultClass, faultAddr uint64) {
	if !f.IsUser {
		if d.Log != nil {
			d.Log.Error("kernel fault", slog.String("class", class.String()), slog.Uint64("addr", faultAddr), slog.Uint64("pc", f.ELR))
		}
		panic("mlkernel: unrecoverable kernel-mode " + class.String())
	}
	if d.Log != nil {
		d.Log.Warn("user fault", slog.Int("pid", int(self.Process.PID)), slog.String("class", class.String()), slog.Uint64("addr", faultAddr), slog.Uint64("pc", f.ELR))
	}
	d.Sched.Exit(self.Process, abi.ExitSignal(abi.SigSegv))
	d.Sched.BlockCurrent(sched.Dead)
	self.State = sched.Dead
	d.Sched.Reschedule = true
}
