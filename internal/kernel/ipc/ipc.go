/*
 * mlkernel - synchronous rendezvous IPC
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

// Package ipc implements the endpoint table and the synchronous
// rendezvous protocol: blocking Send/Receive/Call/Reply and
// non-blocking Notify. Grounded on emu/sys_channel's single-queue,
// no-shared-memory message handoff between the CPU loop and devices,
// generalized from a fixed device channel to an arbitrary number of
// user-created endpoints with FIFO sender queues.
package ipc

import (
	"errors"

	"mlkernel/internal/kernel/sched"
)

var (
	ErrInvalidPort = errors.New("ipc: invalid or closed endpoint")
	ErrWouldBlock  = errors.New("ipc: sender queue full")
	ErrNoMessage   = errors.New("ipc: no message available")
	ErrTableFull   = errors.New("ipc: endpoint table full")
)

// MaxSenderQueue bounds a single endpoint's backlog of blocked senders.
const MaxSenderQueue = 8

// MaxEndpoints bounds the fixed-capacity endpoint table. Endpoint 0 is
// reserved invalid, endpoint 1 is reserved for the kernel.
const MaxEndpoints = 256

// EndpointState mirrors spec.md's free/active/closed lifecycle.
type EndpointState int

const (
	Free EndpointState = iota
	Active
	Closed
)

func (s EndpointState) String() string {
	switch s {
	case Free:
		return "free"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is the fixed scalar record carried across a rendezvous.
// Messages never carry pointers: every field is a plain 64-bit value.
type Message struct {
	Op      uint32
	Args    [4]uint64
	Sender  uint32
	ReplyTo uint32
	Badge   uint64
}

type sendWaiter struct {
	thread *sched.Thread
	msg    Message
	frame  ReturnFrame
}

// recvWaiter records a blocked receiver: its thread, the destination
// buffer to fill on delivery, and (optionally) a direct pointer into
// its trap frame's return registers so a rendezvous can write the
// reply before the thread is ever rescheduled.
type recvWaiter struct {
	thread *sched.Thread
	dest   *Message
	frame  ReturnFrame
}

// ReturnFrame is the minimal slice of a trap frame IPC needs to write
// directly into on a successful rendezvous, so a woken receiver does
// not have to re-enter the syscall dispatcher to pick up its result.
// Concrete trap frames satisfy this with pointer receivers.
type ReturnFrame interface {
	SetReturn(x0, x1, x2 uint64)
}

// Endpoint is one IPC rendezvous point.
type Endpoint struct {
	id      uint32
	state   EndpointState
	owner   uint32
	senders []sendWaiter
	waiter  *recvWaiter

	hasNotify bool
	badge     uint64
}

// ID returns the endpoint's table index.
func (e *Endpoint) ID() uint32 { return e.id }

// Info is a read-only snapshot of one endpoint, for the operator
// console's "endpoints" command — never used by kernel logic itself.
type Info struct {
	ID          uint32
	State       EndpointState
	Owner       uint32
	SenderCount int
	HasWaiter   bool
	HasNotify   bool
}

// Snapshot returns Info for every non-free endpoint, lowest id first.
func (t *Table) Snapshot() []Info {
	var out []Info
	for i := range t.slots {
		e := &t.slots[i]
		if e.state == Free {
			continue
		}
		out = append(out, Info{
			ID:          e.id,
			State:       e.state,
			Owner:       e.owner,
			SenderCount: len(e.senders),
			HasWaiter:   e.waiter != nil,
			HasNotify:   e.hasNotify,
		})
	}
	return out
}

// Table is the fixed-capacity endpoint table.
type Table struct {
	slots [MaxEndpoints]Endpoint
}

// NewTable returns a table with slots 0 (invalid) and 1 (kernel)
// pre-reserved, matching spec.md §3.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i].id = uint32(i)
	}
	t.slots[0].state = Closed
	t.slots[1].state = Closed
	return t
}

// Create allocates the lowest free endpoint slot and returns its id.
func (t *Table) Create(owner uint32) (uint32, error) {
	for i := 2; i < MaxEndpoints; i++ {
		if t.slots[i].state == Free {
			t.slots[i].state = Active
			t.slots[i].owner = owner
			return uint32(i), nil
		}
	}
	return 0, ErrTableFull
}

// Destroy closes an endpoint and drops its sender queue, waiting
// receiver and pending notification. The dropped threads are not
// unblocked: they stay in their blocked state.
func (t *Table) Destroy(id uint32) error {
	e, err := t.get(id)
	if err != nil {
		return err
	}
	e.state = Closed
	e.senders = nil
	e.waiter = nil
	e.hasNotify = false
	return nil
}

func (t *Table) get(id uint32) (*Endpoint, error) {
	if id == 0 || id >= MaxEndpoints || t.slots[id].state != Active {
		return nil, ErrInvalidPort
	}
	return &t.slots[id], nil
}

// Send implements spec.md §4.5's blocking Send. If a receiver is
// already waiting, the message is handed off directly and the
// receiver unblocked; otherwise the sender is queued and blocked. The
// caller is responsible for calling sched.BlockCurrent(BlockedIPC)
// when blocked == true.
func (t *Table) Send(s *sched.Scheduler, from *sched.Thread, id uint32, msg Message, frame ReturnFrame) (blocked bool, err error) {
	e, err := t.get(id)
	if err != nil {
		return false, err
	}
	msg.Sender = from.ID

	if e.waiter != nil {
		w := e.waiter
		e.waiter = nil
		*w.dest = msg
		if w.frame != nil {
			w.frame.SetReturn(uint64(msg.Op), msg.Args[0], msg.Args[1])
		}
		s.Unblock(w.thread)
		return false, nil
	}

	if len(e.senders) >= MaxSenderQueue {
		return false, ErrWouldBlock
	}
	e.senders = append(e.senders, sendWaiter{thread: from, msg: msg, frame: frame})
	return true, nil
}

// Receive implements spec.md §4.5's blocking Receive. Notification
// delivery takes priority over a queued sender, per spec.md's
// "notification-first" ordering rule. If neither is available, the
// caller registers as the waiting receiver and the caller is
// responsible for calling sched.BlockCurrent(BlockedIPC). A dequeued
// plain sender is woken with x0 = 0; a dequeued CALL sender (ReplyTo
// set) stays blocked until Reply.
func (t *Table) Receive(s *sched.Scheduler, self *sched.Thread, id uint32, dest *Message, frame ReturnFrame) (blocked bool, err error) {
	e, err := t.get(id)
	if err != nil {
		return false, err
	}

	if e.hasNotify {
		e.hasNotify = false
		*dest = Message{Badge: e.badge}
		return false, nil
	}

	if len(e.senders) > 0 {
		w := e.senders[0]
		e.senders = e.senders[1:]
		*dest = w.msg
		if w.msg.ReplyTo == 0 {
			if w.frame != nil {
				w.frame.SetReturn(0, 0, 0)
			}
			s.Unblock(w.thread)
		}
		return false, nil
	}

	e.waiter = &recvWaiter{thread: self, dest: dest, frame: frame}
	return true, nil
}

// TryReceive is Receive without the blocking fallback: it returns
// ErrNoMessage instead of registering a waiter.
func (t *Table) TryReceive(s *sched.Scheduler, id uint32, dest *Message) error {
	e, err := t.get(id)
	if err != nil {
		return err
	}
	if e.hasNotify {
		e.hasNotify = false
		*dest = Message{Badge: e.badge}
		return nil
	}
	if len(e.senders) > 0 {
		w := e.senders[0]
		e.senders = e.senders[1:]
		*dest = w.msg
		if w.msg.ReplyTo == 0 {
			if w.frame != nil {
				w.frame.SetReturn(0, 0, 0)
			}
			s.Unblock(w.thread)
		}
		return nil
	}
	return ErrNoMessage
}

// Call implements spec.md §4.5's RPC primitive: Send followed by an
// unconditional block awaiting reply, specified as one syscall so the
// caller atomically enters the blocked-on-reply state with no window
// where another thread could observe it as merely "done sending".
// Reply is always targeted directly at the caller's thread id (see
// Reply below), not at a second endpoint lookup, so Call's only
// endpoint-level work is the Send step; a non-nil error means the
// send itself was rejected and the caller never blocks.
func (t *Table) Call(s *sched.Scheduler, self *sched.Thread, id uint32, msg Message, frame ReturnFrame) error {
	_, err := t.Send(s, self, id, msg, frame)
	return err
}

// Reply delivers msg to a caller blocked in CALL and unblocks it. The
// caller (the trap dispatcher) hands it the target thread and that
// thread's return frame directly; Reply never searches an endpoint
// queue, since the CALL's message was already dequeued by the matching
// Receive.
func Reply(s *sched.Scheduler, target *sched.Thread, frame ReturnFrame, msg Message) {
	if frame != nil {
		frame.SetReturn(uint64(msg.Op), msg.Args[0], msg.Args[1])
	}
	s.Unblock(target)
}

// Notify implements spec.md §4.5's non-blocking Notify: it wakes a
// waiting receiver immediately, or else coalesces the badge into the
// endpoint's single pending-notification slot.
func (t *Table) Notify(s *sched.Scheduler, id uint32, badge uint64) error {
	e, err := t.get(id)
	if err != nil {
		return err
	}
	if e.waiter != nil {
		w := e.waiter
		e.waiter = nil
		*w.dest = Message{Badge: badge}
		if w.frame != nil {
			w.frame.SetReturn(0, badge, 0)
		}
		s.Unblock(w.thread)
		return nil
	}
	e.hasNotify = true
	e.badge = badge
	return nil
}
