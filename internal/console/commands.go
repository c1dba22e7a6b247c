/*
 * mlkernel - operator console command table
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

// Package console is mlkernel's debug/monitor surface: a small
// abbreviation-matching command table in the shape of the teacher's
// command/parser, reachable from stdin (internal/console's Reader) or
// a telnet line (internal/telnet). It inspects kernel.Kernel state
// (process table, thread table, endpoints, timer ticks) and can IPL
// a registered binary or halt a runaway process, the same "device
// commands talk to core.Core" relationship the teacher's parser has
// with emu/core, generalized from a mainframe console to a kernel
// debug console.
package console

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mlkernel/internal/kernel"
	"mlkernel/internal/kernel/ipc"
	"mlkernel/internal/kernel/sched"
)

// cmd is one entry in the command table: a name, the minimum
// abbreviation length that still identifies it uniquely, and the
// handler that executes it. Mirrors command/parser's cmd{name, min,
// process} shape.
type cmd struct {
	name    string
	min     int
	process func(*Console, *cmdLine) (string, bool, error)
}

var cmdList = []cmd{
	{name: "ps", min: 1, process: cmdPS},
	{name: "threads", min: 1, process: cmdThreads},
	{name: "endpoints", min: 1, process: cmdEndpoints},
	{name: "ticks", min: 2, process: cmdTicks},
	{name: "halt", min: 2, process: cmdHalt},
	{name: "ipl", min: 1, process: cmdIPL},
	{name: "help", min: 1, process: cmdHelp},
	{name: "quit", min: 1, process: cmdQuit},
}

// cmdLine is the remaining unparsed text of one command, mirroring
// command/parser's cmdLine{line, pos} cursor instead of a pre-split
// argument slice, so abbreviation matching and argument scanning share
// the same low-level cursor helpers the teacher uses.
type cmdLine struct {
	line string
	pos  int
}

func (l *cmdLine) skipSpace() {
	for l.pos < len(l.line) && l.line[l.pos] == ' ' {
		l.pos++
	}
}

func (l *cmdLine) isEOL() bool { return l.pos >= len(l.line) }

// getWord returns the next space-delimited token and advances past it.
func (l *cmdLine) getWord() string {
	l.skipSpace()
	start := l.pos
	for l.pos < len(l.line) && l.line[l.pos] != ' ' {
		l.pos++
	}
	return l.line[start:l.pos]
}

// matchCommand reports whether typed is a prefix of full at least
// full's configured minimum length. "t" matches only threads (min 1)
// because ticks carries min 2, and "h" matches only help because halt
// carries min 2.
func matchCommand(c cmd, typed string) bool {
	if typed == "" || len(typed) > len(c.name) {
		return false
	}
	if !strings.HasPrefix(c.name, typed) {
		return false
	}
	return len(typed) >= c.min
}

func matchList(typed string) []cmd {
	var out []cmd
	for _, c := range cmdList {
		if matchCommand(c, typed) {
			out = append(out, c)
		}
	}
	return out
}

// Console binds the command table to a running kernel.
type Console struct {
	K *kernel.Kernel
}

// New returns a console driving k.
func New(k *kernel.Kernel) *Console { return &Console{K: k} }

// Process executes one command line, returning its text output, a
// quit flag, and a parse/execution error. An empty or comment-only
// line is a no-op.
func (c *Console) Process(line string) (string, bool, error) {
	l := &cmdLine{line: line}
	name := l.getWord()
	if name == "" || strings.HasPrefix(name, "#") {
		return "", false, nil
	}
	match := matchList(name)
	switch len(match) {
	case 0:
		return "", false, fmt.Errorf("unknown command: %s", name)
	case 1:
		return match[0].process(c, l)
	default:
		names := make([]string, len(match))
		for i, m := range match {
			names[i] = m.name
		}
		return "", false, fmt.Errorf("ambiguous command %q: matches %s", name, strings.Join(names, ", "))
	}
}

// Complete returns the set of command names a partial line could
// still expand to, for liner's tab-completion hook.
func Complete(line string) []string {
	l := &cmdLine{line: line}
	name := l.getWord()
	match := matchList(name)
	out := make([]string, len(match))
	for i, m := range match {
		out[i] = m.name
	}
	return out
}

func cmdPS(c *Console, _ *cmdLine) (string, bool, error) {
	procs := c.K.Sched.Processes()
	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-8s %-8s %-8s %-6s\n", "PID", "PARENT", "STATE", "THREADS", "EXIT")
	for _, p := range procs {
		fmt.Fprintf(&b, "%-6d %-8d %-8s %-8d %-6d\n", p.PID, p.ParentPID, p.State, p.ThreadCnt, p.ExitCode)
	}
	return b.String(), false, nil
}

func cmdThreads(c *Console, _ *cmdLine) (string, bool, error) {
	threads := c.K.Sched.Threads()
	sort.Slice(threads, func(i, j int) bool { return threads[i].ID < threads[j].ID })
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-6s %-12s %-10s %-6s\n", "TID", "PID", "STATE", "PRIORITY", "SLICE")
	for _, t := range threads {
		pid := int64(-1)
		if t.Process != nil {
			pid = int64(t.Process.PID)
		}
		fmt.Fprintf(&b, "%-6d %-6d %-12s %-10s %-6d\n", t.ID, pid, t.State, t.Priority, t.TimeSlice)
	}
	return b.String(), false, nil
}

func cmdEndpoints(c *Console, _ *cmdLine) (string, bool, error) {
	infos := c.K.Endpoints.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-8s %-8s %-8s %-8s %-8s\n", "ID", "STATE", "OWNER", "SENDERS", "WAITER", "NOTIFY")
	for _, e := range infos {
		if e.State == ipc.Closed {
			continue
		}
		fmt.Fprintf(&b, "%-6d %-8s %-8d %-8d %-8t %-8t\n", e.ID, e.State, e.Owner, e.SenderCount, e.HasWaiter, e.HasNotify)
	}
	return b.String(), false, nil
}

func cmdTicks(c *Console, _ *cmdLine) (string, bool, error) {
	return fmt.Sprintf("ticks: %d\n", c.K.Timer.Ticks()), false, nil
}

func cmdHalt(c *Console, l *cmdLine) (string, bool, error) {
	arg := l.getWord()
	if arg == "" {
		return "", false, errors.New("halt requires a pid")
	}
	pid, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return "", false, fmt.Errorf("halt: bad pid %q: %w", arg, err)
	}
	p, ok := c.K.Sched.Process(uint32(pid))
	if !ok {
		return "", false, fmt.Errorf("halt: no such process %d", pid)
	}
	if p.State != sched.ProcRunning {
		return "", false, fmt.Errorf("halt: process %d is not running", pid)
	}
	c.K.Sched.Exit(p, 128+9) // SIGKILL-equivalent exit code, signal 9.
	return fmt.Sprintf("halted pid %d\n", pid), false, nil
}

func cmdIPL(c *Console, l *cmdLine) (string, bool, error) {
	arg := l.getWord()
	if arg == "" {
		return "", false, errors.New("ipl requires a binary id")
	}
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return "", false, fmt.Errorf("ipl: bad binary id %q: %w", arg, err)
	}
	proc, err := c.K.Spawn(uint32(id), sched.Normal)
	if err != nil {
		return "", false, fmt.Errorf("ipl: %w", err)
	}
	return fmt.Sprintf("spawned pid %d from binary %d\n", proc.PID, id), false, nil
}

func cmdHelp(_ *Console, _ *cmdLine) (string, bool, error) {
	names := make([]string, len(cmdList))
	for i, c := range cmdList {
		names[i] = c.name
	}
	return "commands: " + strings.Join(names, ", ") + "\n", false, nil
}

func cmdQuit(_ *Console, _ *cmdLine) (string, bool, error) {
	return "", true, nil
}
