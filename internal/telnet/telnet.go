/*
 * mlkernel - telnet line discipline for the operator console
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

// Package telnet gives the operator console (internal/console) a
// remote transport, so `nc localhost <port>` reaches the same ps/
// threads/endpoints/ipl/halt command table as the local stdin prompt.
// Grounded on the teacher's telnet/telnet.go IAC state machine: same
// byte-level option negotiation and tnState-driven line discipline,
// trimmed to what a line-oriented debug console needs (character
// echo, suppress-go-ahead, binary mode) and dropping the teacher's
// 3270-terminal-type negotiation and per-unit device multiplexer
// (RegisterTerminal/portMap in the teacher's multiplexer.go), which
// exist to route a connection to one of several mainframe terminal
// devices — a concern this kernel's single console session doesn't
// have.
package telnet

import (
	"bufio"
	"fmt"
	"net"
)

const (
	iac  byte = 255
	will byte = 251
	wont byte = 252
	do   byte = 253
	dont byte = 254
	sb   byte = 250
	se   byte = 240

	optEcho   byte = 1
	optSGA    byte = 3
	optBinary byte = 0
)

// initString puts the remote client into character-at-a-time mode:
// the kernel echoes input itself, suppresses go-ahead, and transfers
// 8-bit clean so control characters (Ctrl-C) pass through.
var initString = []byte{
	iac, will, optEcho,
	iac, will, optSGA,
	iac, will, optBinary,
	iac, do, optBinary,
}

// lineState is the per-connection IAC parser state, mirroring the
// teacher's tnState.state field and case names.
type lineState int

const (
	stateData lineState = iota
	stateIAC
	stateWill
	stateWont
	stateDo
	stateDont
	stateSB
	stateSE
)

// Handler executes one command line and returns the text to write
// back to the client. Satisfied by (*console.Console).Process.
type Handler func(line string) (output string, quit bool, err error)

// filterIAC strips telnet option negotiation from raw and answers
// WILL/DO requests with a blanket WONT/DONT (the console offers no
// optional features beyond what initString already declared),
// returning the plain data bytes that remain.
func filterIAC(conn net.Conn, st *lineState, raw []byte) []byte {
	var out []byte
	for _, b := range raw {
		switch *st {
		case stateData:
			if b == iac {
				*st = stateIAC
			} else {
				out = append(out, b)
			}
		case stateIAC:
			switch b {
			case iac:
				out = append(out, iac)
				*st = stateData
			case will:
				*st = stateWill
			case wont:
				*st = stateWont
			case do:
				*st = stateDo
			case dont:
				*st = stateDont
			case sb:
				*st = stateSB
			default:
				*st = stateData
			}
		case stateWill:
			_, _ = conn.Write([]byte{iac, dont, b})
			*st = stateData
		case stateWont:
			*st = stateData
		case stateDo:
			_, _ = conn.Write([]byte{iac, wont, b})
			*st = stateData
		case stateDont:
			*st = stateData
		case stateSB:
			if b == iac {
				*st = stateSE
			}
		case stateSE:
			*st = stateData
		}
	}
	return out
}

// Serve drives one accepted connection: negotiate character mode,
// then read newline-terminated commands and hand each to handle,
// writing the result back followed by a fresh prompt. Returns when
// the client disconnects or handle reports quit.
func Serve(conn net.Conn, prompt string, handle Handler) {
	defer conn.Close()

	_, _ = conn.Write(initString)
	_, _ = fmt.Fprint(conn, prompt)

	var st lineState
	reader := bufio.NewReader(conn)
	buf := make([]byte, 1)
	var line []byte

	for {
		n, err := reader.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		data := filterIAC(conn, &st, buf[:n])
		for _, b := range data {
			switch b {
			case '\r':
				// swallow; \n below ends the line
			case '\n':
				out, quit, cmdErr := handle(string(line))
				line = line[:0]
				if cmdErr != nil {
					_, _ = fmt.Fprintf(conn, "error: %s\r\n", cmdErr.Error())
				}
				if out != "" {
					_, _ = fmt.Fprint(conn, normalizeNewlines(out))
				}
				if quit {
					return
				}
				_, _ = fmt.Fprint(conn, prompt)
			default:
				line = append(line, b)
				_, _ = conn.Write([]byte{b}) // local echo, client is in remote-echo-off mode
			}
		}
	}
}

// normalizeNewlines rewrites bare "\n" as "\r\n" for telnet clients
// that expect CRLF line endings.
func normalizeNewlines(s string) string {
	out := make([]byte, 0, len(s)+8)
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, '\r', '\n')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
