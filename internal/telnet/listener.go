/*
 * mlkernel - telnet listener for the operator console
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

package telnet

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Listener accepts connections on one TCP port and serves each with
// Handler, mirroring the teacher's telnet/listener.go Server: an
// accept goroutine feeding a dispatch goroutine over a channel, both
// stoppable via a shutdown channel with a bounded drain wait.
type Listener struct {
	wg         sync.WaitGroup
	listener   net.Listener
	shutdown   chan struct{}
	connection chan net.Conn
	prompt     string
	handle     func() Handler
}

// NewHandler builds one Handler per accepted connection; a kernel has
// a single global command table, but the factory shape keeps open the
// door to a per-connection console (e.g. scoped to one process) the
// same way the teacher's RegisterTerminal bound one device per port.
type NewHandler func() Handler

// Listen opens a TCP listener on address ("host:port" or ":port") and
// starts serving connections with freshHandle's console.
func Listen(address, prompt string, freshHandle NewHandler) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("telnet: listen on %s: %w", address, err)
	}
	l := &Listener{
		listener:   ln,
		shutdown:   make(chan struct{}),
		connection: make(chan net.Conn),
		prompt:     prompt,
		handle:     freshHandle,
	}
	l.wg.Add(2)
	go l.acceptConnections()
	go l.handleConnections()
	return l, nil
}

// Addr returns the bound address, useful when address was ":0".
func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

func (l *Listener) acceptConnections() {
	defer l.wg.Done()
	for {
		select {
		case <-l.shutdown:
			return
		default:
			conn, err := l.listener.Accept()
			if err != nil {
				return
			}
			l.connection <- conn
		}
	}
}

func (l *Listener) handleConnections() {
	defer l.wg.Done()
	for {
		select {
		case <-l.shutdown:
			return
		case conn := <-l.connection:
			go Serve(conn, l.prompt, l.handle())
		}
	}
}

// Stop closes the listener and waits (up to one second) for the
// accept/dispatch goroutines to exit, the same bounded-wait shutdown
// the teacher's Stop uses so a hung connection can't block process
// exit forever.
func (l *Listener) Stop() {
	close(l.shutdown)
	l.listener.Close()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
