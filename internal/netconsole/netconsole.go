/*
 * rv64sim - TCP mirror of the UART byte stream.
 *
 * Copyright 2024, Richard Cornwell
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

// Package netconsole mirrors the UART byte stream over a plain TCP
// socket, adapted from the teacher's telnet listener: a goroutine accepts
// connections and hands each one to its own reader goroutine, with a
// shutdown channel stopping the accept loop cleanly.
package netconsole

import (
	"log/slog"
	"net"
	"sync"

	"github.com/riscvsim/rv64sim/internal/device"
)

// Console accepts TCP connections and relays bytes between them and a
// UART: bytes read from a connection become UART input, bytes the UART
// transmits are broadcast to every connected client.
type Console struct {
	wg       sync.WaitGroup
	listener net.Listener
	shutdown chan struct{}
	uart     *device.Uart

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New builds a console mirroring uart's byte stream.
func New(uart *device.Uart) *Console {
	return &Console{uart: uart, conns: make(map[net.Conn]struct{})}
}

// Start listens on address and begins accepting connections in the
// background. The UART's transmit sink should be set to c.Output.
func (c *Console) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	c.listener = listener
	c.shutdown = make(chan struct{})

	c.wg.Add(1)
	go c.acceptLoop()
	return nil
}

// Stop closes the listener and every open connection.
func (c *Console) Stop() {
	if c.listener == nil {
		return
	}
	close(c.shutdown)
	c.listener.Close()

	c.mu.Lock()
	for conn := range c.conns {
		conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Output broadcasts one transmitted byte to every connected client.
// Assign this to the UART's sink at construction time.
func (c *Console) Output(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for conn := range c.conns {
		if _, err := conn.Write([]byte{b}); err != nil {
			slog.Debug("netconsole: write error", "error", err)
		}
	}
}

func (c *Console) acceptLoop() {
	defer c.wg.Done()
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.shutdown:
				return
			default:
				slog.Error("netconsole: accept error", "error", err)
				return
			}
		}
		c.mu.Lock()
		c.conns[conn] = struct{}{}
		c.mu.Unlock()

		c.wg.Add(1)
		go c.readLoop(conn)
	}
}

func (c *Console) readLoop(conn net.Conn) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()
		conn.Close()
	}()

	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			c.uart.PushInput(buf[i])
		}
		if err != nil {
			return
		}
	}
}
