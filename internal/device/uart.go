/*
 * rv64sim - 16550-subset UART device.
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

package device

import "sync"

// UART register offsets (reg-shift zero, the common QEMU virt layout).
const (
	uartRbrThr = 0
	uartIer    = 1
	uartIirFcr = 2
	uartLcr    = 3
	uartMcr    = 4
	uartLsr    = 5
	uartMsr    = 6
	uartScr    = 7

	lsrDR   = 1 << 0
	lsrTHRE = 1 << 5
	lsrTEMT = 1 << 6

	ierERBFI = 1 << 0
)

// Uart is a 16550-subset serial port: writes to THR emit one output byte,
// reads from RBR drain a host-fed input queue (spec.md S4.4 "UART").
type Uart struct {
	mu     sync.Mutex
	input  []byte
	ier    byte
	output func(byte)
	plic   *Plic
}

// NewUart builds a UART that writes transmitted bytes to sink and raises
// UartIrq on plic when input is pending and IER.ERBFI is set.
func NewUart(plic *Plic, sink func(byte)) *Uart {
	return &Uart{output: sink, plic: plic}
}

// PushInput appends a byte to the receive queue, called by the console
// reader or netconsole goroutine from outside the CPU step loop.
func (u *Uart) PushInput(b byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.input = append(u.input, b)
}

func (u *Uart) Load(offset uint64, size int) (uint64, bool) {
	if size != 1 {
		return 0, false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	switch offset {
	case uartRbrThr:
		if len(u.input) == 0 {
			return 0, true
		}
		b := u.input[0]
		u.input = u.input[1:]
		return uint64(b), true
	case uartIer:
		return uint64(u.ier), true
	case uartLsr:
		lsr := byte(lsrTHRE | lsrTEMT)
		if len(u.input) > 0 {
			lsr |= lsrDR
		}
		return uint64(lsr), true
	case uartIirFcr, uartLcr, uartMcr, uartMsr, uartScr:
		return 0, true
	}
	return 0, false
}

func (u *Uart) Store(offset uint64, size int, value uint64) bool {
	if size != 1 {
		return false
	}
	switch offset {
	case uartRbrThr:
		if u.output != nil {
			u.output(byte(value))
		}
		return true
	case uartIer:
		u.mu.Lock()
		u.ier = byte(value)
		u.mu.Unlock()
		return true
	case uartIirFcr, uartLcr, uartMcr, uartScr:
		return true
	}
	return false
}

func (u *Uart) Tick() {
	u.mu.Lock()
	pending := len(u.input) > 0 && u.ier&ierERBFI != 0
	u.mu.Unlock()
	if u.plic == nil {
		return
	}
	if pending {
		u.plic.Raise(UartIrq)
	} else {
		u.plic.Lower(UartIrq)
	}
}
