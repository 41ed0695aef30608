/*
 * rv64sim - CLINT (core-local interruptor) device.
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

// CLINT register offsets, single-hart layout.
const (
	ClintMsip      = 0x0000
	ClintMtimecmp  = 0x4000
	ClintMtime     = 0xbff8
	ClintSize      = 0xc000
)

// Clint is the core-local interruptor: a software-interrupt doorbell plus
// a free-running timer compared against mtimecmp (spec.md S4.4 "CLINT").
type Clint struct {
	msip     uint32
	mtimecmp uint64
	mtime    uint64
}

// NewClint builds a CLINT with mtime starting at zero and mtimecmp at its
// maximum (timer interrupt masked until software programs a compare value).
func NewClint() *Clint {
	return &Clint{mtimecmp: ^uint64(0)}
}

func (c *Clint) Load(offset uint64, size int) (uint64, bool) {
	switch {
	case offset == ClintMsip && size == 4:
		return uint64(c.msip), true
	case offset == ClintMtimecmp && size == 8:
		return c.mtimecmp, true
	case offset == ClintMtime && size == 8:
		return c.mtime, true
	}
	return 0, false
}

func (c *Clint) Store(offset uint64, size int, value uint64) bool {
	switch {
	case offset == ClintMsip && size == 4:
		c.msip = uint32(value) & 1
		return true
	case offset == ClintMtimecmp && size == 8:
		c.mtimecmp = value
		return true
	case offset == ClintMtime && size == 8:
		c.mtime = value
		return true
	}
	return false
}

func (c *Clint) Tick() {
	c.mtime++
}

// Msip reports the software-interrupt line state.
func (c *Clint) Msip() bool { return c.msip&1 != 0 }

// Mtip reports the timer-interrupt line state: mtime >= mtimecmp.
func (c *Clint) Mtip() bool { return c.mtime >= c.mtimecmp }

// Mtime returns the current timer value, used by difftest and the monitor.
func (c *Clint) Mtime() uint64 { return c.mtime }
