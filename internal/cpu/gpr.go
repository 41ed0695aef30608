/*
 * rv64sim - Integer register file.
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

package cpu

// RegisterCount is the number of general-purpose integer registers.
const RegisterCount = 32

// RegNames gives the ABI mnemonic for each integer register, used by the
// monitor and by difftest divergence reports.
var RegNames = [RegisterCount]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// Gpr holds the 32 64-bit integer registers. x0 always reads as zero.
type Gpr struct {
	reg [RegisterCount]uint64
}

// Read returns the value of register index. Index is not range checked
// beyond the array bound enforced by the compiler; callers decode indices
// from a 5-bit instruction field so they are always in range.
func (g *Gpr) Read(index uint32) uint64 {
	return g.reg[index&0x1f]
}

// Write stores value into register index, except x0 which is hard-wired
// to zero and silently discards the write.
func (g *Gpr) Write(index uint32, value uint64) {
	index &= 0x1f
	if index != 0 {
		g.reg[index] = value
	}
}

// Reset clears every register, including x0 (already zero).
func (g *Gpr) Reset() {
	for i := range g.reg {
		g.reg[i] = 0
	}
}
