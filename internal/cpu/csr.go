/*
 * rv64sim - Control and status register file.
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

// CSR addresses, per the Zicsr 12-bit address space (spec.md S3 "CSR set").
const (
	Sstatus   = 0x100
	Sie       = 0x104
	Stvec     = 0x105
	Sscratch  = 0x140
	Sepc      = 0x141
	Scause    = 0x142
	Stval     = 0x143
	Sip       = 0x144
	Satp      = 0x180
	Mstatus   = 0x300
	Misa      = 0x301
	Medeleg   = 0x302
	Mideleg   = 0x303
	Mie       = 0x304
	Mtvec     = 0x305
	Mscratch  = 0x340
	Mepc      = 0x341
	Mcause    = 0x342
	Mtval     = 0x343
	Mip       = 0x344
	Cycle     = 0xc00
	Time      = 0xc01
	Instret   = 0xc02
	Mcycle    = 0xb00
	Minstret  = 0xb02
	Mhartid   = 0xf14
)

// mstatus/sstatus bit positions (RV64).
const (
	mstatusSIE  = 1
	mstatusMIE  = 3
	mstatusSPIE = 5
	mstatusMPIE = 7
	mstatusSPP  = 8
	mstatusMPP  = 11
	mstatusMPRV = 17
	mstatusSUM  = 18
	mstatusMXR  = 19
	mstatusTVM  = 20
	mstatusTW   = 21
	mstatusTSR  = 22
)

// mip/mie bit positions, shared with sip/sie as a masked subset.
const (
	ssipBit uint64 = 1 << 1
	msipBit uint64 = 1 << 3
	stipBit uint64 = 1 << 5
	mtipBit uint64 = 1 << 7
	seipBit uint64 = 1 << 9
	meipBit uint64 = 1 << 11

	sMask = ssipBit | stipBit | seipBit // bits visible through sip/sie
)

// mstatusWriteMask covers every WARL-writable bit this machine implements;
// writes to other bits are silently dropped per spec.md S3 "WARL/WPRI".
const mstatusWriteMask uint64 = (1 << mstatusSIE) | (1 << mstatusMIE) |
	(1 << mstatusSPIE) | (1 << mstatusMPIE) | (1 << mstatusSPP) |
	(0x3 << mstatusMPP) | (1 << mstatusMPRV) | (1 << mstatusSUM) |
	(1 << mstatusMXR) | (1 << mstatusTVM) | (1 << mstatusTW) | (1 << mstatusTSR)

// misaValue reports RV64IMA + S + U; writes to misa are ignored (spec.md S3).
// MXL=2 (64-bit) in bits 63:62, extension bits I,M,A,S,U.
const misaValue uint64 = (2 << 62) |
	(1 << ('I' - 'A')) | (1 << ('M' - 'A')) | (1 << ('A' - 'A')) |
	(1 << ('S' - 'A')) | (1 << ('U' - 'A'))

// csrEntry is a (write_mask, on_read, on_write) record, after the design
// note in spec.md S9 "CSR side effects": this keeps the Zicsr path a table
// lookup instead of a giant switch over CSR numbers. There is no separate
// read mask; each onRead returns the register's already-masked view.
type csrEntry struct {
	writeMask uint64
	onRead    func(c *Csr) uint64
	onWrite   func(c *Csr, v uint64)
}

// Csr is the control-and-status register file. Most registers are backed
// by a plain field; mstatus is the single source of truth that sstatus,
// and the MIE/MPIE/SIE/SPIE bits seen through trap entry, read and write
// through.
type Csr struct {
	mstatus  uint64
	mtvec    uint64
	mepc     uint64
	mcause   uint64
	mtval    uint64
	mip      uint64
	mie      uint64
	mscratch uint64
	medeleg  uint64
	mideleg  uint64

	stvec    uint64
	sepc     uint64
	scause   uint64
	stval    uint64
	sscratch uint64
	satp     uint64

	mcycle   uint64
	minstret uint64
	timeVal  uint64

	table map[uint16]*csrEntry
}

// NewCsr builds a CSR file with every register at its reset value and the
// read/write-mask table wired up.
func NewCsr() *Csr {
	c := &Csr{}
	c.buildTable()
	return c
}

// Reset restores every CSR to its power-on value (spec.md S6 "Boot contract").
func (c *Csr) Reset() {
	c.mstatus = 0
	c.mtvec = 0
	c.mepc = 0
	c.mcause = 0
	c.mtval = 0
	c.mip = 0
	c.mie = 0
	c.mscratch = 0
	c.medeleg = 0
	c.mideleg = 0
	c.stvec = 0
	c.sepc = 0
	c.scause = 0
	c.stval = 0
	c.sscratch = 0
	c.satp = 0
	c.mcycle = 0
	c.minstret = 0
	c.timeVal = 0
}

func (c *Csr) buildTable() {
	c.table = map[uint16]*csrEntry{
		Mstatus: {
			writeMask: mstatusWriteMask,
			onRead:    func(c *Csr) uint64 { return c.mstatus },
			onWrite:   func(c *Csr, v uint64) { c.mstatus = v },
		},
		Sstatus: {
			writeMask: sstatusMask(),
			onRead:    func(c *Csr) uint64 { return c.mstatus & sstatusMask() },
			onWrite: func(c *Csr, v uint64) {
				mask := sstatusMask()
				c.mstatus = (c.mstatus &^ mask) | (v & mask)
			},
		},
		Misa: {
			writeMask: 0,
			onRead:    func(c *Csr) uint64 { return misaValue },
			onWrite:   func(c *Csr, v uint64) {},
		},
		Medeleg: {
			writeMask: ^uint64(0),
			onRead:    func(c *Csr) uint64 { return c.medeleg },
			onWrite:   func(c *Csr, v uint64) { c.medeleg = v },
		},
		Mideleg: {
			writeMask: sMask,
			onRead:    func(c *Csr) uint64 { return c.mideleg },
			onWrite:   func(c *Csr, v uint64) { c.mideleg = v & sMask },
		},
		Mie: {
			writeMask: meipBit | mtipBit | msipBit | sMask,
			onRead:    func(c *Csr) uint64 { return c.mie },
			onWrite:   func(c *Csr, v uint64) { c.mie = v & (meipBit | mtipBit | msipBit | sMask) },
		},
		Sie: {
			writeMask: sMask,
			onRead:    func(c *Csr) uint64 { return c.mie & sMask },
			onWrite:   func(c *Csr, v uint64) { c.mie = (c.mie &^ sMask) | (v & sMask) },
		},
		Mip: {
			// MSIP and STIP are the mip bits software (M-mode SBI code
			// routing a timer interrupt to S-mode) may set directly; the
			// rest are hardware-driven by the bus each step.
			writeMask: msipBit | stipBit,
			onRead:    func(c *Csr) uint64 { return c.mip },
			onWrite: func(c *Csr, v uint64) {
				const w = msipBit | stipBit
				c.mip = (c.mip &^ w) | (v & w)
			},
		},
		Sip: {
			writeMask: ssipBit,
			onRead:    func(c *Csr) uint64 { return c.mip & sMask },
			onWrite:   func(c *Csr, v uint64) { c.mip = (c.mip &^ ssipBit) | (v & ssipBit) },
		},
		Mtvec: {
			writeMask: ^uint64(0),
			onRead:    func(c *Csr) uint64 { return c.mtvec },
			onWrite:   func(c *Csr, v uint64) { c.mtvec = v },
		},
		Stvec: {
			writeMask: ^uint64(0),
			onRead:    func(c *Csr) uint64 { return c.stvec },
			onWrite:   func(c *Csr, v uint64) { c.stvec = v },
		},
		Mscratch: {
			writeMask: ^uint64(0),
			onRead:    func(c *Csr) uint64 { return c.mscratch },
			onWrite:   func(c *Csr, v uint64) { c.mscratch = v },
		},
		Sscratch: {
			writeMask: ^uint64(0),
			onRead:    func(c *Csr) uint64 { return c.sscratch },
			onWrite:   func(c *Csr, v uint64) { c.sscratch = v },
		},
		Mepc: {
			writeMask: ^uint64(1),
			onRead:    func(c *Csr) uint64 { return c.mepc },
			onWrite:   func(c *Csr, v uint64) { c.mepc = v &^ 1 },
		},
		Sepc: {
			writeMask: ^uint64(1),
			onRead:    func(c *Csr) uint64 { return c.sepc },
			onWrite:   func(c *Csr, v uint64) { c.sepc = v &^ 1 },
		},
		Mcause: {
			writeMask: ^uint64(0),
			onRead:    func(c *Csr) uint64 { return c.mcause },
			onWrite:   func(c *Csr, v uint64) { c.mcause = v },
		},
		Scause: {
			writeMask: ^uint64(0),
			onRead:    func(c *Csr) uint64 { return c.scause },
			onWrite:   func(c *Csr, v uint64) { c.scause = v },
		},
		Mtval: {
			writeMask: ^uint64(0),
			onRead:    func(c *Csr) uint64 { return c.mtval },
			onWrite:   func(c *Csr, v uint64) { c.mtval = v },
		},
		Stval: {
			writeMask: ^uint64(0),
			onRead:    func(c *Csr) uint64 { return c.stval },
			onWrite:   func(c *Csr, v uint64) { c.stval = v },
		},
		Satp: {
			writeMask: ^uint64(0),
			onRead:    func(c *Csr) uint64 { return c.satp },
			onWrite:   func(c *Csr, v uint64) { c.satp = v },
		},
		Mhartid: {
			writeMask: 0,
			onRead:    func(c *Csr) uint64 { return 0 },
			onWrite:   func(c *Csr, v uint64) {},
		},
		Mcycle: {
			writeMask: ^uint64(0),
			onRead:    func(c *Csr) uint64 { return c.mcycle },
			onWrite:   func(c *Csr, v uint64) { c.mcycle = v },
		},
		Cycle: {
			writeMask: 0,
			onRead:    func(c *Csr) uint64 { return c.mcycle },
			onWrite:   func(c *Csr, v uint64) {},
		},
		Minstret: {
			writeMask: ^uint64(0),
			onRead:    func(c *Csr) uint64 { return c.minstret },
			onWrite:   func(c *Csr, v uint64) { c.minstret = v },
		},
		Instret: {
			writeMask: 0,
			onRead:    func(c *Csr) uint64 { return c.minstret },
			onWrite:   func(c *Csr, v uint64) {},
		},
		Time: {
			writeMask: 0,
			onRead:    func(c *Csr) uint64 { return c.timeVal },
			onWrite:   func(c *Csr, v uint64) {},
		},
	}
}

func sstatusMask() uint64 {
	return (1 << mstatusSIE) | (1 << mstatusSPIE) | (1 << mstatusSPP) |
		(1 << mstatusSUM) | (1 << mstatusMXR)
}

// Defined reports whether addr names an implemented CSR.
func (c *Csr) Defined(addr uint16) bool {
	_, ok := c.table[addr]
	return ok
}

// read returns the current value of a CSR, applying its read-side effect.
// Unimplemented CSRs read as zero; execCsr is responsible for raising
// IllegalInstruction on access before calling read/write.
func (c *Csr) read(addr uint16) uint64 {
	e, ok := c.table[addr]
	if !ok {
		return 0
	}
	return e.onRead(c)
}

// write stores value into a CSR through its write mask and write-side
// effect (spec.md S3 "WARL/WPRI discipline is respected").
func (c *Csr) write(addr uint16, value uint64) {
	e, ok := c.table[addr]
	if !ok {
		return
	}
	e.onWrite(c, value&e.writeMask|(e.onRead(c)&^e.writeMask))
}

// IsReadOnly reports whether the top two bits of a CSR address (the
// standard privilege-and-readonly encoding) mark it read-only.
func IsReadOnly(addr uint16) bool {
	return addr&0xc00 == 0xc00
}

// PrivilegeOf returns the minimum privilege level required to access addr,
// encoded in bits 9:8 of the CSR address.
func PrivilegeOf(addr uint16) Mode {
	return Mode((addr >> 8) & 0x3)
}

func (c *Csr) tick() {
	c.timeVal++
}

// SetExternal copies the hardware-driven interrupt-pending lines (CLINT's
// timer line, PLIC's external lines) into mip. MEIP/SEIP/MTIP are not
// software-writable through the CSR path; MSIP and STIP are (through mip),
// and SSIP is (through sip). Because STIP may have been set by software,
// stip can only set that bit: passing false leaves STIP as it is.
func (c *Csr) SetExternal(meip, seip, mtip, stip bool) {
	set := func(bit uint64, v bool) {
		if v {
			c.mip |= bit
		} else {
			c.mip &^= bit
		}
	}
	set(meipBit, meip)
	set(seipBit, seip)
	set(mtipBit, mtip)
	if stip {
		c.mip |= stipBit
	}
}

// RawMstatus, RawMie, RawMip and RawMideleg expose raw register snapshots for the interrupt-pending
// scan and for difftest comparison without going through the masked table.
func (c *Csr) RawMstatus() uint64 { return c.mstatus }
func (c *Csr) RawMie() uint64     { return c.mie }
func (c *Csr) RawMip() uint64     { return c.mip }
func (c *Csr) RawMideleg() uint64 { return c.mideleg }

// Get reads a CSR by address for external callers (difftest, monitor) that
// need the raw table lookup without going through instruction decode.
func (c *Csr) Get(addr uint16) uint64 { return c.read(addr) }

