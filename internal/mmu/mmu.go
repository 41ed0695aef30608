/*
 * rv64sim - Sv39/Sv48 MMU.
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

// Package mmu implements the Sv39/Sv48 page-table walker, backed by a small
// TLB, per spec.md S4.3.
package mmu

import "github.com/riscvsim/rv64sim/internal/cpu"

const (
	satpModeShift = 60
	satpAsidShift = 44
	satpAsidMask  = 0xffff
	satpPPNMask   = (uint64(1) << 44) - 1

	modeBare = 0
	modeSv39 = 8
	modeSv48 = 9

	pageSize  = 4096
	pteSize   = 8
	vpnBits   = 9
	vpnMask   = (1 << vpnBits) - 1
)

// pageBus is the subset of cpu.Bus the MMU needs: reading PTEs.
type pageBus interface {
	Read(paddr uint64, size int) (uint64, bool)
}

type tlbKey struct {
	asid uint64
	vpn  uint64
	kind cpu.AccessKind
}

type tlbEntry struct {
	ppn uint64 // physical page number the vpn maps to
	r, w, x, u bool
}

const tlbCapacity = 64

// Mmu walks Sv39/Sv48 page tables, caching translations in a small
// bounded TLB that is flushed on SFENCE.VMA, any satp write, or capacity
// pressure (spec.md S4.3).
type Mmu struct {
	bus  pageBus
	satp uint64
	tlb  map[tlbKey]tlbEntry
}

// New builds an MMU reading page tables through bus. Translation mode is
// derived from the satp value set via SetSatp, called whenever the CPU's
// CSR write path touches satp.
func New(bus pageBus) *Mmu {
	return &Mmu{bus: bus, tlb: make(map[tlbKey]tlbEntry)}
}

// SetSatp updates the root page-table pointer and translation mode, and
// flushes the TLB (a satp write always invalidates cached translations).
func (m *Mmu) SetSatp(satp uint64) {
	m.satp = satp
	m.tlb = make(map[tlbKey]tlbEntry)
}

// Flush implements SFENCE.VMA: asid/addr of -1 mean "all". This
// implementation flushes the whole TLB regardless, which is always a
// correct (if coarse) over-approximation.
func (m *Mmu) Flush(asid int64, addr int64) {
	m.tlb = make(map[tlbKey]tlbEntry)
}

func (m *Mmu) levels() int {
	mode := (m.satp >> satpModeShift) & 0xf
	switch mode {
	case modeSv39:
		return 3
	case modeSv48:
		return 4
	}
	return 0
}

// Translate resolves a virtual address to a physical one under mode and
// the given mstatus (for MXR/SUM). Machine mode with no MPRV override
// bypasses translation entirely (spec.md S4.3).
func (m *Mmu) Translate(addr uint64, kind cpu.AccessKind, mode cpu.Mode, mstatus uint64) (uint64, *cpu.Exception) {
	levels := m.levels()
	if levels == 0 || mode == cpu.Machine {
		return addr, nil
	}

	asid := (m.satp >> satpAsidShift) & satpAsidMask
	vpn := addr >> 12
	key := tlbKey{asid: asid, vpn: vpn, kind: kind}
	if e, ok := m.tlb[key]; ok {
		if ex := checkPerm(e, kind, mode, mstatus); ex != nil {
			return 0, faultFor(kind, addr)
		}
		return (e.ppn << 12) | (addr & 0xfff), nil
	}

	ppn, leafLevel, pte, ex := m.walk(addr, levels, kind)
	if ex != nil {
		return 0, ex
	}

	entry := tlbEntry{
		ppn: ppn,
		r:   pte&(1<<1) != 0,
		w:   pte&(1<<2) != 0,
		x:   pte&(1<<3) != 0,
		u:   pte&(1<<4) != 0,
	}
	if permErr := checkPerm(entry, kind, mode, mstatus); permErr != nil {
		return 0, faultFor(kind, addr)
	}

	if len(m.tlb) >= tlbCapacity {
		m.tlb = make(map[tlbKey]tlbEntry)
	}
	m.tlb[key] = entry

	_ = leafLevel
	return (ppn << 12) | (addr & 0xfff), nil
}

// walk performs the page-table walk from spec.md S4.3, steps 1-6: it does
// not write updated A/D bits back (the simpler "fault if not already set"
// discipline), so step 7 is folded into the fault check here rather than
// being a side effect.
func (m *Mmu) walk(addr uint64, levels int, kind cpu.AccessKind) (ppn uint64, level int, pte uint64, ex *cpu.Exception) {
	vpn := make([]uint64, levels)
	for i := 0; i < levels; i++ {
		vpn[i] = (addr >> uint(12+9*i)) & vpnMask
	}

	a := (m.satp & satpPPNMask) * pageSize
	i := levels - 1
	for {
		word, ok := m.bus.Read(a+vpn[i]*pteSize, 8)
		if !ok {
			return 0, 0, 0, &cpu.Exception{Cause: accessFaultFor(kind), Tval: addr}
		}
		pte = word

		v := pte&1 != 0
		r := pte&(1<<1) != 0
		w := pte&(1<<2) != 0
		x := pte&(1<<3) != 0

		if !v || (!r && w) {
			return 0, 0, 0, faultFor(kind, addr)
		}
		if r || x {
			break
		}
		i--
		if i < 0 {
			return 0, 0, 0, faultFor(kind, addr)
		}
		a = ((pte >> 10) & ((1 << 44) - 1)) * pageSize
	}

	leafPPN := (pte >> 10) & ((1 << 44) - 1)

	// Step 4 (spec numbering S4.3.4): superpage alignment. Lower-level ppn
	// bits of the leaf must be zero when i > 0.
	for j := 0; j < i; j++ {
		shift := uint(9 * j)
		if (leafPPN>>shift)&vpnMask != 0 {
			return 0, 0, 0, faultFor(kind, addr)
		}
	}

	// Step 6: A/D must already be set; this implementation never writes
	// PTEs back, so a missing A (or missing D on a store) always faults.
	a64 := pte&(1<<6) != 0
	d := pte&(1<<7) != 0
	if !a64 || (kind == cpu.AccessStore && !d) {
		return 0, 0, 0, faultFor(kind, addr)
	}

	// Superpage: combine the leaf's high PPN bits with the lower VPN bits.
	ppn = leafPPN
	if i > 0 {
		mask := uint64(1)<<uint(9*i) - 1
		ppn = (leafPPN &^ mask) | (vpn2low(vpn, i) & mask)
	}
	return ppn, i, pte, nil
}

func vpn2low(vpn []uint64, i int) uint64 {
	var v uint64
	for j := 0; j < i; j++ {
		v |= vpn[j] << uint(9*j)
	}
	return v
}

// checkPerm applies step 3 of spec.md S4.3: fetch needs X; load needs R
// or (X and MXR); store needs W; U-pages need SUM for S-mode non-fetch
// access, non-U-pages are off-limits to U-mode.
func checkPerm(e tlbEntry, kind cpu.AccessKind, mode cpu.Mode, mstatus uint64) error {
	const mxrBit = 1 << 19
	const sumBit = 1 << 18

	switch kind {
	case cpu.AccessFetch:
		if !e.x {
			return errPerm
		}
	case cpu.AccessLoad:
		if !e.r && !(e.x && mstatus&mxrBit != 0) {
			return errPerm
		}
	case cpu.AccessStore:
		if !e.w {
			return errPerm
		}
	}

	if e.u {
		if mode == cpu.Supervisor && kind != cpu.AccessFetch && mstatus&sumBit == 0 {
			return errPerm
		}
	} else {
		if mode == cpu.User {
			return errPerm
		}
	}
	return nil
}

type permError struct{}

func (permError) Error() string { return "permission denied" }

var errPerm = permError{}

func faultFor(kind cpu.AccessKind, addr uint64) *cpu.Exception {
	var cause cpu.Cause
	switch kind {
	case cpu.AccessFetch:
		cause = cpu.CauseInstructionPageFault
	case cpu.AccessStore:
		cause = cpu.CauseStorePageFault
	default:
		cause = cpu.CauseLoadPageFault
	}
	return &cpu.Exception{Cause: cause, Tval: addr}
}

func accessFaultFor(kind cpu.AccessKind) cpu.Cause {
	switch kind {
	case cpu.AccessFetch:
		return cpu.CauseInstructionAccessFault
	case cpu.AccessStore:
		return cpu.CauseStoreAccessFault
	default:
		return cpu.CauseLoadAccessFault
	}
}
