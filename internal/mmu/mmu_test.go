/*
 * rv64sim - MMU tests.
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

package mmu

import (
	"testing"

	"github.com/riscvsim/rv64sim/internal/cpu"
)

type fakePageBus struct {
	mem [1 << 20]byte
}

func (b *fakePageBus) Read(paddr uint64, size int) (uint64, bool) {
	if paddr+uint64(size) > uint64(len(b.mem)) {
		return 0, false
	}
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(b.mem[paddr+uint64(i)]) << (8 * i)
	}
	return v, true
}

func (b *fakePageBus) putPTE(addr uint64, value uint64) {
	for i := 0; i < 8; i++ {
		b.mem[addr+uint64(i)] = byte(value >> (8 * i))
	}
}

// buildSv39Walk lays out a three-level Sv39 page table mapping virtual
// address 0x40403123 to physical page 10, with the given leaf permission
// bits (V/R/W/X/A/D encoded by the caller in leafFlags).
func buildSv39Walk(b *fakePageBus, leafFlags uint64) {
	const ppnLevel1 = 1
	const ppnLevel0 = 2
	const leafPPN = 10

	b.putPTE(8, (ppnLevel1<<10)|0x1)       // level2[vpn2=1] -> pointer, V=1
	b.putPTE(4112, (ppnLevel0<<10)|0x1)    // level1[vpn1=2] -> pointer, V=1
	b.putPTE(8216, (leafPPN<<10)|leafFlags) // level0[vpn0=3] -> leaf
}

const testVA = 0x40403123 // vpn2=1, vpn1=2, vpn0=3, offset=0x123

func TestMmuSv39ThreeLevelWalk(t *testing.T) {
	bus := &fakePageBus{}
	// V|R|W|X|A|D, no U
	buildSv39Walk(bus, 0x01|0x02|0x04|0x08|0x40|0x80)

	m := New(bus)
	m.SetSatp(uint64(modeSv39) << satpModeShift)

	paddr, ex := m.Translate(testVA, cpu.AccessLoad, cpu.Supervisor, 0)
	if ex != nil {
		t.Fatalf("unexpected exception: %+v", ex)
	}
	if want := uint64(10<<12) | 0x123; paddr != want {
		t.Fatalf("paddr = %#x, want %#x", paddr, want)
	}
}

func TestMmuBareModeIsIdentity(t *testing.T) {
	bus := &fakePageBus{}
	m := New(bus)
	// satp left at zero: mode field is modeBare.
	paddr, ex := m.Translate(0x12345, cpu.AccessLoad, cpu.Supervisor, 0)
	if ex != nil {
		t.Fatalf("unexpected exception: %+v", ex)
	}
	if paddr != 0x12345 {
		t.Fatalf("paddr = %#x, want identity 0x12345", paddr)
	}
}

func TestMmuMachineModeBypassesTranslation(t *testing.T) {
	bus := &fakePageBus{}
	m := New(bus)
	m.SetSatp(uint64(modeSv39) << satpModeShift)
	paddr, ex := m.Translate(testVA, cpu.AccessLoad, cpu.Machine, 0)
	if ex != nil {
		t.Fatalf("unexpected exception: %+v", ex)
	}
	if paddr != testVA {
		t.Fatal("M-mode with no MPRV override must bypass translation entirely")
	}
}

func TestMmuMissingAccessedBitFaults(t *testing.T) {
	bus := &fakePageBus{}
	// V|R|W|X, A and D clear: must fault under the "never write PTEs back" rule.
	buildSv39Walk(bus, 0x01|0x02|0x04|0x08)

	m := New(bus)
	m.SetSatp(uint64(modeSv39) << satpModeShift)
	_, ex := m.Translate(testVA, cpu.AccessLoad, cpu.Supervisor, 0)
	if ex == nil {
		t.Fatal("expected a page fault when the A bit is clear")
	}
	if ex.Cause != cpu.CauseLoadPageFault {
		t.Fatalf("cause = %v, want LoadPageFault", ex.Cause)
	}
}

func TestMmuStoreRequiresDirtyBit(t *testing.T) {
	bus := &fakePageBus{}
	// V|R|W|X|A set, D clear: loads fine, stores must fault.
	buildSv39Walk(bus, 0x01|0x02|0x04|0x08|0x40)

	m := New(bus)
	m.SetSatp(uint64(modeSv39) << satpModeShift)

	if _, ex := m.Translate(testVA, cpu.AccessLoad, cpu.Supervisor, 0); ex != nil {
		t.Fatalf("load should succeed without D: %+v", ex)
	}
	_, ex := m.Translate(testVA, cpu.AccessStore, cpu.Supervisor, 0)
	if ex == nil {
		t.Fatal("expected a store page fault when D is clear")
	}
	if ex.Cause != cpu.CauseStorePageFault {
		t.Fatalf("cause = %v, want StorePageFault", ex.Cause)
	}
}

func TestMmuUserPageDeniedInUserModeWithoutPermission(t *testing.T) {
	bus := &fakePageBus{}
	// Supervisor-only page (U=0): user mode access must fault.
	buildSv39Walk(bus, 0x01|0x02|0x04|0x08|0x40|0x80)

	m := New(bus)
	m.SetSatp(uint64(modeSv39) << satpModeShift)
	_, ex := m.Translate(testVA, cpu.AccessLoad, cpu.User, 0)
	if ex == nil {
		t.Fatal("U-mode should not be able to access a supervisor-only page")
	}
}

func TestMmuSetSatpFlushesTlb(t *testing.T) {
	bus := &fakePageBus{}
	buildSv39Walk(bus, 0x01|0x02|0x04|0x08|0x40|0x80)

	m := New(bus)
	m.SetSatp(uint64(modeSv39) << satpModeShift)
	if _, ex := m.Translate(testVA, cpu.AccessLoad, cpu.Supervisor, 0); ex != nil {
		t.Fatalf("initial translate failed: %+v", ex)
	}
	if len(m.tlb) == 0 {
		t.Fatal("expected the translation to be cached")
	}
	m.SetSatp(uint64(modeSv39) << satpModeShift)
	if len(m.tlb) != 0 {
		t.Fatal("a satp write must flush the TLB")
	}
}

func TestMmuFlushClearsTlb(t *testing.T) {
	bus := &fakePageBus{}
	buildSv39Walk(bus, 0x01|0x02|0x04|0x08|0x40|0x80)

	m := New(bus)
	m.SetSatp(uint64(modeSv39) << satpModeShift)
	m.Translate(testVA, cpu.AccessLoad, cpu.Supervisor, 0)
	m.Flush(-1, -1)
	if len(m.tlb) != 0 {
		t.Fatal("Flush must clear the TLB")
	}
}
