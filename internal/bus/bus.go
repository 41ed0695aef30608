/*
 * rv64sim - Physical bus and device map.
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

// Package bus routes a physical address and width to the device that owns
// it (spec.md S4.4 "Bus and devices"). Device ranges never overlap; an
// address outside every range is an access fault.
package bus

import "github.com/riscvsim/rv64sim/internal/device"

// Default physical addresses for this machine's device map.
const (
	DramBase  = 0x8000_0000
	ClintBase = 0x0200_0000
	PlicBase  = 0x0c00_0000
	UartBase  = 0x1000_0000
	VirtioBase = 0x1000_1000
)

type region struct {
	name string
	base uint64
	size uint64
	dev  device.Device
}

// Bus owns every device and answers the CPU's Read/Write/Tick/
// PendingInterrupt calls.
type Bus struct {
	regions []region
	dram    *device.Dram
	clint   *device.Clint
	plic    *device.Plic
	uart    *device.Uart
	virtio  *device.VirtioBlk
}

// New builds the bus with DRAM, CLINT, PLIC and UART always present.
// dramSize is in bytes; uartSink receives each byte the guest writes to
// the UART's transmit-holding register.
func New(dramSize uint64, uartSink func(byte)) *Bus {
	b := &Bus{}
	b.dram = device.NewDram(dramSize)
	b.clint = device.NewClint()
	b.plic = device.NewPlic()
	b.uart = device.NewUart(b.plic, uartSink)

	b.addRegion("dram", DramBase, dramSize, b.dram)
	b.addRegion("clint", ClintBase, device.ClintSize, b.clint)
	b.addRegion("plic", PlicBase, 0x0400_0000, b.plic)
	b.addRegion("uart", UartBase, 0x100, b.uart)
	return b
}

func (b *Bus) addRegion(name string, base, size uint64, dev device.Device) {
	b.regions = append(b.regions, region{name: name, base: base, size: size, dev: dev})
}

// AttachVirtioBlk wires a block backend into the bus at VirtioBase. The
// device needs to walk virtqueues that live in guest DRAM, so it is handed
// the bus itself (as a memAccessor) plus the DRAM base.
func (b *Bus) AttachVirtioBlk(backend device.BlockBackend, sizeBytes int64) {
	b.virtio = device.NewVirtioBlk(b, DramBase, backend, sizeBytes, b.plic)
	b.addRegion("virtio-blk", VirtioBase, 0x1000, b.virtio)
}

// Dram exposes the backing device for the loader to populate directly.
func (b *Bus) Dram() *device.Dram { return b.dram }

// Uart exposes the UART for the console reader / netconsole goroutines.
func (b *Bus) Uart() *device.Uart { return b.uart }

// Clint exposes the CLINT for difftest state comparison and the monitor.
func (b *Bus) Clint() *device.Clint { return b.clint }

func (b *Bus) find(paddr uint64, size int) (*region, uint64, bool) {
	for i := range b.regions {
		r := &b.regions[i]
		if paddr >= r.base && paddr+uint64(size) <= r.base+r.size {
			return r, paddr - r.base, true
		}
	}
	return nil, 0, false
}

// Load and Store give internal/device.VirtioBlk a way to walk virtqueues
// that live in guest DRAM without device importing bus (which imports
// device), satisfying device's unexported memAccessor interface.
func (b *Bus) Load(paddr uint64, size int) (uint64, bool)        { return b.Read(paddr, size) }
func (b *Bus) Store(paddr uint64, size int, value uint64) bool   { return b.Write(paddr, size, value) }

// Read performs a sized load at a physical address. The bool result is
// false when no device claims the address (an access fault upstream).
func (b *Bus) Read(paddr uint64, size int) (uint64, bool) {
	r, off, ok := b.find(paddr, size)
	if !ok {
		return 0, false
	}
	return r.dev.Load(off, size)
}

// Write performs a sized store at a physical address.
func (b *Bus) Write(paddr uint64, size int, value uint64) bool {
	r, off, ok := b.find(paddr, size)
	if !ok {
		return false
	}
	return r.dev.Store(off, size, value)
}

// Tick advances every device by one step, called once per CPU step
// (spec.md S9: no event-list scheduler, a single per-step tick suffices).
func (b *Bus) Tick() {
	for i := range b.regions {
		b.regions[i].dev.Tick()
	}
}

// PendingInterrupt aggregates CLINT's timer/software lines and PLIC's
// per-context external line into the four bits the CPU ORs into mip.
func (b *Bus) PendingInterrupt() (meip, seip, mtip, msip bool) {
	meip = b.plic.Pending(device.ContextMachine)
	seip = b.plic.Pending(device.ContextSupervisor)
	mtip = b.clint.Mtip()
	msip = b.clint.Msip()
	return
}
