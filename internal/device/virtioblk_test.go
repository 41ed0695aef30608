/*
 * rv64sim - VirtIO-MMIO block device tests.
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

import "testing"

// fakeGuestMem is a flat byte array standing in for DRAM, addressed
// byte-at-a-time the way VirtioBlk's ring-walking helpers use it.
type fakeGuestMem struct {
	mem [65536]byte
}

func (m *fakeGuestMem) Load(offset uint64, size int) (uint64, bool) {
	return uint64(m.mem[offset]), true
}

func (m *fakeGuestMem) Store(offset uint64, size int, value uint64) bool {
	m.mem[offset] = byte(value)
	return true
}

func (m *fakeGuestMem) putU16(addr uint64, v uint16) {
	m.mem[addr] = byte(v)
	m.mem[addr+1] = byte(v >> 8)
}

func (m *fakeGuestMem) putU32(addr uint64, v uint32) {
	for i := 0; i < 4; i++ {
		m.mem[addr+uint64(i)] = byte(v >> (8 * i))
	}
}

func (m *fakeGuestMem) putU64(addr uint64, v uint64) {
	for i := 0; i < 8; i++ {
		m.mem[addr+uint64(i)] = byte(v >> (8 * i))
	}
}

func (m *fakeGuestMem) putDesc(base uint64, idx uint64, addr uint64, length uint32, next uint16) {
	d := base + idx*vringDescSize
	m.putU64(d, addr)
	m.putU32(d+8, length)
	m.putU16(d+12, 0) // flags, unused by this implementation's chain walk
	m.putU16(d+14, next)
}

// fakeBlockBackend is an in-memory ReaderAt/WriterAt standing in for the
// backing file a real VirtioBlk is attached to.
type fakeBlockBackend struct {
	data []byte
}

func (b *fakeBlockBackend) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b.data[off:])
	return n, nil
}

func (b *fakeBlockBackend) WriteAt(p []byte, off int64) (int, error) {
	n := copy(b.data[off:], p)
	return n, nil
}

func TestVirtioBlkMagicAndCapacity(t *testing.T) {
	mem := &fakeGuestMem{}
	backend := &fakeBlockBackend{data: make([]byte, 512)}
	v := NewVirtioBlk(mem, 0, backend, 512, nil)

	magic, _ := v.Load(virtioMagic, 4)
	if magic != virtioMagicValue {
		t.Fatalf("magic = %#x, want %#x", magic, virtioMagicValue)
	}
	devID, _ := v.Load(virtioDeviceID, 4)
	if devID != virtioBlockDevice {
		t.Fatalf("device id = %d, want %d", devID, virtioBlockDevice)
	}
	cap0, _ := v.Load(virtioConfig, 1)
	if cap0 != 1 { // 512 bytes == 1 sector, low byte of capacity
		t.Fatalf("capacity low byte = %d, want 1", cap0)
	}
}

func TestVirtioBlkProcessesReadRequest(t *testing.T) {
	mem := &fakeGuestMem{}
	backend := &fakeBlockBackend{data: make([]byte, 512)}
	for i := range backend.data {
		backend.data[i] = 0xab
	}
	plic := NewPlic()
	plic.Store(uint64(PlicPriorityBase+4*VirtioIrq), 4, 1)
	plic.Store(uint64(PlicEnableBase), 4, 1<<VirtioIrq)

	v := NewVirtioBlk(mem, 0, backend, 512, plic)

	const (
		descTable = 4096
		hdrAddr   = 16384
		dataAddr  = 16448
		statusAddr = 16960
	)

	v.Store(virtioQueueNum, 4, 4)
	v.Store(virtioQueuePFN, 4, 1) // descTable = 1 * guestPageSize(4096)

	mem.putU32(hdrAddr, blkTypeIn)
	mem.putU32(hdrAddr+4, 0)
	mem.putU64(hdrAddr+8, 0) // sector 0

	mem.putDesc(descTable, 0, hdrAddr, 16, 1)
	mem.putDesc(descTable, 1, dataAddr, 512, 2)
	mem.putDesc(descTable, 2, statusAddr, 1, 0)

	availRing := uint64(descTable) + 4*vringDescSize
	mem.putU16(availRing+2, 1) // avail idx = 1
	mem.putU16(availRing+4, 0) // ring[0] = head descriptor 0

	v.Store(virtioQueueNotify, 4, 0)

	for i := 0; i < 512; i++ {
		if mem.mem[dataAddr+uint64(i)] != 0xab {
			t.Fatalf("data byte %d = %#x, want 0xab", i, mem.mem[dataAddr+uint64(i)])
		}
	}
	if mem.mem[statusAddr] != 0 {
		t.Fatalf("status = %d, want 0 (VIRTIO_BLK_S_OK)", mem.mem[statusAddr])
	}
	if v.interruptStatus&1 == 0 {
		t.Fatal("interruptStatus bit 0 should be set after completing a request")
	}
	if !plic.Pending(ContextMachine) {
		t.Fatal("VirtioIrq should be pending on the PLIC after a completed request")
	}
}

func TestVirtioBlkInterruptAckLowersPlic(t *testing.T) {
	mem := &fakeGuestMem{}
	backend := &fakeBlockBackend{data: make([]byte, 512)}
	plic := NewPlic()
	plic.Store(uint64(PlicPriorityBase+4*VirtioIrq), 4, 1)
	plic.Store(uint64(PlicEnableBase), 4, 1<<VirtioIrq)
	v := NewVirtioBlk(mem, 0, backend, 512, plic)

	plic.Raise(VirtioIrq)
	v.interruptStatus = 1
	v.Store(virtioInterruptAck, 4, 1)
	if plic.Pending(ContextMachine) {
		t.Fatal("acking the interrupt should lower the PLIC source")
	}
	if v.interruptStatus != 0 {
		t.Fatalf("interruptStatus = %d, want 0 after ack", v.interruptStatus)
	}
}
