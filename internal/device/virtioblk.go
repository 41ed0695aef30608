/*
 * rv64sim - VirtIO-MMIO block device (legacy layout).
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

import (
	"encoding/binary"
	"io"
)

// VirtIO-MMIO legacy register offsets.
const (
	virtioMagic          = 0x000
	virtioVersion        = 0x004
	virtioDeviceID       = 0x008
	virtioVendorID       = 0x00c
	virtioHostFeatures   = 0x010
	virtioHostFeaturesSel = 0x014
	virtioGuestFeatures  = 0x020
	virtioGuestFeaturesSel = 0x024
	virtioGuestPageSize  = 0x028
	virtioQueueSel       = 0x030
	virtioQueueNumMax    = 0x034
	virtioQueueNum       = 0x038
	virtioQueueAlign     = 0x03c
	virtioQueuePFN       = 0x040
	virtioQueueNotify    = 0x050
	virtioInterruptStat  = 0x060
	virtioInterruptAck   = 0x064
	virtioStatus         = 0x070
	virtioConfig         = 0x100

	virtioMagicValue  = 0x74726976
	virtioBlockDevice = 2
	virtioQueueMax    = 128
	virtioBlockSize   = 512

	vringDescSize = 16

	blkTypeIn  = 0
	blkTypeOut = 1
)

// BlockBackend is the backing store a VirtioBlk reads and writes at
// 512-byte granularity. *os.File satisfies it.
type BlockBackend interface {
	io.ReaderAt
	io.WriterAt
}

// memAccessor lets VirtioBlk walk virtqueues that live in guest DRAM
// without importing the bus package (which imports device), avoiding an
// import cycle.
type memAccessor interface {
	Load(offset uint64, size int) (uint64, bool)
	Store(offset uint64, size int, value uint64) bool
}

// VirtioBlk implements the legacy VirtIO-MMIO block device, enough for a
// guest kernel to probe and perform simple block I/O (spec.md S4.4
// "VirtIO-MMIO block").
type VirtioBlk struct {
	mem      memAccessor
	dramBase uint64
	backend  BlockBackend
	capacity uint64 // sectors
	plic     *Plic

	hostFeaturesSel  uint32
	guestFeatures    uint32
	guestFeaturesSel uint32
	guestPageSize    uint32
	queueSel         uint32
	queueNum         uint32
	queueAlign       uint32
	queuePFN         uint32
	status           uint32
	interruptStatus  uint32

	lastAvailIdx uint16
}

// NewVirtioBlk builds a block device backed by backend, whose size in
// 512-byte sectors becomes the reported capacity. Virtqueues are read and
// written through mem at their guest-physical addresses; dramBase is
// stored but not used for translation (phys passes addresses through).
func NewVirtioBlk(mem memAccessor, dramBase uint64, backend BlockBackend, sizeBytes int64, plic *Plic) *VirtioBlk {
	return &VirtioBlk{
		mem:           mem,
		dramBase:      dramBase,
		backend:       backend,
		capacity:      uint64(sizeBytes) / virtioBlockSize,
		plic:          plic,
		guestPageSize: 4096,
		queueAlign:    4096,
	}
}

func (v *VirtioBlk) Load(offset uint64, size int) (uint64, bool) {
	switch offset {
	case virtioMagic:
		return virtioMagicValue, true
	case virtioVersion:
		return 1, true
	case virtioDeviceID:
		return virtioBlockDevice, true
	case virtioVendorID:
		return 0x554d4551, true
	case virtioHostFeatures:
		return 0, true
	case virtioQueueNumMax:
		return virtioQueueMax, true
	case virtioQueuePFN:
		return uint64(v.queuePFN), true
	case virtioInterruptStat:
		return uint64(v.interruptStatus), true
	case virtioStatus:
		return uint64(v.status), true
	}
	if offset >= virtioConfig && offset < virtioConfig+8 {
		shift := (offset - virtioConfig) * 8
		return (v.capacity >> shift) & 0xff, true
	}
	return 0, true
}

func (v *VirtioBlk) Store(offset uint64, size int, value uint64) bool {
	switch offset {
	case virtioHostFeaturesSel:
		v.hostFeaturesSel = uint32(value)
	case virtioGuestFeatures:
		v.guestFeatures = uint32(value)
	case virtioGuestFeaturesSel:
		v.guestFeaturesSel = uint32(value)
	case virtioGuestPageSize:
		v.guestPageSize = uint32(value)
	case virtioQueueSel:
		v.queueSel = uint32(value)
	case virtioQueueNum:
		v.queueNum = uint32(value)
	case virtioQueueAlign:
		v.queueAlign = uint32(value)
	case virtioQueuePFN:
		v.queuePFN = uint32(value)
		v.lastAvailIdx = 0
	case virtioQueueNotify:
		v.processQueue()
	case virtioInterruptAck:
		v.interruptStatus &^= uint32(value)
		if v.plic != nil {
			v.plic.Lower(VirtioIrq)
		}
	case virtioStatus:
		v.status = uint32(value)
	default:
		return true
	}
	return true
}

func (v *VirtioBlk) Tick() {}

// phys passes a guest-physical address straight through: QueuePFN values
// written by the driver already encode the absolute guest physical
// address, the same space the bus's Load/Store operate in.
func (v *VirtioBlk) phys(addr uint64) uint64 {
	return addr
}

func (v *VirtioBlk) readU16(addr uint64) uint16 {
	lo, _ := v.mem.Load(v.phys(addr), 1)
	hi, _ := v.mem.Load(v.phys(addr+1), 1)
	return uint16(lo) | uint16(hi)<<8
}

func (v *VirtioBlk) readU32(addr uint64) uint32 {
	b := make([]byte, 4)
	for i := range b {
		x, _ := v.mem.Load(v.phys(addr)+uint64(i), 1)
		b[i] = byte(x)
	}
	return binary.LittleEndian.Uint32(b)
}

func (v *VirtioBlk) readU64(addr uint64) uint64 {
	lo := v.readU32(addr)
	hi := v.readU32(addr + 4)
	return uint64(lo) | uint64(hi)<<32
}

func (v *VirtioBlk) writeU32(addr uint64, val uint32) {
	for i := 0; i < 4; i++ {
		v.mem.Store(v.phys(addr)+uint64(i), 1, uint64((val>>(uint(i)*8))&0xff))
	}
}

// processQueue walks the available ring since lastAvailIdx, executes each
// descriptor chain as a block read or write, and pushes a completion onto
// the used ring (spec.md S4.4 "On doorbell").
func (v *VirtioBlk) processQueue() {
	if v.queuePFN == 0 || v.queueNum == 0 {
		return
	}
	descTable := uint64(v.queuePFN) * uint64(v.guestPageSize)
	availRing := descTable + uint64(v.queueNum)*vringDescSize
	usedRing := align(availRing+4+2*uint64(v.queueNum)+2, uint64(v.queueAlign))

	availIdx := v.readU16(availRing + 2)
	for v.lastAvailIdx != availIdx {
		slot := uint64(v.lastAvailIdx) % uint64(v.queueNum)
		head := v.readU16(availRing + 4 + 2*slot)
		bytesWritten := v.executeChain(descTable, uint64(head))
		v.pushUsed(usedRing, uint32(head), bytesWritten)
		v.lastAvailIdx++
	}
	if v.lastAvailIdx != availIdx {
		return
	}
	v.interruptStatus |= 1
	if v.plic != nil {
		v.plic.Raise(VirtioIrq)
	}
}

// executeChain interprets the classic 3-descriptor block request chain:
// a 16-byte header, a data buffer, and a 1-byte status descriptor. It
// returns the number of bytes written into guest memory (for a read).
func (v *VirtioBlk) executeChain(descTable, index uint64) uint32 {
	descAddr := func(i uint64) uint64 { return descTable + i*vringDescSize }

	hdrDesc := descAddr(index)
	hdrAddr := v.readU64(hdrDesc)
	reqType := v.readU32(hdrAddr)
	sector := v.readU64(hdrAddr + 8)
	nextIdx := uint64(v.readU16(hdrDesc + 14))

	dataDesc := descAddr(nextIdx)
	dataAddr := v.readU64(dataDesc)
	dataLen := v.readU32(dataDesc + 8)
	statusIdx := uint64(v.readU16(dataDesc + 14))

	var written uint32
	switch reqType {
	case blkTypeIn:
		buf := make([]byte, dataLen)
		n, _ := v.backend.ReadAt(buf, int64(sector)*virtioBlockSize)
		for i := 0; i < n; i++ {
			v.mem.Store(v.phys(dataAddr)+uint64(i), 1, uint64(buf[i]))
		}
		written = uint32(n)
	case blkTypeOut:
		buf := make([]byte, dataLen)
		for i := range buf {
			b, _ := v.mem.Load(v.phys(dataAddr)+uint64(i), 1)
			buf[i] = byte(b)
		}
		v.backend.WriteAt(buf, int64(sector)*virtioBlockSize)
	}

	statusDesc := descAddr(statusIdx)
	statusAddr := v.readU64(statusDesc)
	v.mem.Store(v.phys(statusAddr), 1, 0) // VIRTIO_BLK_S_OK
	return written
}

func (v *VirtioBlk) pushUsed(usedRing uint64, head uint32, length uint32) {
	idx := v.readU16(usedRing + 2)
	slot := uint64(idx) % uint64(v.queueNum)
	elemAddr := usedRing + 4 + slot*8
	v.writeU32(elemAddr, head)
	v.writeU32(elemAddr+4, length)
	v.storeU16(usedRing+2, idx+1)
}

func (v *VirtioBlk) storeU16(addr uint64, val uint16) {
	v.mem.Store(v.phys(addr), 1, uint64(val&0xff))
	v.mem.Store(v.phys(addr+1), 1, uint64((val>>8)&0xff))
}

func align(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}
