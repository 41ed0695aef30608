/*
 * rv64sim - Execution engine.
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

// execute dispatches one decoded instruction against the architectural
// state. nextPC is pre-loaded with pc+4 by the caller and may be
// overwritten for control-flow instructions. A non-nil *Exception means
// the caller should trap instead of committing nextPC/instret.
func (c *Cpu) execute(inst Inst, pc uint64, nextPC *uint64) *Exception {
	switch inst.Op {
	case OpIllegal:
		return &Exception{Cause: CauseIllegalInstruction, Tval: uint64(inst.Raw)}

	case OpLui:
		c.Gpr.Write(inst.Rd, uint64(inst.Imm))
	case OpAuipc:
		c.Gpr.Write(inst.Rd, pc+uint64(inst.Imm))

	case OpJal:
		target := pc + uint64(inst.Imm)
		if target&0x3 != 0 {
			return &Exception{Cause: misalignedFor(AccessFetch), Tval: target}
		}
		c.Gpr.Write(inst.Rd, pc+4)
		*nextPC = target
	case OpJalr:
		target := (c.Gpr.Read(inst.Rs1) + uint64(inst.Imm)) &^ 1
		if target&0x3 != 0 {
			return &Exception{Cause: misalignedFor(AccessFetch), Tval: target}
		}
		c.Gpr.Write(inst.Rd, pc+4)
		*nextPC = target

	case OpBeq, OpBne, OpBlt, OpBge, OpBltu, OpBgeu:
		if branchTaken(inst.Op, c.Gpr.Read(inst.Rs1), c.Gpr.Read(inst.Rs2)) {
			target := pc + uint64(inst.Imm)
			if target&0x3 != 0 {
				return &Exception{Cause: misalignedFor(AccessFetch), Tval: target}
			}
			*nextPC = target
		}

	case OpLb, OpLh, OpLw, OpLd, OpLbu, OpLhu, OpLwu:
		return c.execLoad(inst)
	case OpSb, OpSh, OpSw, OpSd:
		return c.execStore(inst)

	case OpAddi:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)+uint64(inst.Imm))
	case OpSlti:
		c.Gpr.Write(inst.Rd, boolToReg(int64(c.Gpr.Read(inst.Rs1)) < inst.Imm))
	case OpSltiu:
		c.Gpr.Write(inst.Rd, boolToReg(c.Gpr.Read(inst.Rs1) < uint64(inst.Imm)))
	case OpXori:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)^uint64(inst.Imm))
	case OpOri:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)|uint64(inst.Imm))
	case OpAndi:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)&uint64(inst.Imm))
	case OpSlli:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)<<uint(inst.Imm&0x3f))
	case OpSrli:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)>>uint(inst.Imm&0x3f))
	case OpSrai:
		c.Gpr.Write(inst.Rd, uint64(int64(c.Gpr.Read(inst.Rs1))>>uint(inst.Imm&0x3f)))

	case OpAdd:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)+c.Gpr.Read(inst.Rs2))
	case OpSub:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)-c.Gpr.Read(inst.Rs2))
	case OpSll:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)<<(c.Gpr.Read(inst.Rs2)&0x3f))
	case OpSlt:
		c.Gpr.Write(inst.Rd, boolToReg(int64(c.Gpr.Read(inst.Rs1)) < int64(c.Gpr.Read(inst.Rs2))))
	case OpSltu:
		c.Gpr.Write(inst.Rd, boolToReg(c.Gpr.Read(inst.Rs1) < c.Gpr.Read(inst.Rs2)))
	case OpXor:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)^c.Gpr.Read(inst.Rs2))
	case OpSrl:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)>>(c.Gpr.Read(inst.Rs2)&0x3f))
	case OpSra:
		c.Gpr.Write(inst.Rd, uint64(int64(c.Gpr.Read(inst.Rs1))>>(c.Gpr.Read(inst.Rs2)&0x3f)))
	case OpOr:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)|c.Gpr.Read(inst.Rs2))
	case OpAnd:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)&c.Gpr.Read(inst.Rs2))

	case OpAddiw:
		c.Gpr.Write(inst.Rd, signExt32(uint32(c.Gpr.Read(inst.Rs1))+uint32(inst.Imm)))
	case OpSlliw:
		c.Gpr.Write(inst.Rd, signExt32(uint32(c.Gpr.Read(inst.Rs1))<<uint(inst.Imm&0x1f)))
	case OpSrliw:
		c.Gpr.Write(inst.Rd, signExt32(uint32(c.Gpr.Read(inst.Rs1))>>uint(inst.Imm&0x1f)))
	case OpSraiw:
		c.Gpr.Write(inst.Rd, uint64(int32(c.Gpr.Read(inst.Rs1))>>uint(inst.Imm&0x1f)))
	case OpAddw:
		c.Gpr.Write(inst.Rd, signExt32(uint32(c.Gpr.Read(inst.Rs1))+uint32(c.Gpr.Read(inst.Rs2))))
	case OpSubw:
		c.Gpr.Write(inst.Rd, signExt32(uint32(c.Gpr.Read(inst.Rs1))-uint32(c.Gpr.Read(inst.Rs2))))
	case OpSllw:
		c.Gpr.Write(inst.Rd, signExt32(uint32(c.Gpr.Read(inst.Rs1))<<(uint32(c.Gpr.Read(inst.Rs2))&0x1f)))
	case OpSrlw:
		c.Gpr.Write(inst.Rd, signExt32(uint32(c.Gpr.Read(inst.Rs1))>>(uint32(c.Gpr.Read(inst.Rs2))&0x1f)))
	case OpSraw:
		c.Gpr.Write(inst.Rd, uint64(int32(c.Gpr.Read(inst.Rs1))>>(uint32(c.Gpr.Read(inst.Rs2))&0x1f)))

	case OpMul:
		c.Gpr.Write(inst.Rd, c.Gpr.Read(inst.Rs1)*c.Gpr.Read(inst.Rs2))
	case OpMulh:
		c.Gpr.Write(inst.Rd, uint64(mulh(int64(c.Gpr.Read(inst.Rs1)), int64(c.Gpr.Read(inst.Rs2)))))
	case OpMulhsu:
		c.Gpr.Write(inst.Rd, uint64(mulhsu(int64(c.Gpr.Read(inst.Rs1)), c.Gpr.Read(inst.Rs2))))
	case OpMulhu:
		c.Gpr.Write(inst.Rd, mulhu(c.Gpr.Read(inst.Rs1), c.Gpr.Read(inst.Rs2)))
	case OpDiv:
		c.Gpr.Write(inst.Rd, uint64(sdiv(int64(c.Gpr.Read(inst.Rs1)), int64(c.Gpr.Read(inst.Rs2)))))
	case OpDivu:
		c.Gpr.Write(inst.Rd, udiv(c.Gpr.Read(inst.Rs1), c.Gpr.Read(inst.Rs2)))
	case OpRem:
		c.Gpr.Write(inst.Rd, uint64(srem(int64(c.Gpr.Read(inst.Rs1)), int64(c.Gpr.Read(inst.Rs2)))))
	case OpRemu:
		c.Gpr.Write(inst.Rd, urem(c.Gpr.Read(inst.Rs1), c.Gpr.Read(inst.Rs2)))
	case OpMulw:
		c.Gpr.Write(inst.Rd, signExt32(uint32(c.Gpr.Read(inst.Rs1))*uint32(c.Gpr.Read(inst.Rs2))))
	case OpDivw:
		c.Gpr.Write(inst.Rd, uint64(sdiv32(int32(c.Gpr.Read(inst.Rs1)), int32(c.Gpr.Read(inst.Rs2)))))
	case OpDivuw:
		c.Gpr.Write(inst.Rd, signExt32(udiv32(uint32(c.Gpr.Read(inst.Rs1)), uint32(c.Gpr.Read(inst.Rs2)))))
	case OpRemw:
		c.Gpr.Write(inst.Rd, uint64(srem32(int32(c.Gpr.Read(inst.Rs1)), int32(c.Gpr.Read(inst.Rs2)))))
	case OpRemuw:
		c.Gpr.Write(inst.Rd, signExt32(urem32(uint32(c.Gpr.Read(inst.Rs1)), uint32(c.Gpr.Read(inst.Rs2)))))

	case OpFence, OpFenceI:
		// No-op: steps are already sequentially consistent (spec.md S5).

	case OpEcall:
		var cause Cause
		switch c.mode {
		case User:
			cause = CauseEnvironmentCallFromU
		case Supervisor:
			cause = CauseEnvironmentCallFromS
		default:
			cause = CauseEnvironmentCallFromM
		}
		return &Exception{Cause: cause}
	case OpEbreak:
		return &Exception{Cause: CauseBreakpoint, Tval: pc}

	case OpMret:
		c.execMret()
		*nextPC = c.pc
	case OpSret:
		c.execSret()
		*nextPC = c.pc

	case OpWfi:
		if !c.interruptPending() {
			c.Halt()
		}

	case OpSfenceVma:
		c.mmu.Flush(int64(c.Gpr.Read(inst.Rs2)), int64(c.Gpr.Read(inst.Rs1)))
		c.clearReservation()

	case OpCsrrw, OpCsrrs, OpCsrrc, OpCsrrwi, OpCsrrsi, OpCsrrci:
		return c.execCsr(inst)

	case OpLrW:
		return c.execLr(inst, 4)
	case OpLrD:
		return c.execLr(inst, 8)
	case OpScW:
		return c.execSc(inst, 4)
	case OpScD:
		return c.execSc(inst, 8)

	case OpAmoSwapW, OpAmoAddW, OpAmoAndW, OpAmoOrW, OpAmoXorW, OpAmoMaxW, OpAmoMinW, OpAmoMaxuW, OpAmoMinuW:
		return c.execAmo(inst, 4)
	case OpAmoSwapD, OpAmoAddD, OpAmoAndD, OpAmoOrD, OpAmoXorD, OpAmoMaxD, OpAmoMinD, OpAmoMaxuD, OpAmoMinuD:
		return c.execAmo(inst, 8)

	default:
		return &Exception{Cause: CauseIllegalInstruction, Tval: uint64(inst.Raw)}
	}
	return nil
}

func branchTaken(op Op, a, b uint64) bool {
	switch op {
	case OpBeq:
		return a == b
	case OpBne:
		return a != b
	case OpBlt:
		return int64(a) < int64(b)
	case OpBge:
		return int64(a) >= int64(b)
	case OpBltu:
		return a < b
	case OpBgeu:
		return a >= b
	}
	return false
}

func boolToReg(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func signExt32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

func (c *Cpu) execLoad(inst Inst) *Exception {
	addr := c.Gpr.Read(inst.Rs1) + uint64(inst.Imm)
	var size int
	switch inst.Op {
	case OpLb, OpLbu:
		size = 1
	case OpLh, OpLhu:
		size = 2
	case OpLw, OpLwu:
		size = 4
	case OpLd:
		size = 8
	}
	v, ex := c.readMem(addr, size)
	if ex != nil {
		return ex
	}
	switch inst.Op {
	case OpLb:
		c.Gpr.Write(inst.Rd, uint64(int64(int8(v))))
	case OpLh:
		c.Gpr.Write(inst.Rd, uint64(int64(int16(v))))
	case OpLw:
		c.Gpr.Write(inst.Rd, uint64(int64(int32(v))))
	case OpLd, OpLbu, OpLhu, OpLwu:
		c.Gpr.Write(inst.Rd, v)
	}
	return nil
}

func (c *Cpu) execStore(inst Inst) *Exception {
	addr := c.Gpr.Read(inst.Rs1) + uint64(inst.Imm)
	val := c.Gpr.Read(inst.Rs2)
	var size int
	switch inst.Op {
	case OpSb:
		size = 1
	case OpSh:
		size = 2
	case OpSw:
		size = 4
	case OpSd:
		size = 8
	}
	return c.writeMem(addr, size, val)
}

// execMret restores the pre-trap machine state per spec.md S4.2 "MRET".
func (c *Cpu) execMret() {
	status := c.csr.read(Mstatus)
	mpie := (status >> mstatusMPIE) & 1
	mpp := Mode((status >> mstatusMPP) & 0x3)
	status = setField(status, mstatusMIE, 1, mpie)
	status = setField(status, mstatusMPIE, 1, 1)
	status = setField(status, mstatusMPP, 2, uint64(User))
	if mpp != Machine {
		status = setField(status, mstatusMPRV, 1, 0)
	}
	c.csr.write(Mstatus, status)
	c.mode = mpp
	c.pc = c.csr.read(Mepc)
}

// execSret restores the pre-trap supervisor state per spec.md S4.2 "SRET".
func (c *Cpu) execSret() {
	status := c.csr.read(Mstatus)
	spie := (status >> mstatusSPIE) & 1
	spp := Mode((status >> mstatusSPP) & 0x1)
	status = setField(status, mstatusSIE, 1, spie)
	status = setField(status, mstatusSPIE, 1, 1)
	status = setField(status, mstatusSPP, 1, uint64(User))
	if spp != Machine {
		status = setField(status, mstatusMPRV, 1, 0)
	}
	c.csr.write(Mstatus, status)
	c.mode = spp
	c.pc = c.csr.read(Sepc)
}

// execCsr implements the Zicsr read-modify-write instructions, including
// the privilege and read-only checks from spec.md S4.2.
func (c *Cpu) execCsr(inst Inst) *Exception {
	if !c.csr.Defined(inst.Csr) {
		return &Exception{Cause: CauseIllegalInstruction, Tval: uint64(inst.Raw)}
	}
	if c.mode < PrivilegeOf(inst.Csr) {
		return &Exception{Cause: CauseIllegalInstruction, Tval: uint64(inst.Raw)}
	}

	writes := inst.Op != OpCsrrs && inst.Op != OpCsrrc || inst.Rs1 != 0
	writesImm := inst.Op != OpCsrrsi && inst.Op != OpCsrrci || inst.Imm != 0
	isWrite := map[Op]bool{
		OpCsrrw: true, OpCsrrwi: true,
		OpCsrrs: writes, OpCsrrc: writes,
		OpCsrrsi: writesImm, OpCsrrci: writesImm,
	}[inst.Op]
	if isWrite && IsReadOnly(inst.Csr) {
		return &Exception{Cause: CauseIllegalInstruction, Tval: uint64(inst.Raw)}
	}

	old := c.csr.read(inst.Csr)

	var operand uint64
	switch inst.Op {
	case OpCsrrw, OpCsrrs, OpCsrrc:
		operand = c.Gpr.Read(inst.Rs1)
	case OpCsrrwi, OpCsrrsi, OpCsrrci:
		operand = uint64(inst.Imm)
	}

	var next uint64
	switch inst.Op {
	case OpCsrrw, OpCsrrwi:
		next = operand
	case OpCsrrs, OpCsrrsi:
		next = old | operand
	case OpCsrrc, OpCsrrci:
		next = old &^ operand
	}
	if isWrite {
		c.csr.write(inst.Csr, next)
		if inst.Csr == Satp {
			c.mmu.SetSatp(c.csr.read(Satp))
		}
	}
	c.Gpr.Write(inst.Rd, old)
	return nil
}

// execLr records a reservation (address, width) per spec.md S4.2 "Atomics".
func (c *Cpu) execLr(inst Inst, size int) *Exception {
	addr := c.Gpr.Read(inst.Rs1)
	v, ex := c.readMem(addr, size)
	if ex != nil {
		return ex
	}
	c.reservationValid = true
	c.reservationAddr = addr &^ 0x7
	if size == 4 {
		c.Gpr.Write(inst.Rd, uint64(int64(int32(v))))
	} else {
		c.Gpr.Write(inst.Rd, v)
	}
	return nil
}

// execSc succeeds only if the reservation set by a prior LR still matches.
func (c *Cpu) execSc(inst Inst, size int) *Exception {
	addr := c.Gpr.Read(inst.Rs1)
	if !c.reservationValid || c.reservationAddr != addr&^0x7 {
		c.Gpr.Write(inst.Rd, 1)
		return nil
	}
	val := c.Gpr.Read(inst.Rs2)
	if ex := c.writeMem(addr, size, val); ex != nil {
		return ex
	}
	c.reservationValid = false
	c.Gpr.Write(inst.Rd, 0)
	return nil
}

// execAmo performs the read-modify-write atomics. One CPU step is
// indivisible (spec.md S5), so no interleaving can occur between the read
// and the write half.
func (c *Cpu) execAmo(inst Inst, size int) *Exception {
	addr := c.Gpr.Read(inst.Rs1)
	old, ex := c.readMem(addr, size)
	if ex != nil {
		return ex
	}
	var oldSigned, argSigned int64
	var uOld, uArg uint64
	arg := c.Gpr.Read(inst.Rs2)
	if size == 4 {
		oldSigned = int64(int32(old))
		argSigned = int64(int32(arg))
		uOld = uint64(uint32(old))
		uArg = uint64(uint32(arg))
	} else {
		oldSigned = int64(old)
		argSigned = int64(arg)
		uOld = old
		uArg = arg
	}

	var result uint64
	switch inst.Op {
	case OpAmoSwapW, OpAmoSwapD:
		result = arg
	case OpAmoAddW, OpAmoAddD:
		result = old + arg
	case OpAmoAndW, OpAmoAndD:
		result = old & arg
	case OpAmoOrW, OpAmoOrD:
		result = old | arg
	case OpAmoXorW, OpAmoXorD:
		result = old ^ arg
	case OpAmoMaxW, OpAmoMaxD:
		if oldSigned > argSigned {
			result = old
		} else {
			result = arg
		}
	case OpAmoMinW, OpAmoMinD:
		if oldSigned < argSigned {
			result = old
		} else {
			result = arg
		}
	case OpAmoMaxuW, OpAmoMaxuD:
		if uOld > uArg {
			result = old
		} else {
			result = arg
		}
	case OpAmoMinuW, OpAmoMinuD:
		if uOld < uArg {
			result = old
		} else {
			result = arg
		}
	}

	if size == 4 {
		result = uint64(uint32(result))
	}
	if ex := c.writeMem(addr, size, result); ex != nil {
		return ex
	}
	if size == 4 {
		c.Gpr.Write(inst.Rd, uint64(int64(int32(old))))
	} else {
		c.Gpr.Write(inst.Rd, old)
	}
	return nil
}
