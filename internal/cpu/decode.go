/*
 * rv64sim - Instruction decoder.
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

// Op tags a decoded operation. Kept as a flat enum plus a single Inst
// struct rather than a hierarchy of instruction types, so execute is one
// wide dispatch instead of a tree of interfaces.
type Op uint8

const (
	OpIllegal Op = iota
	OpLui
	OpAuipc
	OpJal
	OpJalr
	OpBeq
	OpBne
	OpBlt
	OpBge
	OpBltu
	OpBgeu
	OpLb
	OpLh
	OpLw
	OpLd
	OpLbu
	OpLhu
	OpLwu
	OpSb
	OpSh
	OpSw
	OpSd
	OpAddi
	OpSlti
	OpSltiu
	OpXori
	OpOri
	OpAndi
	OpSlli
	OpSrli
	OpSrai
	OpAdd
	OpSub
	OpSll
	OpSlt
	OpSltu
	OpXor
	OpSrl
	OpSra
	OpOr
	OpAnd
	OpAddiw
	OpSlliw
	OpSrliw
	OpSraiw
	OpAddw
	OpSubw
	OpSllw
	OpSrlw
	OpSraw
	OpFence
	OpFenceI
	OpEcall
	OpEbreak
	OpMret
	OpSret
	OpWfi
	OpSfenceVma
	OpCsrrw
	OpCsrrs
	OpCsrrc
	OpCsrrwi
	OpCsrrsi
	OpCsrrci
	OpMul
	OpMulh
	OpMulhsu
	OpMulhu
	OpDiv
	OpDivu
	OpRem
	OpRemu
	OpMulw
	OpDivw
	OpDivuw
	OpRemw
	OpRemuw
	OpLrW
	OpScW
	OpAmoSwapW
	OpAmoAddW
	OpAmoAndW
	OpAmoOrW
	OpAmoXorW
	OpAmoMaxW
	OpAmoMinW
	OpAmoMaxuW
	OpAmoMinuW
	OpLrD
	OpScD
	OpAmoSwapD
	OpAmoAddD
	OpAmoAndD
	OpAmoOrD
	OpAmoXorD
	OpAmoMaxD
	OpAmoMinD
	OpAmoMaxuD
	OpAmoMinuD
)

// Inst is a decoded instruction: the tag plus every operand field the
// executor might need. Unused fields for a given Op are left zero.
type Inst struct {
	Op     Op
	Rd     uint32
	Rs1    uint32
	Rs2    uint32
	Imm    int64  // sign-extended immediate (I/S/B/U/J formats)
	Csr    uint16 // zero-extended CSR address
	Aq, Rl bool   // AMO/LR/SC ordering bits, decoded but not enforced (S4.2)
	Length uint8  // always 4; kept for symmetry with a future C-extension
	Raw    uint32
}

// Decode turns a 32-bit instruction word into a tagged Inst. Unrecognised
// encodings return OpIllegal wrapped in an Exception so callers can trap
// uniformly with the original word in *tval (spec.md S4.1).
func Decode(word uint32) (Inst, *Exception) {
	inst := Inst{Raw: word, Length: 4}

	opcode := word & 0x7f
	funct3 := (word >> 12) & 0x7
	funct7 := (word >> 25) & 0x7f
	funct5 := (word >> 27) & 0x1f
	rd := (word >> 7) & 0x1f
	rs1 := (word >> 15) & 0x1f
	rs2 := (word >> 20) & 0x1f

	inst.Rd, inst.Rs1, inst.Rs2 = rd, rs1, rs2

	illegal := func() (Inst, *Exception) {
		return Inst{Raw: word, Length: 4}, &Exception{Cause: CauseIllegalInstruction, Tval: uint64(word)}
	}

	switch opcode {
	case 0x37: // LUI
		inst.Op = OpLui
		inst.Imm = immU(word)
	case 0x17: // AUIPC
		inst.Op = OpAuipc
		inst.Imm = immU(word)
	case 0x6f: // JAL
		inst.Op = OpJal
		inst.Imm = immJ(word)
	case 0x67: // JALR
		if funct3 != 0 {
			return illegal()
		}
		inst.Op = OpJalr
		inst.Imm = immI(word)
	case 0x63: // branches
		inst.Imm = immB(word)
		switch funct3 {
		case 0x0:
			inst.Op = OpBeq
		case 0x1:
			inst.Op = OpBne
		case 0x4:
			inst.Op = OpBlt
		case 0x5:
			inst.Op = OpBge
		case 0x6:
			inst.Op = OpBltu
		case 0x7:
			inst.Op = OpBgeu
		default:
			return illegal()
		}
	case 0x03: // loads
		inst.Imm = immI(word)
		switch funct3 {
		case 0x0:
			inst.Op = OpLb
		case 0x1:
			inst.Op = OpLh
		case 0x2:
			inst.Op = OpLw
		case 0x3:
			inst.Op = OpLd
		case 0x4:
			inst.Op = OpLbu
		case 0x5:
			inst.Op = OpLhu
		case 0x6:
			inst.Op = OpLwu
		default:
			return illegal()
		}
	case 0x23: // stores
		inst.Imm = immS(word)
		switch funct3 {
		case 0x0:
			inst.Op = OpSb
		case 0x1:
			inst.Op = OpSh
		case 0x2:
			inst.Op = OpSw
		case 0x3:
			inst.Op = OpSd
		default:
			return illegal()
		}
	case 0x13: // integer-immediate
		inst.Imm = immI(word)
		switch funct3 {
		case 0x0:
			inst.Op = OpAddi
		case 0x2:
			inst.Op = OpSlti
		case 0x3:
			inst.Op = OpSltiu
		case 0x4:
			inst.Op = OpXori
		case 0x6:
			inst.Op = OpOri
		case 0x7:
			inst.Op = OpAndi
		case 0x1:
			if funct7&^1 != 0 {
				return illegal()
			}
			inst.Op = OpSlli
			inst.Imm = int64(word>>20) & 0x3f
		case 0x5:
			shamt := int64(word>>20) & 0x3f
			switch funct7 &^ 1 {
			case 0x00:
				inst.Op = OpSrli
			case 0x20:
				inst.Op = OpSrai
			default:
				return illegal()
			}
			inst.Imm = shamt
		default:
			return illegal()
		}
	case 0x33: // integer register-register
		switch {
		case funct7 == 0x01:
			switch funct3 {
			case 0x0:
				inst.Op = OpMul
			case 0x1:
				inst.Op = OpMulh
			case 0x2:
				inst.Op = OpMulhsu
			case 0x3:
				inst.Op = OpMulhu
			case 0x4:
				inst.Op = OpDiv
			case 0x5:
				inst.Op = OpDivu
			case 0x6:
				inst.Op = OpRem
			case 0x7:
				inst.Op = OpRemu
			default:
				return illegal()
			}
		case funct7 == 0x00 || funct7 == 0x20:
			switch funct3 {
			case 0x0:
				if funct7 == 0x20 {
					inst.Op = OpSub
				} else {
					inst.Op = OpAdd
				}
			case 0x1:
				inst.Op = OpSll
			case 0x2:
				inst.Op = OpSlt
			case 0x3:
				inst.Op = OpSltu
			case 0x4:
				inst.Op = OpXor
			case 0x5:
				if funct7 == 0x20 {
					inst.Op = OpSra
				} else {
					inst.Op = OpSrl
				}
			case 0x6:
				inst.Op = OpOr
			case 0x7:
				inst.Op = OpAnd
			default:
				return illegal()
			}
		default:
			return illegal()
		}
	case 0x1b: // 32-bit-result immediate ops (*W)
		inst.Imm = immI(word)
		switch funct3 {
		case 0x0:
			inst.Op = OpAddiw
		case 0x1:
			if funct7 != 0 {
				return illegal()
			}
			inst.Op = OpSlliw
			inst.Imm = int64(word>>20) & 0x1f
		case 0x5:
			shamt := int64(word>>20) & 0x1f
			switch funct7 {
			case 0x00:
				inst.Op = OpSrliw
			case 0x20:
				inst.Op = OpSraiw
			default:
				return illegal()
			}
			inst.Imm = shamt
		default:
			return illegal()
		}
	case 0x3b: // 32-bit-result register ops (*W)
		switch {
		case funct7 == 0x01:
			switch funct3 {
			case 0x0:
				inst.Op = OpMulw
			case 0x4:
				inst.Op = OpDivw
			case 0x5:
				inst.Op = OpDivuw
			case 0x6:
				inst.Op = OpRemw
			case 0x7:
				inst.Op = OpRemuw
			default:
				return illegal()
			}
		case funct7 == 0x00 || funct7 == 0x20:
			switch funct3 {
			case 0x0:
				if funct7 == 0x20 {
					inst.Op = OpSubw
				} else {
					inst.Op = OpAddw
				}
			case 0x1:
				inst.Op = OpSllw
			case 0x5:
				if funct7 == 0x20 {
					inst.Op = OpSraw
				} else {
					inst.Op = OpSrlw
				}
			default:
				return illegal()
			}
		default:
			return illegal()
		}
	case 0x0f:
		switch funct3 {
		case 0x0:
			inst.Op = OpFence
		case 0x1:
			inst.Op = OpFenceI
		default:
			return illegal()
		}
	case 0x73: // SYSTEM: ECALL/EBREAK/MRET/SRET/WFI/SFENCE.VMA/CSR*
		switch funct3 {
		case 0x0:
			switch {
			case word == 0x00000073:
				inst.Op = OpEcall
			case word == 0x00100073:
				inst.Op = OpEbreak
			case word == 0x30200073:
				inst.Op = OpMret
			case word == 0x10200073:
				inst.Op = OpSret
			case word == 0x10500073:
				inst.Op = OpWfi
			case funct7 == 0x09:
				inst.Op = OpSfenceVma
			default:
				return illegal()
			}
		case 0x1:
			inst.Op = OpCsrrw
			inst.Csr = uint16(word >> 20)
		case 0x2:
			inst.Op = OpCsrrs
			inst.Csr = uint16(word >> 20)
		case 0x3:
			inst.Op = OpCsrrc
			inst.Csr = uint16(word >> 20)
		case 0x5:
			inst.Op = OpCsrrwi
			inst.Csr = uint16(word >> 20)
			inst.Imm = int64(rs1)
		case 0x6:
			inst.Op = OpCsrrsi
			inst.Csr = uint16(word >> 20)
			inst.Imm = int64(rs1)
		case 0x7:
			inst.Op = OpCsrrci
			inst.Csr = uint16(word >> 20)
			inst.Imm = int64(rs1)
		default:
			return illegal()
		}
	case 0x2f: // AMO (A-extension)
		inst.Aq = word&(1<<26) != 0
		inst.Rl = word&(1<<25) != 0
		width := funct3
		if width != 0x2 && width != 0x3 {
			return illegal()
		}
		op, ok := amoOp(funct5, width == 0x3)
		if !ok {
			return illegal()
		}
		inst.Op = op
	default:
		return illegal()
	}

	return inst, nil
}

func amoOp(funct5 uint32, is64 bool) (Op, bool) {
	if is64 {
		switch funct5 {
		case 0x02:
			return OpLrD, true
		case 0x03:
			return OpScD, true
		case 0x01:
			return OpAmoSwapD, true
		case 0x00:
			return OpAmoAddD, true
		case 0x0c:
			return OpAmoAndD, true
		case 0x08:
			return OpAmoOrD, true
		case 0x04:
			return OpAmoXorD, true
		case 0x14:
			return OpAmoMaxD, true
		case 0x10:
			return OpAmoMinD, true
		case 0x1c:
			return OpAmoMaxuD, true
		case 0x18:
			return OpAmoMinuD, true
		}
		return 0, false
	}
	switch funct5 {
	case 0x02:
		return OpLrW, true
	case 0x03:
		return OpScW, true
	case 0x01:
		return OpAmoSwapW, true
	case 0x00:
		return OpAmoAddW, true
	case 0x0c:
		return OpAmoAndW, true
	case 0x08:
		return OpAmoOrW, true
	case 0x04:
		return OpAmoXorW, true
	case 0x14:
		return OpAmoMaxW, true
	case 0x10:
		return OpAmoMinW, true
	case 0x1c:
		return OpAmoMaxuW, true
	case 0x18:
		return OpAmoMinuW, true
	}
	return 0, false
}

func immI(word uint32) int64 {
	return int64(int32(word)) >> 20
}

func immS(word uint32) int64 {
	imm := ((word >> 25) << 5) | ((word >> 7) & 0x1f)
	return signExtend(imm, 12)
}

func immB(word uint32) int64 {
	imm := ((word >> 31) << 12) |
		(((word >> 7) & 0x1) << 11) |
		(((word >> 25) & 0x3f) << 5) |
		(((word >> 8) & 0xf) << 1)
	return signExtend(imm, 13)
}

func immU(word uint32) int64 {
	return int64(int32(word & 0xfffff000))
}

func immJ(word uint32) int64 {
	imm := ((word >> 31) << 20) |
		(((word >> 12) & 0xff) << 12) |
		(((word >> 20) & 0x1) << 11) |
		(((word >> 21) & 0x3ff) << 1)
	return signExtend(imm, 21)
}

func signExtend(value uint32, bits uint) int64 {
	shift := 32 - bits
	return int64(int32(value<<shift)) >> shift
}
