package disasm

import "encoding/binary"

// Decode classifies the single instruction at the start of data (which
// must hold at least one full instruction) as if it sat at address addr.
func Decode(data []byte, addr uint64, xlen Xlen) Insn {
	if len(data) < 2 {
		return Insn{Addr: addr, Len: len(data), Mnemonic: "truncated"}
	}
	low16 := binary.LittleEndian.Uint16(data)
	if low16&0x3 != 0x3 {
		return decodeCompressed(low16, addr, xlen)
	}
	if len(data) < 4 {
		return Insn{Addr: addr, Len: len(data), Mnemonic: "truncated"}
	}
	word := binary.LittleEndian.Uint32(data)
	return decodeStandard(word, addr)
}

// DisassembleAll decodes every instruction in data (the contents of one
// executable ELF section loaded at addr) and returns them keyed by
// address, matching the address-indexed instruction map the reconstruction
// engine and stack unwinder both need.
func DisassembleAll(data []byte, addr uint64, xlen Xlen) map[uint64]Insn {
	out := make(map[uint64]Insn, len(data)/3)
	pc := addr
	for pc-addr < uint64(len(data)) {
		remaining := data[pc-addr:]
		insn := Decode(remaining, pc, xlen)
		out[pc] = insn
		if insn.Len == 0 {
			break
		}
		pc += uint64(insn.Len)
	}
	return out
}

func decodeStandard(word uint32, addr uint64) Insn {
	opcode := word & 0x7f
	funct3 := (word >> 12) & 0x7
	rd := (word >> 7) & 0x1f
	rs1 := (word >> 15) & 0x1f
	funct5 := (word >> 27) & 0x1f

	switch opcode {
	case 0x63: // BRANCH
		name, ok := branchMnemonic(funct3)
		if !ok {
			return Insn{Addr: addr, Len: 4, Mnemonic: "branch"}
		}
		return Insn{Addr: addr, Len: 4, Mnemonic: name, Imm: bImmediate(word), IsBranch: true}

	case 0x6f: // JAL
		return Insn{Addr: addr, Len: 4, Mnemonic: "jal", Imm: jImmediate(word), IsDirectJump: true}

	case 0x67: // JALR
		if funct3 != 0 {
			return Insn{Addr: addr, Len: 4, Mnemonic: "insn"}
		}
		name := "jalr"
		if rd == 0 {
			name = "jr"
			if rs1 == 1 {
				name = "ret"
			}
		}
		return Insn{Addr: addr, Len: 4, Mnemonic: name, IsIndirectJump: true}

	case 0x2f: // AMO (includes LR/SC)
		name := amoMnemonic(funct5, funct3)
		return Insn{Addr: addr, Len: 4, Mnemonic: name, IsAtomic: true}

	default:
		return Insn{Addr: addr, Len: 4, Mnemonic: "insn"}
	}
}

func branchMnemonic(funct3 uint32) (string, bool) {
	switch funct3 {
	case 0b000:
		return "beq", true
	case 0b001:
		return "bne", true
	case 0b100:
		return "blt", true
	case 0b101:
		return "bge", true
	case 0b110:
		return "bltu", true
	case 0b111:
		return "bgeu", true
	default:
		return "", false
	}
}

func amoMnemonic(funct5, funct3 uint32) string {
	width := "w"
	if funct3 == 0b011 {
		width = "d"
	}
	op := map[uint32]string{
		0b00010: "lr",
		0b00011: "sc",
		0b00001: "amoswap",
		0b00000: "amoadd",
		0b00100: "amoxor",
		0b01100: "amoand",
		0b01000: "amoor",
		0b10000: "amomin",
		0b10100: "amomax",
		0b11000: "amominu",
		0b11100: "amomaxu",
	}[funct5]
	if op == "" {
		op = "amo"
	}
	return op + "." + width
}

// bImmediate decodes the B-type (branch) immediate: a signed, 2-byte
// aligned offset scattered across the instruction word.
func bImmediate(word uint32) int64 {
	imm12 := (word >> 31) & 0x1
	imm10_5 := (word >> 25) & 0x3f
	imm4_1 := (word >> 8) & 0xf
	imm11 := (word >> 7) & 0x1
	raw := (imm12 << 12) | (imm11 << 11) | (imm10_5 << 5) | (imm4_1 << 1)
	return signExtend(uint64(raw), 13)
}

// jImmediate decodes the J-type (JAL) immediate.
func jImmediate(word uint32) int64 {
	imm20 := (word >> 31) & 0x1
	imm10_1 := (word >> 21) & 0x3ff
	imm11 := (word >> 20) & 0x1
	imm19_12 := (word >> 12) & 0xff
	raw := (imm20 << 20) | (imm19_12 << 12) | (imm11 << 11) | (imm10_1 << 1)
	return signExtend(uint64(raw), 21)
}

func signExtend(v uint64, bits int) int64 {
	shift := 64 - bits
	return int64(v<<uint(shift)) >> uint(shift)
}

func decodeCompressed(word uint16, addr uint64, xlen Xlen) Insn {
	quadrant := word & 0x3
	funct3 := (word >> 13) & 0x7

	switch {
	case quadrant == 0b01 && funct3 == 0b101: // C.J
		return Insn{Addr: addr, Len: 2, Mnemonic: "c.j", Imm: cjImmediate(word), IsDirectJump: true}

	case quadrant == 0b01 && funct3 == 0b001 && xlen == Xlen32: // C.JAL (RV32 only)
		return Insn{Addr: addr, Len: 2, Mnemonic: "c.jal", Imm: cjImmediate(word), IsDirectJump: true}

	case quadrant == 0b01 && funct3 == 0b110: // C.BEQZ
		return Insn{Addr: addr, Len: 2, Mnemonic: "c.beqz", Imm: cbImmediate(word), IsBranch: true}

	case quadrant == 0b01 && funct3 == 0b111: // C.BNEZ
		return Insn{Addr: addr, Len: 2, Mnemonic: "c.bnez", Imm: cbImmediate(word), IsBranch: true}

	case quadrant == 0b10 && funct3 == 0b100: // C.JR / C.JALR / C.MV / C.ADD family
		bit12 := (word >> 12) & 0x1
		rs1 := (word >> 7) & 0x1f
		rs2 := (word >> 2) & 0x1f
		if rs2 == 0 && bit12 == 0 && rs1 != 0 { // C.JR
			name := "c.jr"
			if rs1 == 1 {
				name = "c.ret"
			}
			return Insn{Addr: addr, Len: 2, Mnemonic: name, IsIndirectJump: true}
		}
		if rs2 == 0 && bit12 == 1 && rs1 != 0 { // C.JALR
			return Insn{Addr: addr, Len: 2, Mnemonic: "c.jalr", IsIndirectJump: true}
		}
		return Insn{Addr: addr, Len: 2, Mnemonic: "c.insn"}

	default:
		return Insn{Addr: addr, Len: 2, Mnemonic: "c.insn"}
	}
}

// cjImmediate decodes the CJ-type 11-bit immediate used by C.J and C.JAL.
func cjImmediate(word uint16) int64 {
	b := func(bit uint) uint16 { return (word >> bit) & 0x1 }
	raw := uint64(b(12))<<11 | uint64(b(11))<<4 | uint64(b(10))<<9 | uint64(b(9))<<8 |
		uint64(b(8))<<10 | uint64(b(7))<<6 | uint64(b(6))<<7 | uint64(b(5))<<3 |
		uint64(b(4))<<2 | uint64(b(3))<<1 | uint64(b(2))<<5
	return signExtend(raw, 12)
}

// cbImmediate decodes the CB-type 8-bit branch immediate used by
// C.BEQZ/C.BNEZ.
func cbImmediate(word uint16) int64 {
	b := func(bit uint) uint16 { return (word >> bit) & 0x1 }
	raw := uint64(b(12))<<8 | uint64(b(11))<<4 | uint64(b(10))<<3 |
		uint64(b(6))<<7 | uint64(b(5))<<6 | uint64(b(4))<<2 | uint64(b(3))<<1 | uint64(b(2))<<5
	return signExtend(raw, 9)
}
