package aarch64

import (
	"encoding/binary"
	"fmt"

	"github.com/nanana37/elfconv/internal/lifter"
	"github.com/nanana37/elfconv/internal/regs"
)

// instLen is the fixed A64 encoding size.
const instLen = 4

// Decode classifies the 32-bit word at addr. Control-transfer encodings are
// decoded exactly; the remaining space is classified coarsely by top-level
// group so the semantics can attach genuine read/write sets.
func (a *Arch) Decode(addr uint64, data []byte, inst *lifter.Instruction) bool {
	if len(data) < instLen {
		return false
	}
	enc := binary.LittleEndian.Uint32(data)

	inst.Addr = addr
	inst.Size = instLen
	inst.Enc = enc
	inst.NextPC = addr + instLen

	switch {
	case enc == 0:
		inst.Mnemonic = "udf"
		inst.Category = lifter.CategoryInvalid

	case enc&0xFC000000 == 0x14000000: // B
		inst.Mnemonic = "b"
		inst.Category = lifter.CategoryDirectJump
		inst.BranchTakenPC = addr + simm26(enc)

	case enc&0xFC000000 == 0x94000000: // BL
		inst.Mnemonic = "bl"
		inst.Category = lifter.CategoryDirectFunctionCall
		inst.BranchTakenPC = addr + simm26(enc)
		inst.BranchNotTakenPC = addr + instLen
		inst.Sema = "bl_64"
		inst.Writes = []regs.Ref{regs.GP(30, regs.ClassX)}

	case enc&0xFF000010 == 0x54000000: // B.cond
		inst.Mnemonic = "b.cond"
		inst.Category = lifter.CategoryConditionalBranch
		inst.BranchTakenPC = addr + simm19(enc)
		inst.BranchNotTakenPC = addr + instLen
		inst.Sema = fmt.Sprintf("b_cond_%d", enc&0xF)
		inst.Reads = []regs.Ref{{Reg: regs.NZCV, Class: regs.ClassW}}
		inst.Writes = []regs.Ref{{Reg: regs.BranchTaken, Class: regs.ClassB}}

	case enc&0x7E000000 == 0x34000000: // CBZ/CBNZ
		nz := enc>>24&1 == 1
		inst.Mnemonic = "cbz"
		if nz {
			inst.Mnemonic = "cbnz"
		}
		inst.Category = lifter.CategoryConditionalBranch
		inst.BranchTakenPC = addr + simm19(enc)
		inst.BranchNotTakenPC = addr + instLen
		c := sfClass(enc)
		inst.Sema = fmt.Sprintf("%s_%d", inst.Mnemonic, c.Bits())
		inst.Reads = []regs.Ref{regs.GP(rt(enc), c)}
		inst.Writes = []regs.Ref{{Reg: regs.BranchTaken, Class: regs.ClassB}}

	case enc&0x7E000000 == 0x36000000: // TBZ/TBNZ
		nz := enc>>24&1 == 1
		inst.Mnemonic = "tbz"
		if nz {
			inst.Mnemonic = "tbnz"
		}
		inst.Category = lifter.CategoryConditionalBranch
		inst.BranchTakenPC = addr + simm14(enc)
		inst.BranchNotTakenPC = addr + instLen
		bit := enc>>31<<5 | enc>>19&0x1F
		c := regs.ClassW
		if bit >= 32 {
			c = regs.ClassX
		}
		inst.Sema = fmt.Sprintf("%s_%d", inst.Mnemonic, bit)
		inst.Reads = []regs.Ref{regs.GP(rt(enc), c)}
		inst.Writes = []regs.Ref{{Reg: regs.BranchTaken, Class: regs.ClassB}}

	case enc&0xFFFFFC1F == 0xD61F0000: // BR
		inst.Mnemonic = "br"
		inst.Category = lifter.CategoryIndirectJump
		inst.Sema = "br_64"
		inst.Reads = []regs.Ref{regs.GP(rn(enc), regs.ClassX)}
		inst.Writes = []regs.Ref{{Reg: regs.NextPC, Class: regs.ClassX}}

	case enc&0xFFFFFC1F == 0xD63F0000: // BLR
		inst.Mnemonic = "blr"
		inst.Category = lifter.CategoryIndirectFunctionCall
		inst.BranchNotTakenPC = addr + instLen
		inst.Sema = "blr_64"
		inst.Reads = []regs.Ref{regs.GP(rn(enc), regs.ClassX)}
		inst.Writes = []regs.Ref{
			{Reg: regs.NextPC, Class: regs.ClassX},
			regs.GP(30, regs.ClassX),
		}

	case enc&0xFFFFFC1F == 0xD65F0000: // RET
		inst.Mnemonic = "ret"
		inst.Category = lifter.CategoryFunctionReturn
		inst.Sema = "ret_64"
		inst.Reads = []regs.Ref{regs.GP(rn(enc), regs.ClassX)}
		inst.Writes = []regs.Ref{{Reg: regs.NextPC, Class: regs.ClassX}}

	case enc&0xFFE0001F == 0xD4000001: // SVC
		inst.Mnemonic = "svc"
		inst.Category = lifter.CategoryAsyncHyperCall

	case enc&0xFFE0001F == 0xD4000002 || enc&0xFFE0001F == 0xD4000003: // HVC/SMC
		inst.Mnemonic = "hvc"
		if enc&3 == 3 {
			inst.Mnemonic = "smc"
		}
		inst.Category = lifter.CategoryAsyncHyperCall

	case enc&0xFFE0001F == 0xD4200000: // BRK
		inst.Mnemonic = "brk"
		inst.Category = lifter.CategoryError

	case enc&0xFFFFF01F == 0xD503201F: // NOP and the rest of the hint space
		inst.Mnemonic = "nop"
		inst.Category = lifter.CategoryNoOp

	case enc&0x1E000000 == 0: // unallocated top-level group
		inst.Mnemonic = "udf"
		inst.Category = lifter.CategoryInvalid

	default:
		inst.Category = lifter.CategoryNormal
		decodeNormal(enc, inst)
	}
	return inst.Category != lifter.CategoryInvalid
}

// decodeNormal attaches mnemonic, sema key and register sets to the
// non-control-flow space, by top-level group.
func decodeNormal(enc uint32, inst *lifter.Instruction) {
	switch {
	case enc&0x1F000000 == 0x10000000: // ADR/ADRP
		inst.Mnemonic = "adr"
		if enc>>31 == 1 {
			inst.Mnemonic = "adrp"
		}
		inst.Sema = inst.Mnemonic + "_64"
		if d := rd(enc); d != 31 {
			inst.Writes = []regs.Ref{regs.GP(d, regs.ClassX)}
		}

	case enc&0x1F000000 == 0x11000000: // ADD/SUB immediate
		inst.Mnemonic = "add"
		if enc>>30&1 == 1 {
			inst.Mnemonic = "sub"
		}
		c := sfClass(enc)
		inst.Sema = fmt.Sprintf("%s_imm_%d", inst.Mnemonic, c.Bits())
		inst.Reads = []regs.Ref{gpOrSP(rn(enc), c)}
		inst.Writes = []regs.Ref{gpOrSP(rd(enc), c)}
		if enc>>29&1 == 1 { // flag-setting form, Rd=31 is XZR not SP
			inst.Sema += "s"
			inst.Writes = []regs.Ref{{Reg: regs.NZCV, Class: regs.ClassW}}
			if d := rd(enc); d != 31 {
				inst.Writes = append(inst.Writes, regs.GP(d, c))
			}
		}

	case enc&0x1F800000 == 0x12800000: // MOVN/MOVZ/MOVK
		inst.Mnemonic = "mov"
		c := sfClass(enc)
		inst.Sema = fmt.Sprintf("mov_wide_%d", c.Bits())
		if d := rd(enc); d != 31 {
			if enc>>29&3 == 3 { // MOVK keeps the untouched lanes
				inst.Reads = []regs.Ref{regs.GP(d, c)}
			}
			inst.Writes = []regs.Ref{regs.GP(d, c)}
		}

	case enc&0x1F800000 == 0x12000000: // logical immediate
		inst.Mnemonic = "and"
		c := sfClass(enc)
		inst.Sema = fmt.Sprintf("logic_imm_%d", c.Bits())
		if n := rn(enc); n != 31 {
			inst.Reads = []regs.Ref{regs.GP(n, c)}
		}
		if enc>>29&3 == 3 { // ANDS writes flags, Rd=31 discards
			inst.Writes = []regs.Ref{{Reg: regs.NZCV, Class: regs.ClassW}}
			if d := rd(enc); d != 31 {
				inst.Writes = append(inst.Writes, regs.GP(d, c))
			}
		} else {
			inst.Writes = []regs.Ref{gpOrSP(rd(enc), c)}
		}

	case enc&0x0E000000 == 0x0A000000: // data-processing register
		inst.Mnemonic = "dp_reg"
		c := sfClass(enc)
		inst.Sema = fmt.Sprintf("dp_reg_%d", c.Bits())
		if n := rn(enc); n != 31 {
			inst.Reads = append(inst.Reads, regs.GP(n, c))
		}
		if m := rm(enc); m != 31 {
			inst.Reads = append(inst.Reads, regs.GP(m, c))
		}
		if d := rd(enc); d != 31 {
			inst.Writes = []regs.Ref{regs.GP(d, c)}
		}

	case enc&0x0A000000 == 0x08000000: // loads and stores
		decodeLoadStore(enc, inst)

	case enc&0x0E000000 == 0x0E000000 || enc&0x0F000000 == 0x04000000: // SIMD/FP
		inst.Mnemonic = "simd"
		inst.Sema = "simd_128"
		inst.Reads = []regs.Ref{regs.Vec(rn(enc), regs.ClassQ)}
		inst.Writes = []regs.Ref{regs.Vec(rd(enc), regs.ClassQ)}

	default:
		inst.Mnemonic = "sys"
		inst.Sema = "sys"
	}
}

func decodeLoadStore(enc uint32, inst *lifter.Instruction) {
	size := enc >> 30 & 3
	load := enc>>22&1 == 1
	c := regs.ClassW
	if size == 3 {
		c = regs.ClassX
	}

	inst.Mnemonic = "str"
	if load {
		inst.Mnemonic = "ldr"
	}
	inst.Sema = fmt.Sprintf("%s_%d", inst.Mnemonic, c.Bits())

	inst.Reads = []regs.Ref{gpOrSP(rn(enc), regs.ClassX)}
	t := rt(enc)
	if load {
		if t != 31 {
			inst.Writes = []regs.Ref{regs.GP(t, c)}
		}
	} else if t != 31 {
		inst.Reads = append(inst.Reads, regs.GP(t, c))
	}
}

func rd(enc uint32) int { return int(enc & 0x1F) }
func rn(enc uint32) int { return int(enc >> 5 & 0x1F) }
func rm(enc uint32) int { return int(enc >> 16 & 0x1F) }
func rt(enc uint32) int { return int(enc & 0x1F) }

// gpOrSP resolves slot 31 to the stack pointer, for encodings where 31
// means SP rather than the zero register.
func gpOrSP(n int, c regs.WidthClass) regs.Ref {
	if n == 31 {
		return regs.Ref{Reg: regs.SP, Class: c}
	}
	return regs.GP(n, c)
}

func sfClass(enc uint32) regs.WidthClass {
	if enc>>31 == 1 {
		return regs.ClassX
	}
	return regs.ClassW
}

func simm26(enc uint32) uint64 {
	off := int64(int32(enc<<6)) >> 6 * instLen
	return uint64(off)
}

func simm19(enc uint32) uint64 {
	off := int64(int32(enc<<8)) >> 13 * instLen
	return uint64(off)
}

func simm14(enc uint32) uint64 {
	off := int64(int32(enc<<13)) >> 18 * instLen
	return uint64(off)
}
