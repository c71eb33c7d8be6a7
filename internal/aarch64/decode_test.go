package aarch64

import (
	"encoding/binary"
	"testing"

	"github.com/nanana37/elfconv/internal/lifter"
	"github.com/nanana37/elfconv/internal/regs"
)

func encode(enc uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], enc)
	return buf[:]
}

func TestDecode_ControlFlow(t *testing.T) {
	tests := []struct {
		name     string
		addr     uint64
		enc      uint32
		mnemonic string
		category lifter.Category
		taken    uint64
		notTaken uint64
		sema     string
	}{
		{
			name:     "b forward",
			addr:     0x1000,
			enc:      0x14000002, // b +8
			mnemonic: "b",
			category: lifter.CategoryDirectJump,
			taken:    0x1008,
		},
		{
			name:     "bl backward",
			addr:     0x1000,
			enc:      0x97FFFFFF, // bl -4
			mnemonic: "bl",
			category: lifter.CategoryDirectFunctionCall,
			taken:    0xFFC,
			notTaken: 0x1004,
			sema:     "bl_64",
		},
		{
			name:     "b.eq",
			addr:     0x2000,
			enc:      0x54000080, // b.eq +16
			mnemonic: "b.cond",
			category: lifter.CategoryConditionalBranch,
			taken:    0x2010,
			notTaken: 0x2004,
			sema:     "b_cond_0",
		},
		{
			name:     "cbz x0",
			addr:     0x1000,
			enc:      0xB4000040, // cbz x0, +8
			mnemonic: "cbz",
			category: lifter.CategoryConditionalBranch,
			taken:    0x1008,
			notTaken: 0x1004,
			sema:     "cbz_64",
		},
		{
			name:     "cbnz w1",
			addr:     0x1000,
			enc:      0x35000041, // cbnz w1, +8
			mnemonic: "cbnz",
			category: lifter.CategoryConditionalBranch,
			taken:    0x1008,
			notTaken: 0x1004,
			sema:     "cbnz_32",
		},
		{
			name:     "tbz high bit",
			addr:     0x1000,
			enc:      0xB6080040, // tbz x0, #33, +8
			mnemonic: "tbz",
			category: lifter.CategoryConditionalBranch,
			taken:    0x1008,
			notTaken: 0x1004,
			sema:     "tbz_33",
		},
		{
			name:     "br x16",
			addr:     0x3020,
			enc:      0xD61F0200,
			mnemonic: "br",
			category: lifter.CategoryIndirectJump,
			sema:     "br_64",
		},
		{
			name:     "blr x1",
			addr:     0x1000,
			enc:      0xD63F0020,
			mnemonic: "blr",
			category: lifter.CategoryIndirectFunctionCall,
			notTaken: 0x1004,
			sema:     "blr_64",
		},
		{
			name:     "ret",
			addr:     0x100C,
			enc:      0xD65F03C0,
			mnemonic: "ret",
			category: lifter.CategoryFunctionReturn,
			sema:     "ret_64",
		},
		{
			name:     "svc",
			addr:     0x1000,
			enc:      0xD4000001,
			mnemonic: "svc",
			category: lifter.CategoryAsyncHyperCall,
		},
		{
			name:     "brk",
			addr:     0x1000,
			enc:      0xD4200000,
			mnemonic: "brk",
			category: lifter.CategoryError,
		},
		{
			name:     "nop",
			addr:     0x2000,
			enc:      0xD503201F,
			mnemonic: "nop",
			category: lifter.CategoryNoOp,
		},
	}

	arch := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inst lifter.Instruction
			ok := arch.Decode(tt.addr, encode(tt.enc), &inst)
			wantOK := tt.category != lifter.CategoryInvalid
			if ok != wantOK {
				t.Fatalf("Decode ok = %v, want %v", ok, wantOK)
			}
			if inst.Mnemonic != tt.mnemonic {
				t.Errorf("mnemonic = %q, want %q", inst.Mnemonic, tt.mnemonic)
			}
			if inst.Category != tt.category {
				t.Errorf("category = %v, want %v", inst.Category, tt.category)
			}
			if tt.taken != 0 && inst.BranchTakenPC != tt.taken {
				t.Errorf("taken PC = %#x, want %#x", inst.BranchTakenPC, tt.taken)
			}
			if tt.notTaken != 0 && inst.BranchNotTakenPC != tt.notTaken {
				t.Errorf("not-taken PC = %#x, want %#x", inst.BranchNotTakenPC, tt.notTaken)
			}
			if tt.sema != "" && inst.Sema != tt.sema {
				t.Errorf("sema = %q, want %q", inst.Sema, tt.sema)
			}
			if inst.NextPC != tt.addr+4 {
				t.Errorf("next PC = %#x, want %#x", inst.NextPC, tt.addr+4)
			}
		})
	}
}

func TestDecode_RegisterSets(t *testing.T) {
	tests := []struct {
		name   string
		enc    uint32
		sema   string
		reads  []regs.Ref
		writes []regs.Ref
	}{
		{
			name:   "add x0, x1, #4",
			enc:    0x91001020,
			sema:   "add_imm_64",
			reads:  []regs.Ref{regs.GP(1, regs.ClassX)},
			writes: []regs.Ref{regs.GP(0, regs.ClassX)},
		},
		{
			name:  "subs x0, x1, #4",
			enc:   0xF1001020,
			sema:  "sub_imm_64s",
			reads: []regs.Ref{regs.GP(1, regs.ClassX)},
			writes: []regs.Ref{
				{Reg: regs.NZCV, Class: regs.ClassW},
				regs.GP(0, regs.ClassX),
			},
		},
		{
			name:   "movz w0, #1",
			enc:    0x52800020,
			sema:   "mov_wide_32",
			writes: []regs.Ref{regs.GP(0, regs.ClassW)},
		},
		{
			name:   "movk x2, #5 keeps lanes",
			enc:    0xF28000A2,
			sema:   "mov_wide_64",
			reads:  []regs.Ref{regs.GP(2, regs.ClassX)},
			writes: []regs.Ref{regs.GP(2, regs.ClassX)},
		},
		{
			name:   "orr x0, x1, x2",
			enc:    0xAA020020,
			sema:   "dp_reg_64",
			reads:  []regs.Ref{regs.GP(1, regs.ClassX), regs.GP(2, regs.ClassX)},
			writes: []regs.Ref{regs.GP(0, regs.ClassX)},
		},
		{
			name:   "ldr x0, [x1]",
			enc:    0xF9400020,
			sema:   "ldr_64",
			reads:  []regs.Ref{regs.GP(1, regs.ClassX)},
			writes: []regs.Ref{regs.GP(0, regs.ClassX)},
		},
		{
			name: "str w3, [sp]",
			enc:  0xB9000FE3,
			sema: "str_32",
			reads: []regs.Ref{
				{Reg: regs.SP, Class: regs.ClassX},
				regs.GP(3, regs.ClassW),
			},
		},
		{
			name:   "ret reads link register",
			enc:    0xD65F03C0,
			sema:   "ret_64",
			reads:  []regs.Ref{regs.GP(30, regs.ClassX)},
			writes: []regs.Ref{{Reg: regs.NextPC, Class: regs.ClassX}},
		},
	}

	arch := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inst lifter.Instruction
			if !arch.Decode(0x1000, encode(tt.enc), &inst) {
				t.Fatal("Decode failed")
			}
			if inst.Sema != tt.sema {
				t.Errorf("sema = %q, want %q", inst.Sema, tt.sema)
			}
			if !refsEqual(inst.Reads, tt.reads) {
				t.Errorf("reads = %v, want %v", inst.Reads, tt.reads)
			}
			if !refsEqual(inst.Writes, tt.writes) {
				t.Errorf("writes = %v, want %v", inst.Writes, tt.writes)
			}
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	arch := New()
	var inst lifter.Instruction
	if arch.Decode(0x1000, encode(0), &inst) {
		t.Error("all-zero word should not decode")
	}
	if inst.Category != lifter.CategoryInvalid {
		t.Errorf("category = %v, want invalid", inst.Category)
	}
	if arch.Decode(0x1000, []byte{0x1F, 0x20}, &inst) {
		t.Error("short read should not decode")
	}
}

func refsEqual(a, b []regs.Ref) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
