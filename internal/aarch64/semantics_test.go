package aarch64

import (
	"testing"

	"github.com/nanana37/elfconv/internal/ir"
	"github.com/nanana37/elfconv/internal/lifter"
	"github.com/nanana37/elfconv/internal/regs"
)

func liftOne(t *testing.T, enc uint32) (*ir.Func, ir.BlockID) {
	t.Helper()
	arch := New()
	m := ir.NewModule()
	f := arch.DeclareLiftedFunction(m, "t", 0x1000)
	arch.InitializeEmptyLiftedFunction(f)
	b := f.NewBlock("")

	var inst lifter.Instruction
	if !arch.Decode(0x1000, encode(enc), &inst) {
		t.Fatal("Decode failed")
	}
	if !arch.LiftIntoBlock(&inst, f, b) {
		t.Fatal("LiftIntoBlock failed")
	}
	return f, b
}

func TestLiftIntoBlock_LoadSemaStore(t *testing.T) {
	f, b := liftOne(t, 0x91001020) // add x0, x1, #4

	bb := f.Block(b)
	var kinds []ir.InstrKind
	for i := range bb.Instrs {
		kinds = append(kinds, bb.Instrs[i].Kind)
	}
	want := []ir.InstrKind{ir.InstrLoadReg, ir.InstrSemaCall, ir.InstrExtract, ir.InstrStoreReg}
	if len(kinds) != len(want) {
		t.Fatalf("instruction count = %d, want %d", len(kinds), len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("instr %d kind = %v, want %v", i, kinds[i], want[i])
		}
	}

	load := bb.Instrs[0]
	if load.LoadReg.Reg != regs.GP(1, regs.ClassX) {
		t.Errorf("load reg = %v, want x1", load.LoadReg.Reg)
	}
	sema := bb.Instrs[1]
	if sema.Sema.Name != "add_imm_64" {
		t.Errorf("sema name = %q, want add_imm_64", sema.Sema.Name)
	}
	// state, x1 value, runtime
	if len(sema.Sema.Args) != 3 {
		t.Errorf("sema args = %d, want 3", len(sema.Sema.Args))
	}
	if sema.Sema.Args[0] != f.StateParam || sema.Sema.Args[2] != f.RuntimeParam {
		t.Error("sema call does not bracket register reads with state and runtime")
	}
	store := bb.Instrs[3]
	if store.StoreReg.Reg != regs.GP(0, regs.ClassX) {
		t.Errorf("store reg = %v, want x0", store.StoreReg.Reg)
	}
}

func TestLiftIntoBlock_PCWriteFiltered(t *testing.T) {
	// ret writes next_pc; the program counter itself never gets a store.
	f, b := liftOne(t, 0xD65F03C0)
	bb := f.Block(b)
	for i := range bb.Instrs {
		if bb.Instrs[i].Kind == ir.InstrStoreReg && bb.Instrs[i].StoreReg.Reg.Reg == regs.PC {
			t.Error("semantics stored the program counter")
		}
	}
}

func TestLiftIntoBlock_NoBodyMnemonics(t *testing.T) {
	// Plain b carries no semantics body; the block stays empty.
	f, b := liftOne(t, 0x14000002)
	if n := len(f.Block(b).Instrs); n != 0 {
		t.Errorf("direct jump emitted %d instructions, want 0", n)
	}
}

func TestInitializeEmptyLiftedFunction(t *testing.T) {
	arch := New()
	m := ir.NewModule()
	f := arch.DeclareLiftedFunction(m, "t", 0x1000)
	arch.InitializeEmptyLiftedFunction(f)

	if f.Entry == ir.NoBlockID {
		t.Fatal("no entry block")
	}
	bb := f.Block(f.Entry)
	if len(bb.Instrs) != 1 || bb.Instrs[0].Kind != ir.InstrStoreReg {
		t.Fatal("entry block must pin the program counter")
	}
	if bb.Instrs[0].StoreReg.Reg.Reg != regs.PC {
		t.Errorf("entry store targets %v, want pc", bb.Instrs[0].StoreReg.Reg)
	}
	if bb.Instrs[0].StoreReg.Src != f.PCParam {
		t.Error("entry store source is not the pc parameter")
	}
}
