package lifter

import (
	"strings"
	"testing"

	"github.com/nanana37/elfconv/internal/ir"
	"github.com/nanana37/elfconv/internal/regs"
)

func newFlattenLifter(f *ir.Func, parents map[ir.BlockID]map[ir.BlockID]struct{}) *Lifter {
	l := &Lifter{}
	l.resetTrace(f.EntryVMA)
	l.f = f
	l.parents = parents
	return l
}

func TestFlatten_SplicesStraightLine(t *testing.T) {
	// 0 -> 1 -> 2, all single-entry: the chain collapses to one block.
	f, parents := cfg(t, 3, map[int][]int{0: {1}, 1: {2}})
	f.EmitStoreReg(0, regs.GP(0, regs.ClassX), f.EmitConst64(0, 1))
	f.EmitStoreReg(1, regs.GP(1, regs.ClassX), f.EmitConst64(1, 2))
	f.EmitStoreReg(2, regs.GP(2, regs.ClassX), f.EmitConst64(2, 3))

	regInfo := BuildRegInfo(f)
	l := newFlattenLifter(f, parents)
	if err := l.flatten(regInfo); err != nil {
		t.Fatalf("flatten: %v", err)
	}

	bb := f.Block(0)
	if bb.Term.Kind != ir.TermTailCall {
		t.Errorf("entry terminator = %v, want the spliced tail call", bb.Term.Kind)
	}
	stores := 0
	for i := range bb.Instrs {
		if bb.Instrs[i].Kind == ir.InstrStoreReg {
			stores++
		}
	}
	if stores != 3 {
		t.Errorf("entry holds %d stores after splicing, want 3", stores)
	}
	if !f.Block(1).Empty() || !f.Block(2).Empty() {
		t.Error("spliced blocks were not emptied")
	}
	bi := regInfo[0]
	if bi == nil {
		t.Fatal("entry record missing")
	}
	for _, r := range []regs.Reg{regs.X0, regs.X1, regs.X2} {
		if _, ok := bi.Written[r]; !ok {
			t.Errorf("entry record lost the write of %v", r)
		}
	}
	if _, ok := regInfo[1]; ok {
		t.Error("record of a spliced block survived")
	}
}

func TestFlatten_KeepsJoinBlocks(t *testing.T) {
	// Diamond: the join has two predecessors and must not be spliced.
	f, parents := cfg(t, 4, map[int][]int{0: {1, 2}, 1: {3}, 2: {3}})
	regInfo := BuildRegInfo(f)
	l := newFlattenLifter(f, parents)
	if err := l.flatten(regInfo); err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if f.Block(3).Empty() {
		t.Error("join block with two predecessors was spliced away")
	}
	if f.Block(0).Term.Kind != ir.TermCondBr {
		t.Error("branching entry lost its conditional terminator")
	}
}

func TestFlatten_RejectsDeadEnd(t *testing.T) {
	f, parents := cfg(t, 2, map[int][]int{0: {1}})
	// Strip the return so block 1 dead-ends.
	f.Blocks[1].Instrs = []ir.Instr{{Kind: ir.InstrConst64}}
	f.Blocks[1].Term = ir.Terminator{}

	l := newFlattenLifter(f, parents)
	err := l.flatten(BuildRegInfo(f))
	if err == nil {
		t.Fatal("flatten accepted a block without successors or a tail call")
	}
	if !strings.Contains(err.Error(), "dead end") {
		t.Errorf("err = %v, want a dead-end report", err)
	}
}
