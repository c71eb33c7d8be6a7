package lifter

import (
	"github.com/nanana37/elfconv/internal/ir"
	"github.com/nanana37/elfconv/internal/regs"
)

// RegDef is the newest definition of a register view inside one block.
type RegDef struct {
	Class regs.WidthClass
	Value ir.ValueID
}

// BBRegInfo summarizes the register traffic of one block. The flattener
// merges records when blocks are spliced and the register-flow analyzer
// consumes them to place join nodes.
type BBRegInfo struct {
	// Written maps each register written in the block to the widest view
	// stored.
	Written map[regs.Reg]regs.WidthClass

	// Read maps each register read before any write in the block to the
	// widest view loaded.
	Read map[regs.Reg]regs.WidthClass

	// Latest maps each register to its newest in-block definition.
	Latest map[regs.Reg]RegDef

	// SemaWritten concatenates the written-register lists of the block's
	// sema calls, in emission order.
	SemaWritten []regs.Ref

	// Phis maps registers to join values planted at the block head.
	Phis map[regs.Reg]ir.ValueID
}

// NewBBRegInfo returns an empty record.
func NewBBRegInfo() *BBRegInfo {
	return &BBRegInfo{
		Written: make(map[regs.Reg]regs.WidthClass),
		Read:    make(map[regs.Reg]regs.WidthClass),
		Latest:  make(map[regs.Reg]RegDef),
		Phis:    make(map[regs.Reg]ir.ValueID),
	}
}

func widen(m map[regs.Reg]regs.WidthClass, r regs.Reg, c regs.WidthClass) {
	if cur, ok := m[r]; !ok || c.Bits() > cur.Bits() {
		m[r] = c
	}
}

// NoteRead records a load of reg at class c. Reads of a register not yet
// written count toward Read, which keeps the widest of them.
func (bi *BBRegInfo) NoteRead(reg regs.Reg, c regs.WidthClass) {
	if _, written := bi.Written[reg]; written {
		return
	}
	widen(bi.Read, reg, c)
}

// NoteWrite records a store of reg at class c producing value v.
func (bi *BBRegInfo) NoteWrite(reg regs.Reg, c regs.WidthClass, v ir.ValueID) {
	widen(bi.Written, reg, c)
	bi.Latest[reg] = RegDef{Class: c, Value: v}
}

// Absorb folds the record of a successor block spliced into this one. Later
// writes win; reads the successor performs are only inherited for registers
// this block never writes.
func (bi *BBRegInfo) Absorb(other *BBRegInfo) {
	for r, c := range other.Written {
		widen(bi.Written, r, c)
	}
	for r, c := range other.Read {
		bi.NoteRead(r, c)
	}
	for r, def := range other.Latest {
		bi.Latest[r] = def
	}
	bi.SemaWritten = append(bi.SemaWritten, other.SemaWritten...)
	for r, v := range other.Phis {
		if _, ok := bi.Phis[r]; !ok {
			bi.Phis[r] = v
		}
	}
}

// ScanBlock derives the register record of one block from its instructions.
func ScanBlock(bb *ir.Block) *BBRegInfo {
	bi := NewBBRegInfo()
	for i := range bb.Instrs {
		ins := &bb.Instrs[i]
		switch ins.Kind {
		case ir.InstrLoadReg:
			bi.NoteRead(ins.LoadReg.Reg.Reg, ins.LoadReg.Reg.Class)
		case ir.InstrStoreReg:
			bi.NoteWrite(ins.StoreReg.Reg.Reg, ins.StoreReg.Reg.Class, ins.StoreReg.Src)
		case ir.InstrSemaCall:
			bi.SemaWritten = append(bi.SemaWritten, ins.Sema.Written...)
		case ir.InstrPhi:
			bi.Phis[ins.Phi.Reg.Reg] = ins.Result
		}
	}
	return bi
}

// BuildRegInfo scans every block of f.
func BuildRegInfo(f *ir.Func) map[ir.BlockID]*BBRegInfo {
	out := make(map[ir.BlockID]*BBRegInfo, len(f.Blocks))
	for i := range f.Blocks {
		out[ir.BlockID(i)] = ScanBlock(&f.Blocks[i])
	}
	return out
}
