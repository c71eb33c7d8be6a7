package ir

import (
	"github.com/nanana37/elfconv/internal/regs"
)

// Func is one lifted trace. A Func with no blocks is a declaration.
type Func struct {
	ID       FuncID
	Name     string
	EntryVMA uint64

	Blocks []Block
	Entry  BlockID

	// Parameters of the lifted-function calling convention, allocated by
	// the architecture adapter when the function body is initialized.
	StateParam   ValueID
	RuntimeParam ValueID
	PCParam      ValueID

	widths []Width
}

// WTuple marks the multi-valued result of a sema call.
const WTuple Width = 0

// IsDeclaration reports whether f has no body yet.
func (f *Func) IsDeclaration() bool {
	return len(f.Blocks) == 0
}

// NewBlock appends an empty block and returns its ID.
func (f *Func) NewBlock(name string) BlockID {
	id := BlockID(len(f.Blocks))
	f.Blocks = append(f.Blocks, Block{ID: id, Name: name})
	return id
}

// Block returns the block with the given ID, or nil.
func (f *Func) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}
	return &f.Blocks[id]
}

// NewValue allocates a fresh SSA value of width w.
func (f *Func) NewValue(w Width) ValueID {
	f.widths = append(f.widths, w)
	return ValueID(len(f.widths) - 1)
}

// ValueWidth returns the width of v.
func (f *Func) ValueWidth(v ValueID) Width {
	if v < 0 || int(v) >= len(f.widths) {
		return 0
	}
	return f.widths[v]
}

// NumValues returns the number of allocated values.
func (f *Func) NumValues() int {
	return len(f.widths)
}

// ClassWidth maps a register width class to the IR value width.
func ClassWidth(c regs.WidthClass) Width {
	return Width(c.Bits())
}

// EmitLoadReg appends a register load to block b.
func (f *Func) EmitLoadReg(b BlockID, ref regs.Ref) ValueID {
	v := f.NewValue(ClassWidth(ref.Class))
	f.Blocks[b].Instrs = append(f.Blocks[b].Instrs, Instr{
		Kind:    InstrLoadReg,
		Result:  v,
		LoadReg: LoadRegInstr{Reg: ref},
	})
	return v
}

// EmitStoreReg appends a register store to block b.
func (f *Func) EmitStoreReg(b BlockID, ref regs.Ref, src ValueID) {
	f.Blocks[b].Instrs = append(f.Blocks[b].Instrs, Instr{
		Kind:     InstrStoreReg,
		Result:   NoValueID,
		StoreReg: StoreRegInstr{Reg: ref, Src: src},
	})
}

// EmitSema appends a sema call to block b and returns its tuple value.
func (f *Func) EmitSema(b BlockID, name string, addr uint64, args []ValueID, written []regs.Ref) ValueID {
	v := f.NewValue(WTuple)
	f.Blocks[b].Instrs = append(f.Blocks[b].Instrs, Instr{
		Kind:   InstrSemaCall,
		Result: v,
		Sema:   SemaCallInstr{Name: name, Addr: addr, Args: args, Written: written},
	})
	return v
}

// EmitExtract appends a tuple-field extraction to block b.
func (f *Func) EmitExtract(b BlockID, tuple ValueID, field int, w Width) ValueID {
	v := f.NewValue(w)
	f.Blocks[b].Instrs = append(f.Blocks[b].Instrs, Instr{
		Kind:    InstrExtract,
		Result:  v,
		Extract: ExtractInstr{Tuple: tuple, Field: field},
	})
	return v
}

// EmitCast appends a width cast to block b.
func (f *Func) EmitCast(b BlockID, src ValueID, w Width, signed bool) ValueID {
	v := f.NewValue(w)
	f.Blocks[b].Instrs = append(f.Blocks[b].Instrs, Instr{
		Kind:   InstrCast,
		Result: v,
		Cast:   CastInstr{Src: src, Signed: signed},
	})
	return v
}

// EmitConst64 appends a 64-bit constant to block b.
func (f *Func) EmitConst64(b BlockID, imm uint64) ValueID {
	v := f.NewValue(W64)
	f.Blocks[b].Instrs = append(f.Blocks[b].Instrs, Instr{
		Kind:   InstrConst64,
		Result: v,
		Const:  ConstInstr{Imm: imm},
	})
	return v
}

// EmitCall appends a plain call to block b.
func (f *Func) EmitCall(b BlockID, callee Callee, args []ValueID) {
	f.Blocks[b].Instrs = append(f.Blocks[b].Instrs, Instr{
		Kind:   InstrCall,
		Result: NoValueID,
		Call:   CallInstr{Callee: callee, Args: args},
	})
}

// EmitCallV appends a value-returning call to block b.
func (f *Func) EmitCallV(b BlockID, callee Callee, args []ValueID, w Width) ValueID {
	v := f.NewValue(w)
	f.Blocks[b].Instrs = append(f.Blocks[b].Instrs, Instr{
		Kind:   InstrCall,
		Result: v,
		Call:   CallInstr{Callee: callee, Args: args},
	})
	return v
}

// InsertPhi inserts a join node for ref at the head of block b, after any
// phis already placed there, and returns its value.
func (f *Func) InsertPhi(b BlockID, ref regs.Ref) ValueID {
	v := f.NewValue(ClassWidth(ref.Class))
	bb := &f.Blocks[b]
	at := bb.PhiCount()
	phi := Instr{
		Kind:   InstrPhi,
		Result: v,
		Phi:    PhiInstr{Reg: ref},
	}
	bb.Instrs = append(bb.Instrs, Instr{})
	copy(bb.Instrs[at+1:], bb.Instrs[at:])
	bb.Instrs[at] = phi
	return v
}

// AddPhiIncoming appends the (pred, val) edge to the phi with result phi in
// block b. It is a no-op if the phi is not found.
func (f *Func) AddPhiIncoming(b BlockID, phi ValueID, pred BlockID, val ValueID) {
	bb := &f.Blocks[b]
	i := bb.FindPhi(phi)
	if i < 0 {
		return
	}
	bb.Instrs[i].Phi.Edges = append(bb.Instrs[i].Phi.Edges, PhiEdge{Pred: pred, Value: val})
}
