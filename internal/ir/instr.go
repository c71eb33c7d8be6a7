package ir

import "github.com/nanana37/elfconv/internal/regs"

// InstrKind enumerates instruction kinds.
type InstrKind uint8

const (
	// InstrLoadReg reads a guest register slot from the state structure.
	InstrLoadReg InstrKind = iota
	// InstrStoreReg writes a guest register slot in the state structure.
	InstrStoreReg
	// InstrSemaCall invokes the semantics of one decoded guest instruction.
	InstrSemaCall
	// InstrExtract selects one field of a multi-valued sema result.
	InstrExtract
	// InstrPhi is a join node selecting a value by incoming edge.
	InstrPhi
	// InstrCast adjusts the width of a value.
	InstrCast
	// InstrConst64 materializes a 64-bit constant.
	InstrConst64
	// InstrCall is a non-terminating call to an intrinsic or another
	// lifted trace.
	InstrCall
)

// Instr is one IR instruction. Result is NoValueID for kinds that do not
// produce a value.
type Instr struct {
	Kind   InstrKind
	Result ValueID

	LoadReg  LoadRegInstr
	StoreReg StoreRegInstr
	Sema     SemaCallInstr
	Extract  ExtractInstr
	Phi      PhiInstr
	Cast     CastInstr
	Const    ConstInstr
	Call     CallInstr
}

// LoadRegInstr reads one register slot.
type LoadRegInstr struct {
	Reg regs.Ref
}

// StoreRegInstr writes one register slot.
type StoreRegInstr struct {
	Reg regs.Ref
	Src ValueID
}

// SemaCallInstr realizes the effects of one decoded instruction. Written
// lists the registers the semantics define, in result-field order; the i-th
// entry corresponds to Extract field i of the call's tuple result.
type SemaCallInstr struct {
	Name    string
	Addr    uint64
	Args    []ValueID
	Written []regs.Ref
}

// ExtractInstr selects field Field of a sema call's tuple result.
type ExtractInstr struct {
	Tuple ValueID
	Field int
}

// PhiEdge is one incoming value of a phi.
type PhiEdge struct {
	Pred  BlockID
	Value ValueID
}

// PhiInstr joins one value per predecessor edge. Reg records the guest
// register the join carries, for printing and analyzer bookkeeping.
type PhiInstr struct {
	Reg   regs.Ref
	Edges []PhiEdge
}

// CastInstr truncates or extends Src to the result's width. Signed selects
// sign extension on widen.
type CastInstr struct {
	Src    ValueID
	Signed bool
}

// ConstInstr materializes an immediate.
type ConstInstr struct {
	Imm uint64
}

// CalleeKind distinguishes call target types.
type CalleeKind uint8

const (
	// CalleeIntrinsic targets a runtime intrinsic declared by the manager.
	CalleeIntrinsic CalleeKind = iota
	// CalleeTrace targets another lifted trace function.
	CalleeTrace
)

// Callee is a call target.
type Callee struct {
	Kind CalleeKind
	Name string
	// Addr is the trace entry VMA for CalleeTrace targets.
	Addr uint64
}

// CallInstr is a plain (non-terminating) call.
type CallInstr struct {
	Callee Callee
	Args   []ValueID
}
