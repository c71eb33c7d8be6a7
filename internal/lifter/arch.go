package lifter

import (
	"github.com/nanana37/elfconv/internal/ir"
)

// Arch abstracts the guest architecture. The lifter core drives decoding and
// function scaffolding through this interface and never inspects instruction
// bytes itself.
type Arch interface {
	// MaxInstBytes is the longest encoding the decoder may consume.
	MaxInstBytes() int

	// AddressMask is the mask of valid guest address bits. The lifter applies
	// it to the entry address and to every instruction address it pops from
	// the worklist.
	AddressMask() uint64

	// Decode fills inst from the bytes at addr. It returns false when the
	// bytes do not form a valid instruction; inst.Category is then
	// CategoryInvalid.
	Decode(addr uint64, data []byte, inst *Instruction) bool

	// DecodeDelayed decodes the instruction occupying a delay slot.
	DecodeDelayed(addr uint64, data []byte, inst *Instruction) bool

	// MayHaveDelaySlot reports whether inst is followed by a delay slot.
	MayHaveDelaySlot(inst *Instruction) bool

	// NextInstructionIsDelayed reports whether the delayed instruction
	// executes on the taken (onTaken) or fall-through path.
	NextInstructionIsDelayed(inst, delayed *Instruction, onTaken bool) bool

	Semantics
}

// Semantics materializes decoded instructions and function shells as IR.
type Semantics interface {
	// DeclareLiftedFunction creates a bodiless function in m.
	DeclareLiftedFunction(m *ir.Module, name string, vma uint64) *ir.Func

	// InitializeEmptyLiftedFunction gives a declared function its parameter
	// values and an entry block holding the initial register setup.
	InitializeEmptyLiftedFunction(f *ir.Func)

	// LiftIntoBlock appends the IR realization of inst to block b of f. The
	// register views inst reads are loaded, the semantics call is emitted and
	// its results are stored back. Returns false when inst has no semantics
	// entry.
	LiftIntoBlock(inst *Instruction, f *ir.Func, b ir.BlockID) bool
}
