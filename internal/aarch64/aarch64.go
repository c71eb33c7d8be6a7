// Package aarch64 adapts the A64 instruction set to the lifter: a category
// decoder over the fixed 4-byte encodings and a semantics layer emitting the
// load/sema-call/store pattern against the register state.
package aarch64

import (
	"github.com/nanana37/elfconv/internal/ir"
	"github.com/nanana37/elfconv/internal/lifter"
	"github.com/nanana37/elfconv/internal/regs"
)

// Arch implements lifter.Arch for AArch64.
type Arch struct{}

// New returns the AArch64 adapter.
func New() *Arch {
	return &Arch{}
}

func (a *Arch) MaxInstBytes() int { return 4 }

func (a *Arch) AddressMask() uint64 { return ^uint64(0) }

// MayHaveDelaySlot always reports false: A64 has no delay slots. The hook
// exists for the builder's delay scaffolding.
func (a *Arch) MayHaveDelaySlot(inst *lifter.Instruction) bool { return false }

func (a *Arch) DecodeDelayed(addr uint64, data []byte, inst *lifter.Instruction) bool {
	return false
}

func (a *Arch) NextInstructionIsDelayed(inst, delayed *lifter.Instruction, onTaken bool) bool {
	return false
}

// DeclareLiftedFunction creates a bodiless trace function.
func (a *Arch) DeclareLiftedFunction(m *ir.Module, name string, vma uint64) *ir.Func {
	return m.DeclareFunc(name, vma)
}

// InitializeEmptyLiftedFunction allocates the calling-convention parameters
// and the entry block, and pins the entry program counter into the state.
func (a *Arch) InitializeEmptyLiftedFunction(f *ir.Func) {
	f.StateParam = f.NewValue(ir.W64)
	f.PCParam = f.NewValue(ir.W64)
	f.RuntimeParam = f.NewValue(ir.W64)
	f.Entry = f.NewBlock("entry")
	f.EmitStoreReg(f.Entry, regs.Ref{Reg: regs.PC, Class: regs.ClassX}, f.PCParam)
}
