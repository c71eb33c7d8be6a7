package aarch64

import (
	"github.com/nanana37/elfconv/internal/ir"
	"github.com/nanana37/elfconv/internal/lifter"
	"github.com/nanana37/elfconv/internal/regs"
)

// semaSig describes one semantics family. The dispatch table is keyed by
// mnemonic; the width-specialized entry name travels on the instruction.
type semaSig struct {
	// HasBody is false for encodings whose whole effect is the builder's
	// terminator (plain B, NOP).
	HasBody bool
}

var semaTable map[string]semaSig

func init() {
	semaTable = map[string]semaSig{
		"b":      {},
		"nop":    {},
		"svc":    {},
		"hvc":    {},
		"smc":    {},
		"bl":     {HasBody: true},
		"b.cond": {HasBody: true},
		"cbz":    {HasBody: true},
		"cbnz":   {HasBody: true},
		"tbz":    {HasBody: true},
		"tbnz":   {HasBody: true},
		"br":     {HasBody: true},
		"blr":    {HasBody: true},
		"ret":    {HasBody: true},
		"adr":    {HasBody: true},
		"adrp":   {HasBody: true},
		"add":    {HasBody: true},
		"sub":    {HasBody: true},
		"mov":    {HasBody: true},
		"and":    {HasBody: true},
		"dp_reg": {HasBody: true},
		"ldr":    {HasBody: true},
		"str":    {HasBody: true},
		"simd":   {HasBody: true},
		"sys":    {HasBody: true},
	}
}

// LiftIntoBlock emits the state-relative realization of inst: one load per
// read register, the semantics call, one extract-and-store per written
// register.
func (a *Arch) LiftIntoBlock(inst *lifter.Instruction, f *ir.Func, b ir.BlockID) bool {
	sig, ok := semaTable[inst.Mnemonic]
	if !ok {
		return false
	}
	if !sig.HasBody || inst.Sema == "" {
		return true
	}

	args := make([]ir.ValueID, 0, len(inst.Reads)+2)
	args = append(args, f.StateParam)
	for _, ref := range inst.Reads {
		args = append(args, f.EmitLoadReg(b, ref))
	}
	args = append(args, f.RuntimeParam)

	written := writtenRefs(inst)
	tuple := f.EmitSema(b, inst.Sema, inst.Addr, args, written)
	for i, ref := range written {
		v := f.EmitExtract(b, tuple, i, ir.ClassWidth(ref.Class))
		f.EmitStoreReg(b, ref, v)
	}
	return true
}

// writtenRefs filters the program counter out of the write set; the builder
// owns control flow.
func writtenRefs(inst *lifter.Instruction) []regs.Ref {
	out := make([]regs.Ref, 0, len(inst.Writes))
	for _, ref := range inst.Writes {
		if ref.Reg == regs.PC {
			continue
		}
		out = append(out, ref)
	}
	return out
}
