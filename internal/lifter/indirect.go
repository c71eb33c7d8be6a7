package lifter

import (
	"sort"

	"github.com/nanana37/elfconv/internal/ir"
	"github.com/nanana37/elfconv/internal/regs"
)

// vmaFallback marks the dispatch-table row that routes unknown destinations
// out of the function.
const vmaFallback = ^uint64(0)

// buildDispatcher finishes the indirect-branch block: a join over every
// recorded run-time destination, a lookup through the runtime helper, and an
// indirect branch covering all lifted blocks plus the out-of-function
// fallback.
func (l *Lifter) buildDispatcher() {
	if len(l.brBlocks) == 0 {
		return
	}

	f := l.f
	ibr := l.indirectBr
	brToFunc := f.NewBlock("br_to_func")

	phi := f.InsertPhi(ibr, regs.Ref{Reg: regs.NextPC, Class: regs.ClassX})
	for _, r := range l.brBlocks {
		f.AddPhiIncoming(ibr, phi, r.Block, r.Dest)
	}

	vmas := make([]uint64, 0, len(l.lifted))
	for vma := range l.lifted {
		vmas = append(vmas, vma)
	}
	sort.Slice(vmas, func(i, j int) bool { return vmas[i] < vmas[j] })

	blocks := make([]ir.BlockID, 0, len(vmas)+1)
	addrVMAs := make([]uint64, 0, len(vmas)+1)
	for _, vma := range vmas {
		blocks = append(blocks, l.lifted[vma])
		addrVMAs = append(addrVMAs, vma)
	}
	blocks = append(blocks, brToFunc)
	addrVMAs = append(addrVMAs, vmaFallback)

	addrsName := f.Name + ".bb_addrs"
	vmasName := f.Name + ".bb_addr_vmas"
	l.module.AddGlobal(ir.Global{
		Name:   addrsName,
		Kind:   ir.GlobalBlockAddrs,
		Func:   f.ID,
		Blocks: append([]ir.BlockID(nil), blocks...),
	})
	l.module.AddGlobal(ir.Global{
		Name: vmasName,
		Kind: ir.GlobalU64Array,
		U64s: addrVMAs,
	})
	l.manager.RegisterBlockAddrTable(BlockAddrTable{
		TraceVMA:    l.traceAddr,
		AddrsGlobal: addrsName,
		VMAsGlobal:  vmasName,
		Size:        len(blocks),
	})

	l.module.DeclareIntrinsic(IntrinsicIndirectBrAddr)
	traceConst := f.EmitConst64(ibr, l.traceAddr)
	blockAddr := f.EmitCallV(ibr,
		ir.Callee{Kind: ir.CalleeIntrinsic, Name: IntrinsicIndirectBrAddr},
		[]ir.ValueID{f.RuntimeParam, traceConst, phi},
		ir.W64)
	l.setIndirectBr(ibr, blockAddr, blocks)

	// Destinations outside this function leave through the jump intrinsic;
	// the all-ones trace address tells the runtime the target is foreign.
	l.module.DeclareIntrinsic(IntrinsicJump)
	f.Blocks[brToFunc].Term = ir.Terminator{
		Kind: ir.TermTailCall,
		TailCall: ir.TailCallTerm{
			Callee: ir.Callee{Kind: ir.CalleeIntrinsic, Name: IntrinsicJump},
			Args: []ir.ValueID{
				f.StateParam,
				f.EmitConst64(brToFunc, vmaFallback),
				phi,
				f.RuntimeParam,
			},
		},
	}
}
